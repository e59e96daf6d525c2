// Package sstable implements the immutable, sorted, on-disk table: a data
// file of entry records in ascending key order, a sparse index pointing to
// block starts, and an in-memory Bloom filter rebuilt on every load or
// merge. The block/footer framing follows the teacher's sst/writer.go in
// spirit (data blocks, a sparse index, a Bloom filter) but the data
// record layout is exactly spec.md §6's encoding — key_len, key,
// val_offset, created_at, tombstone — since SSTs hold offsets, not
// values; values live only in the value log.
package sstable

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/flashkv/flashkv/bloom"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/ferrors"
)

// entriesPerBlock controls how often the sparse index records a block
// start: one index entry for every entriesPerBlock data records. The data
// file carries no block-size framing of its own.
const entriesPerBlock = 16

const entryRecordFixedSize = 4 + 4 + 8 + 1 // key_len, val_offset, created_at, tombstone

// Handle identifies an on-disk table's files without owning them; the
// bucket map is the sole owner of these files (see DESIGN.md, "Cyclic
// ownership").
type Handle struct {
	DataPath  string
	IndexPath string
	Dir       string
	CreatedAt uint64
	Hotness   uint64
}

// Table is a loaded sorted table: its handle, its sparse index, and the
// smallest/biggest keys recorded at build time.
type Table struct {
	Handle      Handle
	Index       *SparseIndex
	SmallestKey []byte
	BiggestKey  []byte
}

// Writer builds one data file and its sparse index. Write calls must
// present keys in ascending order (the memtable and compaction merge both
// guarantee this).
type Writer struct {
	dataPath  string
	indexPath string
	f         *os.File
	index     *SparseIndex
	offset    uint32
	count     int
	smallest  []byte
	biggest   []byte
}

// NewWriter creates the data file at dataPath, truncating any existing
// content.
func NewWriter(dataPath, indexPath string) (*Writer, error) {
	f, err := os.Create(dataPath)
	if err != nil {
		return nil, ferrors.IO(dataPath, err)
	}

	return &Writer{
		dataPath:  dataPath,
		indexPath: indexPath,
		f:         f,
		index:     NewSparseIndex(indexPath),
	}, nil
}

// Write appends one entry record to the data file in the fixed layout:
// key_len, key, val_offset, created_at, tombstone.
func (w *Writer) Write(e entry.Entry) error {
	if w.count%entriesPerBlock == 0 {
		w.index.Add(e.Key, w.offset)
	}
	w.count++

	if w.smallest == nil || bytes.Compare(e.Key, w.smallest) < 0 {
		w.smallest = append([]byte(nil), e.Key...)
	}
	if w.biggest == nil || bytes.Compare(e.Key, w.biggest) > 0 {
		w.biggest = append([]byte(nil), e.Key...)
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(e.Key)))
	buf.Write(e.Key)
	binary.Write(&buf, binary.LittleEndian, e.ValOffset)
	binary.Write(&buf, binary.LittleEndian, e.CreatedAt)
	if e.Tombstone {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return ferrors.IO(w.dataPath, err)
	}
	w.offset += uint32(buf.Len())

	return nil
}

// Finish flushes the sparse index to disk and returns the resulting
// Table. Only the Handle's DataPath and IndexPath are set; Dir, CreatedAt
// and Hotness stay zero (the bucket map keeps hotness and creation time on
// its own SST records).
func (w *Writer) Finish() (*Table, error) {
	if err := w.f.Close(); err != nil {
		return nil, ferrors.IO(w.dataPath, err)
	}
	if err := w.index.WriteFile(); err != nil {
		return nil, err
	}

	return &Table{
		Handle:      Handle{DataPath: w.dataPath, IndexPath: w.indexPath},
		Index:       w.index,
		SmallestKey: w.smallest,
		BiggestKey:  w.biggest,
	}, nil
}

// Load opens an existing table's data and index files, for use after
// flush/compaction registration or during recovery.
func Load(dataPath, indexPath string) (*Table, error) {
	idx, err := LoadSparseIndex(indexPath)
	if err != nil {
		return nil, err
	}

	t := &Table{
		Handle: Handle{DataPath: dataPath, IndexPath: indexPath},
		Index:  idx,
	}

	entries, err := t.Load()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if t.SmallestKey == nil || bytes.Compare(e.Key, t.SmallestKey) < 0 {
			t.SmallestKey = e.Key
		}
		if t.BiggestKey == nil || bytes.Compare(e.Key, t.BiggestKey) > 0 {
			t.BiggestKey = e.Key
		}
	}

	return t, nil
}

func readEntryAt(f *os.File, offset int64) (entry.Entry, int, error) {
	var keyLenBuf [4]byte
	if _, err := f.ReadAt(keyLenBuf[:], offset); err != nil {
		return entry.Entry{}, 0, err
	}
	keyLen := binary.LittleEndian.Uint32(keyLenBuf[:])

	key := make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := f.ReadAt(key, offset+4); err != nil {
			return entry.Entry{}, 0, err
		}
	}

	var rest [4 + 8 + 1]byte
	if _, err := f.ReadAt(rest[:], offset+4+int64(keyLen)); err != nil {
		return entry.Entry{}, 0, err
	}

	valOffset := binary.LittleEndian.Uint32(rest[0:4])
	createdAt := binary.LittleEndian.Uint64(rest[4:12])
	tombstone := rest[12] == 1

	total := entryRecordFixedSize + int(keyLen)
	return entry.New(key, valOffset, createdAt, tombstone), total, nil
}

// Get seeks to blockOffset and scans forward until a key >= key is
// found; returns the match or not-found.
func (t *Table) Get(blockOffset uint32, key []byte) (entry.Entry, bool, error) {
	f, err := os.Open(t.Handle.DataPath)
	if err != nil {
		return entry.Entry{}, false, ferrors.IO(t.Handle.DataPath, err)
	}
	defer f.Close()

	offset := int64(blockOffset)
	for {
		e, n, err := readEntryAt(f, offset)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return entry.Entry{}, false, nil
		}
		if err != nil {
			return entry.Entry{}, false, ferrors.IO(t.Handle.DataPath, err)
		}

		cmp := bytes.Compare(e.Key, key)
		if cmp == 0 {
			return e, true, nil
		}
		if cmp > 0 {
			return entry.Entry{}, false, nil
		}
		offset += int64(n)
	}
}

// Range reads entries in [start, end) of the data file in order. An end
// of 0 (the sparse index's "no entry exceeded the range" sentinel) reads
// through to EOF.
func (t *Table) Range(r RangeOffsets) ([]entry.Entry, error) {
	f, err := os.Open(t.Handle.DataPath)
	if err != nil {
		return nil, ferrors.IO(t.Handle.DataPath, err)
	}
	defer f.Close()

	var out []entry.Entry
	offset := int64(r.Start)
	end := int64(r.End)

	for r.End == 0 || offset < end {
		e, n, err := readEntryAt(f, offset)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, ferrors.IO(t.Handle.DataPath, err)
		}
		out = append(out, e)
		offset += int64(n)
	}

	return out, nil
}

// Load performs a full scan of the table's data file, used during
// recovery to rebuild the Bloom filter and to locate head/tail markers,
// and during compaction to read every input entry in order.
func (t *Table) Load() ([]entry.Entry, error) {
	f, err := os.Open(t.Handle.DataPath)
	if err != nil {
		return nil, ferrors.IO(t.Handle.DataPath, err)
	}
	defer f.Close()

	var out []entry.Entry
	var offset int64
	for {
		e, n, err := readEntryAt(f, offset)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, ferrors.IO(t.Handle.DataPath, err)
		}
		out = append(out, e)
		offset += int64(n)
	}

	return out, nil
}

// BuildBloom rebuilds a Bloom filter from entries, per invariant 4: the
// filter associated with an SST is a superset of the keys present in it.
func BuildBloom(entries []entry.Entry, falsePositiveRate float64) *bloom.Filter {
	f := bloom.New(uint(len(entries))+1, falsePositiveRate)
	for _, e := range entries {
		f.Set(e.Key)
	}
	return f
}
