// Package valuelog implements the append-only value log: the only source
// of truth for values. Sorted tables store offsets into this file, never
// values themselves, bounding compaction's write amplification to keys and
// offsets (WiscKey-style key/value separation).
//
// The encoding mirrors the teacher's WAL framing style (root wal.go,
// wal/wal_writer.go) — a single buffered write per record, synced before
// the append is acknowledged — but carries no CRC: the wire format is
// fixed by the engine's external interface (key_len, value_len,
// created_at, tombstone, key, value) with no room for one.
package valuelog

import (
	"bytes"
	"encoding/binary"
	"io"
	"iter"
	"os"
	"sync"
	"sync/atomic"

	"github.com/flashkv/flashkv/ferrors"
)

// Record is the physical record persisted to the value log.
type Record struct {
	Key       []byte
	Value     []byte
	CreatedAt uint64
	Tombstone bool
}

const headerSize = 4 + 4 + 8 + 1 // key_len, value_len, created_at, tombstone

// ValueLog is the append-only file of Records. Appends serialize; reads
// are concurrent-safe once the record they target has been durably
// written, per the concurrency model's "Appends serialize; reads are
// shared" discipline.
type ValueLog struct {
	mu   sync.Mutex
	f    *os.File
	path string

	// end is the current end-of-file offset, i.e. where the next Append
	// will land. It only ever grows, under mu.
	end uint32

	head atomic.Uint32
	tail atomic.Uint32
}

// Open opens or creates the value log file at path, seeking to its
// current end (mirrors the teacher's WAL open: seek-to-end so appends
// land after whatever was already durable).
func Open(path string) (*ValueLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ferrors.IO(path, err)
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, ferrors.IO(path, err)
	}

	return &ValueLog{f: f, path: path, end: uint32(end)}, nil
}

func encode(buf *bytes.Buffer, key, value []byte, createdAt uint64, tombstone bool) {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(value)))
	binary.LittleEndian.PutUint64(hdr[8:16], createdAt)
	if tombstone {
		hdr[16] = 1
	}
	buf.Write(hdr[:])
	buf.Write(key)
	buf.Write(value)
}

// Append writes one record atomically from the caller's viewpoint (a
// single buffered write followed by a sync) and returns the start offset
// of the record. On write failure the caller must treat the record as not
// durable — the offset returned is meaningless in that case.
func (v *ValueLog) Append(key, value []byte, createdAt uint64, tombstone bool) (uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var buf bytes.Buffer
	encode(&buf, key, value, createdAt, tombstone)

	offset := v.end

	if _, err := v.f.WriteAt(buf.Bytes(), int64(offset)); err != nil {
		return 0, ferrors.IO(v.path, err)
	}
	if err := v.f.Sync(); err != nil {
		return 0, ferrors.IO(v.path, err)
	}

	v.end += uint32(buf.Len())

	return offset, nil
}

// Get seeks to offset, reads the header and the value, and returns it.
// Returns found=false only if offset is at or past the end of the file;
// any other read failure is an IoError (invariant 1 would be violated —
// every referenced offset should hold a valid record).
func (v *ValueLog) Get(offset uint32) (value []byte, tombstone bool, found bool, err error) {
	v.mu.Lock()
	atEnd := offset >= v.end
	v.mu.Unlock()

	if atEnd {
		return nil, false, false, nil
	}

	var hdr [headerSize]byte
	if _, err := v.f.ReadAt(hdr[:], int64(offset)); err != nil {
		if err == io.EOF {
			return nil, false, false, nil
		}
		return nil, false, false, ferrors.IO(v.path, err)
	}

	keyLen := binary.LittleEndian.Uint32(hdr[0:4])
	valLen := binary.LittleEndian.Uint32(hdr[4:8])
	isTombstone := hdr[16] == 1

	value = make([]byte, valLen)
	valOffset := int64(offset) + headerSize + int64(keyLen)
	if valLen > 0 {
		if _, err := v.f.ReadAt(value, valOffset); err != nil {
			return nil, false, false, ferrors.IO(v.path, err)
		}
	}

	return value, isTombstone, true, nil
}

// SetHead records the in-memory head offset: the first offset not yet
// persisted into any SST.
func (v *ValueLog) SetHead(offset uint32) { v.head.Store(offset) }

// Head returns the in-memory head offset.
func (v *ValueLog) Head() uint32 { return v.head.Load() }

// SetTail records the in-memory tail offset: the oldest offset still
// referenced by any live key.
func (v *ValueLog) SetTail(offset uint32) { v.tail.Store(offset) }

// Tail returns the in-memory tail offset.
func (v *ValueLog) Tail() uint32 { return v.tail.Load() }

var offsetMarkerValue = func(offset uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], offset)
	return b[:]
}

// PersistHead appends a record under the reserved head key so the current
// head offset survives a restart; head/tail are themselves written as
// records with reserved keys, per spec.
func (v *ValueLog) PersistHead(headKey []byte, now uint64) error {
	_, err := v.Append(headKey, offsetMarkerValue(v.Head()), now, false)
	return err
}

// PersistTail appends a record under the reserved tail key.
func (v *ValueLog) PersistTail(tailKey []byte, now uint64) error {
	_, err := v.Append(tailKey, offsetMarkerValue(v.Tail()), now, false)
	return err
}

// DecodeOffsetMarker decodes the value payload written by PersistHead /
// PersistTail back into an offset.
func DecodeOffsetMarker(value []byte) uint32 {
	if len(value) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(value)
}

// Recover produces every record starting at fromOffset up to EOF, in file
// order, alongside the offset each record started at. It is used during
// crash recovery to replay entries that were not yet incorporated into
// any SST.
func (v *ValueLog) Recover(fromOffset uint32) iter.Seq2[RecoveredRecord, error] {
	return func(yield func(RecoveredRecord, error) bool) {
		offset := fromOffset
		for {
			v.mu.Lock()
			end := v.end
			v.mu.Unlock()
			if offset >= end {
				return
			}

			var hdr [headerSize]byte
			if _, err := v.f.ReadAt(hdr[:], int64(offset)); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return
				}
				yield(RecoveredRecord{}, ferrors.IO(v.path, err))
				return
			}

			keyLen := binary.LittleEndian.Uint32(hdr[0:4])
			valLen := binary.LittleEndian.Uint32(hdr[4:8])
			createdAt := binary.LittleEndian.Uint64(hdr[8:16])
			tombstone := hdr[16] == 1

			key := make([]byte, keyLen)
			if keyLen > 0 {
				if _, err := v.f.ReadAt(key, int64(offset)+headerSize); err != nil {
					if err == io.EOF || err == io.ErrUnexpectedEOF {
						return
					}
					yield(RecoveredRecord{}, ferrors.New(ferrors.KindUnexpectedEOF))
					return
				}
			}

			value := make([]byte, valLen)
			if valLen > 0 {
				if _, err := v.f.ReadAt(value, int64(offset)+headerSize+int64(keyLen)); err != nil {
					if err == io.EOF || err == io.ErrUnexpectedEOF {
						return
					}
					yield(RecoveredRecord{}, ferrors.New(ferrors.KindUnexpectedEOF))
					return
				}
			}

			rec := RecoveredRecord{
				Offset: offset,
				Record: Record{Key: key, Value: value, CreatedAt: createdAt, Tombstone: tombstone},
			}

			if !yield(rec, nil) {
				return
			}

			offset += headerSize + keyLen + valLen
		}
	}
}

// RecoveredRecord is a Record together with the offset it starts at,
// which the engine needs to rebuild memtable entries during recovery.
type RecoveredRecord struct {
	Offset uint32
	Record Record
}

// End returns the current end-of-file offset (the value log's "head" in
// the non-persisted sense: nothing has been appended past this point).
func (v *ValueLog) End() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.end
}

// Close closes the underlying file.
func (v *ValueLog) Close() error {
	if err := v.f.Close(); err != nil {
		return ferrors.IO(v.path, err)
	}
	return nil
}
