package sstable

import (
	"bytes"
	"io"
	"os"

	"github.com/flashkv/flashkv/ferrors"
	"github.com/flashkv/flashkv/internal/binenc"
)

// RangeOffsets is the [start, end) byte range of a data file a range scan
// should read, as returned by SparseIndex.OffsetRange.
type RangeOffsets struct {
	Start uint32
	End   uint32
}

type sparseIndexEntry struct {
	Key    []byte
	Offset uint32
}

// SparseIndex is the on-disk (key, data_file_offset) list described in
// spec.md §4.4, one entry per data block.
type SparseIndex struct {
	path    string
	entries []sparseIndexEntry
}

// NewSparseIndex returns a writer-side index bound to path, truncating
// any prior content (mirrors sst writer's per-table index file).
func NewSparseIndex(path string) *SparseIndex {
	return &SparseIndex{path: path}
}

// Add appends one (key, offset) pair in the order blocks are written.
// Callers must add entries in ascending key order.
func (s *SparseIndex) Add(key []byte, offset uint32) {
	keyCopy := append([]byte(nil), key...)
	s.entries = append(s.entries, sparseIndexEntry{Key: keyCopy, Offset: offset})
}

// WriteFile persists the index to s.path using the encoding from
// spec.md §6: key_len, key, data_offset per entry.
func (s *SparseIndex) WriteFile() error {
	f, err := os.Create(s.path)
	if err != nil {
		return ferrors.IO(s.path, err)
	}
	defer f.Close()

	for _, e := range s.entries {
		if err := binenc.WriteBytesWithLen(f, e.Key); err != nil {
			return ferrors.IO(s.path, err)
		}
		if err := binenc.WriteUint32(f, e.Offset); err != nil {
			return ferrors.IO(s.path, err)
		}
	}

	return nil
}

// LoadSparseIndex reads the on-disk index fully into memory.
func LoadSparseIndex(path string) (*SparseIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferrors.IO(path, err)
	}
	defer f.Close()

	idx := &SparseIndex{path: path}

	for {
		key, err := binenc.ReadBytesWithLen(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ferrors.New(ferrors.KindUnexpectedEOF)
		}

		offset, err := binenc.ReadUint32(f)
		if err != nil {
			return nil, ferrors.New(ferrors.KindUnexpectedEOF)
		}

		idx.entries = append(idx.entries, sparseIndexEntry{Key: key, Offset: offset})
	}

	return idx, nil
}

// Get performs a single scan, tracking the greatest offset whose key is
// less than the search key. On encountering a key greater than the search
// key, it returns that tracked offset if any, else None. On equality it
// returns that entry's offset directly. Per spec.md §4.4's edge cases: an
// empty index returns None; all keys less than the search key returns the
// last index offset; all keys greater returns None.
func (s *SparseIndex) Get(key []byte) (uint32, bool) {
	var tracked uint32
	haveTracked := false

	for _, e := range s.entries {
		cmp := bytes.Compare(e.Key, key)
		switch {
		case cmp == 0:
			return e.Offset, true
		case cmp < 0:
			tracked = e.Offset
			haveTracked = true
		default: // cmp > 0
			if haveTracked {
				return tracked, true
			}
			return 0, false
		}
	}

	if haveTracked {
		return tracked, true
	}
	return 0, false
}

// OffsetRange performs a single scan returning the greatest index offset
// whose key <= start, and the first index offset whose key > end (or EOF,
// represented as the caller's data-file length via end=0 meaning "read to
// EOF" when no entry exceeded end).
func (s *SparseIndex) OffsetRange(start, end []byte) RangeOffsets {
	var r RangeOffsets

	for _, e := range s.entries {
		if bytes.Compare(e.Key, start) > 0 {
			if bytes.Compare(e.Key, end) > 0 {
				r.End = e.Offset
				return r
			}
			continue
		}
		r.Start = e.Offset
	}

	return r
}

// Len reports the number of index entries.
func (s *SparseIndex) Len() int { return len(s.entries) }
