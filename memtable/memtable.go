// Package memtable provides an ordered, in-memory buffer of recent writes,
// backed by a skip list (memtable/skip_list.go generalizes the teacher's
// generic SkipList[K ordered, V any] to byte-string keys) plus size
// accounting and a per-table Bloom filter populated on every insert.
package memtable

import (
	"errors"
	"iter"

	"github.com/flashkv/flashkv/bloom"
	"github.com/flashkv/flashkv/entry"
)

// ErrTableFull is returned by Insert when the table has been sealed.
var ErrTableFull = errors.New("memtable: table is read-only")

const defaultBloomFalsePositiveRate = 0.01

// Memtable is an ordered key -> (valOffset, createdAt, tombstone) map with
// monotonically growing size, a capacity, a read-only flag, and a Bloom
// filter updated on every insert (invariant 4 applies to this filter too,
// once the table is flushed into an SST).
type Memtable struct {
	list     *skipList
	bloom    *bloom.Filter
	size     int
	capacity int
	readOnly bool
}

// New creates an empty, writable memtable with the given capacity in
// bytes and an expected element count used to size its Bloom filter.
func New(capacity int, expectedElements uint, falsePositiveRate float64) *Memtable {
	if falsePositiveRate <= 0 {
		falsePositiveRate = defaultBloomFalsePositiveRate
	}
	return &Memtable{
		list:     newSkipList(),
		bloom:    bloom.New(expectedElements, falsePositiveRate),
		capacity: capacity,
	}
}

// Insert replaces any prior entry for e.Key unconditionally. It fails with
// ErrTableFull only once the table has been sealed.
func (m *Memtable) Insert(e entry.Entry) error {
	if m.readOnly {
		return ErrTableFull
	}

	isNew := m.list.put(e)
	if isNew {
		m.size += entry.EntryHeaderSize + len(e.Key)
	}
	m.bloom.Set(e.Key)

	return nil
}

// Get returns the latest known offset/timestamp/tombstone for key, if any.
func (m *Memtable) Get(key []byte) (entry.Entry, bool) {
	return m.list.get(key)
}

// IsFull reports whether inserting one more key of extraKeyLen bytes,
// together with the reserved head-marker entry, would meet or exceed
// capacity. The reserved head entry space guarantees a head marker can
// always be inserted before sealing.
func (m *Memtable) IsFull(extraKeyLen int) bool {
	return m.size+entry.ReservedHeadEntrySize+extraKeyLen >= m.capacity
}

// FindSmallestKey returns the smallest key in the table, if non-empty.
func (m *Memtable) FindSmallestKey() ([]byte, bool) {
	for e := range m.list.iterator() {
		return e.Key, true
	}
	return nil, false
}

// FindBiggestKey returns the largest key in the table, if non-empty. The
// skip list's bottom level is ordered ascending, so this walks to the end;
// an implementation backed by a balanced tree could do this in O(log n),
// but the teacher's skip list has no reverse pointers.
func (m *Memtable) FindBiggestKey() ([]byte, bool) {
	var last []byte
	found := false
	for e := range m.list.iterator() {
		last = e.Key
		found = true
	}
	return last, found
}

// MaxValOffset returns the largest ValOffset among the table's current
// entries, and false if the table is empty. The engine uses this to build
// the head marker it inserts before sealing (original_source's
// storage.rs max_by_key(|e| e.value().0)): the marker must record the
// highest value-log offset this memtable actually covers, not an
// arbitrary one, or recovery cannot tell how far this memtable's data
// extends.
func (m *Memtable) MaxValOffset() (uint32, bool) {
	var max uint32
	found := false
	for e := range m.list.iterator() {
		if !found || e.ValOffset > max {
			max = e.ValOffset
		}
		found = true
	}
	return max, found
}

// Size reports the table's current byte-size charge, used by the flusher
// to estimate the resulting SST's size when staging a bucket.
func (m *Memtable) Size() int { return m.size }

// Len reports how many keys are present.
func (m *Memtable) Len() int { return m.list.size }

// IsEmpty reports whether the table holds no entries.
func (m *Memtable) IsEmpty() bool { return m.list.size == 0 }

// Seal marks the table read-only. A sealed memtable is never mutated
// again (invariant 6).
func (m *Memtable) Seal() { m.readOnly = true }

// IsReadOnly reports whether Seal has been called.
func (m *Memtable) IsReadOnly() bool { return m.readOnly }

// BloomFilter returns the table's Bloom filter. The flusher does not reuse
// it: the SST's filter is built afresh from the flushed entries.
func (m *Memtable) BloomFilter() *bloom.Filter { return m.bloom }

// Iterator yields every entry in ascending key order.
func (m *Memtable) Iterator() iter.Seq[entry.Entry] { return m.list.iterator() }

// RangeIterator yields entries with start <= key <= end, ascending.
func (m *Memtable) RangeIterator(start, end []byte) iter.Seq[entry.Entry] {
	return m.list.rangeIterator(start, end)
}

// Clear empties the table, used by the engine's Clear() operation.
func (m *Memtable) Clear() {
	m.list = newSkipList()
	m.size = 0
}
