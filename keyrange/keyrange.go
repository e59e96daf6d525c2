// Package keyrange maps every live SST to its (smallest, biggest) key,
// letting the engine prune candidate tables before Bloom-filter probes —
// Bloom filters answer point membership, the key-range index answers
// overlap, which matters for size-tiered range scans.
package keyrange

import (
	"bytes"
	"sync"

	"github.com/flashkv/flashkv/sstable"
)

// Entry is one key-range index row.
type Entry struct {
	DataFilePath string
	SmallestKey  []byte
	BiggestKey   []byte
	Handle       sstable.Handle
}

// Index is the reader-writer-disciplined mapping from data-file path to
// (smallest, biggest, handle). Flushers insert, compactors remove,
// readers iterate a snapshot.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty key-range index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Set registers or replaces the range for dataFilePath.
func (i *Index) Set(dataFilePath string, smallest, biggest []byte, handle sstable.Handle) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries[dataFilePath] = Entry{
		DataFilePath: dataFilePath,
		SmallestKey:  smallest,
		BiggestKey:   biggest,
		Handle:       handle,
	}
}

// Remove drops the range entry for dataFilePath, used by the compactor
// when retiring an input SST.
func (i *Index) Remove(dataFilePath string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.entries, dataFilePath)
}

// CandidatesForKey returns every entry whose [smallest, biggest] range
// could contain key: biggest_key >= key and smallest_key <= key.
func (i *Index) CandidatesForKey(key []byte) []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []Entry
	for _, e := range i.entries {
		if bytes.Compare(e.BiggestKey, key) >= 0 && bytes.Compare(e.SmallestKey, key) <= 0 {
			out = append(out, e)
		}
	}
	return out
}

// CandidatesForRange returns every entry whose range overlaps [start, end].
func (i *Index) CandidatesForRange(start, end []byte) []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []Entry
	for _, e := range i.entries {
		if bytes.Compare(e.SmallestKey, end) <= 0 && bytes.Compare(e.BiggestKey, start) >= 0 {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many live SSTs are tracked.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}
