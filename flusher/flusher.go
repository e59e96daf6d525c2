// Package flusher converts a sealed, read-only memtable into an on-disk
// sorted table: it stages a bucket slot, writes the data and sparse-index
// files, rebuilds the Bloom filter, and registers both the key-range
// index and the global hotness-sorted Bloom filter list. Grounded on
// original_source/src/flusher/flusher.rs's Flusher::flush, translated
// from its async/Arc<RwLock<_>> style into plain mutex-guarded Go types.
package flusher

import (
	"github.com/flashkv/flashkv/bloom"
	"github.com/flashkv/flashkv/bucket"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/ferrors"
	"github.com/flashkv/flashkv/keyrange"
	"github.com/flashkv/flashkv/memtable"
	"github.com/flashkv/flashkv/sstable"
)

// initialHotness is the hotness a freshly-flushed SST starts with; the
// compactor sums inputs' hotness into merged outputs, so older, more
// frequently re-compacted tables accrue a higher value over time.
const initialHotness = 1

// Flusher owns the shared structures a flush mutates: the bucket map, the
// key-range index, and the global Bloom filter list.
type Flusher struct {
	buckets           *bucket.Map
	keyRange          *keyrange.Index
	blooms            *bloom.List
	falsePositiveRate float64
}

// New builds a Flusher over the engine's shared bucket map, key-range
// index, and Bloom filter list.
func New(buckets *bucket.Map, keyRange *keyrange.Index, blooms *bloom.List, falsePositiveRate float64) *Flusher {
	return &Flusher{
		buckets:           buckets,
		keyRange:          keyRange,
		blooms:            blooms,
		falsePositiveRate: falsePositiveRate,
	}
}

// Flush drains table into a new SST under an appropriately-sized bucket.
// table must already be sealed (read-only) by the caller; Flush itself
// never mutates the memtable. createdAt is the timestamp used to name the
// backing sstable-<ts> directory.
//
// Returns ferrors.KindEmptyFlush if table holds no entries (an empty
// flush would otherwise produce a zero-byte SST that breaks invariant 1).
func (f *Flusher) Flush(table *memtable.Memtable, createdAt uint64) error {
	if table.IsEmpty() {
		return ferrors.New(ferrors.KindEmptyFlush)
	}

	smallest, _ := table.FindSmallestKey()
	biggest, _ := table.FindBiggestKey()

	dataPath, indexPath, bucketID, err := f.buckets.Stage(int64(table.Size()), createdAt)
	if err != nil {
		return ferrors.New(ferrors.KindFailedToInsertToBucket)
	}

	w, err := sstable.NewWriter(dataPath, indexPath)
	if err != nil {
		return err
	}

	var entries []entry.Entry
	for e := range table.Iterator() {
		entries = append(entries, e)
		if err := w.Write(e); err != nil {
			return err
		}
	}

	sst, err := w.Finish()
	if err != nil {
		return err
	}

	f.buckets.Register(bucketID, sst, int64(table.Size()), initialHotness, createdAt)
	f.keyRange.Set(sst.Handle.DataPath, smallest, biggest, sst.Handle)

	filter := sstable.BuildBloom(entries, f.falsePositiveRate)
	filter.SetHandle(bloom.Handle{Path: sst.Handle.DataPath, Hotness: initialHotness})
	f.blooms.Append(filter)

	return nil
}
