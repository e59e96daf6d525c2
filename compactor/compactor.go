// Package compactor merges the SSTs of an over-full bucket into a single
// table, retiring the inputs once every output has been durably written.
// The two-way merge (freshness by created_at, tombstone tie-break) and the
// partial-failure-safe retirement sequence are ported from
// original_source/src/compaction/compator.rs's Compactor::run_compaction,
// Compactor::merge_sstables, and Compactor::clean_up_after_compaction.
package compactor

import (
	"github.com/flashkv/flashkv/bloom"
	"github.com/flashkv/flashkv/bucket"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/internal/merge"
	"github.com/flashkv/flashkv/keyrange"
	"github.com/flashkv/flashkv/sstable"
)

// Compactor owns the shared structures a compaction run mutates: the
// bucket map, the key-range index, and the global Bloom filter list.
type Compactor struct {
	buckets           *bucket.Map
	keyRange          *keyrange.Index
	blooms            *bloom.List
	falsePositiveRate float64
}

// New builds a Compactor over the engine's shared bucket map, key-range
// index, and Bloom filter list.
func New(buckets *bucket.Map, keyRange *keyrange.Index, blooms *bloom.List, falsePositiveRate float64) *Compactor {
	return &Compactor{
		buckets:           buckets,
		keyRange:          keyRange,
		blooms:            blooms,
		falsePositiveRate: falsePositiveRate,
	}
}

// Run extracts every bucket at or above the compaction threshold, merges
// each one's SSTs into a single output, and retires the inputs once the
// output is durable. createdAt timestamps the new sstable-<ts> directory.
//
// A bucket whose merged output fails to write is skipped entirely: its
// inputs are left untouched and it will be picked up again on the next
// run, rather than partially retiring an input whose merged content was
// never persisted (invariant 1).
func (c *Compactor) Run(createdAt uint64) error {
	return c.run(createdAt, nil)
}

// RunTombstoneCompaction is the separate tombstone-compaction trigger
// (spec.md §4.8: "bounded by a tombstone-TTL policy; mechanism is
// identical, selection differs"). Bucket selection is the same
// size-tiered threshold as Run, but the merge additionally drops any
// tombstone whose age exceeds tombstoneTTLMillis entirely, orphaning its
// value-log record for later reclamation.
func (c *Compactor) RunTombstoneCompaction(now, tombstoneTTLMillis uint64) error {
	return c.run(now, func(e entry.Entry) bool {
		return e.Tombstone && now > e.CreatedAt && now-e.CreatedAt > tombstoneTTLMillis
	})
}

func (c *Compactor) run(createdAt uint64, elide func(entry.Entry) bool) error {
	toCompact, retirePaths := c.buckets.ExtractBucketsToCompact()
	if len(toCompact) == 0 {
		return nil
	}

	for _, b := range toCompact {
		c.compactBucket(b, retirePaths[b.ID], createdAt, elide)
	}

	return nil
}

// compactBucket merges one bucket's SSTs, writes the result, and retires
// the inputs only if every step succeeds.
func (c *Compactor) compactBucket(b bucket.Bucket, inputPaths []string, createdAt uint64, elide func(entry.Entry) bool) {
	if len(b.SSTs) == 0 {
		return
	}

	merged, err := loadEntries(b.SSTs[0].Table)
	if err != nil {
		return
	}

	hotness := b.SSTs[0].Hotness
	for _, s := range b.SSTs[1:] {
		hotness += s.Hotness
		entries, err := loadEntries(s.Table)
		if err != nil {
			return
		}
		merged = merge.Entries(merged, entries)
	}

	if elide != nil {
		merged = elideEntries(merged, elide)
	}

	if len(merged) == 0 {
		// Every input entry was elided (the whole bucket was aged-out
		// tombstones): retire the inputs and register nothing in their
		// place, reclaiming the bucket slot entirely instead of writing an
		// empty SST.
		if c.buckets.DeleteSSTables(b.ID, inputPaths) {
			for _, p := range inputPaths {
				c.keyRange.Remove(p)
			}
			wanted := make(map[string]bool, len(inputPaths))
			for _, p := range inputPaths {
				wanted[p] = true
			}
			c.blooms.RemoveByPaths(wanted)
		}
		return
	}

	dataPath, indexPath, bucketID, err := c.buckets.Stage(estimatedSize(merged), createdAt)
	if err != nil {
		return
	}

	w, err := sstable.NewWriter(dataPath, indexPath)
	if err != nil {
		return
	}
	for _, e := range merged {
		if err := w.Write(e); err != nil {
			return
		}
	}
	sst, err := w.Finish()
	if err != nil {
		return
	}

	c.buckets.Register(bucketID, sst, estimatedSize(merged), hotness, createdAt)

	if !c.buckets.DeleteSSTables(b.ID, inputPaths) {
		// Partial failure: leave the stale Bloom filters and key-range
		// entries for the undeleted inputs in place (invariant 5). The
		// new output is already registered and will be probed alongside
		// the survivors; duplicate results are resolved by freshness at
		// read time.
		c.registerOutput(sst, merged, hotness)
		return
	}

	for _, p := range inputPaths {
		c.keyRange.Remove(p)
	}
	wanted := make(map[string]bool, len(inputPaths))
	for _, p := range inputPaths {
		wanted[p] = true
	}
	c.blooms.RemoveByPaths(wanted)

	c.registerOutput(sst, merged, hotness)
}

func (c *Compactor) registerOutput(sst *sstable.Table, merged []entry.Entry, hotness uint64) {
	c.keyRange.Set(sst.Handle.DataPath, sst.SmallestKey, sst.BiggestKey, sst.Handle)

	filter := sstable.BuildBloom(merged, c.falsePositiveRate)
	filter.SetHandle(bloom.Handle{Path: sst.Handle.DataPath, Hotness: hotness})
	c.blooms.Append(filter)
}

func loadEntries(t *sstable.Table) ([]entry.Entry, error) {
	return t.Load()
}

// elideEntries drops every entry elide reports true for, preserving
// order.
func elideEntries(entries []entry.Entry, elide func(entry.Entry) bool) []entry.Entry {
	kept := entries[:0]
	for _, e := range entries {
		if !elide(e) {
			kept = append(kept, e)
		}
	}
	return kept
}

func estimatedSize(entries []entry.Entry) int64 {
	var total int64
	for _, e := range entries {
		total += int64(entry.EntryHeaderSize + len(e.Key))
	}
	return total
}
