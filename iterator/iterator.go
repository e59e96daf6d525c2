// Package iterator implements the forward-only range scan described in
// spec.md §4.10: collect candidates from the active memtable, every
// read-only memtable, and every overlapping SST, merge them with the same
// freshness-resolving algorithm compaction uses, then stream values out of
// the value log with optional parallel prefetch (grounded on
// other_examples' rosedblabs-lotusdb use of golang.org/x/sync/errgroup for
// fan-out I/O).
package iterator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/flashkv/flashkv/bloom"
	"github.com/flashkv/flashkv/bucket"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/ferrors"
	"github.com/flashkv/flashkv/internal/merge"
	"github.com/flashkv/flashkv/keyrange"
	"github.com/flashkv/flashkv/memtable"
	"github.com/flashkv/flashkv/valuelog"
)

// KV is one materialized range-scan result: a key and its resolved value.
// Tombstoned entries never reach this type; Next skips them per spec.md
// §4.10 ("deleted entries are skipped in the output").
type KV struct {
	Key       []byte
	Value     []byte
	CreatedAt uint64
}

// Iterator is a single-pass, forward-only range scan. prev/end/key/value
// accessors are reserved for a future version and are not exposed here.
type Iterator struct {
	entries       []entry.Entry
	pos           int
	vlog          *valuelog.ValueLog
	allowPrefetch bool
	prefetchSize  int
	buffered      []KV
	bufferedPos   int
}

// Seek builds the merged candidate stream for [start, end] and returns an
// Iterator ready to produce KV pairs in ascending key order.
//
// candidateTables should already be pruned by the caller (bloom-filter
// union with key-range overlap, per spec.md §4.10 step 3); Seek itself
// only applies each table's sparse-index offset_range slice and merges.
func Seek(
	active *memtable.Memtable,
	readOnly []*memtable.Memtable,
	candidateTables []*bucket.SST,
	start, end []byte,
	vlog *valuelog.ValueLog,
	allowPrefetch bool,
	prefetchSize int,
) (*Iterator, error) {
	streams := make([][]entry.Entry, 0, 2+len(readOnly)+len(candidateTables))

	streams = append(streams, collect(active.RangeIterator(start, end)))
	for _, ro := range readOnly {
		streams = append(streams, collect(ro.RangeIterator(start, end)))
	}

	for _, sst := range candidateTables {
		r := sst.Table.Index.OffsetRange(start, end)
		slice, err := sst.Table.Range(r)
		if err != nil {
			return nil, ferrors.New(ferrors.KindRangeScan)
		}
		streams = append(streams, filterRange(slice, start, end))
	}

	merged := merge.Many(streams)

	return &Iterator{
		entries:       merged,
		vlog:          vlog,
		allowPrefetch: allowPrefetch,
		prefetchSize:  prefetchSize,
	}, nil
}

func collect(seq func(func(entry.Entry) bool)) []entry.Entry {
	var out []entry.Entry
	for e := range seq {
		out = append(out, e)
	}
	return out
}

func filterRange(entries []entry.Entry, start, end []byte) []entry.Entry {
	var out []entry.Entry
	for _, e := range entries {
		if compareRange(e.Key, start, end) {
			out = append(out, e)
		}
	}
	return out
}

func compareRange(key, start, end []byte) bool {
	return bytesGE(key, start) && bytesLE(key, end)
}

func bytesGE(a, b []byte) bool { return bytesCompare(a, b) >= 0 }
func bytesLE(a, b []byte) bool { return bytesCompare(a, b) <= 0 }

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Next returns the next non-tombstoned key/value pair, fetching its value
// from the value log (in prefetched batches when allowPrefetch is set).
// It returns false once the merged stream is exhausted.
func (it *Iterator) Next(ctx context.Context) (KV, bool, error) {
	for {
		if it.bufferedPos < len(it.buffered) {
			kv := it.buffered[it.bufferedPos]
			it.bufferedPos++
			return kv, true, nil
		}

		if it.pos >= len(it.entries) {
			return KV{}, false, nil
		}

		batchSize := 1
		if it.allowPrefetch && it.prefetchSize > 1 {
			batchSize = it.prefetchSize
		}
		if it.pos+batchSize > len(it.entries) {
			batchSize = len(it.entries) - it.pos
		}

		batch := it.entries[it.pos : it.pos+batchSize]
		it.pos += batchSize

		resolved, err := it.resolveBatch(ctx, batch)
		if err != nil {
			return KV{}, false, err
		}

		it.buffered = resolved
		it.bufferedPos = 0

		if len(it.buffered) == 0 {
			continue
		}
	}
}

// resolveBatch fetches values for every non-tombstoned entry in batch. When
// more than one entry is present it fans the value-log reads out across an
// errgroup, matching spec.md §4.10's "fetches values ... in parallel".
func (it *Iterator) resolveBatch(ctx context.Context, batch []entry.Entry) ([]KV, error) {
	results := make([]*KV, len(batch))

	g, _ := errgroup.WithContext(ctx)
	for i, e := range batch {
		i, e := i, e
		if e.Tombstone {
			continue
		}
		g.Go(func() error {
			value, tombstone, found, err := it.vlog.Get(e.ValOffset)
			if err != nil {
				return ferrors.New(ferrors.KindRangeScan)
			}
			if !found || tombstone {
				return nil
			}
			results[i] = &KV{Key: e.Key, Value: value, CreatedAt: e.CreatedAt}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]KV, 0, len(batch))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// BloomCandidates returns every Filter in blooms that reports a positive
// for either endpoint of [start, end], per spec.md §4.10 step 3.
func BloomCandidates(blooms *bloom.List, start, end []byte) []*bloom.Filter {
	byPath := make(map[string]*bloom.Filter)
	for _, f := range blooms.CandidatesForKey(start) {
		byPath[f.Path()] = f
	}
	for _, f := range blooms.CandidatesForKey(end) {
		byPath[f.Path()] = f
	}

	out := make([]*bloom.Filter, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	return out
}

// KeyRangeCandidates returns every key-range entry overlapping [start, end].
func KeyRangeCandidates(kr *keyrange.Index, start, end []byte) []keyrange.Entry {
	return kr.CandidatesForRange(start, end)
}
