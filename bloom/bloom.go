// Package bloom wraps github.com/bits-and-blooms/bloom/v3 with the handle
// semantics the engine needs: every filter carries a pointer to the SST it
// was built from (path + hotness), not ownership of the SST's files. The
// bucket map is the sole owner of SST file resources.
package bloom

import (
	"io"

	"github.com/bits-and-blooms/bloom/v3"
)

// Handle identifies the sorted table a Filter was built from, without
// owning its file resources.
type Handle struct {
	Path    string
	Hotness uint64
}

// Filter is a per-table membership test. False positives are allowed,
// false negatives are forbidden (invariant 4).
type Filter struct {
	bits   *bloom.BloomFilter
	handle Handle
}

// New creates a filter sized for expected elements at the given
// false-positive rate, mirroring the teacher's
// bloom.NewWithEstimates(100000, 0.01) call in sst/writer.go.
func New(expectedElements uint, falsePositiveRate float64) *Filter {
	return &Filter{bits: bloom.NewWithEstimates(expectedElements, falsePositiveRate)}
}

// Set adds key to the filter.
func (f *Filter) Set(key []byte) { f.bits.Add(key) }

// Contains reports whether key may be present (true) or is definitely
// absent (false).
func (f *Filter) Contains(key []byte) bool { return f.bits.Test(key) }

// SetHandle associates this filter with the SST it describes, called once
// the SST's final path is known (after bucket assignment).
func (f *Filter) SetHandle(h Handle) { f.handle = h }

// Handle returns the SST handle this filter describes.
func (f *Filter) Handle() Handle { return f.handle }

// Path is a convenience accessor used when pruning filters by data-file
// path during compaction retirement.
func (f *Filter) Path() string { return f.handle.Path }

// WriteTo serializes the underlying bit array. The engine itself never
// persists filters: every SST's filter is rebuilt from its entries on load.
func (f *Filter) WriteTo(w io.Writer) (int64, error) { return f.bits.WriteTo(w) }

// K returns the number of hash functions, for diagnostics/serialization.
func (f *Filter) K() uint { return f.bits.K() }

// Cap returns the bit array size, for diagnostics/serialization.
func (f *Filter) Cap() uint { return f.bits.Cap() }

// List is the engine-wide collection of live Bloom filters, kept sorted by
// hotness descending (hottest tables probed first) per spec.md §4.7 step 5
// and the original implementation's re-sort after every flush and merge.
type List struct {
	filters []*Filter
}

// NewList returns an empty filter list.
func NewList() *List { return &List{} }

// Append adds f to the list and re-sorts by hotness descending.
func (l *List) Append(f *Filter) {
	l.filters = append(l.filters, f)
	l.sortByHotness()
}

// AppendAll adds several filters at once, re-sorting only after all are
// inserted.
func (l *List) AppendAll(fs []*Filter) {
	l.filters = append(l.filters, fs...)
	l.sortByHotness()
}

func (l *List) sortByHotness() {
	filters := l.filters
	for i := 1; i < len(filters); i++ {
		j := i
		for j > 0 && filters[j-1].handle.Hotness < filters[j].handle.Hotness {
			filters[j-1], filters[j] = filters[j], filters[j-1]
			j--
		}
	}
}

// RemoveByPaths drops every filter whose Handle.Path is in paths, used by
// the compactor to retire filters for inputs that were successfully
// deleted (invariant 5 is preserved: a failed deletion leaves its filter
// in place).
func (l *List) RemoveByPaths(paths map[string]bool) {
	kept := l.filters[:0]
	for _, f := range l.filters {
		if !paths[f.Path()] {
			kept = append(kept, f)
		}
	}
	l.filters = kept
}

// CandidatesForKey returns every filter reporting a positive for key, in
// hotness order (the list is kept sorted, so callers probe hottest first).
func (l *List) CandidatesForKey(key []byte) []*Filter {
	var out []*Filter
	for _, f := range l.filters {
		if f.Contains(key) {
			out = append(out, f)
		}
	}
	return out
}

// Len reports how many filters are tracked.
func (l *List) Len() int { return len(l.filters) }

// All returns every tracked filter, in current hotness order.
func (l *List) All() []*Filter { return l.filters }
