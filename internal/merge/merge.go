// Package merge holds the two-way, freshness-resolving entry merge used by
// both compaction and range scans (spec.md §4.10: "Merge all streams using
// the same merge algorithm as compaction"). Ported from
// original_source/src/compaction/compator.rs's Compactor::merge_sstables.
package merge

import (
	"bytes"

	"github.com/flashkv/flashkv/entry"
)

// Entries merges two ascending-key-ordered entry slices into one,
// resolving duplicate keys by freshness (entry.Newer breaks exact
// created_at ties in favor of the tombstone, per entry.Newer's contract).
func Entries(a, b []entry.Entry) []entry.Entry {
	merged := make([]entry.Entry, 0, len(a)+len(b))
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		cmp := bytes.Compare(a[i].Key, b[j].Key)
		switch {
		case cmp < 0:
			merged = append(merged, a[i])
			i++
		case cmp > 0:
			merged = append(merged, b[j])
			j++
		default:
			if entry.Newer(a[i], b[j]) {
				merged = append(merged, a[i])
			} else {
				merged = append(merged, b[j])
			}
			i++
			j++
		}
	}

	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)

	return merged
}

// Many folds a list of ascending-key-ordered streams into one via repeated
// pairwise merges, left to right (mirroring the original compactor's
// bucket-wide fold over more than two SSTables).
func Many(streams [][]entry.Entry) []entry.Entry {
	if len(streams) == 0 {
		return nil
	}

	merged := streams[0]
	for _, s := range streams[1:] {
		merged = Entries(merged, s)
	}
	return merged
}
