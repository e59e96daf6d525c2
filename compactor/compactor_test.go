package compactor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashkv/flashkv/bloom"
	"github.com/flashkv/flashkv/bucket"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/keyrange"
	"github.com/flashkv/flashkv/sstable"
)

func writeTable(t *testing.T, dir, name string, entries []entry.Entry) *sstable.Table {
	t.Helper()
	w, err := sstable.NewWriter(filepath.Join(dir, name+"-data.db"), filepath.Join(dir, name+"-index.db"))
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Write(e))
	}
	table, err := w.Finish()
	require.NoError(t, err)
	return table
}

func TestRunCompactsBucketAtThresholdAndRetiresInputs(t *testing.T) {
	root := t.TempDir()
	bm, err := bucket.Open(root, 2)
	require.NoError(t, err)
	kr := keyrange.New()
	bl := bloom.NewList()
	c := New(bm, kr, bl, 0.01)

	scratch := t.TempDir()
	table1 := writeTable(t, scratch, "t1", []entry.Entry{
		entry.New([]byte("a"), 0, 1, false),
		entry.New([]byte("b"), 1, 1, false),
	})
	table2 := writeTable(t, scratch, "t2", []entry.Entry{
		entry.New([]byte("b"), 2, 5, false),
		entry.New([]byte("c"), 3, 1, false),
	})

	_, _, bucketID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	bm.Register(bucketID, table1, 100, 1, 1)
	_, _, bucketID2, err := bm.Stage(100, 2)
	require.NoError(t, err)
	require.Equal(t, bucketID, bucketID2)
	bm.Register(bucketID, table2, 100, 1, 2)

	require.NoError(t, c.Run(3))

	tables := bm.AllTables()
	require.Len(t, tables, 1, "the two inputs must be replaced by exactly one merged output")

	entries, err := tables[0].Table.Load()
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestRunTombstoneCompactionElidesAgedTombstones(t *testing.T) {
	root := t.TempDir()
	bm, err := bucket.Open(root, 2)
	require.NoError(t, err)
	kr := keyrange.New()
	bl := bloom.NewList()
	c := New(bm, kr, bl, 0.01)

	scratch := t.TempDir()
	table1 := writeTable(t, scratch, "t1", []entry.Entry{
		entry.New([]byte("a"), 0, 1, false),
	})
	table2 := writeTable(t, scratch, "t2", []entry.Entry{
		entry.New([]byte("a"), 1, 2, true), // tombstone, newer than table1's write
	})

	_, _, bucketID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	bm.Register(bucketID, table1, 100, 1, 1)
	_, _, bucketID2, err := bm.Stage(100, 2)
	require.NoError(t, err)
	require.Equal(t, bucketID, bucketID2)
	bm.Register(bucketID, table2, 100, 1, 2)

	// now=100, tombstone created_at=2, ttl=1: the tombstone is long past its
	// TTL and the only surviving entry for "a" after the merge, so the
	// whole bucket's output is empty.
	require.NoError(t, c.RunTombstoneCompaction(100, 1))

	require.Empty(t, bm.AllTables(), "a bucket whose only surviving entry is an aged tombstone is fully reclaimed")
}

func TestRunSkipsBucketsBelowThreshold(t *testing.T) {
	root := t.TempDir()
	bm, err := bucket.Open(root, 4)
	require.NoError(t, err)
	kr := keyrange.New()
	bl := bloom.NewList()
	c := New(bm, kr, bl, 0.01)

	scratch := t.TempDir()
	table := writeTable(t, scratch, "t1", []entry.Entry{entry.New([]byte("a"), 0, 1, false)})
	_, _, bucketID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	bm.Register(bucketID, table, 100, 1, 1)

	require.NoError(t, c.Run(2))
	require.Len(t, bm.AllTables(), 1, "a bucket below threshold must be left untouched")
}
