package bucket

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/sstable"
)

func writeTable(t *testing.T, dataPath, indexPath string, keys []string) (*sstable.Table, int64) {
	t.Helper()
	w, err := sstable.NewWriter(dataPath, indexPath)
	require.NoError(t, err)
	for i, k := range keys {
		require.NoError(t, w.Write(entry.New([]byte(k), uint32(i), uint64(i+1), false)))
	}
	table, err := w.Finish()
	require.NoError(t, err)

	size := int64(0)
	for _, k := range keys {
		size += int64(len(k)) + 17
	}
	return table, size
}

func TestOpenOnFreshRootCreatesEmptyMap(t *testing.T) {
	root := t.TempDir()
	bm, err := Open(root, 4)
	require.NoError(t, err)
	require.Equal(t, 0, bm.BucketCount())
}

func TestStageAndRegisterCreatesBucket(t *testing.T) {
	root := t.TempDir()
	bm, err := Open(root, 4)
	require.NoError(t, err)

	dataPath, indexPath, bucketID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	require.DirExists(t, filepath.Dir(dataPath))

	table, size := writeTable(t, dataPath, indexPath, []string{"a", "b"})
	bm.Register(bucketID, table, size, 0, 1)

	require.Equal(t, 1, bm.BucketCount())
	require.Len(t, bm.AllTables(), 1)
}

func TestStageJoinsBucketWithinSizeBand(t *testing.T) {
	root := t.TempDir()
	bm, err := Open(root, 4)
	require.NoError(t, err)

	dataPath, indexPath, firstID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	table, size := writeTable(t, dataPath, indexPath, []string{"a"})
	bm.Register(firstID, table, size, 0, 1)

	// A similarly-sized table should join the same bucket rather than
	// create a new one.
	_, _, secondID, err := bm.Stage(size, 2)
	require.NoError(t, err)
	require.Equal(t, firstID, secondID)
}

func TestStageWithWildlyDifferentSizeCreatesNewBucket(t *testing.T) {
	root := t.TempDir()
	bm, err := Open(root, 4)
	require.NoError(t, err)

	dataPath, indexPath, firstID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	table, _ := writeTable(t, dataPath, indexPath, []string{"a"})
	bm.Register(firstID, table, 100, 0, 1)

	_, _, secondID, err := bm.Stage(100_000, 2)
	require.NoError(t, err)
	require.NotEqual(t, firstID, secondID)
}

func TestExtractBucketsToCompactHonorsThreshold(t *testing.T) {
	root := t.TempDir()
	bm, err := Open(root, 2)
	require.NoError(t, err)

	dataPath, indexPath, bucketID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	table, size := writeTable(t, dataPath, indexPath, []string{"a"})
	bm.Register(bucketID, table, size, 0, 1)

	toCompact, _ := bm.ExtractBucketsToCompact()
	require.Empty(t, toCompact, "a single-SST bucket must not be selected below threshold")

	dataPath2, indexPath2, bucketID2, err := bm.Stage(size, 2)
	require.NoError(t, err)
	require.Equal(t, bucketID, bucketID2)
	table2, size2 := writeTable(t, dataPath2, indexPath2, []string{"b"})
	bm.Register(bucketID2, table2, size2, 0, 2)

	toCompact, retire := bm.ExtractBucketsToCompact()
	require.Len(t, toCompact, 1)
	require.Len(t, retire[bucketID], 2)
}

func TestDeleteSSTablesAllSucceed(t *testing.T) {
	root := t.TempDir()
	bm, err := Open(root, 4)
	require.NoError(t, err)

	dataPath, indexPath, bucketID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	table, size := writeTable(t, dataPath, indexPath, []string{"a"})
	bm.Register(bucketID, table, size, 0, 1)

	ok := bm.DeleteSSTables(bucketID, []string{table.Handle.DataPath})
	require.True(t, ok)
	require.Empty(t, bm.AllTables())
	require.Equal(t, 0, bm.BucketCount())
}

func TestOpenRecoversExistingBuckets(t *testing.T) {
	root := t.TempDir()
	bm, err := Open(root, 4)
	require.NoError(t, err)

	dataPath, indexPath, bucketID, err := bm.Stage(100, 1)
	require.NoError(t, err)
	table, size := writeTable(t, dataPath, indexPath, []string{"a", "b", "c"})
	bm.Register(bucketID, table, size, 0, 1)

	reopened, err := Open(root, 4)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.BucketCount())
	require.Len(t, reopened.AllTables(), 1)
}
