package sstable

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, entries map[string]uint32, order []string) *SparseIndex {
	t.Helper()
	idx := NewSparseIndex(filepath.Join(t.TempDir(), "index.db"))
	for _, k := range order {
		idx.Add([]byte(k), entries[k])
	}
	return idx
}

func TestSparseIndexGetEmpty(t *testing.T) {
	idx := NewSparseIndex(filepath.Join(t.TempDir(), "index.db"))

	_, found := idx.Get([]byte("a"))
	require.False(t, found)
}

func TestSparseIndexGetExactMatch(t *testing.T) {
	idx := buildIndex(t, map[string]uint32{"a": 0, "m": 10, "z": 20}, []string{"a", "m", "z"})

	off, found := idx.Get([]byte("m"))
	require.True(t, found)
	require.Equal(t, uint32(10), off)
}

func TestSparseIndexGetAllKeysLessThanSearch(t *testing.T) {
	idx := buildIndex(t, map[string]uint32{"a": 0, "b": 10}, []string{"a", "b"})

	off, found := idx.Get([]byte("z"))
	require.True(t, found)
	require.Equal(t, uint32(10), off, "expected last index offset")
}

func TestSparseIndexGetAllKeysGreaterThanSearch(t *testing.T) {
	idx := buildIndex(t, map[string]uint32{"m": 0, "z": 10}, []string{"m", "z"})

	_, found := idx.Get([]byte("a"))
	require.False(t, found)
}

func TestSparseIndexOffsetRange(t *testing.T) {
	idx := buildIndex(t, map[string]uint32{
		"a": 0, "n": 10, "p": 20, "z": 30,
	}, []string{"a", "n", "p", "z"})

	r := idx.OffsetRange([]byte("m"), []byte("q"))
	require.Equal(t, uint32(0), r.Start)
	require.Equal(t, uint32(30), r.End)
}

func TestSparseIndexWriteAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx := NewSparseIndex(path)
	idx.Add([]byte("a"), 0)
	idx.Add([]byte("m"), 100)

	require.NoError(t, idx.WriteFile())

	loaded, err := LoadSparseIndex(path)
	require.NoError(t, err)

	off, found := loaded.Get([]byte("m"))
	require.True(t, found)
	require.Equal(t, uint32(100), off)
}
