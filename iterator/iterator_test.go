package iterator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashkv/flashkv/bucket"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/memtable"
	"github.com/flashkv/flashkv/sstable"
	"github.com/flashkv/flashkv/valuelog"
)

func openValueLog(t *testing.T) *valuelog.ValueLog {
	t.Helper()
	vlog, err := valuelog.Open(filepath.Join(t.TempDir(), "vlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vlog.Close() })
	return vlog
}

func drain(t *testing.T, it *Iterator) []KV {
	t.Helper()
	var out []KV
	for {
		kv, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, kv)
	}
	return out
}

func TestSeekOverActiveMemtableOnly(t *testing.T) {
	vlog := openValueLog(t)

	active := memtable.New(1<<20, 10, 0.01)
	for _, k := range []string{"a", "n", "p", "z"} {
		off, err := vlog.Append([]byte(k), []byte("v-"+k), 1, false)
		require.NoError(t, err)
		require.NoError(t, active.Insert(entry.New([]byte(k), off, 1, false)))
	}

	it, err := Seek(active, nil, nil, []byte("m"), []byte("q"), vlog, false, 0)
	require.NoError(t, err)

	got := drain(t, it)
	require.Len(t, got, 2)
	require.Equal(t, "n", string(got[0].Key))
	require.Equal(t, "p", string(got[1].Key))
}

func TestSeekSkipsTombstones(t *testing.T) {
	vlog := openValueLog(t)

	active := memtable.New(1<<20, 10, 0.01)
	offA, err := vlog.Append([]byte("a"), []byte("va"), 1, false)
	require.NoError(t, err)
	require.NoError(t, active.Insert(entry.New([]byte("a"), offA, 1, false)))

	offB, err := vlog.Append([]byte("b"), entry.TombstoneMarker, 2, true)
	require.NoError(t, err)
	require.NoError(t, active.Insert(entry.New([]byte("b"), offB, 2, true)))

	it, err := Seek(active, nil, nil, []byte("a"), []byte("b"), vlog, false, 0)
	require.NoError(t, err)

	got := drain(t, it)
	require.Len(t, got, 1)
	require.Equal(t, "a", string(got[0].Key))
}

func TestSeekMergesActiveAndReadOnlyByFreshness(t *testing.T) {
	vlog := openValueLog(t)

	active := memtable.New(1<<20, 10, 0.01)
	sealed := memtable.New(1<<20, 10, 0.01)

	offOld, err := vlog.Append([]byte("m"), []byte("old"), 1, false)
	require.NoError(t, err)
	require.NoError(t, sealed.Insert(entry.New([]byte("m"), offOld, 1, false)))
	sealed.Seal()

	offNew, err := vlog.Append([]byte("m"), []byte("new"), 5, false)
	require.NoError(t, err)
	require.NoError(t, active.Insert(entry.New([]byte("m"), offNew, 5, false)))

	it, err := Seek(active, []*memtable.Memtable{sealed}, nil, []byte("a"), []byte("z"), vlog, false, 0)
	require.NoError(t, err)

	got := drain(t, it)
	require.Len(t, got, 1)
	require.Equal(t, "new", string(got[0].Value))
}

func TestSeekIncludesCandidateSSTs(t *testing.T) {
	vlog := openValueLog(t)

	dir := t.TempDir()
	w, err := sstable.NewWriter(filepath.Join(dir, "data.db"), filepath.Join(dir, "index.db"))
	require.NoError(t, err)

	for _, k := range []string{"a", "n", "p", "z"} {
		off, err := vlog.Append([]byte(k), []byte("v-"+k), 1, false)
		require.NoError(t, err)
		require.NoError(t, w.Write(entry.New([]byte(k), off, 1, false)))
	}
	table, err := w.Finish()
	require.NoError(t, err)

	active := memtable.New(1<<20, 10, 0.01)
	sst := &bucket.SST{Table: table}

	it, err := Seek(active, nil, []*bucket.SST{sst}, []byte("m"), []byte("q"), vlog, true, 2)
	require.NoError(t, err)

	got := drain(t, it)
	require.Len(t, got, 2)
	require.Equal(t, "n", string(got[0].Key))
	require.Equal(t, "p", string(got[1].Key))
}

func TestSeekWithPrefetchReturnsSameResultsAsWithout(t *testing.T) {
	vlog := openValueLog(t)

	active := memtable.New(1<<20, 10, 0.01)
	for _, k := range []string{"a", "b", "c", "d"} {
		off, err := vlog.Append([]byte(k), []byte("v-"+k), 1, false)
		require.NoError(t, err)
		require.NoError(t, active.Insert(entry.New([]byte(k), off, 1, false)))
	}

	itPrefetch, err := Seek(active, nil, nil, []byte("a"), []byte("d"), vlog, true, 3)
	require.NoError(t, err)
	withPrefetch := drain(t, itPrefetch)

	itPlain, err := Seek(active, nil, nil, []byte("a"), []byte("d"), vlog, false, 0)
	require.NoError(t, err)
	withoutPrefetch := drain(t, itPlain)

	require.Equal(t, withoutPrefetch, withPrefetch)
}
