// Package flashkv is an embedded, single-node, ordered key-value store
// built on an LSM tree with a WiscKey-style separated value log. Durable
// put/get/delete/update and forward range scans are served from an active
// memtable, a bounded set of sealed read-only memtables, and a size-tiered
// set of on-disk sorted tables; one background timer triggers size-tiered
// compaction, a second triggers the separate tombstone-TTL compaction
// pass, and a best-effort channel triggers flushing, following the
// teacher's channel+goroutine async-writer idiom (wal_writer.go's
// WALWriter.loop).
package flashkv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flashkv/flashkv/bloom"
	"github.com/flashkv/flashkv/bucket"
	"github.com/flashkv/flashkv/compactor"
	"github.com/flashkv/flashkv/entry"
	"github.com/flashkv/flashkv/ferrors"
	"github.com/flashkv/flashkv/flusher"
	"github.com/flashkv/flashkv/iterator"
	"github.com/flashkv/flashkv/keyrange"
	"github.com/flashkv/flashkv/memtable"
	"github.com/flashkv/flashkv/sstable"
	"github.com/flashkv/flashkv/valuelog"
)

const valueLogFileName = "v_log"

// Engine is the embedded store's entry point. A single Engine owns one
// directory on disk; concurrent foreground operations and the background
// flush/compaction tasks share it under mu, per the concurrency model's
// resource table (active memtable exclusive while held and swapped
// atomically at seal; read-only map reader-writer between engine and
// flusher).
type Engine struct {
	mu  sync.RWMutex
	dir string
	cfg Config

	active   *memtable.Memtable
	readOnly map[string]*memtable.Memtable

	vlog     *valuelog.ValueLog
	buckets  *bucket.Map
	keyRange *keyrange.Index
	blooms   *bloom.List

	flusher   *flusher.Flusher
	compactor *compactor.Compactor

	flushSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens (or creates) the store rooted at dir, recovering any
// unflushed value-log records into a fresh active memtable and starting
// the background compaction timer and flush-signal consumer.
func Open(dir string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ferrors.IO(dir, err)
	}

	vlog, err := valuelog.Open(filepath.Join(dir, valueLogFileName))
	if err != nil {
		return nil, err
	}

	buckets, err := bucket.Open(dir, cfg.CompactionThreshold)
	if err != nil {
		vlog.Close()
		return nil, err
	}

	keyRange := keyrange.New()
	blooms := bloom.NewList()
	if err := rebuildIndexes(buckets, keyRange, blooms, cfg.BloomFalsePositiveRate); err != nil {
		vlog.Close()
		return nil, err
	}

	active := memtable.New(cfg.MemtableCapacity, cfg.ExpectedElements, cfg.BloomFalsePositiveRate)
	headOffset, err := recoverActiveMemtable(vlog, active)
	if err != nil {
		vlog.Close()
		return nil, err
	}
	vlog.SetHead(headOffset)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		dir:         dir,
		cfg:         cfg,
		active:      active,
		readOnly:    make(map[string]*memtable.Memtable),
		vlog:        vlog,
		buckets:     buckets,
		keyRange:    keyRange,
		blooms:      blooms,
		flusher:     flusher.New(buckets, keyRange, blooms, cfg.BloomFalsePositiveRate),
		compactor:   compactor.New(buckets, keyRange, blooms, cfg.BloomFalsePositiveRate),
		flushSignal: make(chan struct{}, cfg.FlushSignalBufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	e.wg.Add(3)
	go e.runCompactionTimer()
	go e.runTombstoneCompactionTimer()
	go e.runFlushSignalConsumer()

	return e, nil
}

// rebuildIndexes reconstructs the key-range index and the Bloom filter
// list from every live SST, since neither is trusted to have survived a
// crash verbatim (invariant 4: Bloom filters are always rebuilt, never
// loaded and trusted).
func rebuildIndexes(buckets *bucket.Map, keyRange *keyrange.Index, blooms *bloom.List, falsePositiveRate float64) error {
	for _, sst := range buckets.AllTables() {
		entries, err := sst.Table.Load()
		if err != nil {
			return err
		}

		keyRange.Set(sst.Table.Handle.DataPath, sst.Table.SmallestKey, sst.Table.BiggestKey, sst.Table.Handle)

		filter := sstable.BuildBloom(entries, falsePositiveRate)
		filter.SetHandle(bloom.Handle{Path: sst.Table.Handle.DataPath, Hotness: sst.Hotness})
		blooms.Append(filter)
	}
	return nil
}

// recoverActiveMemtable locates the last-persisted head marker (the first
// value-log offset not yet incorporated into any SST) and replays every
// record after it into table, returning the head offset found.
func recoverActiveMemtable(vlog *valuelog.ValueLog, table *memtable.Memtable) (uint32, error) {
	var headOffset uint32

	for rec, err := range vlog.Recover(0) {
		if err != nil {
			return 0, err
		}
		if bytes.Equal(rec.Record.Key, entry.HeadEntryKey) {
			headOffset = valuelog.DecodeOffsetMarker(rec.Record.Value)
		}
	}

	for rec, err := range vlog.Recover(headOffset) {
		if err != nil {
			return 0, err
		}
		if bytes.Equal(rec.Record.Key, entry.HeadEntryKey) || bytes.Equal(rec.Record.Key, entry.TailEntryKey) {
			continue
		}
		if err := table.Insert(entry.New(rec.Record.Key, rec.Offset, rec.Record.CreatedAt, rec.Record.Tombstone)); err != nil {
			return 0, ferrors.New(ferrors.KindMemTableRecovery)
		}
	}

	return headOffset, nil
}

func (e *Engine) clock() uint64 { return uint64(time.Now().UnixNano()) }

// Put appends value to the value log and inserts a fresh entry for key
// into the active memtable, sealing and buffering the active memtable
// first if this insert would overflow it (spec.md §4.9 "put", steps 1-4).
func (e *Engine) Put(key, value []byte) error {
	now := e.clock()
	offset, err := e.vlog.Append(key, value, now, false)
	if err != nil {
		return err
	}
	return e.insert(key, offset, now, false)
}

// Update is an alias for Put.
func (e *Engine) Update(key, value []byte) error { return e.Put(key, value) }

// Delete propagates any NotFound-class error from a prior Get, then
// appends a tombstone record and inserts a tombstone entry (spec.md §4.9
// "delete").
func (e *Engine) Delete(key []byte) error {
	if _, err := e.Get(key); err != nil {
		return err
	}

	now := e.clock()
	offset, err := e.vlog.Append(key, entry.TombstoneMarker, now, true)
	if err != nil {
		return err
	}
	return e.insert(key, offset, now, true)
}

// insert performs steps 2-4 of put/delete: seal-and-buffer the active
// memtable if it would overflow, then insert the entry into the
// (possibly fresh) active memtable.
func (e *Engine) insert(key []byte, offset uint32, now uint64, tombstone bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active.IsFull(len(key)) {
		// The head marker records the highest value-log offset this
		// memtable covers (spec.md §4.2 "sealing policy"), not an
		// arbitrary one, so recovery can tell how far its data extends.
		maxOffset, _ := e.active.MaxValOffset()
		if err := e.active.Insert(entry.New(entry.HeadEntryKey, maxOffset, now, false)); err != nil {
			return err
		}
		e.active.Seal()

		tableID := uuid.New().String()
		e.readOnly[tableID] = e.active
		e.active = memtable.New(e.cfg.MemtableCapacity, e.cfg.ExpectedElements, e.cfg.BloomFalsePositiveRate)

		if len(e.readOnly) > e.cfg.MaxBufferedMemtables {
			e.signalFlush()
		}
	}

	return e.active.Insert(entry.New(key, offset, now, tombstone))
}

// signalFlush is a best-effort, non-blocking notification to the flush
// consumer goroutine (spec.md §4.9 step 3, "fire-and-forget"); a full
// channel means a flush is already pending, so the send is simply
// dropped rather than surfaced as FlushSignalOverflow to the caller of
// put/delete (only the background consumer needs to know).
func (e *Engine) signalFlush() {
	select {
	case e.flushSignal <- struct{}{}:
	default:
	}
}

// located pairs a resolved entry with the layer it came from, needed to
// report the correct tombstone-kind error (spec.md §4.9 "get").
type located struct {
	entry  entry.Entry
	sstable bool
}

// Get resolves key's freshest entry strictly by created_at across the
// active memtable, every read-only memtable, and every candidate SST
// (spec.md §4.9 "get").
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	found, notFoundKind, err := e.locate(key)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, ferrors.New(notFoundKind)
	}

	if found.entry.Tombstone {
		if found.sstable {
			return nil, ferrors.New(ferrors.KindFoundTombstoneInSSTable)
		}
		return nil, ferrors.New(ferrors.KindFoundTombstoneInMemtable)
	}

	value, tombstone, ok, err := e.vlog.Get(found.entry.ValOffset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ferrors.New(ferrors.KindNotFoundInValueLog)
	}
	if tombstone {
		return nil, ferrors.New(ferrors.KindFoundTombstoneInValueLog)
	}

	return value, nil
}

// locate resolves key's freshest entry. When no memtable holds the key,
// the returned Kind distinguishes where the search was pruned
// (spec.md §7: NotFoundInAnySST, NotFoundByAnyBloomFilter, NotFoundInDB).
func (e *Engine) locate(key []byte) (*located, ferrors.Kind, error) {
	var incumbent *located

	if v, ok := e.active.Get(key); ok {
		incumbent = &located{entry: v}
	}

	for _, ro := range e.readOnly {
		if v, ok := ro.Get(key); ok {
			if incumbent == nil || entry.Newer(v, incumbent.entry) {
				incumbent = &located{entry: v}
			}
		}
	}

	rangeCandidates := e.keyRange.CandidatesForKey(key)
	if len(rangeCandidates) == 0 {
		if incumbent != nil {
			return incumbent, ferrors.KindUnknown, nil
		}
		return nil, ferrors.KindNotFoundInAnySST, nil
	}

	bloomCandidates := e.blooms.CandidatesForKey(key)
	if len(bloomCandidates) == 0 {
		if incumbent != nil {
			return incumbent, ferrors.KindUnknown, nil
		}
		return nil, ferrors.KindNotFoundByAnyBloomFilter, nil
	}

	for _, path := range intersectCandidates(rangeCandidates, bloomCandidates) {
		sst, ok := e.buckets.TableByPath(path)
		if !ok {
			continue
		}
		blockOffset, ok := sst.Table.Index.Get(key)
		if !ok {
			continue
		}
		v, ok, err := sst.Table.Get(blockOffset, key)
		if err != nil {
			return nil, ferrors.KindUnknown, err
		}
		if !ok {
			continue
		}
		if incumbent == nil || entry.Newer(v, incumbent.entry) {
			incumbent = &located{entry: v, sstable: true}
		}
	}

	if incumbent == nil {
		return nil, ferrors.KindNotFoundInDB, nil
	}

	return incumbent, ferrors.KindUnknown, nil
}

func intersectCandidates(ranges []keyrange.Entry, filters []*bloom.Filter) []string {
	inRange := make(map[string]bool, len(ranges))
	for _, r := range ranges {
		inRange[r.DataFilePath] = true
	}

	var out []string
	for _, f := range filters {
		if inRange[f.Path()] {
			out = append(out, f.Path())
		}
	}
	return out
}

// FlushAll seals the active memtable (if non-empty) and synchronously
// flushes every read-only memtable, returning the first error
// encountered.
func (e *Engine) FlushAll() error {
	e.mu.Lock()

	if !e.active.IsEmpty() {
		e.active.Seal()
		e.readOnly[uuid.New().String()] = e.active
		e.active = memtable.New(e.cfg.MemtableCapacity, e.cfg.ExpectedElements, e.cfg.BloomFalsePositiveRate)
	}

	toFlush := make(map[string]*memtable.Memtable, len(e.readOnly))
	for id, tbl := range e.readOnly {
		toFlush[id] = tbl
	}
	e.mu.Unlock()

	for id, tbl := range toFlush {
		// A fresh timestamp per table keeps each flush in its own
		// sstable-<ts> directory when several land in the same bucket.
		if err := e.flusher.Flush(tbl, e.clock()); err != nil {
			if ferrors.Is(err, ferrors.KindEmptyFlush) {
				continue
			}
			return err
		}
		e.mu.Lock()
		delete(e.readOnly, id)
		e.mu.Unlock()
	}

	return nil
}

// RunCompaction runs one compaction pass over every over-full bucket.
func (e *Engine) RunCompaction() error {
	return e.compactor.Run(e.clock())
}

// RunTombstoneCompaction runs the separate tombstone-compaction trigger
// (spec.md §4.8): the same size-tiered bucket selection as RunCompaction,
// but the merge additionally elides any tombstone older than the
// configured TombstoneTTL.
func (e *Engine) RunTombstoneCompaction() error {
	return e.compactor.RunTombstoneCompaction(e.clock(), uint64(e.cfg.TombstoneTTL.Nanoseconds()))
}

// Seek returns a forward range iterator over [start, end], merging the
// active memtable, every read-only memtable, and every candidate SST
// (spec.md §4.10).
func (e *Engine) Seek(start, end []byte) (*iterator.Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	readOnly := make([]*memtable.Memtable, 0, len(e.readOnly))
	for _, ro := range e.readOnly {
		readOnly = append(readOnly, ro)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, r := range e.keyRange.CandidatesForRange(start, end) {
		if !seen[r.DataFilePath] {
			seen[r.DataFilePath] = true
			paths = append(paths, r.DataFilePath)
		}
	}
	for _, f := range iterator.BloomCandidates(e.blooms, start, end) {
		if !seen[f.Path()] {
			seen[f.Path()] = true
			paths = append(paths, f.Path())
		}
	}

	var candidates []*bucket.SST
	for _, path := range paths {
		if sst, ok := e.buckets.TableByPath(path); ok {
			candidates = append(candidates, sst)
		}
	}

	return iterator.Seek(e.active, readOnly, candidates, start, end, e.vlog, e.cfg.AllowPrefetch, e.cfg.PrefetchSize)
}

// Clear wipes every in-memory structure and every on-disk SST, leaving
// the value log itself intact (values remain addressable by offset only
// through a future recovery pass; Clear is meant for tests and
// reinitialization, not crash recovery).
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active.Clear()
	e.readOnly = make(map[string]*memtable.Memtable)

	if err := e.buckets.Clear(); err != nil {
		return err
	}

	e.keyRange = keyrange.New()
	e.blooms = bloom.NewList()
	e.flusher = flusher.New(e.buckets, e.keyRange, e.blooms, e.cfg.BloomFalsePositiveRate)
	e.compactor = compactor.New(e.buckets, e.keyRange, e.blooms, e.cfg.BloomFalsePositiveRate)

	return nil
}

// Close stops the background tasks, flushes every memtable so nothing
// unflushed is left behind, persists the head/tail offsets at that point,
// and closes the value log.
//
// The persisted head offset tells recovery "everything before this point
// is already durable in an SST" (recoverActiveMemtable replays only what
// comes after it); that claim only holds once FlushAll has actually run,
// so Close must flush first and record head at the post-flush value-log
// end, never at an arbitrary "now".
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()

	if err := e.FlushAll(); err != nil {
		return err
	}

	e.mu.Lock()
	now := e.clock()
	e.vlog.SetHead(e.vlog.End())
	headErr := e.vlog.PersistHead(entry.HeadEntryKey, now)
	tailErr := e.vlog.PersistTail(entry.TailEntryKey, now)
	e.mu.Unlock()

	if headErr != nil {
		return headErr
	}
	if tailErr != nil {
		return tailErr
	}

	return e.vlog.Close()
}

func (e *Engine) runCompactionTimer() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunCompaction(); err != nil {
				fmt.Fprintf(os.Stderr, "flashkv: compaction failed: %v\n", err)
			}
		}
	}
}

func (e *Engine) runTombstoneCompactionTimer() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TombstoneCompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunTombstoneCompaction(); err != nil {
				fmt.Fprintf(os.Stderr, "flashkv: tombstone compaction failed: %v\n", err)
			}
		}
	}
}

func (e *Engine) runFlushSignalConsumer() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.flushSignal:
			if err := e.FlushAll(); err != nil {
				fmt.Fprintf(os.Stderr, "flashkv: flush failed: %v\n", err)
			}
		}
	}
}
