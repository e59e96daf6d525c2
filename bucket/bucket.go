// Package bucket implements size-tiered bucketing of sorted tables and
// the on-disk layout under <root>/buckets/bucket-<uuid>/sstable-<ts>/.
// Directory scanning and id-parsing on open follows the teacher's
// segmentmanager/disk.go (regex-match a filename pattern, parse the
// numeric/uuid component, sort, validate); bucket identifiers use
// github.com/google/uuid, the way oarkflow-velocity's go.mod wires it.
package bucket

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/flashkv/flashkv/ferrors"
	"github.com/flashkv/flashkv/sstable"
)

const (
	bucketsDirName = "buckets"
	dataFileExt    = ".db"

	// defaultLowBand/defaultHighBand bound the size-tier a table must fall
	// within to join an existing bucket: [0.5*avg, 1.5*avg].
	defaultLowBand  = 0.5
	defaultHighBand = 1.5

	// defaultCompactionThreshold is the SST count per bucket that triggers
	// selection for compaction.
	defaultCompactionThreshold = 4
)

var bucketDirPattern = regexp.MustCompile(`^bucket-([0-9a-fA-F-]{36})$`)
var sstableDirPattern = regexp.MustCompile(`^sstable-(\d+)$`)

// SST is one table tracked by a bucket: its loaded Table plus the
// hotness counter used to prioritize Bloom-filter probes and summed
// across compaction inputs.
type SST struct {
	Table     *sstable.Table
	Size      int64
	Hotness   uint64
	CreatedAt uint64
}

// Bucket is a set of SSTs whose sizes fall within one size-tier band.
type Bucket struct {
	ID         uuid.UUID
	Dir        string
	AverageSize int64
	SSTs       []*SST
}

func (b *Bucket) recomputeAverage() {
	if len(b.SSTs) == 0 {
		b.AverageSize = 0
		return
	}
	var total int64
	for _, s := range b.SSTs {
		total += s.Size
	}
	b.AverageSize = total / int64(len(b.SSTs))
}

func (b *Bucket) withinBand(size int64) bool {
	if b.AverageSize == 0 {
		return true
	}
	low := float64(b.AverageSize) * defaultLowBand
	high := float64(b.AverageSize) * defaultHighBand
	return float64(size) >= low && float64(size) <= high
}

// Map owns every bucket and the SST file resources beneath rootDir.
// Flusher, compactor, and recovery all mutate it under mu (exclusive on
// structural mutation, shared for reads), per the concurrency model.
type Map struct {
	mu          sync.RWMutex
	root        string
	compactionThreshold int
	buckets     map[uuid.UUID]*Bucket
}

// Open scans <root>/buckets for existing bucket-<uuid>/sstable-<ts>
// directories and loads every table found, reconstructing the bucket map
// for crash recovery. A fresh root (no buckets directory yet) returns an
// empty map.
func Open(root string, compactionThreshold int) (*Map, error) {
	if compactionThreshold <= 0 {
		compactionThreshold = defaultCompactionThreshold
	}

	bm := &Map{
		root:                root,
		compactionThreshold: compactionThreshold,
		buckets:             make(map[uuid.UUID]*Bucket),
	}

	bucketsDir := filepath.Join(root, bucketsDirName)
	if err := os.MkdirAll(bucketsDir, 0o755); err != nil {
		return nil, ferrors.IO(bucketsDir, err)
	}

	entries, err := os.ReadDir(bucketsDir)
	if err != nil {
		return nil, ferrors.IO(bucketsDir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		matches := bucketDirPattern.FindStringSubmatch(e.Name())
		if len(matches) != 2 {
			continue
		}
		id, err := uuid.Parse(matches[1])
		if err != nil {
			return nil, ferrors.New(ferrors.KindInvalidUUID)
		}

		bucketDir := filepath.Join(bucketsDir, e.Name())
		b := &Bucket{ID: id, Dir: bucketDir}

		sstDirs, err := os.ReadDir(bucketDir)
		if err != nil {
			return nil, ferrors.IO(bucketDir, err)
		}

		var sstNames []string
		for _, sd := range sstDirs {
			if sd.IsDir() && sstableDirPattern.MatchString(sd.Name()) {
				sstNames = append(sstNames, sd.Name())
			}
		}
		sort.Strings(sstNames)

		for _, name := range sstNames {
			sstDir := filepath.Join(bucketDir, name)
			table, size, err := loadTableFromDir(sstDir)
			if err != nil {
				return nil, err
			}
			b.SSTs = append(b.SSTs, &SST{Table: table, Size: size})
		}

		b.recomputeAverage()
		bm.buckets[id] = b
	}

	return bm, nil
}

func dataIndexPaths(dir string) (string, string) {
	ts := strings.TrimPrefix(filepath.Base(dir), "sstable-")
	return filepath.Join(dir, "data-"+ts+dataFileExt), filepath.Join(dir, "index-"+ts+dataFileExt)
}

func loadTableFromDir(dir string) (*sstable.Table, int64, error) {
	dataPath, indexPath := dataIndexPaths(dir)

	info, err := os.Stat(dataPath)
	if err != nil {
		return nil, 0, ferrors.New(ferrors.KindInvalidSSTableDirectory)
	}

	table, err := sstable.Load(dataPath, indexPath)
	if err != nil {
		return nil, 0, err
	}

	return table, info.Size(), nil
}

// Stage allocates a fresh bucket-<uuid>/sstable-<ts>/ directory for a
// table of the given estimated size, joining an existing bucket whose
// average falls within the size band or creating a new one. It returns
// the data/index file paths a Writer should target; the caller must
// Register the resulting table once it has been written successfully.
func (bm *Map) Stage(estimatedSize int64, createdAt uint64) (dataPath, indexPath string, bucketID uuid.UUID, err error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	var target *Bucket
	for _, b := range bm.buckets {
		if b.withinBand(estimatedSize) {
			target = b
			break
		}
	}
	if target == nil {
		target = &Bucket{ID: uuid.New()}
		target.Dir = filepath.Join(bm.root, bucketsDirName, fmt.Sprintf("bucket-%s", target.ID))
		bm.buckets[target.ID] = target
	}

	sstDir := filepath.Join(target.Dir, fmt.Sprintf("sstable-%d", createdAt))
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		return "", "", uuid.Nil, ferrors.IO(sstDir, err)
	}

	dataPath, indexPath = dataIndexPaths(sstDir)
	return dataPath, indexPath, target.ID, nil
}

// Register records a successfully-written table under bucketID, updating
// the bucket's average size.
func (bm *Map) Register(bucketID uuid.UUID, table *sstable.Table, size int64, hotness, createdAt uint64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	b, ok := bm.buckets[bucketID]
	if !ok {
		b = &Bucket{ID: bucketID}
		bm.buckets[bucketID] = b
	}

	b.SSTs = append(b.SSTs, &SST{Table: table, Size: size, Hotness: hotness, CreatedAt: createdAt})
	b.recomputeAverage()
}

// ExtractBucketsToCompact returns a snapshot of every bucket whose SST
// count meets or exceeds the compaction threshold, together with the
// data-file paths the compactor must retire after a successful merge. A
// bucket with fewer SSTs is left alone.
func (bm *Map) ExtractBucketsToCompact() (toCompact []Bucket, retirePaths map[uuid.UUID][]string) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	retirePaths = make(map[uuid.UUID][]string)

	for id, b := range bm.buckets {
		if len(b.SSTs) < bm.compactionThreshold {
			continue
		}

		snapshot := Bucket{ID: b.ID, Dir: b.Dir, AverageSize: b.AverageSize}
		var paths []string
		for _, s := range b.SSTs {
			snapshot.SSTs = append(snapshot.SSTs, s)
			paths = append(paths, s.Table.Handle.DataPath)
		}

		toCompact = append(toCompact, snapshot)
		retirePaths[id] = paths
	}

	return toCompact, retirePaths
}

// DeleteSSTables attempts to remove the directory of every SST whose
// data-file path is in paths. It returns true only if every one
// succeeded; partial failure leaves the bucket map's remaining entries
// for those paths intact (a redundant Bloom filter is cheap, a dangling
// one is not).
func (bm *Map) DeleteSSTables(bucketID uuid.UUID, paths []string) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	b, ok := bm.buckets[bucketID]
	if !ok {
		return true
	}

	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[p] = true
	}

	allDeleted := true
	kept := b.SSTs[:0]

	for _, s := range b.SSTs {
		if !wanted[s.Table.Handle.DataPath] {
			kept = append(kept, s)
			continue
		}

		dir := filepath.Dir(s.Table.Handle.DataPath)
		if err := os.RemoveAll(dir); err != nil {
			allDeleted = false
			kept = append(kept, s) // keep entries whose files could not be removed
			continue
		}
	}

	b.SSTs = kept
	b.recomputeAverage()

	if len(b.SSTs) == 0 {
		delete(bm.buckets, bucketID)
	}

	return allDeleted
}

// AllTables returns every live SST across every bucket, for use by the
// lookup pipeline and the range iterator.
func (bm *Map) AllTables() []*SST {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	var out []*SST
	for _, b := range bm.buckets {
		out = append(out, b.SSTs...)
	}
	return out
}

// BucketCount reports how many buckets currently exist.
func (bm *Map) BucketCount() int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return len(bm.buckets)
}

// TableByPath finds the live SST whose data-file path matches path, used
// by the engine to resolve key-range/Bloom-filter candidates back to a
// loaded table.
func (bm *Map) TableByPath(path string) (*SST, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	for _, b := range bm.buckets {
		for _, s := range b.SSTs {
			if s.Table.Handle.DataPath == path {
				return s, true
			}
		}
	}
	return nil, false
}

// Clear removes every bucket directory and resets the map to empty, used
// by the engine's clear() operation.
func (bm *Map) Clear() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	bucketsDir := filepath.Join(bm.root, bucketsDirName)
	if err := os.RemoveAll(bucketsDir); err != nil {
		return ferrors.IO(bucketsDir, err)
	}
	if err := os.MkdirAll(bucketsDir, 0o755); err != nil {
		return ferrors.IO(bucketsDir, err)
	}

	bm.buckets = make(map[uuid.UUID]*Bucket)
	return nil
}
