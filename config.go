package flashkv

import "time"

const (
	defaultMemtableCapacity            = 4 << 20 // 4 MiB
	defaultExpectedElements            = 10_000
	defaultMaxBufferedMemtables        = 4
	defaultBloomFalsePositiveRate      = 0.01
	defaultCompactionThreshold         = 4
	defaultCompactionInterval          = 30 * time.Second
	defaultPrefetchSize                = 16
	defaultFlushSignalBufferSize       = 32
	defaultTombstoneTTL                = 24 * time.Hour
	defaultTombstoneCompactionInterval = 10 * time.Minute
)

// Config holds every tunable the engine needs at Open. Functional options
// below build one from defaults, mirroring the teacher's
// DiskSegmentManagerOption / WithMaxSegmentSize pattern in
// segmentmanager/disk.go.
type Config struct {
	MemtableCapacity       int
	ExpectedElements       uint
	MaxBufferedMemtables   int
	BloomFalsePositiveRate float64
	CompactionThreshold    int
	CompactionInterval     time.Duration
	AllowPrefetch          bool
	PrefetchSize           int
	FlushSignalBufferSize  int

	// TombstoneTTL bounds how long a tombstone survives before the
	// separate tombstone-compaction trigger is allowed to elide it
	// (spec.md §4.8).
	TombstoneTTL                time.Duration
	TombstoneCompactionInterval time.Duration
}

func defaultConfig() Config {
	return Config{
		MemtableCapacity:            defaultMemtableCapacity,
		ExpectedElements:            defaultExpectedElements,
		MaxBufferedMemtables:        defaultMaxBufferedMemtables,
		BloomFalsePositiveRate:      defaultBloomFalsePositiveRate,
		CompactionThreshold:         defaultCompactionThreshold,
		CompactionInterval:          defaultCompactionInterval,
		AllowPrefetch:               true,
		PrefetchSize:                defaultPrefetchSize,
		FlushSignalBufferSize:       defaultFlushSignalBufferSize,
		TombstoneTTL:                defaultTombstoneTTL,
		TombstoneCompactionInterval: defaultTombstoneCompactionInterval,
	}
}

// Option configures a Config passed to Open.
type Option func(*Config)

// WithMemtableCapacity sets the byte-size threshold at which an active
// memtable is sealed.
func WithMemtableCapacity(bytes int) Option {
	return func(c *Config) { c.MemtableCapacity = bytes }
}

// WithExpectedElements sizes new memtables' Bloom filters. SST filters are
// sized from the table's own entry count instead.
func WithExpectedElements(n uint) Option {
	return func(c *Config) { c.ExpectedElements = n }
}

// WithMaxBufferedMemtables sets how many sealed, read-only memtables may
// accumulate before they are all handed to the flusher.
func WithMaxBufferedMemtables(n int) Option {
	return func(c *Config) { c.MaxBufferedMemtables = n }
}

// WithBloomFalsePositiveRate sets the false-positive rate used when
// building Bloom filters for memtables and SSTs.
func WithBloomFalsePositiveRate(rate float64) Option {
	return func(c *Config) { c.BloomFalsePositiveRate = rate }
}

// WithCompactionThreshold sets the per-bucket SST count that triggers
// selection for compaction.
func WithCompactionThreshold(n int) Option {
	return func(c *Config) { c.CompactionThreshold = n }
}

// WithCompactionInterval sets how often the background compaction timer
// fires.
func WithCompactionInterval(d time.Duration) Option {
	return func(c *Config) { c.CompactionInterval = d }
}

// WithAllowPrefetch toggles parallel value-log prefetch during range scans.
func WithAllowPrefetch(allow bool) Option {
	return func(c *Config) { c.AllowPrefetch = allow }
}

// WithPrefetchSize sets how many entries a range scan resolves per batch
// when prefetch is enabled.
func WithPrefetchSize(n int) Option {
	return func(c *Config) { c.PrefetchSize = n }
}

// WithFlushSignalBufferSize sets the capacity of the best-effort,
// non-blocking flush-signal channel.
func WithFlushSignalBufferSize(n int) Option {
	return func(c *Config) { c.FlushSignalBufferSize = n }
}

// WithTombstoneTTL sets how long a tombstone must age before the
// tombstone-compaction trigger is allowed to elide it.
func WithTombstoneTTL(d time.Duration) Option {
	return func(c *Config) { c.TombstoneTTL = d }
}

// WithTombstoneCompactionInterval sets how often the background
// tombstone-compaction timer fires, independent of the regular
// size-tiered compaction timer.
func WithTombstoneCompactionInterval(d time.Duration) Option {
	return func(c *Config) { c.TombstoneCompactionInterval = d }
}
