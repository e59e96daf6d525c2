// Package entry defines the logical record shared by every layer of the
// engine: memtables, sorted tables, the range iterator, and compaction all
// operate on entry.Entry values without reaching into the value log.
package entry

import "bytes"

// Entry is the logical record described in the engine design: a key, the
// offset of its value in the value log, the millisecond timestamp it was
// written at, and whether it is a tombstone.
type Entry struct {
	Key       []byte
	ValOffset uint32
	CreatedAt uint64
	Tombstone bool
}

// New builds an Entry.
func New(key []byte, valOffset uint32, createdAt uint64, tombstone bool) Entry {
	return Entry{Key: key, ValOffset: valOffset, CreatedAt: createdAt, Tombstone: tombstone}
}

// Newer reports whether a should win over b when both describe the same
// key: strictly greater CreatedAt wins; on an exact tie a tombstone is
// authoritative (a concurrent delete beats a concurrent write), per the
// merge algorithm's tie-break rule.
func Newer(a, b Entry) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.Tombstone && !b.Tombstone
}

// Compare orders entries by key, ascending.
func Compare(a, b Entry) int { return bytes.Compare(a.Key, b.Key) }

// Reserved keys for the value-log head/tail markers. A non-printable
// prefix keeps them out of the way of any realistic user key, per spec.md
// §6's recommendation.
var (
	HeadEntryKey = []byte{0x00, 'h', 'e', 'a', 'd'}
	TailEntryKey = []byte{0x00, 't', 'a', 'i', 'l'}
)

// TombstoneMarker is the fixed 4-byte value payload written for every
// tombstone record.
var TombstoneMarker = []byte{0xDE, 0xAD, 0xBE, 0xEF}

// ReservedHeadEntrySize is the per-entry charge a memtable reserves so a
// head marker can always be inserted before sealing (is_full's "reserved
// head entry space"). Derived from the memtable's charge function applied
// to HeadEntryKey: a fixed per-entry header (key length prefix + value
// offset + timestamp + tombstone byte) plus the reserved key's own length.
var ReservedHeadEntrySize = EntryHeaderSize + len(HeadEntryKey)

// EntryHeaderSize is the fixed overhead charged per memtable entry: a
// uint32 key length, uint32 value offset, uint64 timestamp, and one
// tombstone byte.
const EntryHeaderSize = 4 + 4 + 8 + 1
