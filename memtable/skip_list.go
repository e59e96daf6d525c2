package memtable

import (
	"bytes"
	"iter"
	"math/rand"

	"github.com/flashkv/flashkv/entry"
)

const maxLevel = 32

type skipListNode struct {
	record  entry.Entry
	forward []*skipListNode
}

func newSkipListNode(record entry.Entry, levels int) *skipListNode {
	return &skipListNode{
		record:  record,
		forward: make([]*skipListNode, levels+1),
	}
}

// skipList is the teacher's generic skip list (memtable/skip_list.go)
// generalized from an `ordered` type parameter to []byte keys, which need
// bytes.Compare rather than the `<`/`>`/`==` operators the teacher's
// constraint allowed.
type skipList struct {
	head   *skipListNode
	levels int
	size   int
}

func newSkipList() *skipList {
	return &skipList{
		head:   newSkipListNode(entry.Entry{}, 0),
		levels: -1,
	}
}

func (sl *skipList) get(key []byte) (entry.Entry, bool) {
	curr := sl.head

	for level := sl.levels; level >= 0; level-- {
		for {
			next := curr.forward[level]
			if next == nil {
				break
			}
			cmp := bytes.Compare(next.record.Key, key)
			if cmp > 0 {
				break
			}
			if cmp == 0 {
				return next.record, true
			}
			curr = next
		}
	}

	return entry.Entry{}, false
}

func getRandomLevel() int {
	level := 0
	for rand.Int31()&1 == 0 && level < maxLevel {
		level++
	}
	return level
}

func (sl *skipList) adjustLevels(level int) {
	prevForward := sl.head.forward

	sl.head = newSkipListNode(entry.Entry{}, level)
	sl.levels = level

	copy(sl.head.forward, prevForward)
}

// put inserts or overwrites record unconditionally for its key, per the
// memtable's "inserts overwrite prior entries for the same key
// unconditionally" rule. Returns true if this was a new key (used for size
// accounting by the caller).
func (sl *skipList) put(record entry.Entry) (isNew bool) {
	newLevel := getRandomLevel()

	if newLevel > sl.levels {
		sl.adjustLevels(newLevel)
	}

	updates := make([]*skipListNode, sl.levels+1)
	x := sl.head

	for level := sl.levels; level >= 0; level-- {
		for x.forward[level] != nil && bytes.Compare(x.forward[level].record.Key, record.Key) < 0 {
			x = x.forward[level]
		}
		updates[level] = x
	}

	if x.forward[0] != nil && bytes.Equal(x.forward[0].record.Key, record.Key) {
		x.forward[0].record = record
		return false
	}

	newNode := newSkipListNode(record, newLevel)
	for level := 0; level <= newLevel; level++ {
		newNode.forward[level] = updates[level].forward[level]
		updates[level].forward[level] = newNode
	}

	sl.size++
	return true
}

func (sl *skipList) iterator() iter.Seq[entry.Entry] {
	return func(yield func(entry.Entry) bool) {
		curr := sl.head.forward[0]
		for curr != nil {
			if !yield(curr.record) {
				return
			}
			curr = curr.forward[0]
		}
	}
}

// rangeIterator yields entries with start <= key <= end, ascending.
func (sl *skipList) rangeIterator(start, end []byte) iter.Seq[entry.Entry] {
	return func(yield func(entry.Entry) bool) {
		curr := sl.head.forward[0]
		for curr != nil && bytes.Compare(curr.record.Key, start) < 0 {
			curr = curr.forward[0]
		}
		for curr != nil && bytes.Compare(curr.record.Key, end) <= 0 {
			if !yield(curr.record) {
				return
			}
			curr = curr.forward[0]
		}
	}
}
