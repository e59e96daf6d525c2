package memtable

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/flashkv/flashkv/entry"
)

// Deterministic randomness so tests are repeatable.
func init() {
	rand.Seed(1)
}

func rec(key string, offset uint32) entry.Entry {
	return entry.New([]byte(key), offset, uint64(offset), false)
}

func TestEmptySkipList(t *testing.T) {
	sl := newSkipList()

	if sl.size != 0 {
		t.Fatalf("expected size 0, got %d", sl.size)
	}

	if _, ok := sl.get([]byte("x")); ok {
		t.Fatalf("expected not found in empty skiplist")
	}
}

func TestPutAndGetSingle(t *testing.T) {
	sl := newSkipList()

	sl.put(rec("ten", 10))

	val, ok := sl.get([]byte("ten"))
	if !ok || val.ValOffset != 10 {
		t.Fatalf("expected (10,true), got (%v,%v)", val, ok)
	}
}

func TestUpdateExistingKey(t *testing.T) {
	sl := newSkipList()

	sl.put(rec("k", 1))
	isNew := sl.put(rec("k", 2))

	if isNew {
		t.Fatalf("expected update, not a new key")
	}

	val, ok := sl.get([]byte("k"))
	if !ok || val.ValOffset != 2 {
		t.Fatalf("update failed, got (%v,%v)", val, ok)
	}

	if sl.size != 1 {
		t.Fatalf("expected size 1, got %d", sl.size)
	}
}

func TestSequentialInsertAndGet(t *testing.T) {
	sl := newSkipList()

	for i := 1; i <= 1000; i++ {
		sl.put(rec(fmt.Sprintf("key-%04d", i), uint32(i*i)))
	}

	for i := 1; i <= 1000; i++ {
		v, ok := sl.get([]byte(fmt.Sprintf("key-%04d", i)))
		if !ok || v.ValOffset != uint32(i*i) {
			t.Fatalf("bad value for key %d", i)
		}
	}

	if sl.size != 1000 {
		t.Fatalf("expected size 1000, got %d", sl.size)
	}
}

func TestRandomInsertAndGet(t *testing.T) {
	sl := newSkipList()
	m := map[string]uint32{}

	rand.Seed(time.Now().UnixNano())

	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("key-%04d", rand.Intn(5000))
		v := uint32(rand.Intn(99999))
		sl.put(rec(k, v))
		m[k] = v
	}

	for k, v := range m {
		got, ok := sl.get([]byte(k))
		if !ok || got.ValOffset != v {
			t.Fatalf("bad value for key %s: got %d want %d", k, got.ValOffset, v)
		}
	}
}

func TestOrderedStructure(t *testing.T) {
	sl := newSkipList()

	for i := 0; i < 200; i++ {
		sl.put(rec(fmt.Sprintf("key-%05d", rand.Intn(10000)), uint32(i)))
	}

	x := sl.head.forward[0]
	var prev []byte
	for x != nil {
		if prev != nil && string(x.record.Key) < string(prev) {
			t.Fatalf("skiplist out of order")
		}
		prev = x.record.Key
		x = x.forward[0]
	}
}

func TestIteratorEmpty(t *testing.T) {
	sl := newSkipList()

	count := 0
	for range sl.iterator() {
		count++
	}

	if count != 0 {
		t.Fatalf("expected empty iterator, got %d elements", count)
	}
}

func TestIteratorSequential(t *testing.T) {
	sl := newSkipList()

	for i := 1; i <= 1000; i++ {
		sl.put(rec(fmt.Sprintf("key-%04d", i), uint32(i*10)))
	}

	i := 1
	for r := range sl.iterator() {
		want := fmt.Sprintf("key-%04d", i)
		if string(r.Key) != want || r.ValOffset != uint32(i*10) {
			t.Fatalf("bad iteration order at %d: got (%s,%d)", i, r.Key, r.ValOffset)
		}
		i++
	}

	if i != 1001 {
		t.Fatalf("iterator missed items, ended at %d", i-1)
	}
}

func TestIteratorEarlyStop(t *testing.T) {
	sl := newSkipList()

	for i := 0; i < 100; i++ {
		sl.put(rec(fmt.Sprintf("key-%04d", i), uint32(i)))
	}

	count := 0
	it := sl.iterator()

	it(func(_ entry.Entry) bool {
		count++
		return count < 10
	})

	if count != 10 {
		t.Fatalf("expected early stop at 10, got %d", count)
	}
}

func TestRangeIterator(t *testing.T) {
	sl := newSkipList()

	for _, k := range []string{"a", "n", "p", "z"} {
		sl.put(rec(k, 1))
	}

	var got []string
	for r := range sl.rangeIterator([]byte("m"), []byte("q")) {
		got = append(got, string(r.Key))
	}

	if len(got) != 2 || got[0] != "n" || got[1] != "p" {
		t.Fatalf("range iterator mismatch: got %v", got)
	}
}
