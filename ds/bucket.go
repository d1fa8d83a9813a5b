package ds

import (
	"golang.org/x/sys/cpu"
)

type entry[K comparable, V any] struct {
	hash  uint64
	key   K
	value V
}

// bucket is a slot of the table. entries keeps insertion order; it is only
// read under a shared hold of the bucket and only written under an exclusive one.
type bucket[K comparable, V any] struct {
	SharedMutex
	entries []entry[K, V]
	// retired is set once a grow has copied the entries into a newer table.
	// Whoever locks a retired bucket must unlock it and reload the table.
	retired bool
	_       cpu.CacheLinePad
}

func (b *bucket[K, V]) index(hash uint64, key K) int {
	for i := range b.entries {
		if b.entries[i].hash == hash && b.entries[i].key == key {
			return i
		}
	}
	return -1
}

// removeAt drops entries[i], keeping the order of the rest.
func (b *bucket[K, V]) removeAt(i int) entry[K, V] {
	e := b.entries[i]
	last := len(b.entries) - 1
	copy(b.entries[i:], b.entries[i+1:])
	b.entries[last] = entry[K, V]{}
	b.entries = b.entries[:last]
	return e
}

type table[K comparable, V any] struct {
	buckets []*bucket[K, V]
	mask    uint64
}

// newTable allocates n buckets. n must be a power of two.
func newTable[K comparable, V any](n int) *table[K, V] {
	t := &table[K, V]{
		buckets: make([]*bucket[K, V], n),
		mask:    uint64(n - 1),
	}
	for i := range t.buckets {
		t.buckets[i] = &bucket[K, V]{}
	}
	return t
}

func (t *table[K, V]) bucketFor(hash uint64) *bucket[K, V] {
	return t.buckets[hash&t.mask]
}

// lockAll takes every bucket exclusively, lowest index first. It returns
// false, holding nothing, if t has already been retired.
func (t *table[K, V]) lockAll() bool {
	first := t.buckets[0]
	first.Lock()
	if first.retired {
		first.Unlock()
		return false
	}
	// buckets are retired lowest index first, so none of the rest can be
	for _, b := range t.buckets[1:] {
		b.Lock()
	}
	return true
}

func (t *table[K, V]) unlockAll() {
	for _, b := range t.buckets {
		b.Unlock()
	}
}

// scanned records that the buckets below progress of a table with n buckets
// were visited before the scan moved on to a grown table.
type scanned struct {
	n        uint64
	progress uint64
}

func visited(done []scanned, i uint64) bool {
	for _, s := range done {
		// a doubled table splits bucket j into j, j+n, j+2n...
		if i&(s.n-1) < s.progress {
			return true
		}
	}
	return false
}

func nextPowOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
