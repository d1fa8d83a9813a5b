package ds

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/exp/constraints"
	"golang.org/x/sys/cpu"

	"lazymap/util"
)

const (
	DefaultShardCount = 32
	// DefaultLoadFactor is the average entries per bucket above which the table doubles.
	DefaultLoadFactor = 4.0
)

// Hasher maps a key to a 64 bit hash. Equal keys must hash equally.
type Hasher[K comparable] func(key K) uint64

type Options struct {
	ShardCount   int
	LoadFactor   float64
	GrowDisabled bool
	Logger       *zap.Logger
}

type Option func(*Options)

// WithShardCount sets the initial bucket count. It is rounded up to a power
// of two and never goes below DefaultShardCount.
func WithShardCount(n int) Option {
	return func(o *Options) {
		o.ShardCount = n
	}
}

func WithLoadFactor(f float64) Option {
	return func(o *Options) {
		if f > 0 {
			o.LoadFactor = f
		}
	}
}

// WithGrowDisabled pins the bucket count to its initial value.
func WithGrowDisabled() Option {
	return func(o *Options) {
		o.GrowDisabled = true
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// ConcurrentMap is a hash table split into independently locked buckets.
//
// Single key operations lock only the owning bucket: shared for reads,
// exclusive for writes. Operations spanning the table lock buckets in
// ascending index order, either one at a time (scans) or all together
// (Clear and growth). Values are copied in and out; nothing handed to a
// caller aliases the table once the call returns.
//
// Callbacks passed to ForEach, ForEachRO, DeleteIf and Compute run while a
// bucket lock is held and must not call back into the same map.
type ConcurrentMap[K comparable, V any] struct {
	table atomic.Pointer[table[K, V]]
	_     cpu.CacheLinePad
	count atomic.Int64
	_     cpu.CacheLinePad

	hasher     Hasher[K]
	loadFactor float64
	growable   bool
	logger     *zap.Logger
}

// NewConcurrentMap creates a map using hasher to place keys. A nil hasher
// selects a built-in one for string and integer keys; any other key type
// without a hasher is a programming error and panics.
func NewConcurrentMap[K comparable, V any](hasher Hasher[K], opts ...Option) *ConcurrentMap[K, V] {
	if hasher == nil {
		hasher = defaultHasher[K]()
		if hasher == nil {
			panic("ds: no default hasher for key type, use a custom hasher")
		}
	}
	o := Options{
		ShardCount: DefaultShardCount,
		LoadFactor: DefaultLoadFactor,
		Logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	// suggest powers of 2
	if o.ShardCount < DefaultShardCount {
		o.ShardCount = DefaultShardCount
	}

	cm := &ConcurrentMap[K, V]{
		hasher:     hasher,
		loadFactor: o.LoadFactor,
		growable:   !o.GrowDisabled,
		logger:     o.Logger,
	}
	cm.table.Store(newTable[K, V](nextPowOf2(o.ShardCount)))
	return cm
}

// NewStringMap returns a ConcurrentMap with string keys hashed by murmur3.
func NewStringMap[V any](opts ...Option) *ConcurrentMap[string, V] {
	return NewConcurrentMap[string, V](util.Murmur64String, opts...)
}

func NewUint64Map[V any](opts ...Option) *ConcurrentMap[uint64, V] {
	return NewConcurrentMap[uint64, V](util.Mix64, opts...)
}

func NewIntMap[V any](opts ...Option) *ConcurrentMap[int, V] {
	return NewConcurrentMap[int, V](func(key int) uint64 {
		return util.Mix64(uint64(key))
	}, opts...)
}

// lockBucket returns the bucket owning hash, locked exclusively.
func (cm *ConcurrentMap[K, V]) lockBucket(hash uint64) *bucket[K, V] {
	for {
		b := cm.table.Load().bucketFor(hash)
		b.Lock()
		if !b.retired {
			return b
		}
		b.Unlock()
	}
}

// rlockBucket returns the bucket owning hash, locked shared.
func (cm *ConcurrentMap[K, V]) rlockBucket(hash uint64) *bucket[K, V] {
	for {
		b := cm.table.Load().bucketFor(hash)
		b.RLock()
		if !b.retired {
			return b
		}
		b.RUnlock()
	}
}

// Emplace inserts key with value if key is absent. It returns false and
// leaves the map untouched if key is already present.
func (cm *ConcurrentMap[K, V]) Emplace(key K, value V) bool {
	hash := cm.hasher(key)
	b := cm.lockBucket(hash)
	if b.index(hash, key) >= 0 {
		b.Unlock()
		return false
	}
	b.entries = append(b.entries, entry[K, V]{hash: hash, key: key, value: value})
	n := cm.count.Add(1)
	b.Unlock()

	cm.maybeGrow(n)
	return true
}

// Store inserts key or replaces its value.
func (cm *ConcurrentMap[K, V]) Store(key K, value V) {
	hash := cm.hasher(key)
	b := cm.lockBucket(hash)
	if i := b.index(hash, key); i >= 0 {
		b.entries[i].value = value
		b.Unlock()
		return
	}
	b.entries = append(b.entries, entry[K, V]{hash: hash, key: key, value: value})
	n := cm.count.Add(1)
	b.Unlock()

	cm.maybeGrow(n)
}

// Find returns a copy of the value under key.
func (cm *ConcurrentMap[K, V]) Find(key K) (V, bool) {
	hash := cm.hasher(key)
	b := cm.rlockBucket(hash)
	defer b.RUnlock()
	if i := b.index(hash, key); i >= 0 {
		return b.entries[i].value, true
	}
	var zero V
	return zero, false
}

// Has returns if the map contains a specific key.
func (cm *ConcurrentMap[K, V]) Has(key K) bool {
	hash := cm.hasher(key)
	b := cm.rlockBucket(hash)
	defer b.RUnlock()
	return b.index(hash, key) >= 0
}

// Erase removes key. It returns whether anything was removed.
func (cm *ConcurrentMap[K, V]) Erase(key K) bool {
	_, ok := cm.Pop(key)
	return ok
}

// Pop deletes an element from the map and returns it.
func (cm *ConcurrentMap[K, V]) Pop(key K) (V, bool) {
	hash := cm.hasher(key)
	b := cm.lockBucket(hash)
	defer b.Unlock()
	i := b.index(hash, key)
	if i < 0 {
		var zero V
		return zero, false
	}
	e := b.removeAt(i)
	cm.count.Add(-1)
	return e.value, true
}

// Compute runs fn on the current value of key under the bucket's write
// lock. fn receives the zero value and false when key is absent. If fn
// returns keep=true the result is stored, otherwise key is removed.
// Compute returns the stored value and whether key is present afterwards.
func (cm *ConcurrentMap[K, V]) Compute(key K, fn func(old V, loaded bool) (V, bool)) (V, bool) {
	hash := cm.hasher(key)
	b := cm.lockBucket(hash)
	i := b.index(hash, key)

	var old V
	if i >= 0 {
		old = b.entries[i].value
	}
	value, keep := fn(old, i >= 0)

	var n int64
	switch {
	case keep && i >= 0:
		b.entries[i].value = value
	case keep:
		b.entries = append(b.entries, entry[K, V]{hash: hash, key: key, value: value})
		n = cm.count.Add(1)
	case i >= 0:
		b.removeAt(i)
		cm.count.Add(-1)
	}
	b.Unlock()

	if n > 0 {
		cm.maybeGrow(n)
	}
	if !keep {
		var zero V
		return zero, false
	}
	return value, true
}

// Size returns the number of entries. It never blocks; under concurrent
// mutation the result may be stale by the time it is used, but it is
// always a count the map actually held.
func (cm *ConcurrentMap[K, V]) Size() int {
	return int(cm.count.Load())
}

// Empty reports whether Size is zero.
func (cm *ConcurrentMap[K, V]) Empty() bool {
	return cm.Size() == 0
}

// BucketCount returns the number of buckets in the current table.
func (cm *ConcurrentMap[K, V]) BucketCount() int {
	return len(cm.table.Load().buckets)
}

// Clear removes every entry. All buckets are held at once, so no insert
// can land in an already emptied bucket while the clear is in progress.
func (cm *ConcurrentMap[K, V]) Clear() {
	var t *table[K, V]
	for {
		t = cm.table.Load()
		if t.lockAll() {
			break
		}
	}
	for _, b := range t.buckets {
		b.entries = nil
	}
	cm.count.Store(0)
	t.unlockAll()
}

// ForEach calls fn on every entry with the entry's bucket locked
// exclusively. fn may update the value through the pointer, which must not
// be retained after fn returns. Entries are never removed by ForEach; the
// result counts the entries for which fn returned true.
//
// Buckets are locked one at a time, so entries inserted concurrently may or
// may not be seen. Each entry is seen at most once.
func (cm *ConcurrentMap[K, V]) ForEach(fn func(key K, value *V) bool) int {
	var count int
	cm.scan(false, func(b *bucket[K, V]) {
		for i := range b.entries {
			if fn(b.entries[i].key, &b.entries[i].value) {
				count++
			}
		}
	})
	return count
}

// ForEachRO is ForEach under shared bucket locks. Concurrent ForEachRO and
// Find calls make progress in parallel. The result counts the entries for
// which fn returned true.
func (cm *ConcurrentMap[K, V]) ForEachRO(fn func(key K, value V) bool) int {
	var count int
	cm.scan(true, func(b *bucket[K, V]) {
		for i := range b.entries {
			if fn(b.entries[i].key, b.entries[i].value) {
				count++
			}
		}
	})
	return count
}

// DeleteIf removes every entry for which pred returns true and returns how
// many were removed.
func (cm *ConcurrentMap[K, V]) DeleteIf(pred func(key K, value V) bool) int {
	var removed int
	cm.scan(false, func(b *bucket[K, V]) {
		kept := b.entries[:0]
		for _, e := range b.entries {
			if !pred(e.key, e.value) {
				kept = append(kept, e)
			}
		}
		n := len(b.entries) - len(kept)
		if n == 0 {
			return
		}
		for i := len(kept); i < len(b.entries); i++ {
			b.entries[i] = entry[K, V]{}
		}
		b.entries = kept
		cm.count.Add(int64(-n))
		removed += n
	})
	return removed
}

// GetKeyList returns every key, bucket by bucket. Within a bucket keys keep
// their insertion order; there is no order across buckets.
func (cm *ConcurrentMap[K, V]) GetKeyList() []K {
	keys := make([]K, 0, cm.Size())
	cm.scan(false, func(b *bucket[K, V]) {
		for i := range b.entries {
			keys = append(keys, b.entries[i].key)
		}
	})
	return keys
}

// LowerBound returns the smallest key in cm not less than key, with its
// value. It scans every bucket under shared locks.
func LowerBound[K constraints.Ordered, V any](cm *ConcurrentMap[K, V], key K) (K, V, bool) {
	var (
		bestKey K
		bestVal V
		found   bool
	)
	cm.scan(true, func(b *bucket[K, V]) {
		for i := range b.entries {
			k := b.entries[i].key
			if k < key || (found && k >= bestKey) {
				continue
			}
			bestKey, bestVal, found = k, b.entries[i].value, true
		}
	})
	return bestKey, bestVal, found
}

// scan calls fn on each bucket of the table in ascending index order,
// holding only that bucket's lock. If the table grows underneath, the scan
// continues on the new table and skips the buckets that hold entries it
// has already visited.
func (cm *ConcurrentMap[K, V]) scan(shared bool, fn func(b *bucket[K, V])) {
	cm.scanFrom(cm.table.Load(), shared, fn)
}

func (cm *ConcurrentMap[K, V]) scanFrom(t *table[K, V], shared bool, fn func(b *bucket[K, V])) {
	var done []scanned
	for i := uint64(0); i < uint64(len(t.buckets)); i++ {
		if visited(done, i) {
			continue
		}
		b := t.buckets[i]
		if shared {
			b.RLock()
		} else {
			b.Lock()
		}
		if b.retired {
			if shared {
				b.RUnlock()
			} else {
				b.Unlock()
			}
			done = append(done, scanned{n: uint64(len(t.buckets)), progress: i})
			t = cm.table.Load()
			// restart from the new table's first bucket; the loop post
			// statement brings i back to zero
			i = ^uint64(0)
			continue
		}
		fn(b)
		if shared {
			b.RUnlock()
		} else {
			b.Unlock()
		}
	}
}

func (cm *ConcurrentMap[K, V]) maybeGrow(size int64) {
	if !cm.growable {
		return
	}
	t := cm.table.Load()
	if float64(size) <= cm.loadFactor*float64(len(t.buckets)) {
		return
	}
	cm.grow(t)
}

// grow doubles t. Every bucket of t is locked, lowest index first, before
// the new table is built; the new table is published before any old bucket
// is released, so no reader can observe a partially moved table.
func (cm *ConcurrentMap[K, V]) grow(t *table[K, V]) {
	if !t.lockAll() {
		// somebody else grew it
		return
	}
	n := len(t.buckets)
	size := cm.count.Load()
	if float64(size) <= cm.loadFactor*float64(n) {
		// a Clear or DeleteIf got there first
		t.unlockAll()
		return
	}

	nt := newTable[K, V](n << 1)
	for _, b := range t.buckets {
		for _, e := range b.entries {
			nb := nt.bucketFor(e.hash)
			nb.entries = append(nb.entries, e)
		}
	}
	cm.table.Store(nt)

	for _, b := range t.buckets {
		b.retired = true
		b.entries = nil
		b.Unlock()
	}
	cm.logger.Debug("concurrent map grew",
		zap.Int("from", n),
		zap.Int("to", n<<1),
		zap.Int64("size", size))
}
