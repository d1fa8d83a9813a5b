package ds

import (
	"lazymap/util"
)

// defaultHasher picks a hasher for built-in key types. Strings use the
// process seeded runtime hash; NewStringMap uses murmur3 instead when a
// stable layout is wanted.
func defaultHasher[K comparable]() Hasher[K] {
	var zero K
	switch any(zero).(type) {
	case string:
		return func(key K) uint64 { return util.MemHashString(any(key).(string)) }
	case int:
		return func(key K) uint64 { return util.Mix64(uint64(any(key).(int))) }
	case int32:
		return func(key K) uint64 { return util.Mix64(uint64(any(key).(int32))) }
	case int64:
		return func(key K) uint64 { return util.Mix64(uint64(any(key).(int64))) }
	case uint:
		return func(key K) uint64 { return util.Mix64(uint64(any(key).(uint))) }
	case uint32:
		return func(key K) uint64 { return util.Mix64(uint64(any(key).(uint32))) }
	case uint64:
		return func(key K) uint64 { return util.Mix64(any(key).(uint64)) }
	case uintptr:
		return func(key K) uint64 { return util.Mix64(uint64(any(key).(uintptr))) }
	}
	return nil
}

// SimpleSharding hashes a uint32 key to itself, for callers whose keys are already uniformly spread.
func SimpleSharding(key uint32) uint64 {
	return uint64(key)
}
