package lazymap

import (
	"bytes"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lazymap/ds"
	"lazymap/util"
)

var (
	ErrInvalidParam    = errors.New("parameters are invalid")
	ErrWrongValueType  = errors.New("value is not an integer")
	ErrIntegerOverflow = errors.New("increment or decrement overflow")
)

// load returns the live value of key, treating an expired one as absent.
func (lm *LazyMap) load(key []byte) (Value, bool) {
	v, ok := lm.index.Find(util.ByteToString(key))
	if !ok || v.expired(util.NowMs()) {
		return Value{}, false
	}
	return v, true
}

// Set set key to hold the string value. If key already holds a value, it is overwritten.
// Any previous time to live associated with the key is discarded on successful Set operation.
func (lm *LazyMap) Set(key, value []byte) error {
	if err := lm.checkOpen(); err != nil {
		return err
	}
	lm.index.Store(string(key), Value{value: bytes.Clone(value)})
	return nil
}

// Get get the value of key.
// If the key does not exist the error ErrKeyNotFound is returned.
func (lm *LazyMap) Get(key []byte) ([]byte, error) {
	if err := lm.checkOpen(); err != nil {
		return nil, err
	}
	v, ok := lm.load(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v.value), nil
}

// MGet get the values of all specified keys.
// If the key does not exist, nil is returned in its place.
func (lm *LazyMap) MGet(keys [][]byte) ([][]byte, error) {
	if err := lm.checkOpen(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrInvalidParam
	}
	values := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := lm.load(key); ok {
			values[i] = bytes.Clone(v.value)
		}
	}
	return values, nil
}

// GetDel gets the value of the key and deletes the key.
func (lm *LazyMap) GetDel(key []byte) ([]byte, error) {
	if err := lm.checkOpen(); err != nil {
		return nil, err
	}
	v, ok := lm.index.Pop(util.ByteToString(key))
	if !ok || v.expired(util.NowMs()) {
		return nil, ErrKeyNotFound
	}
	return v.value, nil
}

// Delete value at the given key. Deleting a missing key is not an error.
func (lm *LazyMap) Delete(key []byte) error {
	if err := lm.checkOpen(); err != nil {
		return err
	}
	lm.index.Erase(util.ByteToString(key))
	return nil
}

// SetEX set key to hold the string value and set key to timeout after the given duration.
func (lm *LazyMap) SetEX(key, value []byte, duration time.Duration) error {
	if err := lm.checkOpen(); err != nil {
		return err
	}
	if duration <= 0 {
		return ErrInvalidParam
	}
	lm.index.Store(string(key), Value{
		value:     bytes.Clone(value),
		expiredAt: util.NowMs() + util.DurationToMs(duration),
	})
	return nil
}

// SetNX sets the key-value pair if it does not exist. It reports whether
// the value was set.
func (lm *LazyMap) SetNX(key, value []byte) (bool, error) {
	if err := lm.checkOpen(); err != nil {
		return false, err
	}
	var set bool
	now := util.NowMs()
	lm.index.Compute(string(key), func(old Value, loaded bool) (Value, bool) {
		if loaded && !old.expired(now) {
			return old, true
		}
		set = true
		return Value{value: bytes.Clone(value)}, true
	})
	return set, nil
}

// MSet is multiple set command. Parameter order should be like "key", "value", "key", "value", ...
func (lm *LazyMap) MSet(args ...[]byte) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return ErrInvalidParam
	}
	for i := 0; i < len(args); i += 2 {
		if err := lm.Set(args[i], args[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Append appends the value at the end of the old value if key already exists.
// It will be similar to Set if key does not exist.
func (lm *LazyMap) Append(key, value []byte) error {
	if err := lm.checkOpen(); err != nil {
		return err
	}
	now := util.NowMs()
	lm.index.Compute(string(key), func(old Value, loaded bool) (Value, bool) {
		if !loaded || old.expired(now) {
			return Value{value: bytes.Clone(value)}, true
		}
		merged := make([]byte, 0, len(old.value)+len(value))
		merged = append(merged, old.value...)
		old.value = append(merged, value...)
		return old, true
	})
	return nil
}

// Decr decrements the number stored at key by one. If the key does not exist,
// it is set to 0 before performing the operation. It returns ErrWrongValueType
// error if the value is not integer type. Also, it returns ErrIntegerOverflow
// error if the value exceeds after decrementing the value.
func (lm *LazyMap) Decr(key []byte) (int64, error) {
	return lm.incrDecrBy(key, -1)
}

// DecrBy decrements the number stored at key by decr.
func (lm *LazyMap) DecrBy(key []byte, decr int64) (int64, error) {
	if decr == math.MinInt64 {
		return 0, ErrIntegerOverflow
	}
	return lm.incrDecrBy(key, -decr)
}

// Incr increments the number stored at key by one. If the key does not exist,
// it is set to 0 before performing the operation. It returns ErrWrongValueType
// error if the value is not integer type. Also, it returns ErrIntegerOverflow
// error if the value exceeds after incrementing the value.
func (lm *LazyMap) Incr(key []byte) (int64, error) {
	return lm.incrDecrBy(key, 1)
}

// IncrBy increments the number stored at key by incr.
func (lm *LazyMap) IncrBy(key []byte, incr int64) (int64, error) {
	return lm.incrDecrBy(key, incr)
}

// incrDecrBy updates the key by incr under its bucket lock. The deadline of
// the key, if any, is kept.
func (lm *LazyMap) incrDecrBy(key []byte, incr int64) (int64, error) {
	if err := lm.checkOpen(); err != nil {
		return 0, err
	}
	var (
		result int64
		err    error
	)
	now := util.NowMs()
	lm.index.Compute(string(key), func(old Value, loaded bool) (Value, bool) {
		var n int64
		if !loaded || old.expired(now) {
			// absent and expired keys count from zero
			old = Value{}
		} else if n, err = strconv.ParseInt(util.ByteToString(old.value), 10, 64); err != nil {
			err = ErrWrongValueType
			return old, loaded
		}
		if (incr > 0 && n > math.MaxInt64-incr) || (incr < 0 && n < math.MinInt64-incr) {
			err = ErrIntegerOverflow
			return old, loaded
		}
		result = n + incr
		old.value = []byte(strconv.FormatInt(result, 10))
		return old, true
	})
	return result, err
}

// StrLen returns the length of the string value stored at key. If the key
// doesn't exist, it returns 0.
func (lm *LazyMap) StrLen(key []byte) int {
	v, ok := lm.load(key)
	if !ok {
		return 0
	}
	return len(v.value)
}

// Count returns the total number of keys, including expired ones not yet swept.
func (lm *LazyMap) Count() int {
	return lm.index.Size()
}

// Scan finds live keys in ascending order with their values.
// Parameter prefix will match key`s prefix, and pattern is a regular expression that also matches the key.
// Parameter count limits the number of keys, a nil slice will be returned if count is not a positive number.
// The returned values will be a mixed data of keys and values, like [key1, value1, key2, value2, etc...].
func (lm *LazyMap) Scan(prefix []byte, pattern string, count int) ([][]byte, error) {
	if err := lm.checkOpen(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}
	var reg *regexp.Regexp
	if pattern != "" {
		var err error
		if reg, err = regexp.Compile(pattern); err != nil {
			return nil, err
		}
	}

	now := util.NowMs()
	sorted := ds.SnapshotOrdered(lm.index, func(key string, v Value) bool {
		if v.expired(now) || !strings.HasPrefix(key, string(prefix)) {
			return false
		}
		return reg == nil || reg.MatchString(key)
	})

	var results [][]byte
	sorted.PrefixScan(prefix, count, func(key []byte, v Value) bool {
		results = append(results, key, bytes.Clone(v.value))
		return true
	})
	return results, nil
}

// Seek returns the smallest live key not less than key, with its value.
func (lm *LazyMap) Seek(key []byte) ([]byte, []byte, error) {
	if err := lm.checkOpen(); err != nil {
		return nil, nil, err
	}
	from := string(key)
	now := util.NowMs()
	for {
		k, v, ok := ds.LowerBound(lm.index, from)
		if !ok {
			return nil, nil, ErrKeyNotFound
		}
		if !v.expired(now) {
			return []byte(k), bytes.Clone(v.value), nil
		}
		// the smallest string greater than k
		from = k + "\x00"
	}
}

// Expire set the expiration time for the given key.
func (lm *LazyMap) Expire(key []byte, duration time.Duration) error {
	if err := lm.checkOpen(); err != nil {
		return err
	}
	if duration <= 0 {
		// an immediate deadline is a delete
		lm.index.Erase(util.ByteToString(key))
		return nil
	}
	return lm.updateDeadline(key, util.NowMs()+util.DurationToMs(duration))
}

// TTL get ttl(time to live) in seconds for the given key. A key without a
// deadline reports -1.
func (lm *LazyMap) TTL(key []byte) (int64, error) {
	if err := lm.checkOpen(); err != nil {
		return 0, err
	}
	v, ok := lm.load(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	if v.expiredAt == 0 {
		return -1, nil
	}
	return (v.expiredAt - util.NowMs() + 999) / 1000, nil
}

// Persist remove the expiration time for the given key.
func (lm *LazyMap) Persist(key []byte) error {
	return lm.updateDeadline(key, 0)
}

func (lm *LazyMap) updateDeadline(key []byte, expiredAt int64) error {
	if err := lm.checkOpen(); err != nil {
		return err
	}
	found := false
	now := util.NowMs()
	lm.index.Compute(util.ByteToString(key), func(old Value, loaded bool) (Value, bool) {
		if !loaded || old.expired(now) {
			return old, false
		}
		found = true
		old.expiredAt = expiredAt
		return old, true
	})
	if !found {
		return ErrKeyNotFound
	}
	return nil
}

// GetStrsKeys get all live keys.
func (lm *LazyMap) GetStrsKeys() ([][]byte, error) {
	if err := lm.checkOpen(); err != nil {
		return nil, err
	}
	now := util.NowMs()
	var keys [][]byte
	lm.index.ForEachRO(func(key string, v Value) bool {
		if v.expired(now) {
			return false
		}
		keys = append(keys, []byte(key))
		return true
	})
	return keys, nil
}
