// Package lazymap is an in-memory key/value store built on a bucket locked
// concurrent hash map, with key expiry and a keyed task pool.
package lazymap

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lazymap/ds"
	"lazymap/logger"
	"lazymap/pool"
	"lazymap/util"
)

const sweepTaskKey = "lazymap/expire-sweep"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("lazymap is closed")
)

type (
	LazyMap struct {
		cfg    Config
		logger *zap.Logger
		index  *ds.ConcurrentMap[string, Value]
		tasks  *pool.Pool

		closed    atomic.Bool
		closeOnce sync.Once
		stop      chan struct{}
		sweeping  sync.WaitGroup
	}

	// Value is a stored value with its optional deadline.
	Value struct {
		value     []byte
		expiredAt int64 // unix ms, 0 means no expiry
	}
)

func (v Value) expired(nowMs int64) bool {
	return v.expiredAt != 0 && v.expiredAt <= nowMs
}

// NewMap builds a concurrent map configured by cfg.
func NewMap[V any](cfg MapConfig, log *zap.Logger) *ds.ConcurrentMap[string, V] {
	return ds.NewStringMap[V](append(cfg.Options(), ds.WithLogger(log))...)
}

// Open builds the logger, the task pool and the index, and starts the
// expired key sweep.
func Open(cfg Config) (*LazyMap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	tasks, err := pool.New(cfg.Pool, log.Named("pool"))
	if err != nil {
		return nil, err
	}

	lm := &LazyMap{
		cfg:    cfg,
		logger: log,
		index:  NewMap[Value](cfg.Map, log.Named("index")),
		tasks:  tasks,
		stop:   make(chan struct{}),
	}
	if cfg.Map.SweepIntervalMs > 0 {
		lm.sweeping.Add(1)
		go lm.sweepLoop(util.MsToDuration(cfg.Map.SweepIntervalMs))
	}
	log.Info("lazymap opened",
		zap.Int("buckets", lm.index.BucketCount()),
		zap.Int("workers", cfg.Pool.Workers))
	return lm, nil
}

// Tasks returns the keyed task pool owned by lm.
func (lm *LazyMap) Tasks() *pool.Pool {
	return lm.tasks
}

func (lm *LazyMap) Logger() *zap.Logger {
	return lm.logger
}

// Close stops the sweep, drains the task pool and flushes the logger.
// The stored data is dropped with lm. Operations that return an error
// fail with ErrClosed afterwards.
func (lm *LazyMap) Close() error {
	lm.closeOnce.Do(func() {
		lm.closed.Store(true)
		close(lm.stop)
		lm.sweeping.Wait()
		lm.tasks.Close()
		lm.logger.Info("lazymap closed", zap.Int("keys", lm.index.Size()))
		// stdout sync fails on some terminals
		_ = lm.logger.Sync()
	})
	return nil
}

func (lm *LazyMap) checkOpen() error {
	if lm.closed.Load() {
		return ErrClosed
	}
	return nil
}

// sweepLoop submits a sweep every interval. Dedup in the pool keeps at most
// one sweep in flight, so a slow sweep skips ticks instead of piling up.
func (lm *LazyMap) sweepLoop(interval time.Duration) {
	defer lm.sweeping.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-lm.stop:
			return
		case <-ticker.C:
			if _, _, err := lm.tasks.Submit(sweepTaskKey, lm.sweep); err != nil {
				lm.logger.Warn("submit expire sweep", zap.Error(err))
			}
		}
	}
}

func (lm *LazyMap) sweep() error {
	now := util.NowMs()
	n := lm.index.DeleteIf(func(key string, v Value) bool {
		return v.expired(now)
	})
	if n > 0 {
		lm.logger.Debug("expired keys swept", zap.Int("count", n))
	}
	return nil
}
