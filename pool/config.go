package pool

import (
	"errors"
)

const (
	defaultWorkers         = 16
	defaultQueueSize       = 1024
	defaultResultCacheSize = 4096
	defaultPollIntervalMs  = 20
)

var (
	ErrInvalidConfig = errors.New("pool: invalid config")
)

type Config struct {
	Workers         int   `toml:"workers"`           // goroutines running tasks
	QueueSize       int   `toml:"queue-size"`        // tasks accepted but not yet dispatched
	ResultCacheSize int   `toml:"result-cache-size"` // finished results kept for Result
	NodeID          int64 `toml:"node-id"`           // snowflake node, 0-1023
	PollIntervalMs  int64 `toml:"poll-interval-ms"`  // dispatcher wake-up for delayed tasks
}

func DefaultConfig() Config {
	return Config{
		Workers:         defaultWorkers,
		QueueSize:       defaultQueueSize,
		ResultCacheSize: defaultResultCacheSize,
		PollIntervalMs:  defaultPollIntervalMs,
	}
}

func (c Config) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 || c.ResultCacheSize < 0 || c.PollIntervalMs <= 0 {
		return ErrInvalidConfig
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return ErrInvalidConfig
	}
	return nil
}
