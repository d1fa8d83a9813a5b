package lazymap

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"lazymap/ds"
	"lazymap/logger"
	"lazymap/pool"
	"lazymap/util"
)

const (
	defaultSweepIntervalMs int64 = 1000
)

var (
	ErrInvalidConfig  = errors.New("lazymap: invalid config")
	ErrConfigNotFound = errors.New("lazymap: config file not found")
)

type MapConfig struct {
	ShardCount      int     `toml:"shard-count"`       // initial bucket count, default 32
	LoadFactor      float64 `toml:"load-factor"`       // entries per bucket before the table doubles
	GrowDisabled    bool    `toml:"grow-disabled"`     // pin the bucket count
	SweepIntervalMs int64   `toml:"sweep-interval-ms"` // expired key sweep, 0 disables it
}

type Config struct {
	Map  MapConfig        `toml:"map"`
	Pool pool.Config      `toml:"pool"`
	Log  logger.LogConfig `toml:"log"`
}

func DefaultConfig() Config {
	return Config{
		Map: MapConfig{
			ShardCount:      ds.DefaultShardCount,
			LoadFactor:      ds.DefaultLoadFactor,
			SweepIntervalMs: defaultSweepIntervalMs,
		},
		Pool: pool.DefaultConfig(),
		Log:  logger.DefaultLogConfig(),
	}
}

// LoadConfig reads a toml file over DefaultConfig, so omitted keys keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if !util.PathExist(path) {
		return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("lazymap: decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Map.ShardCount < 0 || c.Map.LoadFactor < 0 || c.Map.SweepIntervalMs < 0 {
		return ErrInvalidConfig
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Options translates the map section into ds options.
func (c MapConfig) Options() []ds.Option {
	opts := []ds.Option{ds.WithShardCount(c.ShardCount), ds.WithLoadFactor(c.LoadFactor)}
	if c.GrowDisabled {
		opts = append(opts, ds.WithGrowDisabled())
	}
	return opts
}
