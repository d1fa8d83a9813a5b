package lazymap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazymap/ds"
	"lazymap/pool"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ds.DefaultShardCount, cfg.Map.ShardCount)
	assert.Equal(t, ds.DefaultLoadFactor, cfg.Map.LoadFactor)
	assert.Equal(t, pool.DefaultConfig(), cfg.Pool)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	tests := []struct {
		name    string
		path    string
		check   func(t *testing.T, cfg Config)
		wantErr error
	}{
		{
			name: "partial",
			path: write("partial.toml", `
[map]
shard-count = 256
load-factor = 2.5

[pool]
workers = 4

[log]
level = "debug"
format = "json"
`),
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 256, cfg.Map.ShardCount)
				assert.Equal(t, 2.5, cfg.Map.LoadFactor)
				assert.Equal(t, defaultSweepIntervalMs, cfg.Map.SweepIntervalMs)
				assert.Equal(t, 4, cfg.Pool.Workers)
				assert.Equal(t, pool.DefaultConfig().QueueSize, cfg.Pool.QueueSize)
				assert.Equal(t, "debug", cfg.Log.Level)
				assert.Equal(t, "json", cfg.Log.Format)
			},
		},
		{
			name: "empty",
			path: write("empty.toml", ""),
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name:    "invalid values",
			path:    write("invalid.toml", "[pool]\nworkers = -1\n"),
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "missing file",
			path:    filepath.Join(dir, "nope.toml"),
			wantErr: ErrConfigNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}

	_, err := LoadConfig(write("broken.toml", "[map\nshard-count = "))
	assert.Error(t, err)
}

func TestMapConfig_Options(t *testing.T) {
	cfg := MapConfig{ShardCount: 64, LoadFactor: 1, GrowDisabled: true}
	assert.Len(t, cfg.Options(), 3)

	m := NewMap[string](cfg, nil)
	assert.Equal(t, 64, m.BucketCount())
}
