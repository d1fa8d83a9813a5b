// Package logger builds the zap loggers shared by the map and the task pool.
package logger

import (
	"errors"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"lazymap/util"
)

var (
	ErrUnknownFormat = errors.New("logger: unknown log format")
	ErrFilenameIsDir = errors.New("logger: log filename is a directory")
)

// LogConfig describes where and how much to log. An empty Filename logs to stdout.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // console or json
	Filename   string `toml:"filename"`
	MaxSize    int    `toml:"max-size"` // megabytes before rotation
	MaxDays    int    `toml:"max-days"`
	MaxBackups int    `toml:"max-backups"`
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:   zapcore.InfoLevel.String(),
		Format:  "console",
		MaxSize: 512,
	}
}

// New builds a logger from cfg.
func New(cfg LogConfig) (*zap.Logger, error) {
	level, err := cfg.getLevel()
	if err != nil {
		return nil, err
	}
	encoder, err := cfg.getEncoder()
	if err != nil {
		return nil, err
	}
	if cfg.Filename != "" && util.IsDir(cfg.Filename) {
		return nil, ErrFilenameIsDir
	}
	core := zapcore.NewCore(encoder, cfg.getSyncer(), level)
	return zap.New(core, cfg.getOptions()...), nil
}

func (cfg *LogConfig) getLevel() (zap.AtomicLevel, error) {
	if cfg.Level == "" {
		return zap.NewAtomicLevelAt(zap.InfoLevel), nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(cfg.Level)); err != nil {
		return zap.AtomicLevel{}, err
	}
	return zap.NewAtomicLevelAt(l), nil
}

func (cfg *LogConfig) getOptions() []zap.Option {
	return []zap.Option{zap.AddStacktrace(zapcore.FatalLevel), zap.AddCaller()}
}

func (cfg *LogConfig) getSyncer() zapcore.WriteSyncer {
	if cfg.Filename == "" {
		return zapcore.Lock(os.Stdout)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	})
}

func (cfg *LogConfig) getEncoder() (zapcore.Encoder, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	switch cfg.Format {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg), nil
	case "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	}
	return nil, ErrUnknownFormat
}
