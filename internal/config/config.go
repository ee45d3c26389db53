// Package config loads the nt command's settings from defaults, an optional
// YAML file, NT_* environment variables and command-line flags, in rising
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/tamirms/segsieve"
	"github.com/tamirms/segsieve/internal/aio"
	"github.com/tamirms/segsieve/internal/logging"
)

// EnvPrefix is prepended to environment variable names: NT_WORKERS,
// NT_LOG_LEVEL, ...
const EnvPrefix = "NT"

// Config is the resolved configuration of one nt invocation.
type Config struct {
	DataDir         string `mapstructure:"data_dir"`
	Workers         int    `mapstructure:"workers"`
	Consumers       int    `mapstructure:"consumers"`
	SegmentSize     uint64 `mapstructure:"segment_size"`
	ChannelCapacity int    `mapstructure:"channel_capacity"`
	Binary          bool   `mapstructure:"binary"`
	FlushSize       int    `mapstructure:"flush_size"`

	Async       bool   `mapstructure:"async"`
	IOBackend   string `mapstructure:"io_backend"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	MaxInFlight int    `mapstructure:"max_in_flight"`
	BatchSize   int    `mapstructure:"batch_size"`

	ProgressInterval int `mapstructure:"progress_interval"`
	ReorderWarning   int `mapstructure:"reorder_warning"`

	Log         logging.Config `mapstructure:"log"`
	MetricsAddr string         `mapstructure:"metrics_addr"`
	HistoryPath string         `mapstructure:"history_path"`
}

// DefaultDataDir returns $XDG_DATA_HOME/nt, or ~/.local/share/nt when the
// variable is unset.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "nt")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "nt")
	}
	return filepath.Join(home, ".local", "share", "nt")
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("workers", runtime.GOMAXPROCS(0))
	v.SetDefault("consumers", 1)
	v.SetDefault("segment_size", segsieve.DefaultSegmentSize)
	v.SetDefault("channel_capacity", segsieve.DefaultChannelCapacity)
	v.SetDefault("binary", false)
	v.SetDefault("flush_size", segsieve.DefaultFlushSize)

	v.SetDefault("async", false)
	v.SetDefault("io_backend", aio.BackendAuto.String())
	v.SetDefault("queue_depth", segsieve.DefaultQueueDepth)
	v.SetDefault("max_in_flight", segsieve.DefaultMaxInFlight)
	v.SetDefault("batch_size", segsieve.DefaultBatchSize)

	v.SetDefault("progress_interval", segsieve.DefaultProgressInterval)
	v.SetDefault("reorder_warning", segsieve.DefaultReorderWarning)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("history_path", "")
}

// Load resolves a Config from v. If file is non-empty it is read as YAML and
// must exist. Flags must already be bound to v.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(cfg.DataDir, "history.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline would refuse, before any work
// starts.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Consumers < 1 {
		errs = append(errs, fmt.Errorf("consumers must be at least 1, got %d", c.Consumers))
	}
	if c.SegmentSize == 0 || c.SegmentSize%128 != 0 {
		errs = append(errs, fmt.Errorf("segment_size must be a positive multiple of 128, got %d", c.SegmentSize))
	}
	if c.ChannelCapacity < 1 {
		errs = append(errs, fmt.Errorf("channel_capacity must be at least 1, got %d", c.ChannelCapacity))
	}
	if _, err := aio.ParseBackend(c.IOBackend); err != nil {
		errs = append(errs, err)
	}
	if c.Async && (c.MaxInFlight < 1 || c.MaxInFlight > c.QueueDepth) {
		errs = append(errs, fmt.Errorf("max_in_flight must be between 1 and queue_depth (%d), got %d", c.QueueDepth, c.MaxInFlight))
	}
	if c.ProgressInterval < 0 {
		errs = append(errs, fmt.Errorf("progress_interval must not be negative, got %d", c.ProgressInterval))
	}
	if c.ReorderWarning < 0 {
		errs = append(errs, fmt.Errorf("reorder_warning must not be negative, got %d", c.ReorderWarning))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Format returns the output record format.
func (c *Config) Format() segsieve.Format {
	if c.Binary {
		return segsieve.FormatBinary
	}
	return segsieve.FormatText
}

// RunOptions translates the pipeline settings into segsieve options.
func (c *Config) RunOptions() []segsieve.Option {
	opts := []segsieve.Option{
		segsieve.WithWorkers(c.Workers),
		segsieve.WithConsumers(c.Consumers),
		segsieve.WithSegmentSize(c.SegmentSize),
		segsieve.WithChannelCapacity(c.ChannelCapacity),
		segsieve.WithFormat(c.Format()),
		segsieve.WithFlushSize(c.FlushSize),
		segsieve.WithProgressInterval(c.ProgressInterval),
		segsieve.WithReorderWarning(c.ReorderWarning),
	}
	if c.Async {
		backend, _ := aio.ParseBackend(c.IOBackend)
		opts = append(opts,
			segsieve.WithAsyncIO(c.QueueDepth),
			segsieve.WithIOBackend(backend),
			segsieve.WithMaxInFlight(c.MaxInFlight),
			segsieve.WithBatchSize(c.BatchSize))
	}
	return opts
}
