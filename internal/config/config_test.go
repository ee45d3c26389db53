package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/tamirms/segsieve"
)

func TestDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg")
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/xdg", "nt"), cfg.DataDir)
	require.Equal(t, filepath.Join("/xdg", "nt", "history.db"), cfg.HistoryPath)
	require.Equal(t, 1, cfg.Consumers)
	require.Equal(t, uint64(segsieve.DefaultSegmentSize), cfg.SegmentSize)
	require.Equal(t, segsieve.FormatText, cfg.Format())
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.Async)
	require.Equal(t, segsieve.DefaultProgressInterval, cfg.ProgressInterval)
	require.Equal(t, segsieve.DefaultReorderWarning, cfg.ReorderWarning)
}

func TestDataDirFallsBackToHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/someone")
	require.Equal(t, filepath.Join("/home/someone", ".local", "share", "nt"), DefaultDataDir())
}

func TestPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nt.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
workers: 3
consumers: 4
binary: true
log:
  level: debug
  format: json
`), 0o644))
	t.Setenv("NT_CONSUMERS", "6")
	t.Setenv("NT_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("workers", 0, "")
	require.NoError(t, flags.Parse([]string{"--workers=9"}))
	v := viper.New()
	require.NoError(t, v.BindPFlag("workers", flags.Lookup("workers")))

	cfg, err := Load(v, file)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Workers, "flag beats file")
	require.Equal(t, 6, cfg.Consumers, "env beats file")
	require.Equal(t, "warn", cfg.Log.Level, "nested keys read from env")
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, segsieve.FormatBinary, cfg.Format())
}

func TestMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"workers", func(c *Config) { c.Workers = 0 }, false},
		{"consumers", func(c *Config) { c.Consumers = -1 }, false},
		{"segment size", func(c *Config) { c.SegmentSize = 1000 }, false},
		{"channel", func(c *Config) { c.ChannelCapacity = 0 }, false},
		{"backend", func(c *Config) { c.IOBackend = "aio" }, false},
		{"in flight", func(c *Config) { c.Async = true; c.MaxInFlight = c.QueueDepth + 1 }, false},
		{"in flight sync", func(c *Config) { c.MaxInFlight = 0 }, true},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"progress off", func(c *Config) { c.ProgressInterval = 0 }, true},
		{"progress", func(c *Config) { c.ProgressInterval = -1 }, false},
		{"reorder warning", func(c *Config) { c.ReorderWarning = -5 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(viper.New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)
			if tt.ok {
				require.NoError(t, cfg.Validate())
			} else {
				require.Error(t, cfg.Validate())
			}
		})
	}
}

func TestRunOptionsDriveRun(t *testing.T) {
	t.Setenv("NT_ASYNC", "true")
	t.Setenv("NT_IO_BACKEND", "pool")
	t.Setenv("NT_QUEUE_DEPTH", "16")
	t.Setenv("NT_MAX_IN_FLIGHT", "8")
	t.Setenv("NT_CONSUMERS", "2")
	t.Setenv("NT_SEGMENT_SIZE", "1024")
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	res, err := segsieve.Run(t.Context(), t.TempDir(), 50_000, cfg.RunOptions()...)
	require.NoError(t, err)
	require.Equal(t, "async/pool", res.IOMode)
	require.Equal(t, uint64(5133), res.Total)
}
