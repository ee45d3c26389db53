// Nt computes primes up to a bound with the parallel segmented pipeline and
// manages the resulting runs.
//
// Usage:
//
//	nt primes 1000000000 --workers 8 --consumers 4 --binary
//	nt verify
//	nt merge primes.bin
//	nt export --bucket file:///srv/primes
//	nt history --limit 20
//	nt sieve 1000 --variant odd
//
// Settings come from flags, NT_* environment variables and an optional YAML
// file (--config), in that order of precedence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tamirms/segsieve/internal/config"
	"github.com/tamirms/segsieve/internal/history"
	"github.com/tamirms/segsieve/internal/logging"
)

// app carries state shared by every subcommand.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"data-dir":         "data_dir",
	"workers":          "workers",
	"consumers":        "consumers",
	"segment-size":     "segment_size",
	"channel-capacity": "channel_capacity",
	"binary":           "binary",
	"flush-size":       "flush_size",
	"async":            "async",
	"io-backend":       "io_backend",
	"queue-depth":      "queue_depth",
	"max-in-flight":    "max_in_flight",
	"batch-size":       "batch_size",
	"progress":         "progress_interval",
	"reorder-warn":     "reorder_warning",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"metrics-addr":     "metrics_addr",
	"history":          "history_path",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "nt",
		Short:         "Parallel segmented prime sieve",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "YAML config file")
	pf.String("data-dir", "", "directory holding runs and history (default $XDG_DATA_HOME/nt)")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("history", "", "history database (default <data-dir>/history.db)")

	root.AddCommand(
		a.primesCmd(),
		a.mergeCmd(),
		a.verifyCmd(),
		a.exportCmd(),
		a.historyCmd(),
		a.sieveCmd(),
	)
	return root
}

// load binds the flags the running command defines, then resolves the
// configuration and sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.Setup(cfg.Log).With(slog.String("command", cmd.Name()))
	return nil
}

// record appends an execution to the history database. Failures are logged,
// never returned: history must not fail a run.
func (a *app) record(ctx context.Context, e history.Entry) {
	store, err := history.Open(ctx, a.cfg.HistoryPath)
	if err != nil {
		a.logger.Warn("history unavailable", slog.Any("error", err))
		return
	}
	defer store.Close()
	if _, err := store.Record(ctx, e); err != nil {
		a.logger.Warn("history not recorded", slog.Any("error", err))
	}
}

// status names the outcome of a command for the history table.
func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// parseLimit accepts digits with optional '_' or ',' separators.
func parseLimit(s string) (uint64, error) {
	clean := strings.NewReplacer("_", "", ",", "").Replace(s)
	n, err := strconv.ParseUint(clean, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q: %w", s, err)
	}
	return n, nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
