package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/tamirms/segsieve"
	"github.com/tamirms/segsieve/internal/history"
	"github.com/tamirms/segsieve/internal/metrics"
)

// runSummary is the --json form of a finished run.
type runSummary struct {
	RunID           string        `json:"run_id"`
	Limit           uint64        `json:"limit"`
	Dir             string        `json:"dir"`
	Format          string        `json:"format"`
	IOMode          string        `json:"io_mode"`
	Workers         int           `json:"workers"`
	Segments        uint64        `json:"segments"`
	Total           uint64        `json:"total"`
	ProducerElapsed time.Duration `json:"producer_elapsed_ns"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	Files           []fileSummary `json:"files"`
	Error           string        `json:"error,omitempty"`
}

type fileSummary struct {
	Consumer         int    `json:"consumer"`
	Path             string `json:"path"`
	Values           uint64 `json:"values"`
	Bytes            int64  `json:"bytes"`
	Digest           string `json:"digest"`
	PeakPending      int    `json:"peak_pending"`
	PeakPendingBytes int64  `json:"peak_pending_bytes"`
	PeakInFlight     int    `json:"peak_in_flight"`
	Error            string `json:"error,omitempty"`
}

func (a *app) primesCmd() *cobra.Command {
	var (
		dir    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "primes <limit>",
		Short: "Compute every prime up to limit into per-consumer files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseLimit(args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				dir = filepath.Join(a.cfg.DataDir, "primes")
			}
			return a.runPrimes(cmd.Context(), cmd.OutOrStdout(), n, dir, asJSON)
		},
	}
	f := cmd.Flags()
	f.Int("workers", 0, "sieving goroutines (default GOMAXPROCS)")
	f.Int("consumers", 1, "output files")
	f.Uint64("segment-size", segsieve.DefaultSegmentSize, "numbers per segment, a multiple of 128")
	f.Int("channel-capacity", segsieve.DefaultChannelCapacity, "bound of each consumer channel")
	f.Bool("binary", false, "write 8-byte little-endian records instead of text")
	f.Int("flush-size", segsieve.DefaultFlushSize, "buffered sink flush size in bytes")
	f.Bool("async", false, "write through an asynchronous submission queue")
	f.String("io-backend", "auto", "async backend: auto, uring or pool")
	f.Int("queue-depth", segsieve.DefaultQueueDepth, "async submission queue depth")
	f.Int("max-in-flight", segsieve.DefaultMaxInFlight, "async writes outstanding before a consumer blocks")
	f.Int("batch-size", segsieve.DefaultBatchSize, "async writes staged per submission")
	f.Int("progress", segsieve.DefaultProgressInterval, "segments each consumer writes between progress logs (0 disables)")
	f.Int("reorder-warn", segsieve.DefaultReorderWarning, "reorder buffer size that logs a warning (0 disables)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.StringVar(&dir, "dir", "", "output directory (default <data-dir>/primes)")
	f.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func (a *app) runPrimes(ctx context.Context, out io.Writer, n uint64, dir string, asJSON bool) error {
	opts := append(a.cfg.RunOptions(), segsieve.WithLogger(a.logger))

	if a.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, segsieve.WithObserver(metrics.New(reg, "nt")))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	res, err := segsieve.Run(ctx, dir, n, opts...)
	if res != nil {
		a.record(ctx, history.Entry{
			RunID:    res.RunID,
			Command:  "primes",
			Args:     fmt.Sprintf("%d", n),
			Mode:     res.IOMode,
			Total:    res.Total,
			Duration: res.Elapsed,
			Status:   status(err),
		})
	}
	if res == nil {
		return err
	}

	if asJSON {
		if perr := printJSON(out, summarize(res, n, dir, err)); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	}
	printRun(out, res, n)
	return err
}

func summarize(res *segsieve.Result, n uint64, dir string, err error) runSummary {
	s := runSummary{
		RunID:           res.RunID,
		Limit:           n,
		Dir:             dir,
		Format:          res.Format.String(),
		IOMode:          res.IOMode,
		Workers:         res.Workers,
		Segments:        res.Layout.Total,
		Total:           res.Total,
		ProducerElapsed: res.ProducerElapsed,
		Elapsed:         res.Elapsed,
	}
	if err != nil {
		s.Error = err.Error()
	}
	for _, c := range append([]segsieve.ConsumerStats{res.Prelude}, res.Consumers...) {
		fs := fileSummary{
			Consumer:         c.Index,
			Path:             c.Path,
			Values:           c.Values,
			Bytes:            c.Bytes,
			Digest:           fmt.Sprintf("%016x", c.Digest),
			PeakPending:      c.PeakPending,
			PeakPendingBytes: c.PeakPendingBytes,
			PeakInFlight:     c.PeakInFlight,
		}
		if c.Err != nil {
			fs.Error = c.Err.Error()
		}
		s.Files = append(s.Files, fs)
	}
	return s
}

func printRun(out io.Writer, res *segsieve.Result, n uint64) {
	fmt.Fprintf(out, "Found %d primes up to %d (%d segments, %s)\n", res.Total, n, res.Layout.Total, res.IOMode)
	fmt.Fprintf(out, "  %-24s %12d values\n", filepath.Base(res.Prelude.Path), res.Prelude.Values)
	for _, c := range res.Consumers {
		line := fmt.Sprintf("  %-24s %12d values  peak reorder %d (%.2f MB)",
			filepath.Base(c.Path), c.Values, c.PeakPending, float64(c.PeakPendingBytes)/(1<<20))
		if c.PeakInFlight > 0 {
			line += fmt.Sprintf("  peak in-flight %d", c.PeakInFlight)
		}
		if c.Err != nil {
			line += "  ABORTED: " + c.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Producer elapsed: %s\n", formatDuration(res.ProducerElapsed))
	fmt.Fprintf(out, "Consumer elapsed: %s\n", formatDuration(res.Elapsed))
	fmt.Fprintf(out, "Consumer lag:     %s\n", formatDuration(res.Elapsed-res.ProducerElapsed))
}

func printJSON(out io.Writer, v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(append(data, '\n'))
	return err
}
