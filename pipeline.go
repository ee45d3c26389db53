package segsieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tamirms/segsieve/internal/aio"
	"github.com/tamirms/segsieve/internal/logging"
	"github.com/tamirms/segsieve/internal/sieve"
)

// Result summarizes a completed run.
type Result struct {
	RunID     string
	Layout    Layout
	Format    Format
	Workers   int
	IOMode    string // "buffered", or the async backend name
	Prelude   ConsumerStats
	Consumers []ConsumerStats
	Total     uint64 // primes written across all files

	ProducerElapsed time.Duration // until the last worker returned
	Elapsed         time.Duration // until the last file was closed
}

// Aborted returns the consumers that stopped early.
func (r *Result) Aborted() []ConsumerStats {
	var out []ConsumerStats
	for _, c := range r.Consumers {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Run computes every prime <= n and writes them to dir: the prelude (2 and
// the trial-divisor base) to primes_small.<ext>, and the segmented range
// split across K consumer files primes_<c>.<ext>, each strictly ascending.
// A manifest.yaml describing the run is written last.
//
// Usage:
//
//	res, err := segsieve.Run(ctx, dir, 1_000_000_000,
//	    segsieve.WithWorkers(8), segsieve.WithConsumers(4))
//	if err != nil { return err }
//	fmt.Println(res.Total)
//
// Workers claim segments from a shared cursor and route each result to
// consumer id mod K over a bounded channel. Consumers reorder and write
// independently.
//
// Error handling:
//   - Invalid options or n > MaxLimit fail before any file is touched.
//   - A consumer whose sink cannot be opened or fails non-fatally stops
//     alone; Run finishes the other files and returns the full Result along
//     with a *ConsumerError per aborted consumer.
//   - A *FatalError (failed asynchronous write, reorder violation) or ctx
//     cancellation stops every goroutine; the partial Result is returned
//     with the error and no manifest is written.
func Run(ctx context.Context, dir string, n uint64, opts ...Option) (*Result, error) {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	layout, err := NewLayout(n, cfg.segmentSize)
	if err != nil {
		return nil, err
	}
	logger := cfg.logger
	if logger == nil {
		logger = discardLogger()
	}
	observer := cfg.observer
	if observer == nil {
		observer = NopObserver{}
	}
	factory, ioMode := cfg.sinks()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := removeStaleFiles(dir); err != nil {
		return nil, fmt.Errorf("remove stale files: %w", err)
	}

	start := time.Now()
	res := &Result{
		RunID:     uuid.NewString(),
		Layout:    layout,
		Format:    cfg.format,
		Workers:   cfg.workers,
		IOMode:    ioMode,
		Consumers: make([]ConsumerStats, cfg.consumers),
	}
	logger = logger.With(slog.String("run_id", res.RunID))
	logger.Info("run started",
		slog.Uint64("limit", n),
		slog.Uint64("segments", layout.Total),
		slog.Uint64("segment_size", layout.Size),
		slog.Int("workers", cfg.workers),
		slog.Int("consumers", cfg.consumers),
		slog.String("format", cfg.format.String()),
		slog.String("io", ioMode))

	base := sieve.NewBase(n)
	sched := newScheduler(layout)
	r := newRouter(cfg.consumers, cfg.channelCapacity)

	g, gctx := errgroup.WithContext(ctx)

	// Producer side: workers, then close every channel once all returned.
	workers, wctx := errgroup.WithContext(gctx)
	for i := range cfg.workers {
		w := newWorker(i, sched, r, base, observer)
		workers.Go(func() error { return w.run(wctx) })
	}
	g.Go(func() error {
		err := workers.Wait()
		res.ProducerElapsed = time.Since(start)
		r.closeAll()
		logger.Debug("producer finished",
			slog.Duration("elapsed", res.ProducerElapsed),
			slog.Int64("queued", r.queued()))
		return err
	})

	g.Go(func() error {
		st, err := writePrelude(SinkConfig{
			Consumer: -1,
			Path:     PreludePath(dir, cfg.format),
			Format:   cfg.format,
			Logger:   logger,
			Observer: observer,
		}, preludeValues(n, base))
		res.Prelude = fromSinkStats(-1, PreludePath(dir, cfg.format), st)
		return err
	})

	for c := range cfg.consumers {
		cons := &consumer{
			index:  c,
			lane:   r.lanes[c],
			router: r,
			sinkCfg: SinkConfig{
				Consumer: c,
				Path:     ConsumerPath(dir, c, cfg.format),
				Format:   cfg.format,
				Logger:   logging.ConsumerLogger(logger, c),
				Observer: observer,
			},
			factory:  factory,
			logger:   logging.ConsumerLogger(logger, c),
			observer: observer,
			stride:   uint64(cfg.consumers),
			end:      consumerEnd(layout.Total, c, cfg.consumers),

			progressEvery:  cfg.progressInterval,
			reorderWarning: cfg.reorderWarning,
		}
		g.Go(func() error {
			st, err := cons.run(gctx)
			res.Consumers[c] = st
			if err != nil && !IsFatal(err) && gctx.Err() == nil {
				res.Consumers[c].Err = err
				return nil
			}
			if err == nil {
				cons.logger.Debug("consumer finished",
					slog.Uint64("values", st.Values),
					slog.Uint64("segments", st.Segments),
					slog.Int("peak_pending", st.PeakPending),
					slog.Float64("peak_pending_mb", mib(uint64(st.PeakPendingBytes))),
					slog.Int("peak_buffered", st.PeakBuffered))
			}
			return err
		})
	}

	runErr := g.Wait()
	res.Elapsed = time.Since(start)
	res.Total = res.Prelude.Values
	for _, c := range res.Consumers {
		res.Total += c.Values
	}

	if runErr != nil {
		logger.Error("run failed", slog.Any("error", runErr))
		return res, runErr
	}

	var aborted []error
	for _, c := range res.Consumers {
		if c.Err != nil {
			aborted = append(aborted, c.Err)
		}
	}
	if err := WriteManifest(dir, NewManifest(res)); err != nil {
		return res, errors.Join(append(aborted, err)...)
	}
	logger.Info("run finished",
		slog.Uint64("total", res.Total),
		slog.Int("aborted", len(aborted)),
		slog.Duration("producer_elapsed", res.ProducerElapsed),
		slog.Duration("elapsed", res.Elapsed))
	return res, errors.Join(aborted...)
}

// sinks returns the consumer sink factory and a name for the I/O mode.
func (c *runConfig) sinks() (SinkFactory, string) {
	if c.sinkFactory != nil {
		return c.sinkFactory, "custom"
	}
	if !c.async {
		return BufferedSinks(c.flushSize), "buffered"
	}
	acfg := AsyncConfig{
		QueueDepth:  c.queueDepth,
		MaxInFlight: c.maxInFlight,
		BatchSize:   c.batchSize,
		Backend:     c.ioBackend,
	}
	mode := "async"
	if c.ioBackend != aio.BackendAuto {
		mode = "async/" + c.ioBackend.String()
	}
	return AsyncSinks(acfg), mode
}

func fromSinkStats(index int, path string, st SinkStats) ConsumerStats {
	return ConsumerStats{
		Index:        index,
		Path:         path,
		Values:       st.Values,
		Bytes:        st.Bytes,
		Digest:       st.Digest,
		PeakInFlight: st.PeakInFlight,
		WriteErrors:  st.WriteErrors,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
