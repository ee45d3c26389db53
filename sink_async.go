package segsieve

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	segerrors "github.com/tamirms/segsieve/errors"
	"github.com/tamirms/segsieve/internal/aio"
)

// AsyncConfig tunes an AsyncSink.
type AsyncConfig struct {
	QueueDepth  int         // submission queue entries
	MaxInFlight int         // outstanding writes before Append blocks
	BatchSize   int         // appends staged per kernel submission
	Backend     aio.Backend // queue implementation
}

// AsyncSink writes each appended segment as one positional write through an
// aio.Queue. Offsets are assigned in append order, so the file is laid out in
// ascending order no matter which order completions arrive in.
//
// Writes are staged and handed to the kernel every BatchSize appends. After
// each append finished writes are reaped without blocking; if more than
// MaxInFlight remain outstanding, Append blocks until the count is back at
// the ceiling. A failed or short completion is a *FatalError.
type AsyncSink struct {
	cfg    SinkConfig
	acfg   AsyncConfig
	file   *os.File
	queue  aio.Queue
	digest streamDigest
	stats  SinkStats

	offset   int64
	nextTag  uint64
	batched  int
	inflight map[uint64][]byte // tag -> buffer owned by the queue
	free     [][]byte          // reaped buffers for reuse
	done     []aio.Completion
	failed   error
}

// NewAsyncSink creates (or truncates) cfg.Path and opens a submission queue
// on it.
func NewAsyncSink(cfg SinkConfig, acfg AsyncConfig) (*AsyncSink, error) {
	if acfg.QueueDepth < 1 {
		acfg.QueueDepth = DefaultQueueDepth
	}
	if acfg.MaxInFlight < 1 || acfg.MaxInFlight > acfg.QueueDepth {
		return nil, fmt.Errorf("%w: %d (queue depth %d)", segerrors.ErrInvalidMaxInFlight, acfg.MaxInFlight, acfg.QueueDepth)
	}
	if acfg.BatchSize < 1 {
		acfg.BatchSize = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", cfg.Path, err)
	}
	q, err := aio.Open(f, acfg.QueueDepth, aio.WithBackend(acfg.Backend))
	if err != nil {
		primaryErr := fmt.Errorf("open submission queue: %w", err)
		return nil, errors.Join(primaryErr, f.Close())
	}
	if acfg.Backend == aio.BackendAuto && q.Backend() != aio.BackendURing {
		cfg.Logger.Info("io_uring unavailable, using goroutine pool",
			slog.String("path", cfg.Path))
	}

	return &AsyncSink{
		cfg:      cfg,
		acfg:     acfg,
		file:     f,
		queue:    q,
		digest:   newStreamDigest(),
		inflight: make(map[uint64][]byte, acfg.MaxInFlight+1),
	}, nil
}

// AsyncSinks returns a SinkFactory producing AsyncSinks.
func AsyncSinks(acfg AsyncConfig) SinkFactory {
	return func(cfg SinkConfig) (Sink, error) {
		return NewAsyncSink(cfg, acfg)
	}
}

// Backend reports the queue implementation in use.
func (s *AsyncSink) Backend() aio.Backend { return s.queue.Backend() }

func (s *AsyncSink) Append(values []uint64) error {
	if s.failed != nil {
		return s.failed
	}
	if s.queue == nil {
		return fmt.Errorf("append to closed sink %s", s.cfg.Path)
	}
	if len(values) == 0 {
		return nil
	}

	buf := appendRecords(s.takeBuffer(encodedSize(s.cfg.Format, len(values))), s.cfg.Format, values)
	s.digest.fold(buf)

	tag := s.nextTag
	s.nextTag++
	if err := s.queue.Submit(buf, s.offset, tag); err != nil {
		return s.fail(&FatalError{Consumer: s.cfg.Consumer, Op: "submit", Path: s.cfg.Path, Err: err})
	}
	s.inflight[tag] = buf
	s.offset += int64(len(buf))
	s.stats.Values += uint64(len(values))

	s.batched++
	if s.batched >= s.acfg.BatchSize {
		s.batched = 0
		if err := s.queue.Flush(); err != nil {
			return s.fail(&FatalError{Consumer: s.cfg.Consumer, Op: "submit", Path: s.cfg.Path, Err: err})
		}
	}

	var err error
	if s.done, err = s.queue.Poll(s.done[:0]); err != nil {
		return s.fail(ioFailure(s.cfg.Consumer, s.cfg.Path, err))
	}
	if err := s.reap(); err != nil {
		return err
	}

	outstanding := s.queue.Outstanding()
	s.stats.PeakInFlight = max(s.stats.PeakInFlight, outstanding)
	if outstanding > s.acfg.MaxInFlight {
		if s.done, err = s.queue.Wait(s.done[:0], outstanding-s.acfg.MaxInFlight); err != nil {
			return s.fail(ioFailure(s.cfg.Consumer, s.cfg.Path, err))
		}
		if err := s.reap(); err != nil {
			return err
		}
	}
	s.cfg.Observer.InFlight(s.cfg.Consumer, s.queue.Outstanding())
	return nil
}

// reap checks the completions in s.done and recycles their buffers.
func (s *AsyncSink) reap() error {
	for _, c := range s.done {
		buf, ok := s.inflight[c.Tag]
		if !ok {
			return s.fail(ioFailure(s.cfg.Consumer, s.cfg.Path, fmt.Errorf("completion for unknown tag %d", c.Tag)))
		}
		delete(s.inflight, c.Tag)
		if c.Err != nil {
			return s.fail(ioFailure(s.cfg.Consumer, s.cfg.Path, c.Err))
		}
		if c.N != len(buf) {
			return s.fail(ioFailure(s.cfg.Consumer, s.cfg.Path,
				fmt.Errorf("%w: %d of %d bytes", segerrors.ErrShortWrite, c.N, len(buf))))
		}
		s.stats.Bytes += int64(c.N)
		s.free = append(s.free, buf[:0])
	}
	return nil
}

func (s *AsyncSink) takeBuffer(size int) []byte {
	if n := len(s.free); n > 0 {
		buf := s.free[n-1]
		s.free = s.free[:n-1]
		if cap(buf) >= size {
			return buf
		}
	}
	return make([]byte, 0, size)
}

func (s *AsyncSink) fail(err error) error {
	if s.failed == nil {
		s.failed = err
		s.cfg.Logger.Error("async write failed", slog.String("path", s.cfg.Path), slog.Any("error", err))
	}
	return s.failed
}

// Close waits for every outstanding write, then closes the queue and file.
// A completion failure observed here is returned as a *FatalError.
func (s *AsyncSink) Close() error {
	if s.queue == nil {
		return nil
	}
	var drainErr error
	if s.failed == nil {
		var err error
		if s.done, err = s.queue.Wait(s.done[:0], s.queue.Outstanding()); err != nil {
			drainErr = s.fail(ioFailure(s.cfg.Consumer, s.cfg.Path, err))
		} else {
			drainErr = s.reap()
		}
	}
	qerr := s.queue.Close()
	s.queue = nil
	ferr := s.file.Close()
	s.file = nil
	clear(s.inflight)
	s.free = nil
	return errors.Join(drainErr, qerr, ferr)
}

func (s *AsyncSink) Stats() SinkStats {
	st := s.stats
	st.Digest = s.digest.sum()
	return st
}
