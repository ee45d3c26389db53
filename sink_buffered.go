package segsieve

import (
	"fmt"
	"log/slog"
	"os"
)

// BufferedSink writes through an in-memory buffer flushed in fixed chunks,
// one write call per chunk. A failed write is logged and counted; the chunk
// is lost and the sink keeps going.
type BufferedSink struct {
	cfg    SinkConfig
	file   *os.File
	buf    []byte
	limit  int
	digest streamDigest
	stats  SinkStats
}

// NewBufferedSink creates (or truncates) cfg.Path.
func NewBufferedSink(cfg SinkConfig, flushSize int) (*BufferedSink, error) {
	if flushSize < 1 {
		flushSize = DefaultFlushSize
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", cfg.Path, err)
	}
	return &BufferedSink{
		cfg:    cfg,
		file:   f,
		buf:    make([]byte, 0, flushSize+encodedSize(cfg.Format, 1)),
		limit:  flushSize,
		digest: newStreamDigest(),
	}, nil
}

// BufferedSinks returns a SinkFactory producing BufferedSinks.
func BufferedSinks(flushSize int) SinkFactory {
	return func(cfg SinkConfig) (Sink, error) {
		return NewBufferedSink(cfg, flushSize)
	}
}

func (s *BufferedSink) Append(values []uint64) error {
	if s.file == nil {
		return fmt.Errorf("append to closed sink %s", s.cfg.Path)
	}
	for len(values) > 0 {
		// Encode only as many values as fit before the next flush.
		room := max(1, (s.limit-len(s.buf))/encodedSize(s.cfg.Format, 1))
		n := min(room, len(values))
		start := len(s.buf)
		s.buf = appendRecords(s.buf, s.cfg.Format, values[:n])
		s.digest.fold(s.buf[start:])
		s.stats.Values += uint64(n)
		values = values[n:]
		if len(s.buf) >= s.limit {
			s.flush()
		}
	}
	return nil
}

// flush writes the buffer in one call.
func (s *BufferedSink) flush() {
	if len(s.buf) == 0 {
		return
	}
	n, err := s.file.Write(s.buf)
	s.stats.Bytes += int64(n)
	if err != nil {
		s.stats.WriteErrors++
		s.cfg.Logger.Warn("write failed, chunk dropped",
			slog.String("path", s.cfg.Path),
			slog.Int("bytes", len(s.buf)),
			slog.Any("error", err))
		s.cfg.Observer.WriteFailed(s.cfg.Consumer, err)
	}
	s.buf = s.buf[:0]
}

func (s *BufferedSink) Close() error {
	if s.file == nil {
		return nil
	}
	s.flush()
	err := s.file.Close()
	s.file = nil
	s.stats.Digest = s.digest.sum()
	if err != nil {
		return fmt.Errorf("close %s: %w", s.cfg.Path, err)
	}
	return nil
}

func (s *BufferedSink) Stats() SinkStats {
	st := s.stats
	st.Digest = s.digest.sum()
	return st
}
