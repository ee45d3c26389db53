package segsieve

import (
	"fmt"
	"log/slog"
	"runtime"

	segerrors "github.com/tamirms/segsieve/errors"
	"github.com/tamirms/segsieve/internal/aio"
)

const (
	// DefaultSegmentSize is the number of integers covered by one segment.
	// The odd-only bitset for it is 16 KiB, which stays resident in L1/L2.
	DefaultSegmentSize = 1 << 18

	// DefaultChannelCapacity bounds each consumer's inbound queue. With K
	// consumers at most K*DefaultChannelCapacity results wait in channels.
	DefaultChannelCapacity = 100

	// DefaultFlushSize is the buffered sink's write chunk.
	DefaultFlushSize = 256 << 10

	// Async sink defaults.
	DefaultQueueDepth  = 256
	DefaultMaxInFlight = 200
	DefaultBatchSize   = 64

	// DefaultProgressInterval is the number of segments a consumer writes
	// between progress reports.
	DefaultProgressInterval = 1000

	// DefaultReorderWarning is the reorder buffer size, in segments, above
	// which a consumer logs a warning. Sustained growth means some segment
	// is far behind its successors.
	DefaultReorderWarning = 100

	// MaxLimit is the largest accepted upper bound. Keeping N below 2^62
	// leaves headroom for p*p and low+S without overflow checks.
	MaxLimit = uint64(1) << 62
)

// Format selects the record encoding of output files.
type Format uint8

const (
	// FormatText writes one decimal value per line.
	FormatText Format = iota
	// FormatBinary writes 8-byte little-endian values.
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// Ext returns the file extension used for f.
func (f Format) Ext() string {
	if f == FormatBinary {
		return "bin"
	}
	return "txt"
}

// ParseFormat converts "text" or "binary" to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "txt":
		return FormatText, nil
	case "binary", "bin":
		return FormatBinary, nil
	}
	return 0, fmt.Errorf("%w: %q", segerrors.ErrInvalidFormat, s)
}

// Option is a functional option for configuring a run.
type Option func(*runConfig)

type runConfig struct {
	workers         int
	consumers       int
	segmentSize     uint64
	channelCapacity int
	format          Format

	async       bool
	queueDepth  int
	ioBackend   aio.Backend
	maxInFlight int
	batchSize   int
	flushSize   int

	progressInterval int
	reorderWarning   int

	logger      *slog.Logger
	observer    Observer
	sinkFactory SinkFactory
}

func defaultRunConfig() *runConfig {
	return &runConfig{
		workers:         runtime.GOMAXPROCS(0),
		consumers:       1,
		segmentSize:     DefaultSegmentSize,
		channelCapacity: DefaultChannelCapacity,
		format:          FormatBinary,
		queueDepth:      DefaultQueueDepth,
		maxInFlight:     DefaultMaxInFlight,
		batchSize:       DefaultBatchSize,
		flushSize:       DefaultFlushSize,

		progressInterval: DefaultProgressInterval,
		reorderWarning:   DefaultReorderWarning,
	}
}

func (c *runConfig) validate() error {
	if c.workers < 1 {
		return segerrors.ErrInvalidWorkers
	}
	if c.consumers < 1 {
		return segerrors.ErrInvalidConsumers
	}
	if c.segmentSize == 0 || c.segmentSize%128 != 0 {
		return fmt.Errorf("%w: got %d", segerrors.ErrInvalidSegmentSize, c.segmentSize)
	}
	if c.channelCapacity < 1 {
		return segerrors.ErrInvalidChannelCapacity
	}
	if c.format != FormatText && c.format != FormatBinary {
		return segerrors.ErrInvalidFormat
	}
	if c.async {
		if c.queueDepth < 1 {
			return fmt.Errorf("queue depth %d must be positive", c.queueDepth)
		}
		// At most depth entries are ever outstanding, so the completion
		// ring (twice the submission ring) cannot overflow.
		if c.maxInFlight < 1 || c.maxInFlight > c.queueDepth {
			return fmt.Errorf("%w: %d (queue depth %d)", segerrors.ErrInvalidMaxInFlight, c.maxInFlight, c.queueDepth)
		}
		if c.batchSize < 1 {
			c.batchSize = 1
		}
	}
	if c.flushSize < 1 {
		c.flushSize = DefaultFlushSize
	}
	c.progressInterval = max(c.progressInterval, 0)
	c.reorderWarning = max(c.reorderWarning, 0)
	return nil
}

// WithWorkers sets the number of sieving goroutines.
// Default is runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(c *runConfig) {
		c.workers = n
	}
}

// WithConsumers sets the number of output consumers (and value files).
func WithConsumers(k int) Option {
	return func(c *runConfig) {
		c.consumers = k
	}
}

// WithSegmentSize sets the number of integers per segment. It must be a
// positive multiple of 128 so every segment starts on the same parity and
// fills whole bitset words.
func WithSegmentSize(n uint64) Option {
	return func(c *runConfig) {
		c.segmentSize = n
	}
}

// WithChannelCapacity sets the bound of each consumer's inbound channel.
func WithChannelCapacity(n int) Option {
	return func(c *runConfig) {
		c.channelCapacity = n
	}
}

// WithFormat selects text or binary output. Default is FormatBinary.
func WithFormat(f Format) Option {
	return func(c *runConfig) {
		c.format = f
	}
}

// WithAsyncIO makes consumers write through a submission queue of the given
// depth instead of a buffered writer. io_uring is used when the kernel
// allows it; otherwise a goroutine pool serves the same queue contract.
func WithAsyncIO(depth int) Option {
	return func(c *runConfig) {
		c.async = true
		c.queueDepth = depth
	}
}

// WithIOBackend forces the submission queue implementation for WithAsyncIO.
func WithIOBackend(b aio.Backend) Option {
	return func(c *runConfig) {
		c.ioBackend = b
	}
}

// WithMaxInFlight sets the admission ceiling of the async sink: once more
// writes than this are outstanding, the consumer blocks until completions
// bring it back under.
func WithMaxInFlight(n int) Option {
	return func(c *runConfig) {
		c.maxInFlight = n
	}
}

// WithBatchSize sets how many segments the async sink stages before handing
// them to the kernel in one call.
func WithBatchSize(n int) Option {
	return func(c *runConfig) {
		c.batchSize = n
	}
}

// WithFlushSize sets the buffered sink's write chunk in bytes.
func WithFlushSize(n int) Option {
	return func(c *runConfig) {
		c.flushSize = n
	}
}

// WithProgressInterval sets how many segments each consumer writes between
// progress reports to the logger and Observer.Progress. Zero disables them.
func WithProgressInterval(n int) Option {
	return func(c *runConfig) {
		c.progressInterval = n
	}
}

// WithReorderWarning sets the reorder buffer size above which a consumer
// logs a warning. Zero disables the warning.
func WithReorderWarning(n int) Option {
	return func(c *runConfig) {
		c.reorderWarning = n
	}
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithObserver installs pipeline instrumentation hooks.
func WithObserver(o Observer) Option {
	return func(c *runConfig) {
		c.observer = o
	}
}

// WithSinkFactory replaces the sink constructor used for consumer files.
// The prelude file always uses a buffered sink.
func WithSinkFactory(f SinkFactory) Option {
	return func(c *runConfig) {
		c.sinkFactory = f
	}
}
