// Package aio provides a submission/completion queue for positional file
// writes.
//
// The contract mirrors a kernel submission ring: Submit stages a write with an
// explicit byte offset, Flush hands every staged write to the backend, Poll
// reaps finished writes without blocking, and Wait blocks until at least a
// given number of writes have finished. Completions may arrive in any order;
// callers correlate them through the tag passed to Submit.
//
// Two backends exist. On Linux the io_uring backend talks to the kernel ring
// directly. Everywhere else, and whenever io_uring cannot be set up (old
// kernels, seccomp filters in containers), a pool of goroutines performs
// WriteAt calls and reports completions through the same interface.
//
// A Queue is owned by a single goroutine and is not safe for concurrent use.
package aio

import (
	"fmt"
	"os"

	segerrors "github.com/tamirms/segsieve/errors"
)

// Completion reports the outcome of one submitted write.
type Completion struct {
	Tag uint64 // value passed to Submit
	N   int    // bytes written
	Err error  // non-nil if the write failed
}

// Queue is a positional write queue with explicit submit and reap steps.
type Queue interface {
	// Submit stages a write of buf at offset. buf must not be modified until
	// its completion has been reaped.
	Submit(buf []byte, offset int64, tag uint64) error
	// Flush hands all staged writes to the backend without waiting.
	Flush() error
	// Poll appends finished writes to dst without blocking.
	Poll(dst []Completion) ([]Completion, error)
	// Wait flushes and then blocks until at least atLeast writes have finished
	// (capped at the number outstanding), appending them to dst.
	Wait(dst []Completion, atLeast int) ([]Completion, error)
	// Outstanding returns writes submitted but not yet reaped.
	Outstanding() int
	// Backend reports which implementation serves the queue.
	Backend() Backend
	// Close waits for outstanding writes and releases the queue. It does not
	// close the target file.
	Close() error
}

// Backend selects a Queue implementation.
type Backend int

const (
	// BackendAuto tries io_uring and falls back to the pool.
	BackendAuto Backend = iota
	// BackendURing requires io_uring.
	BackendURing
	// BackendPool uses the goroutine pool.
	BackendPool
)

func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendURing:
		return "io_uring"
	case BackendPool:
		return "pool"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend converts a backend name to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "auto":
		return BackendAuto, nil
	case "io_uring", "uring":
		return BackendURing, nil
	case "pool":
		return BackendPool, nil
	}
	return 0, fmt.Errorf("%w: unknown io backend %q", segerrors.ErrUnsupported, s)
}

// Option configures Open.
type Option func(*options)

type options struct {
	backend     Backend
	poolWorkers int
}

// WithBackend forces a backend.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithPoolWorkers sets the goroutine count of the pool backend.
func WithPoolWorkers(n int) Option {
	return func(o *options) { o.poolWorkers = n }
}

// DefaultPoolWorkers is the pool size used when none is configured.
const DefaultPoolWorkers = 4

// Open returns a Queue writing to f with room for depth staged writes.
// With BackendAuto, an io_uring setup failure is not an error: the pool is
// used instead and the returned queue reports BackendPool.
func Open(f *os.File, depth int, opts ...Option) (Queue, error) {
	o := options{poolWorkers: DefaultPoolWorkers}
	for _, opt := range opts {
		opt(&o)
	}
	if depth < 1 {
		return nil, fmt.Errorf("aio: queue depth %d must be positive", depth)
	}

	switch o.backend {
	case BackendPool:
		return newPool(f, depth, o.poolWorkers), nil
	case BackendURing:
		return newURing(f, depth)
	case BackendAuto:
		q, err := newURing(f, depth)
		if err == nil {
			return q, nil
		}
		return newPool(f, depth, o.poolWorkers), nil
	}
	return nil, fmt.Errorf("%w: io backend %s", segerrors.ErrUnsupported, o.backend)
}
