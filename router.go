package segsieve

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// SegmentResult carries one segment's primes from a worker to its consumer.
// Ownership of Values moves with the result.
type SegmentResult struct {
	ID     uint64
	Values []uint64
}

// lane is one consumer's inbound side: a bounded channel and a done signal
// the consumer closes if it stops early.
type lane struct {
	ch       chan SegmentResult
	done     chan struct{}
	doneOnce sync.Once
}

func (l *lane) abort() {
	l.doneOnce.Do(func() { close(l.done) })
}

// router fans segment results out to consumers by id. Blocking on a full
// channel is the pipeline's only backpressure.
type router struct {
	lanes []*lane

	// Striped counters; their difference is the number of results sitting
	// in channels.
	sent     *xsync.Counter
	received *xsync.Counter

	// values recycles segment slices from consumers back to workers.
	values sync.Pool
}

func newRouter(consumers, capacity int) *router {
	r := &router{
		lanes:    make([]*lane, consumers),
		sent:     xsync.NewCounter(),
		received: xsync.NewCounter(),
	}
	for i := range r.lanes {
		r.lanes[i] = &lane{
			ch:   make(chan SegmentResult, capacity),
			done: make(chan struct{}),
		}
	}
	return r
}

func (r *router) consumerOf(id uint64) int {
	return ConsumerOf(id, len(r.lanes))
}

// alive reports whether consumer c is still accepting results.
func (r *router) alive(c int) bool {
	select {
	case <-r.lanes[c].done:
		return false
	default:
		return true
	}
}

// send delivers res to its consumer, blocking while the channel is full. It
// returns false without error if the consumer has stopped; the result is
// dropped and the caller moves on.
func (r *router) send(ctx context.Context, res SegmentResult) (bool, error) {
	l := r.lanes[r.consumerOf(res.ID)]
	select {
	case <-l.done:
		return false, nil
	default:
	}
	// Counted before the send so the consumer's receive can never be
	// observed ahead of it.
	r.sent.Inc()
	select {
	case l.ch <- res:
		return true, nil
	case <-l.done:
		r.sent.Dec()
		return false, nil
	case <-ctx.Done():
		r.sent.Dec()
		return false, ctx.Err()
	}
}

// closeAll closes every channel. Called once all workers have returned.
func (r *router) closeAll() {
	for _, l := range r.lanes {
		close(l.ch)
	}
}

// queued returns the number of results sent but not yet received.
func (r *router) queued() int64 {
	sent, received := r.counts()
	return max(sent-received, 0)
}

// counts reads both counters. Received is read first so a receive racing
// with the read cannot make it exceed sent.
func (r *router) counts() (sent, received int64) {
	received = r.received.Value()
	sent = r.sent.Value()
	return sent, received
}

// getValues returns an empty slice with room for at least capHint values.
// Pooled slices that are too small are left to the collector; segment
// density only falls as ids grow, so that is rare.
func (r *router) getValues(capHint int) []uint64 {
	if v, ok := r.values.Get().([]uint64); ok && cap(v) >= capHint {
		return v[:0]
	}
	return make([]uint64, 0, capHint)
}

// putValues returns a slice whose contents are no longer referenced.
func (r *router) putValues(v []uint64) {
	if cap(v) == 0 {
		return
	}
	//lint:ignore SA6002 slice value boxing is acceptable; pointer-to-slice adds complexity
	r.values.Put(v[:0]) //nolint:staticcheck
}
