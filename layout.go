package segsieve

import (
	"fmt"
	"sync/atomic"

	segerrors "github.com/tamirms/segsieve/errors"
	"github.com/tamirms/segsieve/internal/sieve"
)

// Segment is a closed range [Low, High] of integers sieved as one unit.
// Low is always odd.
type Segment struct {
	ID   uint64
	Low  uint64
	High uint64
}

// Layout partitions [Low, Limit] into fixed-size segments. Everything below
// Low is covered by the trial-divisor base and written as the prelude.
type Layout struct {
	Limit uint64 // N
	Low   uint64 // first odd integer above floor(sqrt(N))
	Size  uint64 // integers per segment
	Total uint64 // number of segments
}

// NewLayout computes the segment layout for limit n and segment size.
func NewLayout(n, size uint64) (Layout, error) {
	if n > MaxLimit {
		return Layout{}, fmt.Errorf("%w: %d", segerrors.ErrLimitTooLarge, n)
	}
	if size == 0 || size%128 != 0 {
		return Layout{}, fmt.Errorf("%w: got %d", segerrors.ErrInvalidSegmentSize, size)
	}
	l := Layout{
		Limit: n,
		Low:   (sieve.ISqrt(n) + 1) | 1,
		Size:  size,
	}
	if n >= l.Low {
		l.Total = (n - l.Low + size) / size
	}
	return l, nil
}

// Segment returns the descriptor for id. Only the last segment may be
// shorter than Size.
func (l Layout) Segment(id uint64) Segment {
	low := l.Low + id*l.Size
	return Segment{
		ID:   id,
		Low:  low,
		High: min(low+l.Size-1, l.Limit),
	}
}

// SegmentOf returns the id of the segment containing v, or false if v lies
// outside the sieved range.
func (l Layout) SegmentOf(v uint64) (uint64, bool) {
	if v < l.Low || v > l.Limit {
		return 0, false
	}
	return (v - l.Low) / l.Size, true
}

// ConsumerOf returns the consumer that owns segment id when k consumers
// share the stream round-robin.
func ConsumerOf(id uint64, k int) int {
	return int(id % uint64(k))
}

// consumerEnd returns the first id >= total in consumer c's progression
// c, c+k, c+2k, ... A consumer that has written every segment it owns is
// waiting for exactly this id.
func consumerEnd(total uint64, c, k int) uint64 {
	first, stride := uint64(c), uint64(k)
	if total <= first {
		return first
	}
	return first + (total-first+stride-1)/stride*stride
}

// scheduler hands out segment ids through one shared atomic cursor. There is
// no dispatcher goroutine: each worker claims its next segment directly.
type scheduler struct {
	layout Layout
	cursor atomic.Uint64
}

func newScheduler(l Layout) *scheduler {
	return &scheduler{layout: l}
}

// claimNext returns the next unclaimed segment, or false once every segment
// has been claimed. Each id is returned to exactly one caller. Claims past
// the end keep incrementing the cursor but are never served.
func (s *scheduler) claimNext() (Segment, bool) {
	id := s.cursor.Add(1) - 1
	if id >= s.layout.Total {
		return Segment{}, false
	}
	return s.layout.Segment(id), true
}
