package segsieve

import (
	"context"

	"github.com/tamirms/segsieve/internal/sieve"
)

// worker claims segments until the scheduler runs dry, sieves each with its
// own kernel, and routes the result.
type worker struct {
	id       int
	sched    *scheduler
	router   *router
	kernel   *sieve.Segmenter
	observer Observer
}

func newWorker(id int, sched *scheduler, r *router, base sieve.Base, obs Observer) *worker {
	return &worker{
		id:       id,
		sched:    sched,
		router:   r,
		kernel:   sieve.NewSegmenter(base, sched.layout.Size),
		observer: obs,
	}
}

// run is the worker goroutine body.
func (w *worker) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		seg, ok := w.sched.claimNext()
		if !ok {
			return nil
		}
		w.observer.SegmentClaimed(w.id, seg)

		c := w.router.consumerOf(seg.ID)
		if !w.router.alive(c) {
			w.observer.SegmentDropped(c, seg.ID)
			continue
		}

		// The consumer returns the slice to the pool once it is written.
		dst := w.router.getValues(sieve.EstimateCount(seg.Low, seg.High))
		values := w.kernel.Sieve(dst, seg.Low, seg.High)

		delivered, err := w.router.send(ctx, SegmentResult{ID: seg.ID, Values: values})
		if err != nil {
			return err
		}
		if !delivered {
			w.router.putValues(values)
			w.observer.SegmentDropped(c, seg.ID)
		}
	}
}
