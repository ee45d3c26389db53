package segsieve

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tamirms/segsieve/internal/reorder"
)

// ConsumerStats describes one output file after a run.
type ConsumerStats struct {
	Index        int // -1 for the prelude
	Path         string
	Values       uint64
	Segments     uint64
	Bytes        int64
	Digest       uint64
	PeakPending  int // largest reorder buffer
	PeakBuffered int // largest channel length + reorder buffer

	PeakPendingBytes int64 // estimated memory of the largest reorder buffer
	PeakInFlight int
	WriteErrors  int
	Err          error // why the consumer aborted, if it did
}

// consumer owns one output file. It receives segments with id = index mod K,
// restores ascending id order and appends them to its sink.
type consumer struct {
	index    int
	lane     *lane
	router   *router
	sinkCfg  SinkConfig
	factory  SinkFactory
	logger   *slog.Logger
	observer Observer
	stride   uint64
	end      uint64 // first id past this consumer's last segment

	progressEvery  int // segments between progress reports, 0 for none
	reorderWarning int // reorder buffer size that triggers a warning
	warned         bool
}

// run drains the consumer's channel until it is closed. A returned
// *FatalError ends the run; any other error means only this consumer
// stopped, and its lane has been marked done.
func (c *consumer) run(ctx context.Context) (stats ConsumerStats, err error) {
	stats = ConsumerStats{Index: c.index, Path: c.sinkCfg.Path}

	sink, err := c.factory(c.sinkCfg)
	if err != nil {
		return stats, c.abort(err)
	}
	defer func() {
		closeErr := sink.Close()
		st := sink.Stats()
		stats.Bytes = st.Bytes
		stats.Digest = st.Digest
		stats.WriteErrors = st.WriteErrors
		stats.PeakInFlight = st.PeakInFlight
		if closeErr != nil && err == nil {
			if IsFatal(closeErr) {
				err = closeErr
			} else {
				err = c.abort(closeErr)
			}
		}
	}()

	buf := reorder.New[[]uint64](uint64(c.index), c.stride)
	var pendingBytes int64
	for {
		var res SegmentResult
		var ok bool
		select {
		case res, ok = <-c.lane.ch:
		case <-ctx.Done():
			return stats, ctx.Err()
		}
		if !ok {
			break
		}
		c.router.received.Inc()

		if err := buf.Push(res.ID, res.Values); err != nil {
			return stats, &FatalError{Consumer: c.index, Op: "reorder", Path: c.sinkCfg.Path, Err: err}
		}
		pendingBytes += pendingEntrySize(res.Values)
		stats.PeakPending = max(stats.PeakPending, buf.Len())
		stats.PeakPendingBytes = max(stats.PeakPendingBytes, pendingBytes)
		stats.PeakBuffered = max(stats.PeakBuffered, len(c.lane.ch)+buf.Len())
		c.observer.Pending(c.index, buf.Len())
		c.backlog(buf.Len(), pendingBytes, buf.Next())

		for id, values, ready := buf.Pop(); ready; id, values, ready = buf.Pop() {
			pendingBytes -= pendingEntrySize(values)
			if err := sink.Append(values); err != nil {
				if IsFatal(err) {
					return stats, err
				}
				return stats, c.abort(err)
			}
			stats.Values += uint64(len(values))
			stats.Segments++
			c.observer.SegmentFlushed(c.index, id, len(values))
			c.router.putValues(values)
			if c.progressEvery > 0 && stats.Segments%uint64(c.progressEvery) == 0 {
				c.progress(&stats, buf.Len(), pendingBytes)
			}
		}
	}

	// The channel also closes when workers stop on cancellation; that is
	// not a gap in this consumer's stream.
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if buf.Len() > 0 || buf.Next() != c.end {
		// Writing the residual would break ascending order; leave the file
		// ending at the last contiguous segment.
		return stats, &FatalError{
			Consumer: c.index,
			Op:       "reorder",
			Path:     c.sinkCfg.Path,
			Err:      &ReorderError{Consumer: c.index, Next: buf.Next(), End: c.end, Residual: buf.Residual()},
		}
	}
	return stats, nil
}

// abort marks the lane done so workers stop routing to it and wraps cause.
func (c *consumer) abort(cause error) error {
	c.lane.abort()
	c.logger.Error("consumer aborted", slog.Any("error", cause))
	var ce *ConsumerError
	if errors.As(cause, &ce) {
		return ce
	}
	return &ConsumerError{Consumer: c.index, Err: cause}
}
