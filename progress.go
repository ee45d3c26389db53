package segsieve

import (
	"log/slog"
	"runtime/metrics"
)

// Progress is a consumer's periodic report on its own output and on the
// pipeline as a whole.
type Progress struct {
	Segments     uint64 // segments this consumer has written
	Values       uint64 // values this consumer has written
	Sent         int64  // results routed to any consumer
	Received     int64  // results taken off any channel
	Gap          int64  // results waiting in channels
	Pending      int    // this consumer's reorder buffer
	PendingBytes int64  // estimated memory held by that buffer
	HeapBytes    uint64 // live heap objects
}

// pendingEntrySize estimates what one buffered segment costs: its id, the
// slice header, a map entry and the backing array.
func pendingEntrySize(values []uint64) int64 {
	const overhead = 8 + 24 + 32
	return overhead + 8*int64(cap(values))
}

// heapSample reads live heap bytes without stopping the world.
const heapSample = "/memory/classes/heap/objects:bytes"

func heapBytes() uint64 {
	s := []metrics.Sample{{Name: heapSample}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}

func mib(b uint64) float64 { return float64(b) / (1 << 20) }

// progress builds a report and sends it to the observer and the log.
func (c *consumer) progress(stats *ConsumerStats, pending int, pendingBytes int64) {
	sent, received := c.router.counts()
	p := Progress{
		Segments:     stats.Segments,
		Values:       stats.Values,
		Sent:         sent,
		Received:     received,
		Gap:          max(sent-received, 0),
		Pending:      pending,
		PendingBytes: pendingBytes,
		HeapBytes:    heapBytes(),
	}
	c.observer.Progress(c.index, p)
	c.logger.Info("consumer progress",
		slog.Uint64("segments", p.Segments),
		slog.Uint64("values", p.Values),
		slog.Int64("sent", p.Sent),
		slog.Int64("received", p.Received),
		slog.Int64("gap", p.Gap),
		slog.Int("pending", p.Pending),
		slog.Float64("pending_mb", mib(uint64(p.PendingBytes))),
		slog.Float64("heap_mb", mib(p.HeapBytes)))
}

// backlog logs a warning when the reorder buffer first grows past the
// threshold, and re-arms once it drains back under.
func (c *consumer) backlog(pending int, pendingBytes int64, next uint64) {
	if c.reorderWarning <= 0 {
		return
	}
	switch {
	case pending > c.reorderWarning && !c.warned:
		c.warned = true
		c.logger.Warn("reorder buffer growing",
			slog.Int("pending", pending),
			slog.Float64("pending_mb", mib(uint64(pendingBytes))),
			slog.Uint64("waiting_for", next),
			slog.Int("threshold", c.reorderWarning))
	case pending <= c.reorderWarning:
		c.warned = false
	}
}
