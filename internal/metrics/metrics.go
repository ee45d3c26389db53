// Package metrics exposes pipeline events as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamirms/segsieve"
)

// Collector implements segsieve.Observer backed by Prometheus.
type Collector struct {
	segsieve.NopObserver

	claimed   *prometheus.CounterVec
	flushed   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	values    *prometheus.CounterVec
	pending   *prometheus.GaugeVec
	inFlight  *prometheus.GaugeVec
	writeErrs *prometheus.CounterVec

	queued       prometheus.Gauge
	pendingBytes *prometheus.GaugeVec
	heap         prometheus.Gauge
}

// Compile-time assertion that Collector implements Observer.
var _ segsieve.Observer = (*Collector)(nil)

// New creates a Collector and registers its metrics on reg
// (prometheus.DefaultRegisterer if nil). Namespace defaults to "nt".
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "nt"
	}

	c := &Collector{
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "segments_claimed_total",
			Help:      "Segments claimed by each worker.",
		}, []string{"worker"}),
		flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "segments_flushed_total",
			Help:      "Segments handed to each consumer's sink.",
		}, []string{"consumer"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "segments_dropped_total",
			Help:      "Segments discarded because their consumer aborted.",
		}, []string{"consumer"}),
		values: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "primes_emitted_total",
			Help:      "Primes written by each consumer.",
		}, []string{"consumer"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "reorder_pending",
			Help:      "Segments held in each consumer's reorder buffer.",
		}, []string{"consumer"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "writes_in_flight",
			Help:      "Outstanding asynchronous writes per consumer.",
		}, []string{"consumer"}),
		writeErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "write_errors_total",
			Help:      "Write failures absorbed by buffered sinks.",
		}, []string{"consumer"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "segments_queued",
			Help:      "Segments routed but not yet received, as of the latest progress report.",
		}),
		pendingBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "reorder_pending_bytes",
			Help:      "Estimated memory held in each consumer's reorder buffer.",
		}, []string{"consumer"}),
		heap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sieve",
			Name:      "heap_bytes",
			Help:      "Live heap at the latest progress report.",
		}),
	}
	reg.MustRegister(c.claimed, c.flushed, c.dropped, c.values, c.pending, c.inFlight, c.writeErrs,
		c.queued, c.pendingBytes, c.heap)
	return c
}

func label(i int) string { return strconv.Itoa(i) }

func (c *Collector) SegmentClaimed(worker int, _ segsieve.Segment) {
	c.claimed.WithLabelValues(label(worker)).Inc()
}

func (c *Collector) SegmentFlushed(consumer int, _ uint64, values int) {
	l := label(consumer)
	c.flushed.WithLabelValues(l).Inc()
	c.values.WithLabelValues(l).Add(float64(values))
}

func (c *Collector) SegmentDropped(consumer int, _ uint64) {
	c.dropped.WithLabelValues(label(consumer)).Inc()
}

func (c *Collector) Pending(consumer int, n int) {
	c.pending.WithLabelValues(label(consumer)).Set(float64(n))
}

func (c *Collector) InFlight(consumer int, n int) {
	c.inFlight.WithLabelValues(label(consumer)).Set(float64(n))
}

func (c *Collector) WriteFailed(consumer int, _ error) {
	c.writeErrs.WithLabelValues(label(consumer)).Inc()
}

func (c *Collector) Progress(consumer int, p segsieve.Progress) {
	c.queued.Set(float64(p.Gap))
	c.pendingBytes.WithLabelValues(label(consumer)).Set(float64(p.PendingBytes))
	c.heap.Set(float64(p.HeapBytes))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
