package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tamirms/segsieve"
)

func TestCollectorCountsRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, "test")

	res, err := segsieve.Run(context.Background(), t.TempDir(), 200_000,
		segsieve.WithWorkers(3), segsieve.WithConsumers(2),
		segsieve.WithSegmentSize(1<<10), segsieve.WithProgressInterval(10), segsieve.WithObserver(c))
	require.NoError(t, err)
	require.Positive(t, testutil.ToFloat64(c.heap), "progress reports reach the collector")

	var claimed float64
	for w := range 3 {
		claimed += testutil.ToFloat64(c.claimed.WithLabelValues(label(w)))
	}
	require.Equal(t, float64(res.Layout.Total), claimed)

	for _, cs := range res.Consumers {
		l := label(cs.Index)
		require.Equal(t, float64(cs.Segments), testutil.ToFloat64(c.flushed.WithLabelValues(l)))
		require.Equal(t, float64(cs.Values), testutil.ToFloat64(c.values.WithLabelValues(l)))
	}
	require.Zero(t, testutil.CollectAndCount(c.dropped))
}

func TestCollectorGauges(t *testing.T) {
	c := New(prometheus.NewRegistry(), "")
	c.Pending(1, 7)
	c.InFlight(1, 3)
	c.WriteFailed(0, io.ErrShortWrite)
	c.WriteFailed(0, io.ErrShortWrite)
	c.SegmentDropped(2, 9)
	c.Progress(1, segsieve.Progress{Sent: 40, Received: 31, Gap: 9, PendingBytes: 4096, HeapBytes: 1 << 20})

	require.Equal(t, 7.0, testutil.ToFloat64(c.pending.WithLabelValues("1")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.inFlight.WithLabelValues("1")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.writeErrs.WithLabelValues("0")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("2")))
	require.Equal(t, 9.0, testutil.ToFloat64(c.queued))
	require.Equal(t, 4096.0, testutil.ToFloat64(c.pendingBytes.WithLabelValues("1")))
	require.Equal(t, float64(1<<20), testutil.ToFloat64(c.heap))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, "nt")
	c.SegmentFlushed(0, 0, 5)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `nt_sieve_primes_emitted_total{consumer="0"} 5`), body)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "nt")
	require.Panics(t, func() { New(reg, "nt") })
}
