package segsieve

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tamirms/segsieve/internal/sieve"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

// newTestRNG returns a deterministic RNG unique to the calling test.
func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// smallSegments keeps test runs split into many segments.
const smallSegments = 1 << 10

// readFiles returns the values of the prelude and every consumer file.
func readFiles(t *testing.T, res *Result) (prelude []uint64, consumers [][]uint64) {
	t.Helper()
	var err error
	prelude, err = ReadValues(res.Prelude.Path, res.Format)
	require.NoError(t, err)
	for _, c := range res.Consumers {
		vals, err := ReadValues(c.Path, res.Format)
		require.NoError(t, err)
		consumers = append(consumers, vals)
	}
	return prelude, consumers
}

// requireAscending fails unless vals is strictly increasing.
func requireAscending(t *testing.T, vals []uint64) {
	t.Helper()
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			t.Fatalf("not ascending at %d: %d after %d", i, vals[i], vals[i-1])
		}
	}
}

// referenceFor returns the primes of the segments owned by consumer c.
func referenceFor(l Layout, k, c int) []uint64 {
	var out []uint64
	for _, p := range sieve.OddOnly(l.Limit) {
		if id, ok := l.SegmentOf(p); ok && ConsumerOf(id, k) == c {
			out = append(out, p)
		}
	}
	return out
}

// recordingObserver counts pipeline events.
type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	claimed  map[uint64]int
	flushed  map[uint64]int
	dropped  map[uint64]int
	order    map[int][]uint64
	progress map[int][]Progress
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		claimed:  make(map[uint64]int),
		flushed:  make(map[uint64]int),
		dropped:  make(map[uint64]int),
		order:    make(map[int][]uint64),
		progress: make(map[int][]Progress),
	}
}

func (o *recordingObserver) SegmentClaimed(_ int, seg Segment) {
	o.mu.Lock()
	o.claimed[seg.ID]++
	o.mu.Unlock()
}

func (o *recordingObserver) SegmentFlushed(c int, id uint64, _ int) {
	o.mu.Lock()
	o.flushed[id]++
	o.order[c] = append(o.order[c], id)
	o.mu.Unlock()
}

func (o *recordingObserver) SegmentDropped(_ int, id uint64) {
	o.mu.Lock()
	o.dropped[id]++
	o.mu.Unlock()
}

func (o *recordingObserver) Progress(c int, p Progress) {
	o.mu.Lock()
	o.progress[c] = append(o.progress[c], p)
	o.mu.Unlock()
}

// slowSink wraps a sink and sleeps on every append.
type slowSink struct {
	Sink
	delay time.Duration
}

func (s *slowSink) Append(values []uint64) error {
	time.Sleep(s.delay)
	return s.Sink.Append(values)
}

func slowSinks(delay time.Duration) SinkFactory {
	inner := BufferedSinks(DefaultFlushSize)
	return func(cfg SinkConfig) (Sink, error) {
		s, err := inner(cfg)
		if err != nil {
			return nil, err
		}
		return &slowSink{Sink: s, delay: delay}, nil
	}
}

var errInjected = errors.New("injected sink failure")

// failingSink fails every append after the first `after`.
type failingSink struct {
	Sink
	after int
	n     int
}

func (s *failingSink) Append(values []uint64) error {
	if s.n >= s.after {
		return errInjected
	}
	s.n++
	return s.Sink.Append(values)
}

// failConsumer returns a factory whose sink for consumer target fails after
// `after` segments; every other consumer gets a normal buffered sink.
func failConsumer(target, after int) SinkFactory {
	inner := BufferedSinks(DefaultFlushSize)
	return func(cfg SinkConfig) (Sink, error) {
		s, err := inner(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Consumer != target {
			return s, nil
		}
		return &failingSink{Sink: s, after: after}, nil
	}
}
