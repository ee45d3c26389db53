package segsieve

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	segerrors "github.com/tamirms/segsieve/errors"
)

func TestNewLayout(t *testing.T) {
	tests := []struct {
		n, size    uint64
		low, total uint64
	}{
		{0, 128, 1, 0},
		{1, 128, 3, 0},
		{2, 128, 3, 0},
		{3, 128, 3, 1},
		{30, 128, 7, 1},
		{1000, 128, 33, 8},  // 968 numbers
		{1000, 1024, 33, 1}, // fits in one
		{1_000_000, 1 << 10, 1001, 976},
	}
	for _, tt := range tests {
		l, err := NewLayout(tt.n, tt.size)
		require.NoError(t, err)
		require.Equal(t, tt.low, l.Low, "low for n=%d", tt.n)
		require.Equal(t, tt.total, l.Total, "total for n=%d size=%d", tt.n, tt.size)
		require.Equal(t, uint64(1), l.Low&1, "low must be odd")
	}
}

func TestNewLayoutRejects(t *testing.T) {
	_, err := NewLayout(MaxLimit+1, 128)
	require.ErrorIs(t, err, segerrors.ErrLimitTooLarge)
	_, err = NewLayout(1000, 100)
	require.ErrorIs(t, err, segerrors.ErrInvalidSegmentSize)
	_, err = NewLayout(1000, 0)
	require.ErrorIs(t, err, segerrors.ErrInvalidSegmentSize)

	l, err := NewLayout(MaxLimit, 1<<20)
	require.NoError(t, err)
	last := l.Segment(l.Total - 1)
	require.Equal(t, MaxLimit, last.High)
}

// TestSegmentsTileRange checks the segments cover [Low, N] exactly, with
// only the last one short.
func TestSegmentsTileRange(t *testing.T) {
	rng := newTestRNG(t)
	for range 200 {
		n := rng.Uint64N(1 << 24)
		size := 128 * (1 + rng.Uint64N(64))
		l, err := NewLayout(n, size)
		require.NoError(t, err)

		next := l.Low
		for id := range l.Total {
			seg := l.Segment(id)
			require.Equal(t, next, seg.Low)
			require.Equal(t, uint64(1), seg.Low&1)
			require.LessOrEqual(t, seg.High, n)
			if id < l.Total-1 {
				require.Equal(t, size, seg.High-seg.Low+1)
			}
			got, ok := l.SegmentOf(seg.Low)
			require.True(t, ok)
			require.Equal(t, id, got)
			got, ok = l.SegmentOf(seg.High)
			require.True(t, ok)
			require.Equal(t, id, got)
			next = seg.High + 1
		}
		if l.Total > 0 {
			require.Equal(t, n+1, next)
		}
		_, ok := l.SegmentOf(n + 1)
		require.False(t, ok)
	}
}

// TestClaimExactlyOnce races many claimers and checks each id is handed out
// once and that claims past the end keep failing.
func TestClaimExactlyOnce(t *testing.T) {
	l, err := NewLayout(5_000_000, 128)
	require.NoError(t, err)
	s := newScheduler(l)

	const claimers = 16
	claimed := make([][]uint64, claimers)
	var wg sync.WaitGroup
	for i := range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				seg, ok := s.claimNext()
				if !ok {
					return
				}
				claimed[i] = append(claimed[i], seg.ID)
			}
		}()
	}
	wg.Wait()

	seen := make([]bool, l.Total)
	for _, ids := range claimed {
		for _, id := range ids {
			require.False(t, seen[id], "segment %d claimed twice", id)
			seen[id] = true
		}
	}
	for id, ok := range seen {
		require.True(t, ok, "segment %d never claimed", id)
	}
	for range 3 {
		_, ok := s.claimNext()
		require.False(t, ok)
	}
}

func TestConsumerOf(t *testing.T) {
	for id := range uint64(20) {
		require.Equal(t, int(id%3), ConsumerOf(id, 3))
		require.Equal(t, 0, ConsumerOf(id, 1))
	}
}

func TestConsumerEnd(t *testing.T) {
	for _, total := range []uint64{0, 1, 2, 9, 10, 11, 12, 37} {
		for _, k := range []int{1, 2, 4, 5} {
			for c := range k {
				next := uint64(c)
				for next < total {
					next += uint64(k)
				}
				require.Equal(t, next, consumerEnd(total, c, k), "total=%d k=%d c=%d", total, k, c)
			}
		}
	}
}
