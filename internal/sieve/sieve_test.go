package sieve

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestISqrt(t *testing.T) {
	cases := []struct {
		n, want uint64
	}{
		{0, 0}, {1, 1}, {3, 1}, {4, 2}, {24, 4}, {25, 5}, {30, 5},
		{999_999, 999}, {1_000_000, 1000},
		{math.MaxUint32, 65535},
		{uint64(math.MaxUint32) * uint64(math.MaxUint32), math.MaxUint32},
		{math.MaxUint64, math.MaxUint32},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ISqrt(tc.n), "ISqrt(%d)", tc.n)
	}
}

func TestReferenceSievesAgree(t *testing.T) {
	for _, limit := range []uint64{0, 1, 2, 3, 4, 5, 10, 30, 97, 100, 1000, 65_537, 200_000} {
		require.Equal(t, Simple(limit), OddOnly(limit), "limit=%d", limit)
	}
}

func TestKnownCounts(t *testing.T) {
	require.Equal(t, []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}, OddOnly(30))
	require.Equal(t, 168, Count(1000))
	require.Equal(t, 78_498, Count(1_000_000))
}

func TestNewBase(t *testing.T) {
	require.Empty(t, NewBase(0))
	require.Empty(t, NewBase(3))
	require.Equal(t, Base{2}, NewBase(4))
	require.Equal(t, Base{2, 3, 5}, NewBase(30))
	require.Equal(t, []uint64{3, 5}, NewBase(30).Odd())
	require.Equal(t, 168, len(NewBase(1_000_000)))
}

// TestSegmenterMatchesReference tiles a range with segments of several sizes
// and compares the concatenation against the reference sieve.
func TestSegmenterMatchesReference(t *testing.T) {
	const limit = 300_007
	ref := OddOnly(limit)
	r := ISqrt(limit)
	low0 := (r + 1) | 1

	var want []uint64
	for _, p := range ref {
		if p >= low0 {
			want = append(want, p)
		}
	}

	for _, span := range []uint64{128, 1024, 4096, 1 << 16} {
		seg := NewSegmenter(NewBase(limit), span)
		var got []uint64
		for low := low0; low <= limit; low += span {
			high := min(low+span-1, limit)
			got = seg.Sieve(got, low, high)
		}
		require.Equal(t, want, got, "span=%d", span)
	}
}

func TestSegmenterSingleValueRange(t *testing.T) {
	seg := NewSegmenter(NewBase(3), 128)
	require.Equal(t, []uint64{3}, seg.Sieve(nil, 3, 3))
	require.Empty(t, seg.Sieve(nil, 5, 3))
}

func TestFirstOddMultiple(t *testing.T) {
	require.Equal(t, uint64(9), firstOddMultiple(3, 7))
	require.Equal(t, uint64(9), firstOddMultiple(3, 9))
	require.Equal(t, uint64(15), firstOddMultiple(5, 11))
	require.Equal(t, uint64(21), firstOddMultiple(7, 15))
}

func TestSegmenterOutputAscending(t *testing.T) {
	seg := NewSegmenter(NewBase(1_000_000), 1<<15)
	vals := seg.Sieve(nil, 1001, 1001+(1<<15)-1)
	require.True(t, slices.IsSorted(vals))
	for i := 1; i < len(vals); i++ {
		require.Less(t, vals[i-1], vals[i])
	}
}

func TestEstimateCountCoversSegments(t *testing.T) {
	const limit = 2_000_000
	low0 := (ISqrt(limit) + 1) | 1
	for _, span := range []uint64{128, 4096, 1 << 16} {
		seg := NewSegmenter(NewBase(limit), span)
		for low := low0; low <= limit; low += span {
			high := min(low+span-1, limit)
			got := len(seg.Sieve(nil, low, high))
			require.LessOrEqual(t, got, EstimateCount(low, high), "span=%d low=%d", span, low)
		}
	}
}

func TestEstimateCountBounds(t *testing.T) {
	require.Zero(t, EstimateCount(10, 9))
	require.Equal(t, 3, EstimateCount(3, 7), "small ranges fall back to the odd count")
	// Near 1e9 the hint is well below one slot in eight.
	low := uint64(1_000_000_001)
	require.Less(t, EstimateCount(low, low+(1<<18)-1), (1<<18)/8)
}
