package sieve

import "github.com/tamirms/segsieve/internal/bits"

// Base is the trial-divisor base: every prime <= floor(sqrt(n)), ascending.
// It is built once and then only read, so it can be shared by any number of
// workers without synchronization.
type Base []uint64

// NewBase builds the trial-divisor base for the limit n.
func NewBase(n uint64) Base {
	if n < 4 {
		return Base{}
	}
	return Base(OddOnly(ISqrt(n)))
}

// Odd returns the base without the prime 2.
func (b Base) Odd() []uint64 {
	if len(b) > 0 && b[0] == 2 {
		return b[1:]
	}
	return b
}

// Segmenter runs the odd-only segment kernel. Each worker owns one
// Segmenter; its bitset is reused across segments.
type Segmenter struct {
	divisors []uint64 // odd base primes, shared read-only
	set      *bits.Bitset
}

// NewSegmenter returns a kernel for segments of up to span numbers.
func NewSegmenter(base Base, span uint64) *Segmenter {
	return &Segmenter{
		divisors: base.Odd(),
		set:      bits.New(int(span / 2)),
	}
}

// Sieve appends every prime in [low, high] to dst. low must be odd and must
// exceed the largest divisor, which holds for every segment above sqrt(N).
func (s *Segmenter) Sieve(dst []uint64, low, high uint64) []uint64 {
	if high < low {
		return dst
	}
	n := int((high-low)/2) + 1
	s.set.Resize(n)
	s.set.Fill()

	for _, p := range s.divisors {
		// Beyond sqrt(high) a divisor has no composite multiple in range
		// that a smaller divisor has not already cleared.
		if p*p > high {
			break
		}
		start := firstOddMultiple(p, low)
		if start > high {
			continue
		}
		// Odd multiples are 2p apart, which is p bit positions.
		s.set.ClearStride(int((start-low)/2), int(p))
	}
	return s.set.AppendOdd(dst, low)
}

// firstOddMultiple returns the smallest odd multiple of the odd p that is >= low.
func firstOddMultiple(p, low uint64) uint64 {
	m := (low + p - 1) / p * p
	if m%2 == 0 {
		m += p
	}
	return m
}
