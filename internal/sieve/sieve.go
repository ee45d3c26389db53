// Package sieve contains the single-threaded reference sieves, the
// trial-divisor base shared by segment workers, and the segment kernel.
package sieve

import (
	"math"

	"github.com/tamirms/segsieve/internal/bits"
)

// ISqrt returns floor(sqrt(n)) exactly for any uint64.
func ISqrt(n uint64) uint64 {
	r := uint64(math.Sqrt(float64(n)))
	// float64 rounding can be off by one in either direction near 2^64.
	for r > 0 && (r > math.MaxUint32 || r*r > n) {
		r--
	}
	for r+1 <= math.MaxUint32 && (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// Simple is the plain byte-per-number Sieve of Eratosthenes over [0, limit].
// It exists as an independent oracle for OddOnly and the segmented pipeline.
func Simple(limit uint64) []uint64 {
	if limit < 2 {
		return nil
	}
	composite := make([]bool, limit+1)
	for i := uint64(2); i*i <= limit; i++ {
		if composite[i] {
			continue
		}
		for j := i * i; j <= limit; j += i {
			composite[j] = true
		}
	}
	var primes []uint64
	for i := uint64(2); i <= limit; i++ {
		if !composite[i] {
			primes = append(primes, i)
		}
	}
	return primes
}

// OddOnly returns all primes <= limit in ascending order.
// Bit i stands for 2i+3, so memory is one bit per odd number.
func OddOnly(limit uint64) []uint64 {
	if limit < 2 {
		return nil
	}
	primes := []uint64{2}
	if limit == 2 {
		return primes
	}

	size := int((limit - 1) / 2) // odd numbers in [3, limit]
	set := bits.New(size)
	set.Fill()

	r := ISqrt(limit)
	for i := 0; uint64(2*i+3) <= r; i++ {
		if !set.Test(i) {
			continue
		}
		p := 2*i + 3
		// p*p = 2j+3  =>  j = (p*p-3)/2; consecutive odd multiples are p bits apart.
		set.ClearStride((p*p-3)/2, p)
	}
	return set.AppendOdd(primes, 3)
}

// Count returns the number of primes <= limit using OddOnly.
func Count(limit uint64) int {
	return len(OddOnly(limit))
}

// estimateSlack absorbs local clustering in short ranges.
const estimateSlack = 64

// EstimateCount returns a capacity hint for the primes in [low, high]. It
// uses the Dusart-style density 1/(ln x - 1.1) at the low end, which
// overshoots the true count for any range past the first few hundred
// integers, and never exceeds the number of odd values in the range.
func EstimateCount(low, high uint64) int {
	if high < low {
		return 0
	}
	span := high - low + 1
	odd := int(span/2 + 1)
	ln := math.Log(float64(max(low, 2)))
	if ln < 2.2 {
		return odd
	}
	return min(odd, int(float64(span)/(ln-1.1))+estimateSlack)
}
