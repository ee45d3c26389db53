// Package bits provides the odd-only bitset used by the segment sieve kernel.
//
// Bit i of a Bitset that starts at an odd value low stands for the number
// low + 2*i. Even numbers are never represented.
package bits

import "math/bits"

// wordBits is the number of candidates tracked by one word.
const wordBits = 64

// Bitset is a fixed-length set of bits packed into 64-bit words.
type Bitset struct {
	words []uint64
	n     int // number of valid bits
}

// New returns a Bitset with room for n bits, all cleared.
func New(n int) *Bitset {
	return &Bitset{words: make([]uint64, WordsFor(n)), n: n}
}

// WordsFor returns the number of words needed to hold n bits.
func WordsFor(n int) int {
	return (n + wordBits - 1) / wordBits
}

// Len returns the number of valid bits.
func (b *Bitset) Len() int { return b.n }

// Words exposes the backing words. Bits past Len are always zero.
func (b *Bitset) Words() []uint64 { return b.words }

// Resize changes the number of valid bits, reusing the backing array when it
// is large enough. Contents are unspecified until Fill is called.
func (b *Bitset) Resize(n int) {
	w := WordsFor(n)
	if cap(b.words) < w {
		b.words = make([]uint64, w)
	} else {
		b.words = b.words[:w]
	}
	b.n = n
}

// Fill sets every valid bit and clears the tail of the last word.
func (b *Bitset) Fill() {
	for i := range b.words {
		b.words[i] = ^uint64(0)
	}
	if tail := b.n % wordBits; tail != 0 {
		b.words[len(b.words)-1] = (uint64(1) << tail) - 1
	}
}

// Clear unsets bit i.
func (b *Bitset) Clear(i int) {
	b.words[i/wordBits] &^= uint64(1) << (i % wordBits)
}

// Test reports whether bit i is set.
func (b *Bitset) Test(i int) bool {
	return b.words[i/wordBits]&(uint64(1)<<(i%wordBits)) != 0
}

// ClearStride unsets bits start, start+step, start+2*step, ... below Len.
func (b *Bitset) ClearStride(start, step int) {
	words := b.words
	for i := start; i < b.n; i += step {
		words[i>>6] &^= uint64(1) << (i & 63)
	}
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	c := 0
	for _, w := range b.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// AppendOdd appends low+2*i for every set bit i, in ascending order, using
// lowest-set-bit iteration over each word.
func (b *Bitset) AppendOdd(dst []uint64, low uint64) []uint64 {
	for wi, w := range b.words {
		base := low + uint64(wi)*2*wordBits
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			dst = append(dst, base+uint64(tz)*2)
			w &= w - 1
		}
	}
	return dst
}
