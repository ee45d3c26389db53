// Package reorder releases items that arrive out of order strictly in
// increasing id order.
//
// A Buffer tracks one arithmetic progression of ids: first, first+stride,
// first+2*stride, ... Items for other ids are rejected. The buffer is owned
// by a single goroutine and is not safe for concurrent use.
package reorder

import (
	"fmt"
	"maps"
	"slices"

	segerrors "github.com/tamirms/segsieve/errors"
)

// Buffer holds out-of-order items until every lower id has been released.
type Buffer[T any] struct {
	next    uint64
	stride  uint64
	pending map[uint64]T
	peak    int
}

// New returns a Buffer expecting first, then first+stride, and so on.
// A stride of 0 is treated as 1.
func New[T any](first, stride uint64) *Buffer[T] {
	if stride == 0 {
		stride = 1
	}
	return &Buffer[T]{
		next:    first,
		stride:  stride,
		pending: make(map[uint64]T),
	}
}

// Push stores v under id. It fails for ids that were already released, that
// are already buffered, or that are not on this buffer's progression.
func (b *Buffer[T]) Push(id uint64, v T) error {
	if id < b.next {
		return fmt.Errorf("%w: id %d, next expected %d", segerrors.ErrStaleID, id, b.next)
	}
	if (id-b.next)%b.stride != 0 {
		return fmt.Errorf("%w: id %d is not on stride %d from %d", segerrors.ErrStaleID, id, b.stride, b.next)
	}
	if _, ok := b.pending[id]; ok {
		return fmt.Errorf("%w: id %d", segerrors.ErrDuplicateID, id)
	}
	b.pending[id] = v
	if len(b.pending) > b.peak {
		b.peak = len(b.pending)
	}
	return nil
}

// Pop removes and returns the item for the next expected id, advancing the
// cursor by one stride. It returns false when that item has not arrived.
func (b *Buffer[T]) Pop() (uint64, T, bool) {
	v, ok := b.pending[b.next]
	if !ok {
		var zero T
		return 0, zero, false
	}
	id := b.next
	delete(b.pending, id)
	b.next += b.stride
	return id, v, true
}

// Next returns the id the buffer is waiting for.
func (b *Buffer[T]) Next() uint64 { return b.next }

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int { return len(b.pending) }

// Peak returns the largest Len observed.
func (b *Buffer[T]) Peak() int { return b.peak }

// Residual returns the ids still buffered, ascending. A non-empty residual
// after the producer side is finished means an id was lost or duplicated
// upstream.
func (b *Buffer[T]) Residual() []uint64 {
	return slices.Sorted(maps.Keys(b.pending))
}
