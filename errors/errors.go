// Package errors defines all exported error sentinels for the segsieve library.
//
// This is the single source of truth for error values. Both the top-level
// segsieve package and internal packages import from here, ensuring
// errors.Is checks work across package boundaries.
package errors

import "errors"

// Configuration errors
var (
	ErrLimitTooLarge          = errors.New("segsieve: limit exceeds maximum (2^62)")
	ErrInvalidSegmentSize     = errors.New("segsieve: segment size must be a positive multiple of 128")
	ErrInvalidWorkers         = errors.New("segsieve: worker count must be at least 1")
	ErrInvalidConsumers       = errors.New("segsieve: consumer count must be at least 1")
	ErrInvalidChannelCapacity = errors.New("segsieve: channel capacity must be at least 1")
	ErrInvalidMaxInFlight     = errors.New("segsieve: max in-flight must be between 1 and the completion queue size")
	ErrInvalidFormat          = errors.New("segsieve: unknown output format")
	ErrUnsupported            = errors.New("segsieve: operation not supported on this platform")
)

// Pipeline errors
var (
	ErrConsumerAborted = errors.New("segsieve: consumer aborted")
	ErrIOFailed        = errors.New("segsieve: asynchronous write failed")
	ErrShortWrite      = errors.New("segsieve: short write")
	ErrReorderResidual = errors.New("segsieve: reorder buffer not empty after stream closed")
	ErrMissingSegment  = errors.New("segsieve: segment never delivered")
	ErrStaleID         = errors.New("segsieve: segment id already released")
	ErrDuplicateID     = errors.New("segsieve: duplicate segment id")
	ErrQueueClosed     = errors.New("segsieve: submission queue is closed")
	ErrQueueFull       = errors.New("segsieve: submission queue is full")
)

// Output verification errors
var (
	ErrUnsortedOutput  = errors.New("segsieve: output values are not strictly ascending")
	ErrCountMismatch   = errors.New("segsieve: value count mismatch")
	ErrDigestMismatch  = errors.New("segsieve: file digest mismatch")
	ErrMissingValue    = errors.New("segsieve: expected value missing from output")
	ErrUnexpectedValue = errors.New("segsieve: unexpected value in output")
	ErrMisrouted       = errors.New("segsieve: value found in the wrong consumer file")
	ErrTruncatedFile   = errors.New("segsieve: value file is truncated")
	ErrManifest        = errors.New("segsieve: invalid run manifest")
)
