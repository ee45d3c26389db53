package segsieve

import (
	"errors"
	"fmt"

	segerrors "github.com/tamirms/segsieve/errors"
)

// FatalError is an error that invalidates the whole run. Returning one from
// a consumer cancels every worker and consumer.
type FatalError struct {
	Consumer int    // consumer index, -1 for the prelude
	Op       string // "write", "submit", "reorder", ...
	Path     string // file involved, if any
	Err      error
}

func (e *FatalError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("segsieve: consumer %d: %s %s: %v", e.Consumer, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("segsieve: consumer %d: %s: %v", e.Consumer, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ReorderError reports a consumer whose input closed before every segment
// it owns was written. Either some id below Next never arrived and later
// ids sit in Residual, which cannot be written without breaking ascending
// order, or the stream simply stopped short of End.
type ReorderError struct {
	Consumer int
	Next     uint64   // id the buffer was still waiting for
	End      uint64   // first id past the consumer's last segment
	Residual []uint64 // ids buffered behind Next, ascending
}

func (e *ReorderError) Error() string {
	if len(e.Residual) == 0 {
		return fmt.Sprintf("%v: consumer %d stopped at segment %d, expected through %d",
			segerrors.ErrMissingSegment, e.Consumer, e.Next, e.End)
	}
	return fmt.Sprintf("%v: consumer %d waiting for segment %d with %d buffered (first %d)",
		segerrors.ErrReorderResidual, e.Consumer, e.Next, len(e.Residual), e.Residual[0])
}

func (e *ReorderError) Unwrap() error {
	if len(e.Residual) == 0 {
		return segerrors.ErrMissingSegment
	}
	return segerrors.ErrReorderResidual
}

// ConsumerError reports a consumer that stopped early. The run continues
// without it; its segments are dropped.
type ConsumerError struct {
	Consumer int
	Err      error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("segsieve: consumer %d aborted: %v", e.Consumer, e.Err)
}

func (e *ConsumerError) Unwrap() []error {
	return []error{segerrors.ErrConsumerAborted, e.Err}
}

// IsFatal reports whether err ends the run rather than a single consumer.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func ioFailure(consumer int, path string, err error) *FatalError {
	return &FatalError{
		Consumer: consumer,
		Op:       "write",
		Path:     path,
		Err:      fmt.Errorf("%w: %w", segerrors.ErrIOFailed, err),
	}
}
