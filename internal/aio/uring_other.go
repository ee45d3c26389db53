//go:build !linux

package aio

import (
	"fmt"
	"os"

	segerrors "github.com/tamirms/segsieve/errors"
)

// newURing is unavailable outside Linux; BackendAuto falls back to the pool.
func newURing(_ *os.File, _ int) (Queue, error) {
	return nil, fmt.Errorf("%w: io_uring requires linux", segerrors.ErrUnsupported)
}
