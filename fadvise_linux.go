//go:build linux

package segsieve

import "golang.org/x/sys/unix"

// fadviseSequential tells the kernel a value file is about to be read front
// to back, so readahead can run ahead of the merge or verify scan.
// Best-effort: errors are ignored.
func fadviseSequential(fd int, offset, length int64) {
	_ = unix.Fadvise(fd, offset, length, unix.FADV_SEQUENTIAL)
}
