//go:build linux

package segsieve

import "golang.org/x/sys/unix"

// MADV_POPULATE_WRITE was added in Linux 5.14.
const madvPopulateWrite = 23

// prefaultRegion populates the pages of a writable mapping up front so the
// merge loop does not take a page fault every 4 KiB. Older kernels answer
// EINVAL, which is ignored.
func prefaultRegion(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, madvPopulateWrite)
}
