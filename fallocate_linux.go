//go:build linux

package segsieve

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes for a merged output file before it is
// mapped, so running out of disk fails here instead of raising SIGBUS on a
// store into the mapping.
func fallocateFile(file *os.File, size int64) error {
	if err := unix.Fallocate(int(file.Fd()), 0, 0, size); err != nil {
		// Some filesystems (NFS, tmpfs on old kernels) reject fallocate.
		return unix.Ftruncate(int(file.Fd()), size)
	}
	// fallocate with mode 0 extends the size too, but truncate keeps the
	// length exact if the file already existed and was longer.
	return unix.Ftruncate(int(file.Fd()), size)
}
