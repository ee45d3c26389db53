//go:build darwin

package segsieve

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes with F_PREALLOCATE and sets the length.
func fallocateFile(file *os.File, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Length:  size,
	}
	// On failure fall through to a plain truncate; space is then allocated
	// lazily as pages are written.
	_ = unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst)
	return unix.Ftruncate(int(file.Fd()), size)
}
