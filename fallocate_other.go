//go:build !linux && !darwin

package segsieve

import "os"

// fallocateFile sets the file length. Blocks are not reserved on these
// platforms.
func fallocateFile(file *os.File, size int64) error {
	return file.Truncate(size)
}
