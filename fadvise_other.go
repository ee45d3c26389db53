//go:build !linux

package segsieve

// fadviseSequential is a no-op outside Linux.
func fadviseSequential(fd int, offset, length int64) {}
