//go:build !linux

package segsieve

// prefaultRegion is a no-op outside Linux.
func prefaultRegion(data []byte) {}
