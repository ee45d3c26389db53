package segsieve

import (
	"encoding/binary"
	"log/slog"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Sink persists one consumer's values. Append is called with segments in
// ascending id order; a Sink is used by a single goroutine.
type Sink interface {
	// Append encodes and writes values. Any *FatalError it returns ends the
	// run; other errors abort only this consumer. The slice is reused once
	// Append returns and must not be retained.
	Append(values []uint64) error
	// Close flushes and releases the sink. For asynchronous sinks it waits
	// for every outstanding write.
	Close() error
	// Stats may be called after Close.
	Stats() SinkStats
}

// SinkStats describes what a sink wrote.
type SinkStats struct {
	Values       uint64 // values appended
	Bytes        int64  // encoded bytes handed to the file
	Digest       uint64 // xxhash64 of the encoded stream
	WriteErrors  int    // write failures absorbed (buffered sink only)
	PeakInFlight int    // async sink only
}

// SinkConfig is passed to a SinkFactory for each consumer file.
type SinkConfig struct {
	Consumer int // -1 for the prelude
	Path     string
	Format   Format
	Logger   *slog.Logger
	Observer Observer
}

// SinkFactory opens the sink for one consumer. A factory error aborts that
// consumer only.
type SinkFactory func(cfg SinkConfig) (Sink, error)

// binaryRecordSize is the width of one FormatBinary record.
const binaryRecordSize = 8

// appendRecords appends the encoding of values to dst.
func appendRecords(dst []byte, f Format, values []uint64) []byte {
	switch f {
	case FormatBinary:
		for _, v := range values {
			dst = binary.LittleEndian.AppendUint64(dst, v)
		}
	default:
		for _, v := range values {
			dst = strconv.AppendUint(dst, v, 10)
			dst = append(dst, '\n')
		}
	}
	return dst
}

// encodedSize returns an upper bound on the encoding of n values.
func encodedSize(f Format, n int) int {
	if f == FormatBinary {
		return n * binaryRecordSize
	}
	return n * 21 // 20 digits + newline
}

// streamDigest folds written bytes into the per-file xxhash64.
type streamDigest struct {
	h *xxhash.Digest
}

func newStreamDigest() streamDigest {
	return streamDigest{h: xxhash.New()}
}

func (d streamDigest) fold(b []byte) {
	if _, err := d.h.Write(b); err != nil {
		panic("hash.Hash.Write returned unexpected error: " + err.Error())
	}
}

func (d streamDigest) sum() uint64 { return d.h.Sum64() }
