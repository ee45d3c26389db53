package segsieve

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	segerrors "github.com/tamirms/segsieve/errors"
)

// ValueReader iterates over the values of one output file.
//
// Binary files are memory-mapped and decoded in place; the file descriptor is
// closed as soon as the mapping exists. Text files are scanned line by line.
//
//	r, err := segsieve.OpenValues(path, segsieve.FormatBinary)
//	if err != nil { return err }
//	defer r.Close()
//	for r.Next() {
//	    use(r.Value())
//	}
//	return r.Err()
type ValueReader struct {
	path   string
	format Format

	// binary
	mmap mmap.MMap
	data []byte
	pos  int

	// text
	file *os.File
	scan *bufio.Scanner
	line int

	cur uint64
	err error
}

// OpenValues opens path for reading values in format f.
func OpenValues(path string, f Format) (*ValueReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open value file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat value file: %w", err)
	}
	size := stat.Size()
	fadviseSequential(int(file.Fd()), 0, size)

	r := &ValueReader{path: path, format: f}
	if f != FormatBinary {
		r.file = file
		r.scan = bufio.NewScanner(file)
		return r, nil
	}

	defer file.Close()
	if size%binaryRecordSize != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes", segerrors.ErrTruncatedFile, path, size)
	}
	if size == 0 {
		return r, nil
	}
	mm, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap value file: %w", err)
	}
	r.mmap = mm
	r.data = []byte(mm)
	return r, nil
}

// Next advances to the next value. It returns false at the end of the file
// or on error.
func (r *ValueReader) Next() bool {
	if r.err != nil {
		return false
	}
	if r.format == FormatBinary {
		if r.pos+binaryRecordSize > len(r.data) {
			return false
		}
		r.cur = binary.LittleEndian.Uint64(r.data[r.pos:])
		r.pos += binaryRecordSize
		return true
	}
	if r.scan == nil || !r.scan.Scan() {
		if r.scan != nil {
			r.err = r.scan.Err()
		}
		return false
	}
	r.line++
	v, err := strconv.ParseUint(string(r.scan.Bytes()), 10, 64)
	if err != nil {
		r.err = fmt.Errorf("%s:%d: %w", r.path, r.line, err)
		return false
	}
	r.cur = v
	return true
}

// Value returns the current value.
func (r *ValueReader) Value() uint64 { return r.cur }

// Err returns the first error met by Next.
func (r *ValueReader) Err() error { return r.err }

// Count returns the number of values in a binary file without reading them.
// It returns false for text files.
func (r *ValueReader) Count() (uint64, bool) {
	if r.format != FormatBinary {
		return 0, false
	}
	return uint64(len(r.data) / binaryRecordSize), true
}

// All returns an iterator over the remaining values. Check Err afterwards.
func (r *ValueReader) All() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		for r.Next() {
			if !yield(r.Value()) {
				return
			}
		}
	}
}

// Close releases the mapping or file.
func (r *ValueReader) Close() error {
	var err error
	if r.mmap != nil {
		err = r.mmap.Unmap()
		r.mmap = nil
		r.data = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
		r.file = nil
		r.scan = nil
	}
	return err
}

// ReadValues returns every value in path.
func ReadValues(path string, f Format) ([]uint64, error) {
	r, err := OpenValues(path, f)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []uint64
	if n, ok := r.Count(); ok {
		out = make([]uint64, 0, n)
	}
	for v := range r.All() {
		out = append(out, v)
	}
	return out, r.Err()
}

// FileDigest returns the xxhash64 of a file's bytes, the same digest the
// sinks record while writing.
func FileDigest(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil {
		fadviseSequential(int(f.Fd()), 0, st.Size())
	}
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return h.Sum64(), nil
}
