package segsieve

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
)

// valueWriter is the output side of Merge.
type valueWriter interface {
	write(v uint64) error
	// finish flushes, closes, and returns the final file size.
	finish() (int64, error)
	// close releases resources without finishing. Idempotent.
	close() error
}

// mmapWriter writes binary records straight into a preallocated, writable
// mapping of the output file. The record count is known up front from the
// manifest, so the file is sized once and filled sequentially.
type mmapWriter struct {
	file   *os.File
	mmap   mmap.MMap
	data   []byte
	off    int
	digest streamDigest
}

func newMmapWriter(path string, values uint64) (*mmapWriter, error) {
	size := int64(values) * binaryRecordSize
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create merge output: %w", err)
	}
	w := &mmapWriter{file: file, digest: newStreamDigest()}
	if size == 0 {
		return w, nil
	}

	// Reserve blocks first so a full disk fails here rather than with SIGBUS
	// on a store into the mapping.
	if err := fallocateFile(file, size); err != nil {
		primaryErr := fmt.Errorf("allocate merge output: %w", err)
		return nil, errors.Join(primaryErr, file.Close())
	}
	mm, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("mmap merge output: %w", err)
		return nil, errors.Join(primaryErr, file.Close())
	}
	w.mmap = mm
	w.data = []byte(mm)
	prefaultRegion(w.data)
	return w, nil
}

func (w *mmapWriter) write(v uint64) error {
	if w.off+binaryRecordSize > len(w.data) {
		return fmt.Errorf("merge output overflows %d preallocated bytes", len(w.data))
	}
	rec := w.data[w.off : w.off+binaryRecordSize]
	binary.LittleEndian.PutUint64(rec, v)
	w.digest.fold(rec)
	w.off += binaryRecordSize
	return nil
}

func (w *mmapWriter) finish() (int64, error) {
	if w.mmap != nil {
		if err := w.mmap.Flush(); err != nil {
			primaryErr := fmt.Errorf("mmap flush failed: %w", err)
			return 0, errors.Join(primaryErr, w.close())
		}
		// Unmap before truncate.
		unmapErr := w.mmap.Unmap()
		w.mmap = nil
		w.data = nil
		if unmapErr != nil {
			primaryErr := fmt.Errorf("mmap unmap failed: %w", unmapErr)
			return 0, errors.Join(primaryErr, w.close())
		}
	}
	// Shrink if fewer values arrived than the manifest announced.
	if err := w.file.Truncate(int64(w.off)); err != nil {
		primaryErr := fmt.Errorf("truncate failed: %w", err)
		return 0, errors.Join(primaryErr, w.close())
	}
	closeErr := w.file.Close()
	w.file = nil
	return int64(w.off), closeErr
}

func (w *mmapWriter) close() error {
	var unmapErr error
	if w.mmap != nil {
		unmapErr = w.mmap.Unmap()
		w.mmap = nil
		w.data = nil
	}
	var closeErr error
	if w.file != nil {
		closeErr = w.file.Close()
		w.file = nil
	}
	return errors.Join(unmapErr, closeErr)
}

// streamWriter encodes values through a buffered writer, optionally wrapped
// in a zstd encoder.
type streamWriter struct {
	file   *os.File
	zw     *zstd.Encoder
	bw     *bufio.Writer
	count  *countingWriter
	format Format
	buf    []byte
	digest streamDigest
}

func newStreamWriter(path string, f Format, compress bool) (*streamWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create merge output: %w", err)
	}
	w := &streamWriter{
		file:   file,
		count:  &countingWriter{w: file},
		format: f,
		digest: newStreamDigest(),
	}
	var dst io.Writer = w.count
	if compress {
		zw, err := zstd.NewWriter(w.count, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			primaryErr := fmt.Errorf("zstd encoder: %w", err)
			return nil, errors.Join(primaryErr, file.Close())
		}
		w.zw = zw
		dst = zw
	}
	w.bw = bufio.NewWriterSize(dst, DefaultFlushSize)
	return w, nil
}

func (w *streamWriter) write(v uint64) error {
	w.buf = appendRecords(w.buf[:0], w.format, []uint64{v})
	w.digest.fold(w.buf)
	_, err := w.bw.Write(w.buf)
	return err
}

func (w *streamWriter) finish() (int64, error) {
	if err := w.bw.Flush(); err != nil {
		return 0, errors.Join(err, w.close())
	}
	if w.zw != nil {
		err := w.zw.Close()
		w.zw = nil
		if err != nil {
			return 0, errors.Join(fmt.Errorf("zstd close: %w", err), w.close())
		}
	}
	closeErr := w.file.Close()
	w.file = nil
	return w.count.n, closeErr
}

func (w *streamWriter) close() error {
	var zerr error
	if w.zw != nil {
		zerr = w.zw.Close()
		w.zw = nil
	}
	var closeErr error
	if w.file != nil {
		closeErr = w.file.Close()
		w.file = nil
	}
	return errors.Join(zerr, closeErr)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
