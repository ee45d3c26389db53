package segsieve

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	segerrors "github.com/tamirms/segsieve/errors"
)

// mergeCheckInterval is how often Merge checks for cancellation.
const mergeCheckInterval = 1 << 16

// MergeOption configures Merge.
type MergeOption func(*mergeConfig)

type mergeConfig struct {
	format    *Format
	compress  bool
	allowPart bool
}

// WithMergeFormat sets the output encoding. Default is the run's format.
func WithMergeFormat(f Format) MergeOption {
	return func(c *mergeConfig) {
		c.format = &f
	}
}

// WithCompression writes the merged stream through a zstd encoder.
func WithCompression() MergeOption {
	return func(c *mergeConfig) {
		c.compress = true
	}
}

// WithPartial merges the files of a run in which some consumers aborted.
// Without it such runs are rejected.
func WithPartial() MergeOption {
	return func(c *mergeConfig) {
		c.allowPart = true
	}
}

// MergeResult describes the merged file.
type MergeResult struct {
	Path   string
	Format Format
	Values uint64
	Bytes  int64
	Digest uint64 // xxhash64 of the uncompressed encoding
}

// Merge combines the prelude and every consumer file of the run in dir into
// one strictly ascending file at out. Consumer files hold interleaved
// segment ranges, so a k-way merge is needed rather than concatenation.
//
// Uncompressed binary output is preallocated and filled through a writable
// memory mapping; other outputs stream through a buffered writer.
func Merge(ctx context.Context, dir, out string, opts ...MergeOption) (*MergeResult, error) {
	cfg := mergeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	inFormat, err := m.FileFormat()
	if err != nil {
		return nil, err
	}
	outFormat := inFormat
	if cfg.format != nil {
		outFormat = *cfg.format
	}

	entries := append([]FileEntry{m.Prelude}, m.Files...)
	var expected uint64
	var sources []*ValueReader
	defer func() {
		for _, r := range sources {
			r.Close()
		}
	}()
	for _, e := range entries {
		if e.Status != "ok" {
			if !cfg.allowPart {
				return nil, fmt.Errorf("%w: %s: %s", segerrors.ErrConsumerAborted, e.Name, e.Error)
			}
			continue
		}
		r, err := OpenValues(filepath.Join(dir, e.Name), inFormat)
		if err != nil {
			return nil, err
		}
		sources = append(sources, r)
		expected += e.Values
	}

	var w valueWriter
	if outFormat == FormatBinary && !cfg.compress {
		w, err = newMmapWriter(out, expected)
	} else {
		w, err = newStreamWriter(out, outFormat, cfg.compress)
	}
	if err != nil {
		return nil, err
	}

	n, err := mergeInto(ctx, w, sources)
	if err != nil {
		return nil, errors.Join(err, w.close())
	}
	size, err := w.finish()
	if err != nil {
		return nil, err
	}
	if n != expected {
		return nil, fmt.Errorf("%w: merged %d values, manifest lists %d", segerrors.ErrCountMismatch, n, expected)
	}

	res := &MergeResult{Path: out, Format: outFormat, Values: n, Bytes: size}
	switch ww := w.(type) {
	case *mmapWriter:
		res.Digest = ww.digest.sum()
	case *streamWriter:
		res.Digest = ww.digest.sum()
	}
	return res, nil
}

// mergeInto drains sources in ascending order into w. It fails on any
// value not strictly greater than its predecessor, since the inputs are
// disjoint by construction.
func mergeInto(ctx context.Context, w valueWriter, sources []*ValueReader) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h := make(valueHeap, 0, len(sources))
	for _, r := range sources {
		if r.Next() {
			h = append(h, r)
		} else if err := r.Err(); err != nil {
			return 0, err
		}
	}
	heap.Init(&h)

	var n, last uint64
	for len(h) > 0 {
		r := h[0]
		v := r.Value()
		if n > 0 && v <= last {
			return n, fmt.Errorf("%w: %d after %d in %s", segerrors.ErrUnsortedOutput, v, last, r.path)
		}
		if err := w.write(v); err != nil {
			return n, err
		}
		last = v
		n++
		if n%mergeCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}

		if r.Next() {
			heap.Fix(&h, 0)
		} else {
			if err := r.Err(); err != nil {
				return n, err
			}
			heap.Pop(&h)
		}
	}
	return n, nil
}

// valueHeap orders readers by their current value.
type valueHeap []*ValueReader

func (h valueHeap) Len() int           { return len(h) }
func (h valueHeap) Less(i, j int) bool { return h[i].Value() < h[j].Value() }
func (h valueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *valueHeap) Push(x any)        { *h = append(*h, x.(*ValueReader)) }
func (h *valueHeap) Pop() any {
	old := *h
	r := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return r
}
