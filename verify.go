package segsieve

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/zeebo/xxh3"

	segerrors "github.com/tamirms/segsieve/errors"
	"github.com/tamirms/segsieve/internal/sieve"
)

// DefaultReferenceLimit bounds the runs Verify compares against a fresh
// reference sieve. The odd-only reference needs N/16 bytes of bitset plus
// the prime list itself.
const DefaultReferenceLimit = 1 << 30

// VerifyOption configures Verify.
type VerifyOption func(*verifyConfig)

type verifyConfig struct {
	referenceLimit uint64
}

// WithReferenceLimit sets the largest N for which Verify rebuilds the
// reference prime list. Zero disables the comparison.
func WithReferenceLimit(n uint64) VerifyOption {
	return func(c *verifyConfig) {
		c.referenceLimit = n
	}
}

// FileReport is the outcome of checking one value file.
type FileReport struct {
	Name     string
	Consumer int // -1 for the prelude
	Values   uint64
	Digest   uint64
	Err      error
}

// VerifyReport summarizes a Verify pass.
type VerifyReport struct {
	RunID       string
	Limit       uint64
	Files       []FileReport
	Total       uint64
	Complete    bool   // every consumer finished
	Reference   bool   // the union was compared with a reference sieve
	Expected    uint64 // reference prime count, when Reference is set
	Fingerprint uint64 // xxh3 of the union as little-endian uint64s
}

// Verify checks the run in dir against its manifest:
//
//   - every file's digest and value count match the manifest,
//   - every file is strictly ascending,
//   - every value sits in the file that owns its segment,
//   - the union of all files equals a reference sieve (for N up to the
//     reference limit).
//
// It returns the report and the errors found, joined. Files of aborted
// consumers are not read; each adds an error wrapping ErrConsumerAborted,
// so an incomplete run never verifies.
func Verify(ctx context.Context, dir string, opts ...VerifyOption) (*VerifyReport, error) {
	cfg := verifyConfig{referenceLimit: DefaultReferenceLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	layout, err := m.Layout()
	if err != nil {
		return nil, err
	}
	format, err := m.FileFormat()
	if err != nil {
		return nil, err
	}

	rep := &VerifyReport{RunID: m.RunID, Limit: m.Limit, Complete: true}
	var errs []error
	var sources []*ValueReader
	defer func() {
		for _, r := range sources {
			r.Close()
		}
	}()

	for _, e := range append([]FileEntry{m.Prelude}, m.Files...) {
		if e.Status != "ok" {
			rep.Complete = false
			fr := FileReport{Name: e.Name, Consumer: e.Consumer,
				Err: fmt.Errorf("%w: %s: %s", segerrors.ErrConsumerAborted, e.Name, e.Error)}
			rep.Files = append(rep.Files, fr)
			errs = append(errs, fr.Err)
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		fr := checkFile(filepath.Join(dir, e.Name), format, e, layout, m.Consumers)
		rep.Files = append(rep.Files, fr)
		rep.Total += fr.Values
		if fr.Err != nil {
			errs = append(errs, fr.Err)
			continue
		}
		r, err := OpenValues(filepath.Join(dir, e.Name), format)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sources = append(sources, r)
	}

	if len(errs) > 0 {
		return rep, errors.Join(errs...)
	}

	cmp := &referenceWriter{fp: xxh3.New()}
	if cfg.referenceLimit > 0 && m.Limit <= cfg.referenceLimit {
		cmp.ref = sieve.OddOnly(m.Limit)
		cmp.check = true
		rep.Reference = true
		rep.Expected = uint64(len(cmp.ref))
	}
	if _, err := mergeInto(ctx, cmp, sources); err != nil {
		return rep, err
	}
	_, err = cmp.finish()
	rep.Fingerprint = cmp.fp.Sum64()
	return rep, err
}

// checkFile verifies one file's digest, order, count and routing.
func checkFile(path string, f Format, e FileEntry, layout Layout, consumers int) FileReport {
	fr := FileReport{Name: e.Name, Consumer: e.Consumer}
	want, _ := parseDigest(e.Digest)
	got, err := FileDigest(path)
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Digest = got
	if got != want {
		fr.Err = fmt.Errorf("%w: %s has %016x, manifest %016x", segerrors.ErrDigestMismatch, e.Name, got, want)
		return fr
	}

	r, err := OpenValues(path, f)
	if err != nil {
		fr.Err = err
		return fr
	}
	defer r.Close()

	var last uint64
	for r.Next() {
		v := r.Value()
		if fr.Values > 0 && v <= last {
			fr.Err = fmt.Errorf("%w: %s: %d after %d", segerrors.ErrUnsortedOutput, e.Name, v, last)
			return fr
		}
		if err := checkRouting(v, e.Consumer, layout, consumers); err != nil {
			fr.Err = fmt.Errorf("%s: %w", e.Name, err)
			return fr
		}
		last = v
		fr.Values++
	}
	if err := r.Err(); err != nil {
		fr.Err = err
		return fr
	}
	if fr.Values != e.Values {
		fr.Err = fmt.Errorf("%w: %s has %d values, manifest %d", segerrors.ErrCountMismatch, e.Name, fr.Values, e.Values)
	}
	return fr
}

// checkRouting reports whether v belongs in consumer's file.
func checkRouting(v uint64, consumer int, layout Layout, consumers int) error {
	id, inRange := layout.SegmentOf(v)
	switch {
	case consumer < 0 && inRange:
		return fmt.Errorf("%w: %d is above the prelude range", segerrors.ErrMisrouted, v)
	case consumer < 0:
		return nil
	case !inRange:
		return fmt.Errorf("%w: %d is outside the segmented range", segerrors.ErrMisrouted, v)
	case ConsumerOf(id, consumers) != consumer:
		return fmt.Errorf("%w: %d is in segment %d, owned by consumer %d", segerrors.ErrMisrouted, v, id, ConsumerOf(id, consumers))
	}
	return nil
}

// referenceWriter consumes the merged union, compares it with the reference
// list, and fingerprints it.
type referenceWriter struct {
	ref   []uint64
	i     int
	check bool
	fp    *xxh3.Hasher
	rec   [8]byte
}

func (w *referenceWriter) write(v uint64) error {
	binary.LittleEndian.PutUint64(w.rec[:], v)
	_, _ = w.fp.Write(w.rec[:])
	if !w.check {
		return nil
	}
	if w.i < len(w.ref) && w.ref[w.i] < v {
		return fmt.Errorf("%w: %d", segerrors.ErrMissingValue, w.ref[w.i])
	}
	if w.i >= len(w.ref) || w.ref[w.i] > v {
		return fmt.Errorf("%w: %d", segerrors.ErrUnexpectedValue, v)
	}
	w.i++
	return nil
}

func (w *referenceWriter) finish() (int64, error) {
	if w.check && w.i < len(w.ref) {
		return 0, fmt.Errorf("%w: %d (and %d more)", segerrors.ErrMissingValue, w.ref[w.i], len(w.ref)-w.i-1)
	}
	return int64(w.i), nil
}

func (w *referenceWriter) close() error { return nil }
