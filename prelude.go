package segsieve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tamirms/segsieve/internal/sieve"
)

const (
	filePrefix  = "primes_"
	preludeName = "primes_small"
)

// PreludePath returns the path of the prelude file in dir.
func PreludePath(dir string, f Format) string {
	return filepath.Join(dir, preludeName+"."+f.Ext())
}

// ConsumerPath returns the path of consumer c's value file in dir.
func ConsumerPath(dir string, c int, f Format) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.%s", filePrefix, c, f.Ext()))
}

// preludeValues returns the primes below the first segment: 2 followed by
// every odd base prime.
func preludeValues(n uint64, base sieve.Base) []uint64 {
	if n < 2 {
		return nil
	}
	out := make([]uint64, 0, len(base)+1)
	out = append(out, 2)
	return append(out, base.Odd()...)
}

// writePrelude writes the prelude file with a buffered sink. Every failure is
// fatal: a run without its prelude is incomplete.
func writePrelude(cfg SinkConfig, values []uint64) (SinkStats, error) {
	sink, err := NewBufferedSink(cfg, DefaultFlushSize)
	if err != nil {
		return SinkStats{}, &FatalError{Consumer: -1, Op: "create", Path: cfg.Path, Err: err}
	}
	appendErr := sink.Append(values)
	closeErr := sink.Close()
	st := sink.Stats()
	if st.WriteErrors > 0 {
		return st, &FatalError{Consumer: -1, Op: "write", Path: cfg.Path,
			Err: fmt.Errorf("%d chunk writes failed", st.WriteErrors)}
	}
	if err := errors.Join(appendErr, closeErr); err != nil {
		return st, &FatalError{Consumer: -1, Op: "write", Path: cfg.Path, Err: err}
	}
	return st, nil
}

// removeStaleFiles deletes value files and the manifest a previous run left
// in dir, so a run with fewer consumers does not leave extra files behind.
func removeStaleFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		stale := name == ManifestName ||
			strings.HasPrefix(name, filePrefix) && (strings.HasSuffix(name, ".bin") || strings.HasSuffix(name, ".txt"))
		if !stale {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
