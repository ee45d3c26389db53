package segsieve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	segerrors "github.com/tamirms/segsieve/errors"
)

const (
	// ManifestName is the run description written next to the value files.
	ManifestName = "manifest.yaml"

	manifestVersion = 1
)

// Manifest records how a run was produced and what each file must contain.
// Verify and Merge read it back instead of taking the parameters again.
type Manifest struct {
	Version         int           `yaml:"version"`
	RunID           string        `yaml:"run_id"`
	CreatedAt       time.Time     `yaml:"created_at"`
	Limit           uint64        `yaml:"limit"`
	SegmentLow      uint64        `yaml:"segment_low"`
	SegmentSize     uint64        `yaml:"segment_size"`
	Segments        uint64        `yaml:"segments"`
	Workers         int           `yaml:"workers"`
	Consumers       int           `yaml:"consumers"`
	Format          string        `yaml:"format"`
	IOMode          string        `yaml:"io_mode"`
	Total           uint64        `yaml:"total"`
	ProducerElapsed time.Duration `yaml:"producer_elapsed"`
	Elapsed         time.Duration `yaml:"elapsed"`
	Prelude         FileEntry     `yaml:"prelude"`
	Files           []FileEntry   `yaml:"files"`
}

// FileEntry describes one value file.
type FileEntry struct {
	Consumer int    `yaml:"consumer"`
	Name     string `yaml:"name"`
	Values   uint64 `yaml:"values"`
	Segments uint64 `yaml:"segments"`
	Bytes    int64  `yaml:"bytes"`
	Digest   string `yaml:"digest"` // xxhash64, 16 hex digits
	Status   string `yaml:"status"` // "ok" or "aborted"
	Error    string `yaml:"error,omitempty"`
}

// NewManifest describes res.
func NewManifest(res *Result) *Manifest {
	m := &Manifest{
		Version:         manifestVersion,
		RunID:           res.RunID,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
		Limit:           res.Layout.Limit,
		SegmentLow:      res.Layout.Low,
		SegmentSize:     res.Layout.Size,
		Segments:        res.Layout.Total,
		Workers:         res.Workers,
		Consumers:       len(res.Consumers),
		Format:          res.Format.String(),
		IOMode:          res.IOMode,
		Total:           res.Total,
		ProducerElapsed: res.ProducerElapsed,
		Elapsed:         res.Elapsed,
		Prelude:         fileEntry(res.Prelude),
	}
	for _, c := range res.Consumers {
		m.Files = append(m.Files, fileEntry(c))
	}
	return m
}

func fileEntry(c ConsumerStats) FileEntry {
	e := FileEntry{
		Consumer: c.Index,
		Name:     filepath.Base(c.Path),
		Values:   c.Values,
		Segments: c.Segments,
		Bytes:    c.Bytes,
		Digest:   formatDigest(c.Digest),
		Status:   "ok",
	}
	if c.Err != nil {
		e.Status = "aborted"
		e.Error = c.Err.Error()
	}
	return e
}

// Layout returns the segment layout the run used.
func (m *Manifest) Layout() (Layout, error) {
	return NewLayout(m.Limit, m.SegmentSize)
}

// FileFormat parses the recorded output format.
func (m *Manifest) FileFormat() (Format, error) {
	return ParseFormat(m.Format)
}

// Validate checks internal consistency.
func (m *Manifest) Validate() error {
	if m.Version != manifestVersion {
		return fmt.Errorf("%w: version %d", segerrors.ErrManifest, m.Version)
	}
	if _, err := m.FileFormat(); err != nil {
		return fmt.Errorf("%w: %w", segerrors.ErrManifest, err)
	}
	l, err := m.Layout()
	if err != nil {
		return fmt.Errorf("%w: %w", segerrors.ErrManifest, err)
	}
	if l.Low != m.SegmentLow || l.Total != m.Segments {
		return fmt.Errorf("%w: layout does not match limit %d", segerrors.ErrManifest, m.Limit)
	}
	if m.Consumers < 1 || len(m.Files) != m.Consumers {
		return fmt.Errorf("%w: %d files for %d consumers", segerrors.ErrManifest, len(m.Files), m.Consumers)
	}
	total := m.Prelude.Values
	for i, f := range m.Files {
		if f.Consumer != i {
			return fmt.Errorf("%w: file %d lists consumer %d", segerrors.ErrManifest, i, f.Consumer)
		}
		if _, err := parseDigest(f.Digest); err != nil {
			return fmt.Errorf("%w: %s: %w", segerrors.ErrManifest, f.Name, err)
		}
		total += f.Values
	}
	if total != m.Total {
		return fmt.Errorf("%w: files hold %d values, total says %d", segerrors.ErrManifest, total, m.Total)
	}
	return nil
}

// WriteManifest writes m to dir/manifest.yaml through a temporary file and
// rename, so readers never see a partial manifest.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("rename manifest: %w", err), os.Remove(tmp))
	}
	return nil
}

// ReadManifest loads and validates dir/manifest.yaml.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", segerrors.ErrManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func formatDigest(d uint64) string {
	return fmt.Sprintf("%016x", d)
}

func parseDigest(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}
