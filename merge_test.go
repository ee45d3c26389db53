package segsieve

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	segerrors "github.com/tamirms/segsieve/errors"
	"github.com/tamirms/segsieve/internal/sieve"
)

const mergeLimit = 600_000

func runForMerge(t *testing.T, format Format) string {
	t.Helper()
	dir := t.TempDir()
	_, err := Run(context.Background(), dir, mergeLimit,
		WithWorkers(4), WithConsumers(3), WithFormat(format), WithSegmentSize(smallSegments))
	require.NoError(t, err)
	return dir
}

func TestMergeBinary(t *testing.T) {
	dir := runForMerge(t, FormatBinary)
	out := filepath.Join(t.TempDir(), "all.bin")
	res, err := Merge(context.Background(), dir, out)
	require.NoError(t, err)
	require.Equal(t, FormatBinary, res.Format)

	want := sieve.OddOnly(mergeLimit)
	require.Equal(t, uint64(len(want)), res.Values)
	require.Equal(t, int64(len(want)*8), res.Bytes)

	got, err := ReadValues(out, FormatBinary)
	require.NoError(t, err)
	require.Equal(t, want, got)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, raw, int(res.Bytes), "preallocation must be trimmed")
	require.Equal(t, xxhash.Sum64(raw), res.Digest)
}

func TestMergeConvertsFormat(t *testing.T) {
	dir := runForMerge(t, FormatBinary)
	out := filepath.Join(t.TempDir(), "all.txt")
	res, err := Merge(context.Background(), dir, out, WithMergeFormat(FormatText))
	require.NoError(t, err)

	got, err := ReadValues(out, FormatText)
	require.NoError(t, err)
	require.Equal(t, sieve.OddOnly(mergeLimit), got)
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, xxhash.Sum64(raw), res.Digest)
}

func TestMergeCompressed(t *testing.T) {
	for _, format := range []Format{FormatText, FormatBinary} {
		t.Run(format.String(), func(t *testing.T) {
			dir := runForMerge(t, format)
			plain := filepath.Join(t.TempDir(), "plain."+format.Ext())
			_, err := Merge(context.Background(), dir, plain)
			require.NoError(t, err)
			packed := filepath.Join(t.TempDir(), "packed.zst")
			res, err := Merge(context.Background(), dir, packed, WithCompression())
			require.NoError(t, err)

			want, err := os.ReadFile(plain)
			require.NoError(t, err)
			compressed, err := os.ReadFile(packed)
			require.NoError(t, err)
			require.Equal(t, int64(len(compressed)), res.Bytes)
			require.Less(t, len(compressed), len(want))

			dec, err := zstd.NewReader(nil)
			require.NoError(t, err)
			defer dec.Close()
			got, err := dec.DecodeAll(compressed, nil)
			require.NoError(t, err)
			require.True(t, bytes.Equal(want, got))
			require.Equal(t, xxhash.Sum64(want), res.Digest, "digest covers the uncompressed stream")
		})
	}
}

func TestMergeEmptyRun(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), dir, 1, WithConsumers(2))
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "all.bin")
	res, err := Merge(context.Background(), dir, out)
	require.NoError(t, err)
	require.Zero(t, res.Values)
	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestMergeHonoursCancel(t *testing.T) {
	dir := runForMerge(t, FormatBinary)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Merge(ctx, dir, filepath.Join(t.TempDir(), "all.txt"), WithMergeFormat(FormatText))
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerifyCleanRun(t *testing.T) {
	for _, format := range []Format{FormatText, FormatBinary} {
		t.Run(format.String(), func(t *testing.T) {
			dir := runForMerge(t, format)
			rep, err := Verify(context.Background(), dir)
			require.NoError(t, err)
			require.True(t, rep.Complete)
			require.True(t, rep.Reference)
			require.Equal(t, rep.Expected, rep.Total)
			require.Len(t, rep.Files, 4)
			require.Equal(t, -1, rep.Files[0].Consumer)
			require.NotZero(t, rep.Fingerprint)
		})
	}
}

// TestVerifyFingerprintIgnoresLayout checks runs with different consumer
// counts and formats share the union fingerprint.
func TestVerifyFingerprintIgnoresLayout(t *testing.T) {
	dirA := t.TempDir()
	_, err := Run(context.Background(), dirA, 200_000, WithConsumers(1), WithFormat(FormatText))
	require.NoError(t, err)
	dirB := t.TempDir()
	_, err = Run(context.Background(), dirB, 200_000, WithConsumers(5), WithSegmentSize(smallSegments))
	require.NoError(t, err)

	a, err := Verify(context.Background(), dirA, WithReferenceLimit(0))
	require.NoError(t, err)
	require.False(t, a.Reference)
	b, err := Verify(context.Background(), dirB)
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, b.Fingerprint)
	require.Equal(t, a.Total, b.Total)
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := runForMerge(t, FormatBinary)
	path := ConsumerPath(dir, 1, FormatBinary)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[8] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	rep, err := Verify(context.Background(), dir)
	require.ErrorIs(t, err, segerrors.ErrDigestMismatch)
	require.Error(t, rep.Files[2].Err)
	require.NoError(t, rep.Files[1].Err)
}

// TestVerifyDetectsMisrouting moves a value into the wrong file and fixes up
// the manifest so only the routing check can catch it.
func TestVerifyDetectsMisrouting(t *testing.T) {
	dir := runForMerge(t, FormatText)
	m, err := ReadManifest(dir)
	require.NoError(t, err)

	from := ConsumerPath(dir, 0, FormatText)
	vals, err := ReadValues(from, FormatText)
	require.NoError(t, err)
	moved := vals[len(vals)-1]
	vals = vals[:len(vals)-1]
	require.NoError(t, os.WriteFile(from, appendRecords(nil, FormatText, vals), 0o644))

	to := ConsumerPath(dir, 1, FormatText)
	other, err := ReadValues(to, FormatText)
	require.NoError(t, err)
	// Keep the file ascending so only routing is wrong.
	other = append(other, moved)
	slices.Sort(other)
	require.NoError(t, os.WriteFile(to, appendRecords(nil, FormatText, other), 0o644))

	for _, name := range []string{from, to} {
		d, err := FileDigest(name)
		require.NoError(t, err)
		for i := range m.Files {
			if m.Files[i].Name == filepath.Base(name) {
				m.Files[i].Digest = formatDigest(d)
			}
		}
	}
	m.Files[0].Values--
	m.Files[1].Values++
	require.NoError(t, WriteManifest(dir, m))

	_, err = Verify(context.Background(), dir)
	require.ErrorIs(t, err, segerrors.ErrMisrouted)
}

func TestVerifyDetectsMissingPrime(t *testing.T) {
	dir := runForMerge(t, FormatBinary)
	m, err := ReadManifest(dir)
	require.NoError(t, err)

	path := ConsumerPath(dir, 2, FormatBinary)
	vals, err := ReadValues(path, FormatBinary)
	require.NoError(t, err)
	vals = append(vals[:10], vals[11:]...)
	require.NoError(t, os.WriteFile(path, appendRecords(nil, FormatBinary, vals), 0o644))
	d, err := FileDigest(path)
	require.NoError(t, err)
	m.Files[2].Digest = formatDigest(d)
	m.Files[2].Values--
	m.Total--
	require.NoError(t, WriteManifest(dir, m))

	_, err = Verify(context.Background(), dir)
	require.ErrorIs(t, err, segerrors.ErrMissingValue)
}

func TestVerifyReportsAbortedRun(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), dir, 500_000,
		WithConsumers(3), WithSegmentSize(smallSegments), WithSinkFactory(failConsumer(0, 2)))
	require.ErrorIs(t, err, segerrors.ErrConsumerAborted)

	rep, err := Verify(context.Background(), dir)
	require.ErrorIs(t, err, segerrors.ErrConsumerAborted, "an incomplete run must not verify")
	require.NotNil(t, rep)
	require.False(t, rep.Complete)
	require.NoError(t, rep.Files[2].Err, "surviving files are still checked")
	require.ErrorIs(t, rep.Files[1].Err, segerrors.ErrConsumerAborted)
	require.Zero(t, rep.Fingerprint)
}

func TestReaderRejectsTruncatedBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 13), 0o644))
	_, err := OpenValues(path, FormatBinary)
	require.ErrorIs(t, err, segerrors.ErrTruncatedFile)
}

func TestReaderTextErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("2\n3\nfive\n7\n"), 0o644))
	vals, err := ReadValues(path, FormatText)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad.txt:3")
	require.Equal(t, []uint64{2, 3}, vals)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), dir, 100_000, WithConsumers(2), WithSegmentSize(smallSegments))
	require.NoError(t, err)

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, res.RunID, m.RunID)
	require.Equal(t, res.Total, m.Total)
	require.Equal(t, "buffered", m.IOMode)
	l, err := m.Layout()
	require.NoError(t, err)
	require.Equal(t, res.Layout, l)
	for c, f := range m.Files {
		require.Equal(t, "ok", f.Status)
		require.Equal(t, formatDigest(res.Consumers[c].Digest), f.Digest)
	}
	require.NoFileExists(t, filepath.Join(dir, ManifestName+".tmp"))
}

func TestManifestValidate(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), dir, 100_000, WithConsumers(2), WithSegmentSize(smallSegments))
	require.NoError(t, err)
	good, err := ReadManifest(dir)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(m *Manifest)
	}{
		{"version", func(m *Manifest) { m.Version = 7 }},
		{"format", func(m *Manifest) { m.Format = "csv" }},
		{"segments", func(m *Manifest) { m.Segments++ }},
		{"files", func(m *Manifest) { m.Files = m.Files[:1] }},
		{"total", func(m *Manifest) { m.Total++ }},
		{"digest", func(m *Manifest) { m.Files[0].Digest = "xyz" }},
		{"order", func(m *Manifest) { m.Files[0], m.Files[1] = m.Files[1], m.Files[0] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := *good
			m.Files = append([]FileEntry(nil), good.Files...)
			tt.mutate(&m)
			require.ErrorIs(t, m.Validate(), segerrors.ErrManifest)
		})
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte("version: [\n"), 0o644))
	_, err = ReadManifest(dir)
	require.ErrorIs(t, err, segerrors.ErrManifest)
}
