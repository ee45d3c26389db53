package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		e, err := s.Record(ctx, Entry{
			Command:  "primes",
			Args:     "1000000",
			Mode:     "buffered",
			Total:    uint64(78_498 + i),
			Duration: time.Duration(i+1) * time.Millisecond,
			At:       base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.Positive(t, e.ID)
		require.NotEmpty(t, e.RunID)
		require.Equal(t, "ok", e.Status)
	}

	got, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(78_502), got[0].Total, "newest first")
	require.True(t, got[0].At.Equal(base.Add(4*time.Minute)))
	require.Equal(t, 5*time.Millisecond, got[0].Duration)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{RunID: "fixed", Command: "verify", Status: "failed"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "fixed", got[0].RunID)
	require.Equal(t, "failed", got[0].Status)
}
