package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/tamirms/segsieve"
	segerrors "github.com/tamirms/segsieve/errors"
	"github.com/tamirms/segsieve/internal/history"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPrimesVerifyMergeHistory(t *testing.T) {
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)
	t.Setenv("NT_LOG_LEVEL", "error")

	out, err := execute(t, "primes", "100_000", "--consumers", "3", "--segment-size", "1024", "--binary")
	require.NoError(t, err)
	require.Contains(t, out, "Found 9592 primes up to 100000")
	require.Contains(t, out, "Consumer lag:")

	runDir := filepath.Join(data, "nt", "primes")
	require.FileExists(t, segsieve.ConsumerPath(runDir, 2, segsieve.FormatBinary))

	out, err = execute(t, "verify")
	require.NoError(t, err)
	require.Contains(t, out, "OK: 9592 primes match the reference sieve")

	merged := filepath.Join(t.TempDir(), "all.txt")
	out, err = execute(t, "merge", merged, "--format", "text")
	require.NoError(t, err)
	require.Contains(t, out, "Merged 9592 values")

	out, err = execute(t, "history", "--json")
	require.NoError(t, err)
	var entries []history.Entry
	require.NoError(t, sonnet.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	var commands []string
	for _, e := range entries {
		commands = append(commands, e.Command)
		require.Equal(t, "ok", e.Status)
	}
	require.ElementsMatch(t, []string{"primes", "verify", "merge"}, commands)
}

func TestPrimesJSON(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("NT_LOG_LEVEL", "error")
	dir := t.TempDir()

	out, err := execute(t, "primes", "30", "--dir", dir, "--json")
	require.NoError(t, err)
	var s runSummary
	require.NoError(t, sonnet.Unmarshal([]byte(out), &s))
	require.Equal(t, uint64(10), s.Total)
	require.Equal(t, "text", s.Format)
	require.Len(t, s.Files, 2)
	require.Equal(t, -1, s.Files[0].Consumer)
}

func TestVerifyFailsIncompleteRun(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("NT_LOG_LEVEL", "error")
	dir := t.TempDir()

	buffered := segsieve.BufferedSinks(segsieve.DefaultFlushSize)
	_, err := segsieve.Run(context.Background(), dir, 50_000,
		segsieve.WithConsumers(2), segsieve.WithSegmentSize(1024),
		segsieve.WithSinkFactory(func(cfg segsieve.SinkConfig) (segsieve.Sink, error) {
			if cfg.Consumer == 1 {
				return nil, errors.New("disk unavailable")
			}
			return buffered(cfg)
		}))
	require.ErrorIs(t, err, segerrors.ErrConsumerAborted)

	out, err := execute(t, "verify", "--dir", dir)
	require.ErrorIs(t, err, segerrors.ErrConsumerAborted)
	require.Contains(t, out, "INCOMPLETE")

	out, err = execute(t, "history", "--json")
	require.NoError(t, err)
	var entries []history.Entry
	require.NoError(t, sonnet.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "failed", entries[0].Status)
}

func TestSieveVariantsAgree(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	byteOut, err := execute(t, "sieve", "1000", "--variant", "byte")
	require.NoError(t, err)
	oddOut, err := execute(t, "sieve", "1000", "--variant", "odd")
	require.NoError(t, err)
	require.Equal(t, byteOut, oddOut)
	require.True(t, strings.HasPrefix(byteOut, "2\n3\n5\n7\n"))
	require.True(t, strings.HasSuffix(byteOut, "991\n997\n"))

	_, err = execute(t, "sieve", "10", "--variant", "wheel")
	require.Error(t, err)
}

func TestRejectsBadInput(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("NT_LOG_LEVEL", "error")
	_, err := execute(t, "primes", "ten")
	require.Error(t, err)
	_, err = execute(t, "primes", "100", "--segment-size", "100")
	require.Error(t, err)
	_, err = execute(t, "primes", "100", "--async", "--queue-depth", "4", "--max-in-flight", "8")
	require.Error(t, err)
}

func TestParseLimit(t *testing.T) {
	for in, want := range map[string]uint64{"1000": 1000, "1_000_000": 1_000_000, "2,500": 2500} {
		got, err := parseLimit(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := parseLimit("-5")
	require.Error(t, err)
}
