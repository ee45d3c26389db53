package main

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamirms/segsieve"
	"github.com/tamirms/segsieve/internal/export"
	"github.com/tamirms/segsieve/internal/history"
	"github.com/tamirms/segsieve/internal/sieve"
)

func (a *app) runDir(dir string) string {
	if dir != "" {
		return dir
	}
	return filepath.Join(a.cfg.DataDir, "primes")
}

func (a *app) mergeCmd() *cobra.Command {
	var (
		dir      string
		format   string
		compress bool
		partial  bool
	)
	cmd := &cobra.Command{
		Use:   "merge <out>",
		Short: "Merge a run's files into one ascending file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []segsieve.MergeOption
			if format != "" {
				f, err := segsieve.ParseFormat(format)
				if err != nil {
					return err
				}
				opts = append(opts, segsieve.WithMergeFormat(f))
			}
			if compress {
				opts = append(opts, segsieve.WithCompression())
			}
			if partial {
				opts = append(opts, segsieve.WithPartial())
			}

			start := time.Now()
			res, err := segsieve.Merge(cmd.Context(), a.runDir(dir), args[0], opts...)
			entry := history.Entry{Command: "merge", Args: args[0], Duration: time.Since(start), Status: status(err)}
			if res != nil {
				entry.Total = res.Values
				entry.Mode = res.Format.String()
			}
			a.record(cmd.Context(), entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d values into %s (%d bytes, digest %016x)\n",
				res.Values, res.Path, res.Bytes, res.Digest)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "run directory (default <data-dir>/primes)")
	f.StringVar(&format, "format", "", "output format: text or binary (default: the run's)")
	f.BoolVar(&compress, "compress", false, "zstd-compress the output")
	f.BoolVar(&partial, "partial", false, "merge a run in which consumers aborted")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var (
		dir      string
		refLimit uint64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a run's files against its manifest and a reference sieve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			rep, err := segsieve.Verify(cmd.Context(), a.runDir(dir), segsieve.WithReferenceLimit(refLimit))
			entry := history.Entry{Command: "verify", Duration: time.Since(start), Status: status(err)}
			if rep != nil {
				entry.RunID = rep.RunID
				entry.Total = rep.Total
			}
			a.record(cmd.Context(), entry)
			if rep == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				type fileJSON struct {
					Name   string `json:"name"`
					Values uint64 `json:"values"`
					Error  string `json:"error,omitempty"`
				}
				v := struct {
					RunID       string     `json:"run_id"`
					Total       uint64     `json:"total"`
					Complete    bool       `json:"complete"`
					Reference   bool       `json:"reference"`
					Fingerprint string     `json:"fingerprint"`
					Files       []fileJSON `json:"files"`
				}{rep.RunID, rep.Total, rep.Complete, rep.Reference, fmt.Sprintf("%016x", rep.Fingerprint), nil}
				for _, f := range rep.Files {
					fj := fileJSON{Name: f.Name, Values: f.Values}
					if f.Err != nil {
						fj.Error = f.Err.Error()
					}
					v.Files = append(v.Files, fj)
				}
				if perr := printJSON(out, v); perr != nil {
					return perr
				}
				return err
			}

			for _, f := range rep.Files {
				state := "ok"
				if f.Err != nil {
					state = f.Err.Error()
				}
				fmt.Fprintf(out, "  %-24s %12d values  %s\n", f.Name, f.Values, state)
			}
			switch {
			case !rep.Complete:
				fmt.Fprintln(out, "INCOMPLETE: some consumers aborted")
			case err != nil:
				fmt.Fprintln(out, "FAILED")
			case rep.Reference:
				fmt.Fprintf(out, "OK: %d primes match the reference sieve (fingerprint %016x)\n", rep.Total, rep.Fingerprint)
			default:
				fmt.Fprintf(out, "OK: %d primes consistent (fingerprint %016x, reference skipped)\n", rep.Total, rep.Fingerprint)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "run directory (default <data-dir>/primes)")
	f.Uint64Var(&refLimit, "reference-limit", segsieve.DefaultReferenceLimit, "largest limit compared with a reference sieve (0 disables)")
	f.BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var dir, bucket, prefix string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run into a blob bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			res, err := export.Export(cmd.Context(), bucket, a.runDir(dir), prefix)
			entry := history.Entry{Command: "export", Args: bucket, Duration: time.Since(start), Status: status(err)}
			if res != nil {
				entry.RunID = res.Prefix
			}
			a.record(cmd.Context(), entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d objects (%d bytes) to %s/%s\n",
				len(res.Objects), res.Bytes, bucket, res.Prefix)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "run directory (default <data-dir>/primes)")
	f.StringVar(&bucket, "bucket", "", "bucket URL, e.g. file:///srv/primes")
	f.StringVar(&prefix, "prefix", "", "object prefix (default: the run id)")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(cmd.Context(), a.cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if entries == nil {
					entries = []history.Entry{}
				}
				return printJSON(out, entries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tCOMMAND\tARGS\tMODE\tTOTAL\tDURATION\tSTATUS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.At.Local().Format(time.DateTime), e.Command, e.Args, e.Mode, e.Total,
					formatDuration(e.Duration), e.Status)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.IntVar(&limit, "limit", 20, "entries to show (0 for all)")
	f.BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

// sieveCmd runs a single-threaded reference sieve and prints its primes.
func (a *app) sieveCmd() *cobra.Command {
	var (
		variant   string
		countOnly bool
	)
	cmd := &cobra.Command{
		Use:   "sieve <limit>",
		Short: "Print primes up to limit with a single-threaded reference sieve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseLimit(args[0])
			if err != nil {
				return err
			}
			start := time.Now()
			var primes []uint64
			switch variant {
			case "byte":
				primes = sieve.Simple(n)
			case "odd":
				primes = sieve.OddOnly(n)
			default:
				return fmt.Errorf("unknown variant %q (use byte or odd)", variant)
			}
			elapsed := time.Since(start)
			a.record(cmd.Context(), history.Entry{
				Command:  "sieve",
				Args:     args[0],
				Mode:     variant,
				Total:    uint64(len(primes)),
				Duration: elapsed,
			})

			out := cmd.OutOrStdout()
			if countOnly {
				fmt.Fprintf(out, "%d primes up to %d in %s\n", len(primes), n, formatDuration(elapsed))
				return nil
			}
			w := bufio.NewWriter(out)
			var buf []byte
			for _, p := range primes {
				buf = strconv.AppendUint(buf[:0], p, 10)
				buf = append(buf, '\n')
				if _, err := w.Write(buf); err != nil {
					return err
				}
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&variant, "variant", "odd", "sieve variant: byte or odd")
	f.BoolVar(&countOnly, "count", false, "print only the count and time")
	return cmd
}
