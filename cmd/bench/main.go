// Bench measures segmented sieve throughput for each sink mode, and the cost
// of hashing the merged output with each digest in use.
//
// Usage:
//
//	go run ./cmd/bench -limit 1000000000 -workers 8 -consumers 4
//	go run ./cmd/bench -limit 100000000 -mode async -backend pool -depth 512
//
// Flags:
//
//	-limit      Upper bound N (default: 100,000,000)
//	-workers    Sieving goroutines (default: GOMAXPROCS)
//	-consumers  Output files (default: 4)
//	-segment    Numbers per segment (default: 262144)
//	-format     text or binary (default: binary)
//	-mode       buffered, async or both (default: both)
//	-backend    auto, uring or pool (default: auto)
//	-depth      Async submission queue depth (default: 256)
//	-inflight   Async in-flight ceiling (default: 200)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	"github.com/tamirms/segsieve"
	"github.com/tamirms/segsieve/internal/aio"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// peakSampler tracks peak heap bytes every 10ms. It reads runtime/metrics
// rather than ReadMemStats, which stops the world.
type peakSampler struct {
	peak atomic.Uint64
	done chan struct{}
}

func startSampler() *peakSampler {
	s := &peakSampler{done: make(chan struct{})}
	go func() {
		samples := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				heap := samples[0].Value.Uint64()
				for {
					old := s.peak.Load()
					if heap <= old || s.peak.CompareAndSwap(old, heap) {
						break
					}
				}
			}
		}
	}()
	return s
}

func (s *peakSampler) stop() uint64 {
	close(s.done)
	return s.peak.Load()
}

type outcome struct {
	mode     string
	res      *segsieve.Result
	heapPeak uint64
}

func main() {
	limitFlag := flag.Uint64("limit", 100_000_000, "upper bound N")
	workersFlag := flag.Int("workers", runtime.GOMAXPROCS(0), "sieving goroutines")
	consumersFlag := flag.Int("consumers", 4, "output files")
	segmentFlag := flag.Uint64("segment", segsieve.DefaultSegmentSize, "numbers per segment")
	formatFlag := flag.String("format", "binary", "text or binary")
	modeFlag := flag.String("mode", "both", "buffered, async or both")
	backendFlag := flag.String("backend", "auto", "async backend: auto, uring or pool")
	depthFlag := flag.Int("depth", segsieve.DefaultQueueDepth, "async submission queue depth")
	inflightFlag := flag.Int("inflight", segsieve.DefaultMaxInFlight, "async in-flight ceiling")
	dirFlag := flag.String("dir", "", "scratch directory (default: os.TempDir())")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (sieve phase only)")
	flag.Parse()

	format, err := segsieve.ParseFormat(*formatFlag)
	if err != nil {
		fmt.Println(err)
		return
	}
	backend, err := aio.ParseBackend(*backendFlag)
	if err != nil {
		fmt.Println(err)
		return
	}
	var modes []string
	switch *modeFlag {
	case "buffered", "async":
		modes = []string{*modeFlag}
	case "both":
		modes = []string{"buffered", "async"}
	default:
		fmt.Printf("Unknown mode: %s (use buffered, async or both)\n", *modeFlag)
		return
	}

	tmpDir, err := os.MkdirTemp(*dirFlag, "bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	var outcomes []outcome
	for _, mode := range modes {
		opts := []segsieve.Option{
			segsieve.WithWorkers(*workersFlag),
			segsieve.WithConsumers(*consumersFlag),
			segsieve.WithSegmentSize(*segmentFlag),
			segsieve.WithFormat(format),
		}
		if mode == "async" {
			opts = append(opts,
				segsieve.WithAsyncIO(*depthFlag),
				segsieve.WithMaxInFlight(*inflightFlag),
				segsieve.WithIOBackend(backend))
		}

		fmt.Printf("Sieving to %d (%s)...\n", *limitFlag, mode)
		runtime.GC()
		sampler := startSampler()
		res, err := segsieve.Run(context.Background(), filepath.Join(tmpDir, mode), *limitFlag, opts...)
		peak := sampler.stop()
		if err != nil {
			fmt.Printf("Run failed: %v\n", err)
			return
		}
		outcomes = append(outcomes, outcome{mode: mode, res: res, heapPeak: peak})
	}

	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}

	fmt.Println("Merging...")
	dir := filepath.Join(tmpDir, outcomes[0].mode)
	mergeStart := time.Now()
	merged, err := segsieve.Merge(context.Background(), dir, filepath.Join(tmpDir, "merged."+format.Ext()))
	if err != nil {
		fmt.Printf("Merge failed: %v\n", err)
		return
	}
	mergeDuration := time.Since(mergeStart)

	data, err := os.ReadFile(merged.Path)
	if err != nil {
		fmt.Printf("Read failed: %v\n", err)
		return
	}
	digests := []struct {
		name string
		fn   func([]byte)
	}{
		{"xxhash64", func(b []byte) { xxhash.Sum64(b) }},
		{"xxh3", func(b []byte) { xxh3.Hash(b) }},
		{"murmur3-128", func(b []byte) { murmur3.Sum128WithSeed(b, 0x1234) }},
	}

	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════╦══════════════════╗\n")
	fmt.Printf("║ Limit: %-13d║ Primes: %-7d║ Format: %-8s ║\n", *limitFlag, merged.Values, format)
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Metric              ║ Value          ║ Mode             ║\n")
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	for _, o := range outcomes {
		secs := o.res.Elapsed.Seconds()
		fmt.Printf("║ Producer time       ║ %6.2f sec     ║ %-16s ║\n", o.res.ProducerElapsed.Seconds(), o.res.IOMode)
		fmt.Printf("║ Total time          ║ %6.2f sec     ║ %-16s ║\n", secs, o.res.IOMode)
		fmt.Printf("║ Consumer lag        ║ %6.2f sec     ║ %-16s ║\n", (o.res.Elapsed - o.res.ProducerElapsed).Seconds(), o.res.IOMode)
		fmt.Printf("║ Range throughput    ║ %6.1f M/sec   ║ %-16s ║\n", float64(*limitFlag)/secs/1_000_000, o.res.IOMode)
		fmt.Printf("║ Peak heap memory    ║ %6.1f MB      ║ %-16s ║\n", float64(o.heapPeak)/1_000_000, o.res.IOMode)
		var inflight int
		for _, c := range o.res.Consumers {
			inflight = max(inflight, c.PeakInFlight)
		}
		if inflight > 0 {
			fmt.Printf("║ Peak in-flight      ║ %6d         ║ %-16s ║\n", inflight, o.res.IOMode)
		}
	}
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Merge time          ║ %6.2f sec     ║ -                ║\n", mergeDuration.Seconds())
	for _, d := range digests {
		start := time.Now()
		d.fn(data)
		el := time.Since(start)
		fmt.Printf("║ %-19s ║ %6.2f GB/sec  ║ -                ║\n", d.name, float64(len(data))/el.Seconds()/1e9)
	}
	fmt.Printf("║ Peak RSS memory     ║ %6.1f MB      ║ -                ║\n", float64(getMaxRSS())/1_000_000)
	fmt.Printf("╚═════════════════════╩════════════════╩══════════════════╝\n")
}
