// Package segsieve computes every prime up to a bound N with a parallel
// segmented sieve and writes them to several independently ordered files.
//
// The range above √N is cut into fixed-size segments. Workers claim segments
// from a shared atomic cursor, sieve each against the small-prime base, and
// route the result to consumer id mod K over a bounded channel. Each consumer
// restores ascending segment order and appends to its own file, so every file
// is strictly ascending while no order holds across files.
//
// # Basic Usage
//
// Running the pipeline:
//
//	res, err := segsieve.Run(ctx, "out", 1_000_000_000,
//	    segsieve.WithWorkers(8),
//	    segsieve.WithConsumers(4),
//	    segsieve.WithFormat(segsieve.FormatBinary))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d primes\n", res.Total)
//
// Checking and combining the output:
//
//	rep, err := segsieve.Verify(ctx, "out")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	merged, err := segsieve.Merge(ctx, "out", "primes.bin")
//
// # Package Structure
//
// The implementation is organized as follows:
//
//   - Public API: pipeline.go (Run, Result), merge.go (Merge), verify.go (Verify)
//   - Configuration: options.go (Option, With* functions)
//   - Work partition: layout.go (Layout, Segment, scheduler)
//   - Pipeline stages: worker.go, router.go, consumer.go, prelude.go
//   - Output: sink.go, sink_buffered.go, sink_async.go (Sink implementations)
//   - Run description: manifest.go (manifest.yaml), reader.go (ValueReader)
//   - Errors: pipeline_errors.go (FatalError, ConsumerError, ReorderError), errors/
//   - Sieve kernels: internal/sieve/, internal/bits/
//   - Ordering: internal/reorder/
//   - Asynchronous writes: internal/aio/ (io_uring, goroutine pool)
//   - Platform: fadvise_*.go, fallocate_*.go, prefault_*.go (OS-specific optimizations)
package segsieve
