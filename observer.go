package segsieve

// Observer receives pipeline events. Methods are called concurrently from
// workers and consumers and must not block.
type Observer interface {
	// SegmentClaimed is called once per segment by the worker that claimed it.
	SegmentClaimed(worker int, seg Segment)
	// SegmentFlushed is called when a consumer hands a segment's values to
	// its sink, in ascending id order per consumer.
	SegmentFlushed(consumer int, id uint64, values int)
	// SegmentDropped is called for segments whose consumer had aborted.
	SegmentDropped(consumer int, id uint64)
	// Pending reports a consumer's reorder buffer size after each receive.
	Pending(consumer int, n int)
	// InFlight reports outstanding asynchronous writes after each append.
	InFlight(consumer int, n int)
	// WriteFailed is called for every write error a sink absorbed.
	WriteFailed(consumer int, err error)
	// Progress is called by each consumer every progress interval while the
	// run is underway.
	Progress(consumer int, p Progress)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// some of the hooks.
type NopObserver struct{}

func (NopObserver) SegmentClaimed(int, Segment) {}
func (NopObserver) SegmentFlushed(int, uint64, int) {}
func (NopObserver) SegmentDropped(int, uint64) {}
func (NopObserver) Pending(int, int) {}
func (NopObserver) InFlight(int, int) {}
func (NopObserver) WriteFailed(int, error) {}
func (NopObserver) Progress(int, Progress) {}
