package aio

import (
	"os"
	"sync"

	segerrors "github.com/tamirms/segsieve/errors"
)

type request struct {
	buf []byte
	off int64
	tag uint64
}

// pool serves the Queue contract with goroutines doing synchronous WriteAt.
// Finished writes collect in an unbounded slice so workers never block on the
// owner, which keeps Flush from deadlocking against an owner that is not
// reaping.
type pool struct {
	f      *os.File
	reqs   chan request
	staged []request
	wg     sync.WaitGroup

	mu    sync.Mutex
	cond  *sync.Cond
	ready []Completion

	inflight int // flushed to workers, not yet reaped
	closed   bool
}

func newPool(f *os.File, depth, workers int) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{
		f:      f,
		reqs:   make(chan request, depth),
		staged: make([]request, 0, depth),
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for range workers {
		go p.run()
	}
	return p
}

func (p *pool) run() {
	defer p.wg.Done()
	for r := range p.reqs {
		n, err := p.f.WriteAt(r.buf, r.off)
		p.mu.Lock()
		p.ready = append(p.ready, Completion{Tag: r.tag, N: n, Err: err})
		p.cond.Signal()
		p.mu.Unlock()
	}
}

func (p *pool) Submit(buf []byte, offset int64, tag uint64) error {
	if p.closed {
		return segerrors.ErrQueueClosed
	}
	p.staged = append(p.staged, request{buf: buf, off: offset, tag: tag})
	if len(p.staged) >= cap(p.reqs) {
		return p.Flush()
	}
	return nil
}

func (p *pool) Flush() error {
	if p.closed {
		return segerrors.ErrQueueClosed
	}
	for _, r := range p.staged {
		p.reqs <- r
		p.inflight++
	}
	clear(p.staged)
	p.staged = p.staged[:0]
	return nil
}

func (p *pool) Poll(dst []Completion) ([]Completion, error) {
	p.mu.Lock()
	dst = p.take(dst)
	p.mu.Unlock()
	return dst, nil
}

func (p *pool) Wait(dst []Completion, atLeast int) ([]Completion, error) {
	if err := p.Flush(); err != nil {
		return dst, err
	}
	atLeast = min(atLeast, p.inflight)
	p.mu.Lock()
	for len(p.ready) < atLeast {
		p.cond.Wait()
	}
	dst = p.take(dst)
	p.mu.Unlock()
	return dst, nil
}

// take moves ready completions to dst. p.mu must be held.
func (p *pool) take(dst []Completion) []Completion {
	dst = append(dst, p.ready...)
	p.inflight -= len(p.ready)
	clear(p.ready)
	p.ready = p.ready[:0]
	return dst
}

func (p *pool) Outstanding() int { return p.inflight + len(p.staged) }

func (p *pool) Backend() Backend { return BackendPool }

func (p *pool) Close() error {
	if p.closed {
		return nil
	}
	p.staged = p.staged[:0]
	p.closed = true
	close(p.reqs)
	p.wg.Wait()
	return nil
}
