//go:build linux

package aio

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	segerrors "github.com/tamirms/segsieve/errors"
)

// Kernel ABI constants from include/uapi/linux/io_uring.h.
const (
	ioringOffSQRing = 0
	ioringOffCQRing = 0x8000000
	ioringOffSQEs   = 0x10000000

	ioringOpWrite = 23

	ioringEnterGetEvents = 1 << 0

	ioringFeatSingleMmap = 1 << 0
	// IORING_FEAT_RW_CUR_POS shipped in 5.6 together with IORING_OP_WRITE,
	// so its presence tells us the opcode is available.
	ioringFeatRWCurPos = 1 << 3

	sqeSize = 64
	cqeSize = 16
)

type sqringOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type cqringOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        sqringOffsets
	cqOff        cqringOffsets
}

// sqe mirrors struct io_uring_sqe (64 bytes).
type sqe struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	rwFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	addr3       uint64
	pad2        uint64
}

// cqe mirrors struct io_uring_cqe (16 bytes).
type cqe struct {
	userData uint64
	res      int32
	flags    uint32
}

// uring is a Queue backed by a kernel io_uring instance. The submission and
// completion rings live in memory shared with the kernel; head and tail
// indices are published with atomic loads and stores.
type uring struct {
	ring   *os.File // owns the ring fd
	ringFd uintptr
	target int32 // fd of the file being written, not owned
	maps   []mmap.MMap

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqEntries uint32
	sqArray   []uint32
	sqes      []sqe
	localTail uint32

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []cqe

	toSubmit uint32
	inflight int               // handed to the kernel, not yet reaped
	bufs     map[uint64][]byte // keeps submitted buffers reachable until reaped
	closed   bool
}

func newURing(f *os.File, depth int) (Queue, error) {
	var p uringParams
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(depth), uintptr(unsafe.Pointer(&p)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("%w: io_uring_setup: %w", segerrors.ErrUnsupported, errno)
	}
	ring := os.NewFile(fd, "io_uring")

	if p.features&ioringFeatRWCurPos == 0 {
		return nil, errors.Join(
			fmt.Errorf("%w: kernel io_uring lacks IORING_OP_WRITE", segerrors.ErrUnsupported),
			ring.Close())
	}

	r := &uring{
		ring:   ring,
		ringFd: fd,
		target: int32(f.Fd()),
		bufs:   make(map[uint64][]byte, depth),
	}
	if err := r.mapRings(&p); err != nil {
		return nil, errors.Join(err, r.release())
	}
	return r, nil
}

// mapRings maps the SQ ring, CQ ring and SQE array and resolves the pointers
// the kernel told us about in p.
func (r *uring) mapRings(p *uringParams) error {
	sqSize := int(p.sqOff.array + p.sqEntries*4)
	cqSize := int(p.cqOff.cqes + p.cqEntries*cqeSize)
	single := p.features&ioringFeatSingleMmap != 0
	if single {
		sqSize = max(sqSize, cqSize)
	}

	sqMap, err := mmap.MapRegion(r.ring, sqSize, mmap.RDWR, 0, ioringOffSQRing)
	if err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	r.maps = append(r.maps, sqMap)

	cqMap := sqMap
	if !single {
		cqMap, err = mmap.MapRegion(r.ring, cqSize, mmap.RDWR, 0, ioringOffCQRing)
		if err != nil {
			return fmt.Errorf("mmap cq ring: %w", err)
		}
		r.maps = append(r.maps, cqMap)
	}

	sqeMap, err := mmap.MapRegion(r.ring, int(p.sqEntries)*sqeSize, mmap.RDWR, 0, ioringOffSQEs)
	if err != nil {
		return fmt.Errorf("mmap sqes: %w", err)
	}
	r.maps = append(r.maps, sqeMap)

	r.sqHead = (*uint32)(unsafe.Pointer(&sqMap[p.sqOff.head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&sqMap[p.sqOff.tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&sqMap[p.sqOff.ringMask]))
	r.sqEntries = *(*uint32)(unsafe.Pointer(&sqMap[p.sqOff.ringEntries]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&sqMap[p.sqOff.array])), p.sqEntries)
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&sqeMap[0])), p.sqEntries)
	r.localTail = atomic.LoadUint32(r.sqTail)

	r.cqHead = (*uint32)(unsafe.Pointer(&cqMap[p.cqOff.head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&cqMap[p.cqOff.tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&cqMap[p.cqOff.ringMask]))
	r.cqes = unsafe.Slice((*cqe)(unsafe.Pointer(&cqMap[p.cqOff.cqes])), p.cqEntries)
	return nil
}

func (r *uring) Submit(buf []byte, offset int64, tag uint64) error {
	if r.closed {
		return segerrors.ErrQueueClosed
	}
	if len(buf) == 0 {
		return fmt.Errorf("aio: empty write for tag %d", tag)
	}
	if _, dup := r.bufs[tag]; dup {
		return fmt.Errorf("aio: tag %d already outstanding", tag)
	}
	if r.localTail-atomic.LoadUint32(r.sqHead) >= r.sqEntries {
		if err := r.Flush(); err != nil {
			return err
		}
		if r.localTail-atomic.LoadUint32(r.sqHead) >= r.sqEntries {
			return segerrors.ErrQueueFull
		}
	}

	idx := r.localTail & r.sqMask
	r.sqes[idx] = sqe{
		opcode:   ioringOpWrite,
		fd:       r.target,
		off:      uint64(offset),
		addr:     uint64(uintptr(unsafe.Pointer(&buf[0]))),
		len:      uint32(len(buf)),
		userData: tag,
	}
	r.sqArray[idx] = idx
	r.localTail++
	atomic.StoreUint32(r.sqTail, r.localTail)

	r.bufs[tag] = buf
	r.toSubmit++
	return nil
}

func (r *uring) Flush() error {
	if r.closed {
		return segerrors.ErrQueueClosed
	}
	if r.toSubmit == 0 {
		return nil
	}
	_, err := r.enter(0, 0)
	return err
}

// enter submits everything staged and optionally waits for minComplete
// completions. It returns the number of entries the kernel consumed.
func (r *uring) enter(minComplete uint32, flags uint32) (int, error) {
	for {
		n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, r.ringFd,
			uintptr(r.toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
		if errno == syscall.EINTR {
			continue
		}
		if errno != 0 {
			return 0, fmt.Errorf("io_uring_enter: %w", errno)
		}
		r.toSubmit -= uint32(n)
		r.inflight += int(n)
		return int(n), nil
	}
}

func (r *uring) Poll(dst []Completion) ([]Completion, error) {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	for ; head != tail; head++ {
		c := r.cqes[head&r.cqMask]
		comp := Completion{Tag: c.userData}
		if c.res < 0 {
			comp.Err = syscall.Errno(-c.res)
		} else {
			comp.N = int(c.res)
		}
		delete(r.bufs, c.userData)
		r.inflight--
		dst = append(dst, comp)
	}
	atomic.StoreUint32(r.cqHead, head)
	return dst, nil
}

func (r *uring) Wait(dst []Completion, atLeast int) ([]Completion, error) {
	if r.closed {
		return dst, segerrors.ErrQueueClosed
	}
	start := len(dst)
	for {
		dst, _ = r.Poll(dst)
		got := len(dst) - start
		want := min(atLeast, got+r.inflight+int(r.toSubmit))
		if got >= want {
			return dst, nil
		}
		if _, err := r.enter(uint32(want-got), ioringEnterGetEvents); err != nil {
			return dst, err
		}
	}
}

func (r *uring) Outstanding() int { return r.inflight + int(r.toSubmit) }

func (r *uring) Backend() Backend { return BackendURing }

// Close waits for writes the kernel still owns, since their buffers must stay
// valid until completion, then unmaps the rings and closes the ring fd.
func (r *uring) Close() error {
	if r.closed {
		return nil
	}
	var waitErr error
	if r.inflight > 0 {
		_, waitErr = r.Wait(nil, r.inflight)
	}
	r.closed = true
	return errors.Join(waitErr, r.release())
}

func (r *uring) release() error {
	var errs []error
	for _, m := range r.maps {
		errs = append(errs, m.Unmap())
	}
	r.maps = nil
	if r.ring != nil {
		errs = append(errs, r.ring.Close())
		r.ring = nil
	}
	clear(r.bufs)
	return errors.Join(errs...)
}
