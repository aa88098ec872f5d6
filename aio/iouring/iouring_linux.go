//go:build linux

// Package iouring wraps the adapted internal/iouring binding as an
// aio.Backend: the completion-variant engine with the broadest capability
// set, backed directly by the kernel's io_uring completion queue.
package iouring

import (
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/completion"
	"github.com/aioframe/aioframe/errs"
	ioring "github.com/aioframe/aioframe/internal/iouring"
	"github.com/aioframe/aioframe/internal/iouring/sys"
	sring "github.com/aioframe/aioframe/ring"
)

// allCaps covers every aio.Op; the live set advertised by a Backend may be
// narrower if Probe() reports the running kernel lacks one of them.
var allCaps = aio.CapSetFor(
	aio.OpAccept, aio.OpConnect, aio.OpRecv, aio.OpSend, aio.OpClose,
	aio.OpOpen, aio.OpRead, aio.OpWrite, aio.OpTimer,
)

var opToKernel = map[aio.Op]sys.Op{
	aio.OpAccept:  sys.IORING_OP_ACCEPT,
	aio.OpConnect: sys.IORING_OP_CONNECT,
	aio.OpRecv:    sys.IORING_OP_RECV,
	aio.OpSend:    sys.IORING_OP_SEND,
	aio.OpClose:   sys.IORING_OP_CLOSE,
	aio.OpOpen:    sys.IORING_OP_OPENAT,
	aio.OpRead:    sys.IORING_OP_READ,
	aio.OpWrite:   sys.IORING_OP_WRITE,
	aio.OpTimer:   sys.IORING_OP_TIMEOUT,
}

type inflightOp struct {
	op      aio.Op
	ctx     completion.Context
	pathBuf []byte // keeps PrepOpenat's path pointer alive until reaped
	ts      *sys.Timespec
}

// Backend is the io_uring-backed AIO engine.
type Backend struct {
	r   *ioring.Ring
	cap aio.CapSet

	nextUserData uint64
	inFlight     map[uint64]inflightOp

	reapBuf *sring.Ring[completion.Completion]
}

// New creates an io_uring backend with the given SQ entry count. reapMax
// bounds completions returned per Reap call (size_aio_reap_max).
func New(entries uint32, reapMax uint64) (*Backend, error) {
	r, err := ioring.New(entries, ioring.WithCoopTaskrun())
	if err != nil {
		return nil, errs.FromErrno(err)
	}

	c := allCaps
	if probe, perr := r.Probe(); perr == nil {
		c = capsFromProbe(probe)
	}

	buf, err := sring.New[completion.Completion](nextPow2(reapMax))
	if err != nil {
		r.Close()
		return nil, err
	}

	return &Backend{
		r:        r,
		cap:      c,
		inFlight: make(map[uint64]inflightOp),
		reapBuf:  buf,
	}, nil
}

func capsFromProbe(p *ioring.Probe) aio.CapSet {
	var c aio.CapSet
	for op, kop := range opToKernel {
		if p.SupportsOp(kop) {
			c |= 1 << uint(op)
		}
	}
	return c
}

func nextPow2(n uint64) uint64 {
	if n < 2 {
		return 2
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func (b *Backend) Capabilities() aio.CapSet { return b.cap }

func (b *Backend) track(op aio.Op, ctx completion.Context) uint64 {
	ud := b.nextUserData
	b.nextUserData++
	b.inFlight[ud] = inflightOp{op: op, ctx: ctx}
	return ud
}

func (b *Backend) QueueAccept(job aio.Job) error {
	ud := b.track(aio.OpAccept, job.Ctx)
	if err := b.r.PrepAccept(job.FD, nil, nil, 0, ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueConnect(job aio.Job) error {
	ptr, size, err := marshalSockaddr(job.Addr)
	if err != nil {
		return err
	}
	ud := b.track(aio.OpConnect, job.Ctx)
	if err := b.r.PrepConnect(job.FD, ptr, size, ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueRecv(job aio.Job) error {
	ud := b.track(aio.OpRecv, job.Ctx)
	if err := b.r.PrepRecv(job.FD, job.Buf, 0, ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueSend(job aio.Job) error {
	ud := b.track(aio.OpSend, job.Ctx)
	if err := b.r.PrepSend(job.FD, job.Buf, 0, ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueClose(job aio.Job) error {
	ud := b.track(aio.OpClose, job.Ctx)
	if err := b.r.PrepClose(job.FD, ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueOpen(job aio.Job) error {
	pathBuf := append([]byte(job.Path), 0)
	ud := b.track(aio.OpOpen, job.Ctx)
	entry := b.inFlight[ud]
	entry.pathBuf = pathBuf
	b.inFlight[ud] = entry
	if err := b.r.PrepOpenat(unix_AT_FDCWD, &pathBuf[0], job.OpenFlags, job.OpenMode, ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueRead(job aio.Job) error {
	ud := b.track(aio.OpRead, job.Ctx)
	if err := b.r.PrepRead(job.FD, job.Buf, uint64(job.Off), ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueWrite(job aio.Job) error {
	ud := b.track(aio.OpWrite, job.Ctx)
	if err := b.r.PrepWrite(job.FD, job.Buf, uint64(job.Off), ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

func (b *Backend) QueueTimer(job aio.Job) error {
	ts := &sys.Timespec{
		Sec:  job.TimerMS / 1000,
		Nsec: (job.TimerMS % 1000) * int64(time.Millisecond),
	}
	ud := b.track(aio.OpTimer, job.Ctx)
	entry := b.inFlight[ud]
	entry.ts = ts
	b.inFlight[ud] = entry
	if err := b.r.PrepTimeout(ts, 0, 0, ud); err != nil {
		delete(b.inFlight, ud)
		return mapSQError(err)
	}
	return nil
}

// Submit flushes queued SQEs to the kernel.
func (b *Backend) Submit() error {
	_, err := b.r.Submit()
	if err != nil {
		return errs.FromErrno(err)
	}
	return nil
}

// Reap waits for at least one CQE, classifies it against the operation it
// resolves, and drains any further already-ready CQEs without blocking.
func (b *Backend) Reap() ([]completion.Completion, error) {
	for b.reapBuf.Empty() {
		userData, res, _, err := b.r.WaitCQETimeout(50 * time.Millisecond)
		if err != nil {
			if err == syscall.ETIME {
				continue
			}
			return nil, errs.FromErrno(err)
		}
		b.r.SeenCQE()
		b.dispatch(userData, res)

		for {
			if b.reapBuf.Len() == b.reapBuf.Cap() {
				break // leave further CQEs in the kernel ring for the next Reap
			}
			ud, r2, _, ok := b.r.PeekCQE()
			if !ok {
				break
			}
			b.r.SeenCQE()
			b.dispatch(ud, r2)
		}
	}
	return b.drain(), nil
}

func (b *Backend) dispatch(userData uint64, res int32) {
	entry, ok := b.inFlight[userData]
	if !ok {
		return // stale cancel/ack completion, already accounted for
	}
	delete(b.inFlight, userData)
	b.reapBuf.Push(completion.Completion{Ctx: entry.ctx, Result: classify(entry.op, res)})
}

func classify(op aio.Op, res int32) completion.Result {
	switch op {
	case aio.OpAccept:
		if res < 0 {
			return completion.Result{Kind: completion.KindSocket, Err: errs.FromErrno(syscall.Errno(-res))}
		}
		return completion.Result{Kind: completion.KindSocket, FD: int(res)}
	case aio.OpOpen:
		if res < 0 {
			return completion.Result{Kind: completion.KindFD, Err: errs.FromErrno(syscall.Errno(-res))}
		}
		return completion.Result{Kind: completion.KindFD, FD: int(res)}
	case aio.OpClose:
		if res < 0 {
			return completion.Result{Kind: completion.KindNone, Err: errs.FromErrno(syscall.Errno(-res))}
		}
		return completion.Result{Kind: completion.KindNone}
	case aio.OpTimer:
		return completion.Result{Kind: completion.KindTimeout}
	default: // connect, recv, send, read, write
		if res < 0 {
			return completion.Result{Kind: completion.KindValue, Err: errs.FromErrno(syscall.Errno(-res))}
		}
		return completion.Result{Kind: completion.KindValue, Value: int64(res)}
	}
}

func (b *Backend) drain() []completion.Completion {
	out := make([]completion.Completion, 0, b.reapBuf.Len())
	for {
		c, ok := b.reapBuf.Pop()
		if !ok {
			break
		}
		out = append(out, c)
	}
	return out
}

// Close submits a cancel request for every in-flight operation, then
// releases the ring. It does not wait for the kernel to complete those
// cancellations before tearing the ring down.
func (b *Backend) Close() error {
	if len(b.inFlight) > 0 {
		cancelUD := b.nextUserData
		for userData := range b.inFlight {
			b.r.PrepCancel(userData, 0, cancelUD)
			cancelUD++
		}
		b.r.Submit()
	}
	if err := b.r.Close(); err != nil {
		return errs.FromErrno(err)
	}
	return nil
}

func mapSQError(err error) error {
	if err == ioring.ErrSQFull {
		return errs.ErrQueueFull
	}
	return errs.FromErrno(err)
}

const unix_AT_FDCWD = -100

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

func marshalSockaddr(sa unix.Sockaddr) (unsafe.Pointer, uint32, error) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		raw := &syscall.RawSockaddrInet4{
			Family: syscall.AF_INET,
			Port:   htons(uint16(s.Port)),
		}
		copy(raw.Addr[:], s.Addr[:])
		return unsafe.Pointer(raw), uint32(unsafe.Sizeof(*raw)), nil
	case *unix.SockaddrInet6:
		raw := &syscall.RawSockaddrInet6{
			Family:   syscall.AF_INET6,
			Port:     htons(uint16(s.Port)),
			Scope_id: s.ZoneId,
		}
		copy(raw.Addr[:], s.Addr[:])
		return unsafe.Pointer(raw), uint32(unsafe.Sizeof(*raw)), nil
	case *unix.SockaddrUnix:
		raw := &syscall.RawSockaddrUnix{Family: syscall.AF_UNIX}
		n := copy(raw.Path[:], s.Name)
		return unsafe.Pointer(raw), uint32(2 + n + 1), nil
	default:
		return nil, 0, errs.ErrOperationNotSupported
	}
}
