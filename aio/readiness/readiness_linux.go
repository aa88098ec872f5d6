//go:build linux

// Package readiness implements the readiness-reactor AIO backend: fds are
// registered with epoll(7) and the actual syscall is attempted once the
// kernel reports readiness. Grounded on the fd-registry-plus-epoll_wait
// shape of joeycumines-go-utilpkg's eventloop/poller_linux.go and the raw
// EpollWait wrapper in cloudwego-gopkg/internal/epoll.
package readiness

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/completion"
	"github.com/aioframe/aioframe/errs"
	"github.com/aioframe/aioframe/ring"
)

// caps is accept/connect/recv/send, plus close which this backend handles
// synchronously rather than via epoll (spec.md §4.2: "close may be
// synchronous").
var caps = aio.CapSetFor(aio.OpAccept, aio.OpConnect, aio.OpRecv, aio.OpSend, aio.OpClose)

type waiter struct {
	job    aio.Job
	events uint32 // EPOLLIN or EPOLLOUT
}

// Backend is the epoll-based readiness reactor.
type Backend struct {
	epfd    int
	waiters map[int]waiter
	reapBuf *ring.Ring[completion.Completion]
}

// New creates an epoll-backed readiness backend. reapMax bounds completions
// returned per Reap call (size_aio_reap_max).
func New(reapMax uint64) (*Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errs.FromErrno(err)
	}
	buf, err := ring.New[completion.Completion](nextPow2(reapMax))
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	return &Backend{
		epfd:    epfd,
		waiters: make(map[int]waiter),
		reapBuf: buf,
	}, nil
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

func (b *Backend) Capabilities() aio.CapSet { return caps }

func (b *Backend) register(fd int, events uint32, job aio.Job) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if _, exists := b.waiters[fd]; exists {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(b.epfd, op, fd, ev); err != nil {
		return errs.FromErrno(err)
	}
	b.waiters[fd] = waiter{job: job, events: events}
	return nil
}

func (b *Backend) QueueAccept(job aio.Job) error {
	job.Op = aio.OpAccept
	return b.register(job.FD, unix.EPOLLIN, job)
}

func (b *Backend) QueueConnect(job aio.Job) error {
	job.Op = aio.OpConnect
	if err := unix.Connect(job.FD, job.Addr); err == nil || err == unix.EISCONN {
		b.reapBuf.Push(completion.Completion{Ctx: job.Ctx, Result: completion.Result{Kind: completion.KindValue}})
		return nil
	} else if !errs.IsWouldBlock(err) {
		b.reapBuf.Push(completion.Completion{Ctx: job.Ctx, Result: completion.Result{Kind: completion.KindValue, Err: errs.FromErrno(err)}})
		return nil
	}
	return b.register(job.FD, unix.EPOLLOUT, job)
}

func (b *Backend) QueueRecv(job aio.Job) error {
	job.Op = aio.OpRecv
	return b.register(job.FD, unix.EPOLLIN, job)
}

func (b *Backend) QueueSend(job aio.Job) error {
	job.Op = aio.OpSend
	return b.register(job.FD, unix.EPOLLOUT, job)
}

// QueueClose performs the close immediately; epoll does not need to be
// consulted for it.
func (b *Backend) QueueClose(job aio.Job) error {
	delete(b.waiters, job.FD)
	unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, job.FD, nil)
	err := unix.Close(job.FD)
	result := completion.Result{Kind: completion.KindNone}
	if err != nil {
		result.Err = errs.FromErrno(err)
	}
	return b.reapBuf.Push(completion.Completion{Ctx: job.Ctx, Result: result})
}

func (b *Backend) QueueOpen(aio.Job) error  { return errs.ErrOperationNotSupported }
func (b *Backend) QueueRead(aio.Job) error  { return errs.ErrOperationNotSupported }
func (b *Backend) QueueWrite(aio.Job) error { return errs.ErrOperationNotSupported }
func (b *Backend) QueueTimer(aio.Job) error { return errs.ErrOperationNotSupported }

// Submit is a no-op: registrations and immediate completions are applied
// as jobs are queued, there is no separate flush step.
func (b *Backend) Submit() error { return nil }

// Reap blocks on epoll_wait until at least one registered fd is ready (or
// a previously-queued immediate completion, e.g. a synchronous close or
// connect, is pending), performs the corresponding syscall, and returns
// the resulting completions.
func (b *Backend) Reap() ([]completion.Completion, error) {
	events := make([]unix.EpollEvent, 64)
	for {
		if !b.reapBuf.Empty() {
			return b.drain(), nil
		}
		if len(b.waiters) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		n, err := unix.EpollWait(b.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, errs.FromErrno(err)
		}
		for i := 0; i < n; i++ {
			if b.reapBuf.Len() == b.reapBuf.Cap() {
				break // level-triggered: skipped fds are reported again
			}
			fd := int(events[i].Fd)
			w, ok := b.waiters[fd]
			if !ok {
				continue
			}
			b.service(fd, w)
		}
		if !b.reapBuf.Empty() {
			return b.drain(), nil
		}
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

func (b *Backend) service(fd int, w waiter) {
	switch w.Op() {
	case aio.OpAccept:
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil && errs.IsWouldBlock(err) {
			return
		}
		delete(b.waiters, fd)
		unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		result := completion.Result{Kind: completion.KindSocket, FD: nfd}
		if err != nil {
			result.Err = errs.FromErrno(err)
		}
		b.reapBuf.Push(completion.Completion{Ctx: w.job.Ctx, Result: result})
	case aio.OpConnect:
		serr, _ := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		delete(b.waiters, fd)
		unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		result := completion.Result{Kind: completion.KindValue}
		if serr != 0 {
			result.Err = errs.FromErrno(unix.Errno(serr))
		}
		b.reapBuf.Push(completion.Completion{Ctx: w.job.Ctx, Result: result})
	case aio.OpRecv:
		n, err := unix.Read(fd, w.job.Buf)
		if err != nil && errs.IsWouldBlock(err) {
			return
		}
		delete(b.waiters, fd)
		unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		result := completion.Result{Kind: completion.KindValue, Value: int64(n)}
		if err != nil {
			result.Err = errs.FromErrno(err)
		} else if n == 0 && len(w.job.Buf) > 0 {
			result.Err = errs.ErrClosed
		}
		b.reapBuf.Push(completion.Completion{Ctx: w.job.Ctx, Result: result})
	case aio.OpSend:
		n, err := unix.Write(fd, w.job.Buf)
		if err != nil && errs.IsWouldBlock(err) {
			return
		}
		delete(b.waiters, fd)
		unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		result := completion.Result{Kind: completion.KindValue, Value: int64(n)}
		if err != nil {
			result.Err = errs.FromErrno(err)
		}
		b.reapBuf.Push(completion.Completion{Ctx: w.job.Ctx, Result: result})
	}
}

func (w waiter) Op() aio.Op { return w.job.Op }

// Close releases the epoll instance. Registered fds are left open; their
// owners remain responsible for closing them.
func (b *Backend) Close() error {
	b.waiters = nil
	return unix.Close(b.epfd)
}
