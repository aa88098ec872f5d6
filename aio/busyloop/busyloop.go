// Package busyloop implements the fallback AIO backend: an unbounded list
// of pending jobs scanned in FIFO order, each reaped via a non-blocking
// syscall attempt. It is the only backend that synthesizes per-operation
// timeouts (spec.md §9, left as-is: close never times out even when
// ms_operation_max is set).
package busyloop

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/completion"
	"github.com/aioframe/aioframe/errs"
	"github.com/aioframe/aioframe/ring"
)

// Backend is the busy-polling AIO engine. It advertises no kernel
// acceleration: Capabilities() always returns zero, so the socket, file
// and timer packages take their capability-fallback paths for every
// operation and never queue jobs here. The Queue*/Submit/Reap cycle below
// runs only for jobs queued on the backend directly (e.g. through
// Scheduler.Await).
type Backend struct {
	pending   []pendingJob
	opTimeout time.Duration
	reapBuf   *ring.Ring[completion.Completion]

	minSleep time.Duration
	maxSleep time.Duration
}

type pendingJob struct {
	job       aio.Job
	submitted time.Time
}

// New creates a busy-loop backend. opTimeout is ms_operation_max; zero
// disables per-operation timeouts. reapMax bounds how many completions a
// single Reap call returns (size_aio_reap_max), rounded up to the next
// power of two for the shared SPSC hand-off ring.
func New(opTimeout time.Duration, reapMax uint64) (*Backend, error) {
	buf, err := ring.New[completion.Completion](nextPow2(reapMax))
	if err != nil {
		return nil, err
	}
	return &Backend{
		opTimeout: opTimeout,
		reapBuf:   buf,
		minSleep:  time.Microsecond,
		maxSleep:  time.Millisecond,
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

// Capabilities reports no kernel acceleration, which sends every operation
// of the I/O surface down the capability-fallback path.
func (b *Backend) Capabilities() aio.CapSet {
	return 0
}

func (b *Backend) queue(job aio.Job) error {
	job.SubmitAt = time.Now().UnixNano()
	b.pending = append(b.pending, pendingJob{job: job, submitted: time.Now()})
	return nil
}

func (b *Backend) QueueAccept(job aio.Job) error  { job.Op = aio.OpAccept; return b.queue(job) }
func (b *Backend) QueueConnect(job aio.Job) error { job.Op = aio.OpConnect; return b.queue(job) }
func (b *Backend) QueueRecv(job aio.Job) error    { job.Op = aio.OpRecv; return b.queue(job) }
func (b *Backend) QueueSend(job aio.Job) error     { job.Op = aio.OpSend; return b.queue(job) }
func (b *Backend) QueueClose(job aio.Job) error    { job.Op = aio.OpClose; return b.queue(job) }
func (b *Backend) QueueOpen(job aio.Job) error     { job.Op = aio.OpOpen; return b.queue(job) }
func (b *Backend) QueueRead(job aio.Job) error     { job.Op = aio.OpRead; return b.queue(job) }
func (b *Backend) QueueWrite(job aio.Job) error    { job.Op = aio.OpWrite; return b.queue(job) }
func (b *Backend) QueueTimer(job aio.Job) error    { job.Op = aio.OpTimer; return b.queue(job) }

// Submit is a no-op for the busy-loop backend: queued jobs are scanned
// directly by Reap, there is no separate kernel submission step. It only
// exists to satisfy aio.Backend and is idempotent by construction.
func (b *Backend) Submit() error {
	return nil
}

// Reap scans pending jobs in FIFO order, attempting each one's syscall
// non-blockingly, until at least one completion is produced. Between
// empty passes it backs off exponentially (1µs..1ms) so a system with
// only unexpired timers pending does not spin a full core (spec.md §9).
func (b *Backend) Reap() ([]completion.Completion, error) {
	sleep := b.minSleep
	for {
		now := time.Now()
		i := 0
		for i < len(b.pending) {
			if b.reapBuf.Len() == b.reapBuf.Cap() {
				break // leave the rest pending for the next Reap
			}
			p := b.pending[i]
			done, result := b.tryJob(p, now)
			if done {
				b.reapBuf.Push(completion.Completion{Ctx: p.job.Ctx, Result: result})
				last := len(b.pending) - 1
				b.pending[i] = b.pending[last]
				b.pending = b.pending[:last]
				continue
			}
			i++
		}

		if !b.reapBuf.Empty() {
			out := make([]completion.Completion, 0, b.reapBuf.Len())
			for {
				c, ok := b.reapBuf.Pop()
				if !ok {
					break
				}
				out = append(out, c)
			}
			return out, nil
		}

		time.Sleep(sleep)
		sleep *= 2
		if sleep > b.maxSleep {
			sleep = b.maxSleep
		}
	}
}

// Close releases backend resources. Pending jobs are dropped; their
// owning file descriptors remain the caller's responsibility.
func (b *Backend) Close() error {
	b.pending = nil
	return nil
}

func (b *Backend) tryJob(p pendingJob, now time.Time) (done bool, result completion.Result) {
	if p.job.Op != aio.OpTimer && p.job.Op != aio.OpClose && b.opTimeout > 0 {
		if now.Sub(p.submitted) >= b.opTimeout {
			return true, completion.Result{Kind: completion.KindTimeout, Err: errs.ErrTimeout}
		}
	}

	switch p.job.Op {
	case aio.OpAccept:
		return b.tryAccept(p)
	case aio.OpConnect:
		return b.tryConnect(p)
	case aio.OpRecv:
		return b.tryRecv(p)
	case aio.OpSend:
		return b.trySend(p)
	case aio.OpClose:
		return b.tryClose(p)
	case aio.OpOpen:
		return b.tryOpen(p)
	case aio.OpRead:
		return b.tryRead(p)
	case aio.OpWrite:
		return b.tryWrite(p)
	case aio.OpTimer:
		return b.tryTimer(p, now)
	default:
		return true, completion.Result{Kind: completion.KindValue, Err: errs.ErrOperationNotSupported}
	}
}

func (b *Backend) tryAccept(p pendingJob) (bool, completion.Result) {
	nfd, _, err := unix.Accept4(p.job.FD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errs.IsWouldBlock(err) {
			return false, completion.Result{}
		}
		return true, completion.Result{Kind: completion.KindSocket, Err: errs.FromErrno(err)}
	}
	return true, completion.Result{Kind: completion.KindSocket, FD: nfd}
}

func (b *Backend) tryConnect(p pendingJob) (bool, completion.Result) {
	err := unix.Connect(p.job.FD, p.job.Addr)
	if err == nil || err == unix.EISCONN {
		return true, completion.Result{Kind: completion.KindValue}
	}
	if errs.IsWouldBlock(err) {
		return false, completion.Result{}
	}
	return true, completion.Result{Kind: completion.KindValue, Err: errs.FromErrno(err)}
}

func (b *Backend) tryRecv(p pendingJob) (bool, completion.Result) {
	n, err := unix.Read(p.job.FD, p.job.Buf)
	if err != nil {
		if errs.IsWouldBlock(err) {
			return false, completion.Result{}
		}
		return true, completion.Result{Kind: completion.KindValue, Err: errs.FromErrno(err)}
	}
	if n == 0 && len(p.job.Buf) > 0 {
		return true, completion.Result{Kind: completion.KindValue, Err: errs.ErrClosed}
	}
	return true, completion.Result{Kind: completion.KindValue, Value: int64(n)}
}

func (b *Backend) trySend(p pendingJob) (bool, completion.Result) {
	n, err := unix.Write(p.job.FD, p.job.Buf)
	if err != nil {
		if errs.IsWouldBlock(err) {
			return false, completion.Result{}
		}
		return true, completion.Result{Kind: completion.KindValue, Err: errs.FromErrno(err)}
	}
	return true, completion.Result{Kind: completion.KindValue, Value: int64(n)}
}

func (b *Backend) tryClose(p pendingJob) (bool, completion.Result) {
	err := unix.Close(p.job.FD)
	if err != nil {
		return true, completion.Result{Kind: completion.KindNone, Err: errs.FromErrno(err)}
	}
	return true, completion.Result{Kind: completion.KindNone}
}

func (b *Backend) tryOpen(p pendingJob) (bool, completion.Result) {
	fd, err := unix.Openat(unix.AT_FDCWD, p.job.Path, p.job.OpenFlags|unix.O_NONBLOCK|unix.O_CLOEXEC, p.job.OpenMode)
	if err != nil {
		return true, completion.Result{Kind: completion.KindFD, Err: errs.FromErrno(err)}
	}
	return true, completion.Result{Kind: completion.KindFD, FD: fd}
}

func (b *Backend) tryRead(p pendingJob) (bool, completion.Result) {
	n, err := unix.Pread(p.job.FD, p.job.Buf, p.job.Off)
	if err != nil {
		if errs.IsWouldBlock(err) {
			return false, completion.Result{}
		}
		return true, completion.Result{Kind: completion.KindValue, Err: errs.FromErrno(err)}
	}
	return true, completion.Result{Kind: completion.KindValue, Value: int64(n)}
}

func (b *Backend) tryWrite(p pendingJob) (bool, completion.Result) {
	n, err := unix.Pwrite(p.job.FD, p.job.Buf, p.job.Off)
	if err != nil {
		if errs.IsWouldBlock(err) {
			return false, completion.Result{}
		}
		return true, completion.Result{Kind: completion.KindValue, Err: errs.FromErrno(err)}
	}
	return true, completion.Result{Kind: completion.KindValue, Value: int64(n)}
}

func (b *Backend) tryTimer(p pendingJob, now time.Time) (bool, completion.Result) {
	deadline := p.submitted.Add(time.Duration(p.job.TimerMS) * time.Millisecond)
	if now.Before(deadline) {
		return false, completion.Result{}
	}
	return true, completion.Result{Kind: completion.KindTimeout}
}
