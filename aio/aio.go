// Package aio defines the backend-agnostic asynchronous I/O interface:
// the operation enum, the job record queued against a backend, the
// capability bitset backends advertise, and the Backend interface itself.
// Concrete engines live in the aio/busyloop, aio/readiness and aio/iouring
// subpackages.
package aio

import (
	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/completion"
)

// Op tags the operation a Job describes.
type Op uint8

const (
	OpAccept Op = iota
	OpConnect
	OpRecv
	OpSend
	OpClose
	OpOpen
	OpRead
	OpWrite
	OpTimer
	opCount
)

func (op Op) String() string {
	names := [...]string{"accept", "connect", "recv", "send", "close", "open", "read", "write", "timer"}
	if int(op) < len(names) {
		return names[op]
	}
	return "unknown"
}

// Job describes one pending I/O operation. Fields not relevant to Op are
// left zero; this mirrors the teacher's own SQE, a single fixed-size
// tagged record rather than an interface per operation, so queuing a job
// never allocates.
type Job struct {
	Op  Op
	Ctx completion.Context

	FD   int
	Buf  []byte
	Off  int64
	Addr unix.Sockaddr // connect target

	Path      string
	OpenFlags int
	OpenMode  uint32

	TimerMS int64

	// SubmitAt is stamped (Unix nanoseconds) by the busy-loop backend when
	// the job is queued. Its ms_operation_max check uses the queue time it
	// keeps alongside the job, not this field. Other backends leave it zero.
	SubmitAt int64
}

// CapSet is a bitset of the operations a backend accelerates at the
// kernel level. Queries are by Op, not by a separate named constant per
// capability, matching spec.md §9's "tagged variant with a capability
// bitset" note — the bit position for Op o is simply 1<<o.
type CapSet uint16

// CapSetFor builds a CapSet out of the given supported operations.
func CapSetFor(ops ...Op) CapSet {
	var c CapSet
	for _, op := range ops {
		c |= 1 << uint(op)
	}
	return c
}

// Has reports whether op is kernel-accelerated by a backend advertising c.
func (c CapSet) Has(op Op) bool {
	return c&(1<<uint(op)) != 0
}

// Backend is the pluggable AIO engine. Queue* calls are non-blocking and
// may return errs.ErrQueueFull. Submit flushes queued jobs (idempotent
// for an empty queue). Reap blocks until at least one completion is
// available and returns a slice borrowed from a backend-owned buffer,
// valid only until the next call to Reap.
//
// A Backend is not safe for concurrent use: aioframe drives each backend
// from exactly one goroutine at a time (the runtime's own tick loop),
// matching the single-threaded-cooperative model of spec.md §5.
type Backend interface {
	Capabilities() CapSet

	QueueAccept(job Job) error
	QueueConnect(job Job) error
	QueueRecv(job Job) error
	QueueSend(job Job) error
	QueueClose(job Job) error
	QueueOpen(job Job) error
	QueueRead(job Job) error
	QueueWrite(job Job) error
	QueueTimer(job Job) error

	Submit() error
	Reap() ([]completion.Completion, error)
	Close() error
}
