// Package ioexec implements the capability fallback path: when the active
// AIO backend does not advertise native async support for an operation,
// the socket/file layer falls back to driving the underlying
// non-blocking syscall directly, yielding the calling frame (not the OS
// thread) between attempts until it stops returning EAGAIN.
package ioexec

import (
	"github.com/aioframe/aioframe/errs"
	"github.com/aioframe/aioframe/scheduler"
)

// Run repeatedly calls try until it succeeds or fails with a non-blocking
// error. Each time try reports EAGAIN/EWOULDBLOCK/EINPROGRESS/EALREADY,
// the calling frame yields back to the scheduler and is rescheduled for
// another attempt, exactly like any other runnable frame — no OS thread
// is blocked while the fallback spins.
func Run(s *scheduler.Scheduler, try func() (int, error)) (int, error) {
	for {
		n, err := try()
		if err == nil {
			return n, nil
		}
		if errs.IsWouldBlock(err) {
			s.YieldRunnable()
			continue
		}
		return n, errs.FromErrno(err)
	}
}
