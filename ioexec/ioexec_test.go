package ioexec

import (
	"syscall"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/completion"
	"github.com/aioframe/aioframe/scheduler"
)

type noopBackend struct{}

func (noopBackend) Capabilities() aio.CapSet                       { return 0 }
func (noopBackend) QueueAccept(aio.Job) error                      { return nil }
func (noopBackend) QueueConnect(aio.Job) error                     { return nil }
func (noopBackend) QueueRecv(aio.Job) error                        { return nil }
func (noopBackend) QueueSend(aio.Job) error                        { return nil }
func (noopBackend) QueueClose(aio.Job) error                       { return nil }
func (noopBackend) QueueOpen(aio.Job) error                        { return nil }
func (noopBackend) QueueRead(aio.Job) error                        { return nil }
func (noopBackend) QueueWrite(aio.Job) error                       { return nil }
func (noopBackend) QueueTimer(aio.Job) error                       { return nil }
func (noopBackend) Submit() error                                  { return nil }
func (noopBackend) Close() error                                   { return nil }
func (noopBackend) Reap() ([]completion.Completion, error)         { return nil, nil }

func newTestScheduler() *scheduler.Scheduler {
	return scheduler.New(noopBackend{}, scheduler.Config{InitialTasks: 2, MaxTasks: 8, MaxAIOJobs: 4}, zerolog.Nop())
}

func TestRunSucceedsImmediately(t *testing.T) {
	s := newTestScheduler()
	var got int
	s.Spawn(func() {
		n, err := Run(s, func() (int, error) { return 7, nil })
		if err != nil {
			t.Errorf("Run err = %v", err)
		}
		got = n
	}, 16*1024)

	for i := 0; i < 5 && s.Tick(); i++ {
	}
	if got != 7 {
		t.Errorf("got = %d, want 7", got)
	}
}

func TestRunRetriesOnWouldBlock(t *testing.T) {
	s := newTestScheduler()
	attempts := 0
	var gotErr error
	s.Spawn(func() {
		_, err := Run(s, func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, syscall.EAGAIN
			}
			return 9, nil
		})
		gotErr = err
	}, 16*1024)

	for i := 0; i < 10 && s.Tick(); i++ {
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if gotErr != nil {
		t.Errorf("gotErr = %v, want nil", gotErr)
	}
}

func TestRunClassifiesHardError(t *testing.T) {
	s := newTestScheduler()
	var gotErr error
	s.Spawn(func() {
		_, gotErr = Run(s, func() (int, error) { return 0, syscall.ENOTSOCK })
	}, 16*1024)

	for i := 0; i < 5 && s.Tick(); i++ {
	}
	if gotErr == nil {
		t.Fatal("expected classified error")
	}
}
