//go:build linux

package iouring

import (
	"syscall"
	"testing"
	"time"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/completion"
)

func skipIfUnavailable(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		if err == syscall.ENOSYS || err == syscall.EPERM {
			t.Skipf("io_uring unavailable: %v", err)
		}
		t.Skipf("io_uring unavailable: %v", err)
	}
}

func TestNewAndCapabilities(t *testing.T) {
	b, err := New(64, 32)
	skipIfUnavailable(t, err)
	defer b.Close()

	if !b.Capabilities().Has(aio.OpRead) {
		t.Error("expected OpRead to be supported")
	}
}

func TestSendRecvIOURing(t *testing.T) {
	b, err := New(64, 32)
	skipIfUnavailable(t, err)
	defer b.Close()

	fds, serr := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if serr != nil {
		t.Fatalf("Socketpair: %v", serr)
	}
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	if err := b.QueueSend(aio.Job{FD: fds[0], Buf: []byte("hello"), Ctx: completion.Context{SlotIndex: 1}}); err != nil {
		t.Fatalf("QueueSend: %v", err)
	}
	recvBuf := make([]byte, 16)
	if err := b.QueueRecv(aio.Job{FD: fds[1], Buf: recvBuf, Ctx: completion.Context{SlotIndex: 2}}); err != nil {
		t.Fatalf("QueueRecv: %v", err)
	}
	if err := b.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	seen := map[uint32]completion.Result{}
	for len(seen) < 2 {
		cs, err := b.Reap()
		if err != nil {
			t.Fatalf("Reap: %v", err)
		}
		for _, c := range cs {
			seen[c.Ctx.SlotIndex] = c.Result
		}
	}
	if seen[2].Value != 5 || string(recvBuf[:5]) != "hello" {
		t.Errorf("recv = %+v buf=%q", seen[2], recvBuf[:5])
	}
}

func TestTimerCompletion(t *testing.T) {
	b, err := New(64, 32)
	skipIfUnavailable(t, err)
	defer b.Close()

	if err := b.QueueTimer(aio.Job{TimerMS: 20, Ctx: completion.Context{SlotIndex: 9}}); err != nil {
		t.Fatalf("QueueTimer: %v", err)
	}
	if err := b.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	start := time.Now()
	cs, err := b.Reap()
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if len(cs) != 1 || cs[0].Result.Kind != completion.KindTimeout {
		t.Fatalf("completions = %+v", cs)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("timer fired too early")
	}
}
