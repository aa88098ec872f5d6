package aioframe

import (
	"fmt"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/file"
	"github.com/aioframe/aioframe/scheduler"
	"github.com/aioframe/aioframe/socket"
	"github.com/aioframe/aioframe/timer"
)

// newE2ERuntime forces the busy-loop backend: it has no kernel/permission
// prerequisites, so these end-to-end tests run the same way in any CI
// sandbox, while still exercising the full Runtime/Scheduler/socket/file
// stack above it.
func newE2ERuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	all := append([]Option{WithBackend(BackendBusyLoop)}, opts...)
	rt, err := New(all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

// Scenario A: echo server — a client sends "ping", the server echoes it
// back, then both sides close.
func TestScenarioEchoServer(t *testing.T) {
	rt := newE2ERuntime(t)

	ln, err := socket.New(socket.TCP)
	if err != nil {
		t.Fatalf("socket.New: %v", err)
	}
	if err := ln.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sa, err := unix.Getsockname(ln.FD())
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	if err := ln.Listen(4); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var echoed string
	var srvErr, cliErr error

	if err := rt.Entry(func(sc *scheduler.Scheduler) {
		sc.Spawn(func() {
			conn, err := ln.Accept(sc)
			if err != nil {
				srvErr = err
				sc.Stop()
				return
			}
			buf := make([]byte, 4)
			if _, err := conn.RecvAll(sc, buf); err != nil {
				srvErr = err
				sc.Stop()
				return
			}
			conn.SendAll(sc, buf)
			conn.Close(sc)
			sc.Stop()
		}, 32*1024)

		sc.Spawn(func() {
			conn, err := socket.New(socket.TCP)
			if err != nil {
				cliErr = err
				return
			}
			if err := conn.Connect(sc, addr); err != nil {
				cliErr = err
				return
			}
			if _, err := conn.SendAll(sc, []byte("ping")); err != nil {
				cliErr = err
				return
			}
			buf := make([]byte, 4)
			if _, err := conn.RecvAll(sc, buf); err != nil {
				cliErr = err
				return
			}
			echoed = string(buf)
			conn.Close(sc)
		}, 32*1024)
	}); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	if srvErr != nil {
		t.Fatalf("server error: %v", srvErr)
	}
	if cliErr != nil {
		t.Fatalf("client error: %v", cliErr)
	}
	if echoed != "ping" {
		t.Fatalf("echoed = %q, want %q", echoed, "ping")
	}
}

// Scenario B: cat — read a file's full contents back out through the
// File surface.
func TestScenarioCatFile(t *testing.T) {
	rt := newE2ERuntime(t)

	tmp, err := os.CreateTemp("", "aioframe_cat")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(tmp.Name())
	want := "the quick brown fox"
	if _, err := tmp.WriteString(want); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	tmp.Close()

	var got string
	var opErr error
	if err := rt.Entry(func(sc *scheduler.Scheduler) {
		sc.Spawn(func() {
			f, err := file.Open(sc, tmp.Name(), unix.O_RDONLY, 0)
			if err != nil {
				opErr = err
				return
			}
			buf := make([]byte, len(want))
			if _, err := f.Read(sc, buf, 0); err != nil {
				opErr = err
				return
			}
			got = string(buf)
			f.Close(sc)
			sc.Stop()
		}, 32*1024)
	}); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	if opErr != nil {
		t.Fatalf("op error: %v", opErr)
	}
	if got != want {
		t.Fatalf("got = %q, want %q", got, want)
	}
}

// Scenario C: a frame delays for a short duration and observes elapsed
// wall-clock time consistent with the requested delay.
func TestScenarioBasicTimer(t *testing.T) {
	rt := newE2ERuntime(t)

	var elapsed time.Duration
	var opErr error
	if err := rt.Entry(func(sc *scheduler.Scheduler) {
		sc.Spawn(func() {
			start := time.Now()
			opErr = timer.Delay(sc, 20*time.Millisecond)
			elapsed = time.Since(start)
			sc.Stop()
		}, 16*1024)
	}); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	if opErr != nil {
		t.Fatalf("Delay error: %v", opErr)
	}
	if elapsed < 15*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= ~20ms", elapsed)
	}
}

// Scenario D: size_aio_jobs_max bounds concurrently in-flight jobs; see
// scheduler.TestBackpressureLimitsInFlightJobs for the focused unit test
// that asserts the peak in-flight count directly.
func TestScenarioBackpressureReferencedElsewhere(t *testing.T) {
	t.Log("covered by scheduler.TestBackpressureLimitsInFlightJobs")
}

// Scenario E: a peer that resets the connection mid-accept is swallowed,
// not surfaced, matching spec.md §4.6. The client resets one connection
// (SO_LINGER 0, then close) and follows it with an ordinary one; whether
// accept ever sees the reset depends on timing, so the test only checks
// that Accept returns a connection and no error.
func TestScenarioConnectionResetDuringAcceptIsBenign(t *testing.T) {
	rt := newE2ERuntime(t)

	ln, err := socket.New(socket.TCP)
	if err != nil {
		t.Fatalf("socket.New: %v", err)
	}
	if err := ln.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sa, err := unix.Getsockname(ln.FD())
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	if err := ln.Listen(4); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var accepted bool
	var srvErr error
	if err := rt.Entry(func(sc *scheduler.Scheduler) {
		sc.Spawn(func() {
			conn, err := ln.Accept(sc)
			if err != nil {
				srvErr = err
			} else {
				accepted = true
				conn.Close(sc)
			}
			sc.Stop()
		}, 32*1024)

		sc.Spawn(func() {
			// A connection that sets SO_LINGER(0,0) and closes immediately
			// forces an RST instead of a FIN, racing the accept queue.
			conn, err := socket.New(socket.TCP)
			if err != nil {
				return
			}
			if err := conn.Connect(sc, addr); err != nil {
				return
			}
			unix.SetsockoptLinger(conn.FD(), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
			conn.CloseBlocking()

			conn2, err := socket.New(socket.TCP)
			if err != nil {
				return
			}
			conn2.Connect(sc, addr)
			conn2.SendAll(sc, []byte("x"))
			conn2.Close(sc)
		}, 32*1024)
	}); err != nil {
		t.Fatalf("Entry: %v", err)
	}

	if srvErr != nil {
		t.Fatalf("accept surfaced an error instead of retrying past the reset: %v", srvErr)
	}
	if !accepted {
		t.Fatal("server never accepted a connection")
	}
}

// Scenario F: SPSC ring correctness under concurrent load is covered by
// ring.TestConcurrentProducerConsumer.
func TestScenarioSPSCStressReferencedElsewhere(t *testing.T) {
	t.Log("covered by ring.TestConcurrentProducerConsumer")
}
