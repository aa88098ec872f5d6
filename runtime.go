// Package aioframe is the runtime facade (spec.md §6): it owns one or
// more Scheduler instances, each driving its own AIO backend, and exposes
// construction, entry-point execution, and shutdown. Every I/O call in
// the socket/file/timer packages takes the *scheduler.Scheduler handed to
// a frame's entry function as its first argument — this is the "rt"
// parameter throughout spec.md §4.6, made an explicit argument rather
// than implicit/thread-local state because a frame here is a goroutine,
// not a stackful coroutine with runtime-owned thread-local storage.
package aioframe

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/scheduler"
)

func init() {
	// automaxprocs sets GOMAXPROCS from the container's cgroup cpu quota
	// (rather than the host's full core count) before ThreadingAuto sizes
	// its instance pool off runtime.GOMAXPROCS.
	maxprocs.Set()
}

// Runtime supervises one (ThreadingSingle) or many (ThreadingAuto)
// Scheduler instances, each with its own AIO backend.
type Runtime struct {
	cfg        config
	scheds     []*scheduler.Scheduler
	backends   []aio.Backend
	nextSpawn  atomic.Uint64
}

// New constructs a Runtime. Under ThreadingAuto it builds one Scheduler
// and backend per runtime.GOMAXPROCS; under ThreadingSingle, exactly one.
func New(opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	n := 1
	if cfg.threading == ThreadingAuto {
		n = runtime.GOMAXPROCS(0)
		if n < 1 {
			n = 1
		}
	}

	rt := &Runtime{cfg: cfg}
	for i := 0; i < n; i++ {
		backend, err := newBackend(cfg)
		if err != nil {
			for _, b := range rt.backends {
				b.Close()
			}
			return nil, fmt.Errorf("aioframe: construct backend %d/%d: %w", i+1, n, err)
		}
		sc := scheduler.New(backend, scheduler.Config{
			InitialTasks: cfg.sizeTasksInitial,
			MaxTasks:     cfg.sizeTasksMax,
			Pooling:      cfg.pooling,
			MaxAIOJobs:   cfg.sizeAIOJobsMax,
		}, cfg.logger)
		rt.scheds = append(rt.scheds, sc)
		rt.backends = append(rt.backends, backend)
	}
	return rt, nil
}

// Entry spawns fn as the first frame on every Scheduler instance and runs
// each one, blocking until every instance has been stopped (Stop, from a
// frame or from Runtime.Stop) and has drained its frames. Under
// ThreadingAuto, fn runs once per instance concurrently (the intended use
// is a listening socket bound with SO_REUSEPORT, so the kernel fans
// inbound connections out across instances); under ThreadingSingle it
// runs exactly once.
func (rt *Runtime) Entry(fn func(rt *scheduler.Scheduler)) error {
	var g errgroup.Group
	for _, sc := range rt.scheds {
		sc := sc
		if err := sc.Spawn(func() { fn(sc) }, 64*1024); err != nil {
			return err
		}
		g.Go(func() error {
			sc.Run()
			return nil
		})
	}
	return g.Wait()
}

// Spawn queues fn on one Scheduler instance (round-robin under
// ThreadingAuto) without blocking for it to run. It is meant for use
// outside any frame. It takes no lock, and a Scheduler is not safe for
// concurrent use, so it must not be called while Entry is driving the
// schedulers on other goroutines; frames spawned before Entry run ahead
// of Entry's own frame.
func (rt *Runtime) Spawn(fn func(rt *scheduler.Scheduler), stackSize int) error {
	idx := rt.nextSpawn.Add(1) % uint64(len(rt.scheds))
	sc := rt.scheds[idx]
	return sc.Spawn(func() { fn(sc) }, stackSize)
}

// Stop requests every instance to shut down once its frames drain.
func (rt *Runtime) Stop() {
	for _, sc := range rt.scheds {
		sc.Stop()
	}
}

// Close tears down every backend. Call after Entry/Run have returned.
func (rt *Runtime) Close() error {
	var firstErr error
	for _, b := range rt.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
