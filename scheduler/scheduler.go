// Package scheduler owns the task table and the runnable FIFO, and drives
// one AIO backend through its submit/reap cycle. It implements spec.md
// §4.3's spawn (Spawn), io_await (Await) and tick (Tick); there is no
// separate entry point that resumes a single frame.
package scheduler

import (
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/completion"
	"github.com/aioframe/aioframe/frame"
)

// ErrTaskTableFull is returned by Spawn when the task pool has reached its
// configured maximum and, under PoolingStatic, cannot grow further.
var ErrTaskTableFull = errors.New("scheduler: task table full")

// State is a task slot's lifecycle stage.
type State uint8

const (
	StateUnused State = iota
	StateRunnable
	StateWaiting
	StateDead
)

// PoolingMode selects whether the task table grows past its initial size.
type PoolingMode uint8

const (
	PoolingStatic PoolingMode = iota
	PoolingGrow
)

// Config configures a Scheduler's task table and backpressure limits.
type Config struct {
	InitialTasks uint32
	MaxTasks     uint32
	Pooling      PoolingMode
	MaxAIOJobs   int64 // size_aio_jobs_max
}

type taskSlot struct {
	state  State
	frame  *frame.Frame
	result completion.Result
	gen    uint32
}

// Scheduler owns the task table, the runnable FIFO, and the AIO backend.
// It is driven entirely by its own goroutine; Spawn/Await/Tick are not
// safe to call concurrently with each other (matching spec.md §5: "the
// task pool and scheduler FIFO are mutated only by the runtime's main
// loop on its owning thread").
type Scheduler struct {
	backend aio.Backend
	log     zerolog.Logger

	slots []taskSlot
	free  []uint32

	runnable []uint32
	waiting  int

	jobSem *semaphore.Weighted

	maxTasks uint32
	pooling  PoolingMode

	currentSlot  uint32
	currentFrame *frame.Frame

	stopped bool
}

// New creates a Scheduler over backend with the given Config.
func New(backend aio.Backend, cfg Config, log zerolog.Logger) *Scheduler {
	maxJobs := cfg.MaxAIOJobs
	if maxJobs <= 0 {
		maxJobs = int64(cfg.MaxTasks)
		if maxJobs <= 0 {
			maxJobs = 1
		}
	}
	return &Scheduler{
		backend:  backend,
		log:      log,
		slots:    make([]taskSlot, 0, cfg.InitialTasks),
		maxTasks: cfg.MaxTasks,
		pooling:  cfg.Pooling,
		jobSem:   semaphore.NewWeighted(maxJobs),
	}
}

// Spawn allocates a task slot and a frame running entry, and marks it
// runnable. Supervision is via the frame's natural return; no handle is
// returned to user code, matching spec.md §4.3.
func (s *Scheduler) Spawn(entry func(), stackSize int) error {
	idx, err := s.allocSlot()
	if err != nil {
		return err
	}
	sl := &s.slots[idx]
	sl.state = StateRunnable
	sl.frame = frame.Create(func(*frame.Frame) { entry() }, frame.CreateOpts{StackSize: stackSize})
	s.runnable = append(s.runnable, idx)
	return nil
}

func (s *Scheduler) allocSlot() (uint32, error) {
	if len(s.free) > 0 {
		idx := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		return idx, nil
	}
	if s.maxTasks > 0 && uint32(len(s.slots)) >= s.maxTasks {
		return 0, ErrTaskTableFull
	}
	if s.pooling == PoolingStatic && cap(s.slots) > 0 && uint32(len(s.slots)) >= uint32(cap(s.slots)) {
		return 0, ErrTaskTableFull
	}
	s.slots = append(s.slots, taskSlot{state: StateUnused})
	return uint32(len(s.slots) - 1), nil
}

// YieldRunnable re-enqueues the calling frame's slot as runnable and
// yields. It is the building block for every "block the frame, not the
// OS thread" wait: Await's backpressure retry, Race's poll loop, and the
// ioexec package's capability-fallback loop all use it.
func (s *Scheduler) YieldRunnable() {
	s.runnable = append(s.runnable, s.currentSlot)
	s.currentFrame.Yield()
}

// Await places the calling frame's slot in the waiting state, submits job
// through the backend, and yields until the matching completion is
// dispatched. It first blocks (by the YieldRunnable pattern, not an OS
// thread block) on the configured size_aio_jobs_max semaphore, making
// scenario D's backpressure concrete: the second of two concurrent jobs
// is queued only once the first's completion has been consumed.
func (s *Scheduler) Await(job aio.Job) completion.Result {
	for !s.jobSem.TryAcquire(1) {
		s.YieldRunnable()
	}
	defer s.jobSem.Release(1)

	idx := s.currentSlot
	sl := &s.slots[idx]
	sl.state = StateWaiting
	s.waiting++
	job.Ctx = completion.Context{SlotIndex: idx, Gen: sl.gen}

	if err := s.queue(job); err != nil {
		sl.state = StateRunnable
		s.waiting--
		return completion.Result{Err: err}
	}

	s.currentFrame.Yield()
	return sl.result
}

func (s *Scheduler) queue(job aio.Job) error {
	switch job.Op {
	case aio.OpAccept:
		return s.backend.QueueAccept(job)
	case aio.OpConnect:
		return s.backend.QueueConnect(job)
	case aio.OpRecv:
		return s.backend.QueueRecv(job)
	case aio.OpSend:
		return s.backend.QueueSend(job)
	case aio.OpClose:
		return s.backend.QueueClose(job)
	case aio.OpOpen:
		return s.backend.QueueOpen(job)
	case aio.OpRead:
		return s.backend.QueueRead(job)
	case aio.OpWrite:
		return s.backend.QueueWrite(job)
	case aio.OpTimer:
		return s.backend.QueueTimer(job)
	default:
		return errors.New("scheduler: unknown op")
	}
}

// Race runs a and b each on their own frame and returns whichever error
// value is produced first. The loser keeps running to completion in the
// background, since cancellation is cooperative and individual I/O
// operations cannot be cancelled from another frame (spec.md §5) — this
// is the racing-timer-frame pattern the spec requires callers to build on
// backends other than busy-loop.
func (s *Scheduler) Race(a, b func() error) error {
	results := make(chan error, 2)
	spawn := func(fn func() error) {
		s.Spawn(func() { results <- fn() }, 16*1024)
	}
	spawn(a)
	spawn(b)
	for {
		select {
		case err := <-results:
			return err
		default:
			s.YieldRunnable()
		}
	}
}

// runRunnableOnce resumes every frame that was runnable at the start of
// this pass, in FIFO order, exactly once each. A frame that re-schedules
// itself via YieldRunnable (Await's backpressure retry, Race's poll loop)
// or that gets newly spawned mid-pass goes to the back of the queue for
// the *next* pass rather than being resumed again immediately — without
// this bound, a frame that repeatedly re-yields without anything else
// changing would spin forever and Tick would never reach Submit/Reap.
func (s *Scheduler) runRunnableOnce() {
	n := len(s.runnable)
	for i := 0; i < n; i++ {
		idx := s.runnable[0]
		s.runnable = s.runnable[1:]

		sl := &s.slots[idx]
		if sl.state != StateRunnable {
			continue
		}

		s.currentSlot = idx
		s.currentFrame = sl.frame
		sl.frame.Resume()

		if p := sl.frame.Panic(); p != nil {
			panic(p)
		}
		if sl.frame.IsComplete() {
			sl.state = StateDead
			sl.gen++
			s.free = append(s.free, idx)
		}
	}
}

func (s *Scheduler) dispatch(completions []completion.Completion) {
	for _, c := range completions {
		idx := c.Ctx.SlotIndex
		if int(idx) >= len(s.slots) {
			continue
		}
		sl := &s.slots[idx]
		if sl.state != StateWaiting || sl.gen != c.Ctx.Gen {
			continue // stale completion for a recycled slot
		}
		sl.result = c.Result
		sl.state = StateRunnable
		s.waiting--
		s.runnable = append(s.runnable, idx)
	}
}

func (s *Scheduler) hasOutstanding() bool {
	return s.waiting > 0
}

// Tick runs one full scheduler pass: drain runnable, submit, reap,
// dispatch. It returns whether the scheduler still has runnable or
// waiting work.
func (s *Scheduler) Tick() bool {
	s.runRunnableOnce()

	if err := s.backend.Submit(); err != nil {
		s.log.Error().Err(err).Msg("aio backend submit failed")
	}

	if s.hasOutstanding() {
		completions, err := s.backend.Reap()
		if err != nil {
			s.log.Error().Err(err).Msg("aio backend reap failed")
		} else {
			s.dispatch(completions)
		}
	}

	return s.hasOutstanding() || len(s.runnable) > 0
}

// Run drives Tick until Stop has been called and no runnable or waiting
// slots remain.
func (s *Scheduler) Run() {
	for {
		hasWork := s.Tick()
		if s.stopped && !hasWork {
			return
		}
	}
}

// Stop requests shutdown. Run exits once all frames have drained.
func (s *Scheduler) Stop() {
	s.stopped = true
}

// Backend returns the underlying AIO backend, primarily so the I/O
// surface can consult its advertised Capabilities.
func (s *Scheduler) Backend() aio.Backend {
	return s.backend
}
