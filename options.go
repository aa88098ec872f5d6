package aioframe

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aioframe/aioframe/scheduler"
)

// Threading selects whether a Runtime drives one scheduler or a pool of
// independent, per-core schedulers (spec.md §6 "auto mode").
type Threading uint8

const (
	// ThreadingSingle runs one Scheduler on the calling goroutine.
	ThreadingSingle Threading = iota
	// ThreadingAuto runs one Scheduler per GOMAXPROCS, each on its own
	// goroutine, each with its own AIO backend instance. Entry's frame
	// function runs once per instance; socket listeners should use
	// SO_REUSEPORT (the socket package's default reuse ladder) so the
	// kernel load-balances inbound connections across them.
	ThreadingAuto
)

// BackendKind selects which AIO engine a Runtime uses.
type BackendKind uint8

const (
	// BackendAuto picks io_uring if the kernel supports it, falling back
	// to the readiness reactor, falling back to the busy-loop backend.
	BackendAuto BackendKind = iota
	BackendBusyLoop
	BackendReadiness
	BackendIOURing
)

// config collects every External Interfaces and Options table entry
// (spec.md §7) plus the ambient WithLogger option.
type config struct {
	threading Threading
	backend   BackendKind

	sizeTasksInitial uint32
	sizeTasksMax     uint32
	pooling          scheduler.PoolingMode

	sizeAIOJobsMax  int64
	sizeAIOReapMax  uint64
	msOperationMax  time.Duration

	logger zerolog.Logger
}

func defaultConfig() config {
	return config{
		threading:        ThreadingSingle,
		backend:          BackendAuto,
		sizeTasksInitial: 64,
		sizeTasksMax:     4096,
		pooling:          scheduler.PoolingGrow,
		sizeAIOJobsMax:   256,
		sizeAIOReapMax:   256,
		msOperationMax:   30 * time.Second,
		logger:           zerolog.Nop(),
	}
}

// Option configures a Runtime at construction time.
type Option func(*config)

// WithThreading selects single-scheduler or auto (one-per-core) mode.
func WithThreading(t Threading) Option {
	return func(c *config) { c.threading = t }
}

// WithBackend pins the AIO engine instead of letting Runtime probe for
// the best one available.
func WithBackend(b BackendKind) Option {
	return func(c *config) { c.backend = b }
}

// WithTaskPool sets size_tasks_initial and size_tasks_max, and whether
// the pool is allowed to grow past its initial size.
func WithTaskPool(initial, max uint32, pooling scheduler.PoolingMode) Option {
	return func(c *config) {
		c.sizeTasksInitial = initial
		c.sizeTasksMax = max
		c.pooling = pooling
	}
}

// WithMaxAIOJobs sets size_aio_jobs_max, the backpressure limit on
// concurrently in-flight AIO jobs per scheduler.
func WithMaxAIOJobs(n int64) Option {
	return func(c *config) { c.sizeAIOJobsMax = n }
}

// WithMaxAIOReap sets size_aio_reap_max, the per-Reap completion cap.
func WithMaxAIOReap(n uint64) Option {
	return func(c *config) { c.sizeAIOReapMax = n }
}

// WithOperationTimeout sets ms_operation_max, honored by the busy-loop
// backend for every op except close and timer (see DESIGN.md). The
// socket, file and timer packages never queue jobs on the busy-loop
// backend (it advertises no capabilities), so their operations are not
// subject to this timeout.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *config) { c.msOperationMax = d }
}

// WithLogger installs a structured logger. It is handed to each Scheduler,
// which logs only failures that don't otherwise surface to caller code (a
// submit/reap error mid-tick); the backends do not log, and per-operation
// tracing is left to callers.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}
