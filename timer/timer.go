// Package timer implements the Timer operation (spec.md §4.6): suspending
// the calling frame for a duration via the active backend's OpTimer job.
package timer

import (
	"time"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/scheduler"
)

// Delay suspends the calling frame for roughly d, resuming once the
// backend's timer completion fires. Backends that don't advertise
// OpTimer (readiness has no fd to register a deadline against) fall
// back to a deadline loop that yields the frame via YieldRunnable
// between checks, the same degrade-gracefully contract every other I/O
// surface gets through ioexec.Run.
func Delay(rt *scheduler.Scheduler, d time.Duration) error {
	if rt.Backend().Capabilities().Has(aio.OpTimer) {
		res := rt.Await(aio.Job{Op: aio.OpTimer, TimerMS: d.Milliseconds()})
		return res.Err
	}

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		rt.YieldRunnable()
	}
	return nil
}
