package mkcore

import (
	"github.com/jacobsa/timeutil"

	"github.com/mkcore-project/mkcore/internal/clocksrc"
)

// NewTestKernel boots a Kernel on a clocksrc.Manual backed by a
// timeutil.SimulatedClock rather than a real clock source, so tests can
// drive scheduling ticks deterministically via the returned Manual's
// Fire instead of racing wall-clock time — the same injectable-clock
// pattern internal/sched.Config and internal/clocksrc.Manual already
// expose, surfaced here as the one-call convenience a caller outside
// this module's own test files would reach for.
func NewTestKernel(numCPUs int) (*Kernel, *clocksrc.Manual, error) {
	clock := clocksrc.NewManual(timeutil.NewSimulatedClock())
	k, err := Boot(Config{NumCPUs: numCPUs, Clock: clock})
	if err != nil {
		return nil, nil, err
	}
	return k, clock, nil
}
