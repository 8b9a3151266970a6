package clocksrc

import (
	"sync"

	"github.com/jacobsa/timeutil"
)

// Manual is a deterministic Source for tests that need to single-step
// the scheduling clock instead of racing a wall-clock timer. Its notion
// of "now" comes from a jacobsa/timeutil.Clock rather than time.Now()
// directly, so a test can swap in timeutil.NewSimulatedClock and
// advance logical time without sleeping — the same clock abstraction
// mkcore.Metrics stamps StartTime/StopTime from.
type Manual struct {
	clock timeutil.Clock

	mu     sync.Mutex
	ticks  chan Tick
	closed bool
}

// NewManual creates a Manual source backed by clock. Pass
// timeutil.RealClock() for production use or a
// timeutil.NewSimulatedClock() for deterministic tests.
func NewManual(clock timeutil.Clock) *Manual {
	return &Manual{
		clock: clock,
		ticks: make(chan Tick, 1),
	}
}

// Fire emits exactly one tick, stamped with the backing clock's current
// time. Blocks if a previous tick has not yet been consumed.
func (m *Manual) Fire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.ticks <- Tick{At: m.clock.Now()}
}

// Ticks implements Source.
func (m *Manual) Ticks() <-chan Tick { return m.ticks }

// Close implements Source.
func (m *Manual) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.ticks)
	return nil
}

var _ Source = (*Manual)(nil)
