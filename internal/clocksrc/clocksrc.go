// Package clocksrc is the external-collaborator stand-in deliberately
// kept out of the core itself: a real kernel's scheduler is driven by a
// hardware timer interrupt, which this simulation replaces with an
// injected tick source the core merely consumes, split by build tag
// between a real io_uring-backed implementation and a portable
// time.Ticker fallback.
package clocksrc

import "time"

// Tick is one scheduling-clock tick, stamped with the logical time it
// fired at (see Source implementations for where that time comes from).
type Tick struct {
	At time.Time
}

// Source is the injected clock-tick callback interface the scheduler
// drives its per-CPU dispatch loop from: one object, Close()'d on
// shutdown, consumed through a channel rather than a bare callback.
type Source interface {
	// Ticks returns the channel new Tick values arrive on. Closed after
	// Close returns.
	Ticks() <-chan Tick
	Close() error
}
