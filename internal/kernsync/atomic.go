// Package kernsync provides the low-level synchronization primitives shared
// by the scheduler, IPC, and futex packages: spinlocks, IRQ-disabling
// spinlocks, a preemption guard, memory barriers, and an intrusive list
// (see the ilist subpackage).
package kernsync

import "sync/atomic"

// Counter is a monotonic lock-free counter. Zero value is ready to use.
// The root package's Metrics uses sync/atomic fields directly, not
// Counter.
type Counter struct {
	v atomic.Uint64
}

// Add increments the counter by delta and returns the new value.
func (c *Counter) Add(delta uint64) uint64 {
	return c.v.Add(delta)
}

// Load returns the current value.
func (c *Counter) Load() uint64 {
	return c.v.Load()
}

// Reset zeroes the counter and returns the value it held.
func (c *Counter) Reset() uint64 {
	return c.v.Swap(0)
}
