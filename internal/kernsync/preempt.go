package kernsync

import "sync/atomic"

// PreemptGuard tracks a nestable preemption-disabled depth.
// IRQSpinlock.Lock increments the guard it is given and Unlock
// decrements it. Each structure that owns an IRQSpinlock (sched.CPU,
// waitqueue.WaitQueue, ipc.Answerbox) owns its own PreemptGuard, so the
// depth counts holders of that one structure's lock, not of every lock
// taken on a simulated CPU. The scheduler's clock tick does not consult
// Disabled(): it requests preemption whatever the depth.
type PreemptGuard struct {
	depth atomic.Int32
}

// Disable increments the preemption-disabled depth.
func (p *PreemptGuard) Disable() {
	p.depth.Add(1)
}

// Enable decrements the preemption-disabled depth. Panics if called
// without a matching Disable, since that indicates a balance bug in a
// caller holding an IRQSpinlock.
func (p *PreemptGuard) Enable() {
	if p.depth.Add(-1) < 0 {
		panic("kernsync: PreemptGuard.Enable without matching Disable")
	}
}

// Disabled reports whether preemption is currently disabled on this CPU.
func (p *PreemptGuard) Disabled() bool {
	return p.depth.Load() > 0
}

// Depth returns the current nesting depth, for diagnostics.
func (p *PreemptGuard) Depth() int32 {
	return p.depth.Load()
}
