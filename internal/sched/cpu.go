// Package sched implements the per-CPU multi-level ready queues,
// dispatch loop, work-stealing load balancer, and clock tick that
// drive the simulated scheduler.
package sched

import (
	"runtime"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/mkcore-project/mkcore/internal/constants"
	"github.com/mkcore-project/mkcore/internal/kernsync"
	"github.com/mkcore-project/mkcore/internal/kthread"
)

// CPU is one conceptual scheduler instance: RQCount priority-ordered
// ready queues, a currently running thread slot, an idle thread, and
// the tick-driven bookkeeping for preemption and priority aging.
// Invariant: the currently running thread, if non-nil, is in state
// Running and is not a member of any ready queue.
type CPU struct {
	id    int
	owner *Scheduler

	lock  kernsync.IRQSpinlock
	guard kernsync.PreemptGuard

	queues [constants.RQCount]kthread.List
	ready  int64 // total threads across queues; read via readyCount()

	running *kthread.Thread
	idle    *kthread.Thread

	needsRelink int

	preempt bool

	affinity []int
}

func newCPU(id int, owner *Scheduler) *CPU {
	cpu := &CPU{id: id, owner: owner}
	cpu.idle = newIdleThread(cpu)
	cpu.idle.Start()
	cpu.running = cpu.idle
	return cpu
}

// ID returns the CPU's identifier.
func (cpu *CPU) ID() int { return cpu.id }

// SetAffinity records the OS-thread core IDs this CPU's dispatch loop
// goroutine should be pinned to (linux only; see cpu_affinity_linux.go).
func (cpu *CPU) SetAffinity(cores []int) { cpu.affinity = cores }

func (cpu *CPU) readyCount() int64 {
	cpu.lock.Lock(&cpu.guard)
	defer cpu.lock.Unlock(&cpu.guard)
	return cpu.ready
}

// Running returns the thread currently occupying this CPU's running
// slot (possibly the idle thread).
func (cpu *CPU) Running() *kthread.Thread {
	cpu.lock.Lock(&cpu.guard)
	defer cpu.lock.Unlock(&cpu.guard)
	return cpu.running
}

func (cpu *CPU) pushLocked(t *kthread.Thread) {
	t.Lock()
	pr := t.Priority()
	t.Unlock()
	if pr < 0 {
		pr = 0
	}
	if pr >= constants.RQCount {
		pr = constants.RQCount - 1
	}
	cpu.queues[pr].PushBack(t)
	cpu.ready++
}

// enqueue places t on this CPU's ready queue for its current priority.
// Used both for externally-readied threads and internal requeueing.
func (cpu *CPU) enqueue(t *kthread.Thread) {
	cpu.lock.Lock(&cpu.guard)
	cpu.pushLocked(t)
	cpu.lock.Unlock(&cpu.guard)
}

// Dispatch runs one invocation of schedule(), a 7-step dispatch
// algorithm, and returns the thread it selected to run next.
func (cpu *CPU) Dispatch() *kthread.Thread {
	cpu.lock.Lock(&cpu.guard)

	prev := cpu.running
	if prev != nil && prev != cpu.idle {
		prev.Lock()
		st := prev.State()
		if st == kthread.Running {
			// Step 2: did not voluntarily block; re-append, lowering
			// priority (numerically higher, bounded at the lowest real
			// priority) if its slice ran out.
			if prev.RemainingTicks() <= 0 {
				p := prev.Priority()
				if p < constants.RQCount-1 {
					prev.SetPriority(p + 1)
				}
			}
			prev.SetState(kthread.Ready)
			prev.SetReadyAt(cpu.now())
			prev.Unlock()
			cpu.pushLocked(prev)
		} else {
			prev.Unlock()
		}
	}

	// Step 3: search local queues, lowest priority number first.
	var next *kthread.Thread
	for p := 0; p < constants.RQCount; p++ {
		if head := cpu.queues[p].Front(); head != nil {
			cpu.queues[p].Remove(head)
			cpu.ready--
			next = head
			break
		}
	}

	// Step 4: local queues empty — try the load balancer, else idle.
	var readyAt int64
	if next == nil && cpu.owner != nil {
		for _, stolen := range cpu.owner.stealFor(cpu) {
			cpu.pushLocked(stolen)
		}
		for p := 0; p < constants.RQCount; p++ {
			if head := cpu.queues[p].Front(); head != nil {
				cpu.queues[p].Remove(head)
				cpu.ready--
				next = head
				break
			}
		}
	}
	if next == nil {
		next = cpu.idle
	} else {
		next.Lock()
		readyAt = next.ReadyAt()
		next.Unlock()
	}

	// Step 5: mark Running, record affinity, compute time slice.
	next.Lock()
	next.SetState(kthread.Running)
	next.SetLastCPU(cpu.id)
	next.SetStolen(false)
	pr := next.Priority()
	slice := constants.BaseSliceTicks * (1 + (constants.RQCount - 1) - pr)
	next.SetRemainingTicks(slice)
	next.Unlock()

	cpu.running = next
	cpu.preempt = false

	cpu.lock.Unlock(&cpu.guard)

	if cpu.owner != nil && cpu.owner.obs != nil {
		cpu.owner.obs.ObserveDispatch(cpu.id, pr)
		if next != cpu.idle && readyAt != 0 {
			latency := cpu.now() - readyAt
			if latency > 0 {
				cpu.owner.obs.ObserveWakeup(uint64(latency))
			}
		}
	}

	// Step 6/7: architecture hook + context switch. The callback-on-
	// next-schedule slot fires here, after all locks are released, for
	// whichever thread was just switched away from.
	if prev != nil && prev != next {
		prev.Lock()
		cb := prev.TakeCallMe()
		prev.Unlock()
		if cb != nil {
			cb()
		}
	}

	next.Resume()
	return next
}

// Tick advances this CPU's clock, minus the timeout-list step:
// wait-queue timeouts are realized with Go's own timer runtime via
// time.AfterFunc rather than a hand-rolled per-CPU decrement list,
// since callers already supply a time.Duration and Go's timer wheel is
// the idiomatic equivalent). Decrements the running thread's remaining
// ticks and requests preemption once it reaches zero; ages priorities
// every NeedsRelinkPeriod ticks.
func (cpu *CPU) Tick() {
	cpu.lock.Lock(&cpu.guard)
	running := cpu.running
	cpu.lock.Unlock(&cpu.guard)

	if running != nil && running != cpu.idle {
		running.Lock()
		running.SetRemainingTicks(running.RemainingTicks() - 1)
		expired := running.RemainingTicks() <= 0
		running.Unlock()
		if expired {
			cpu.lock.Lock(&cpu.guard)
			cpu.preempt = true
			cpu.lock.Unlock(&cpu.guard)
		}
	}

	cpu.lock.Lock(&cpu.guard)
	cpu.needsRelink++
	if cpu.needsRelink >= constants.NeedsRelinkPeriod {
		cpu.needsRelink = 0
		cpu.agePriorities()
	}
	cpu.lock.Unlock(&cpu.guard)
}

// PreemptRequested reports whether the clock has asked this CPU's
// running thread to yield at its next safe point.
func (cpu *CPU) PreemptRequested() bool {
	cpu.lock.Lock(&cpu.guard)
	defer cpu.lock.Unlock(&cpu.guard)
	return cpu.preempt
}

// agePriorities implements priority aging: every thread currently
// queued at priority p moves to p-1 (numerically higher priority).
// Ascending order ensures threads aged into queue p-1 on this pass are
// not immediately re-aged again before agePriorities returns — each
// call moves every thread exactly one level. Caller holds cpu.lock.
func (cpu *CPU) agePriorities() {
	for p := 1; p < constants.RQCount; p++ {
		for {
			t := cpu.queues[p].Front()
			if t == nil {
				break
			}
			cpu.queues[p].Remove(t)
			t.Lock()
			t.SetPriority(p - 1)
			t.Unlock()
			cpu.queues[p-1].PushBack(t)
		}
	}
}

// Run drives this CPU's dispatch loop: pin the backing OS thread to
// one simulated core, dispatch, then wait for the selected
// thread to relinquish control (block, yield, or exit) before
// dispatching again.
func (cpu *CPU) Run(stop <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	applyAffinity(cpu.affinity)

	for {
		select {
		case <-stop:
			return
		default:
		}
		next := cpu.Dispatch()
		select {
		case <-next.Yielded():
		case <-stop:
			return
		}
	}
}

func newIdleThread(cpu *CPU) *kthread.Thread {
	th, err := kthread.Create(kthread.Config{
		Name:      "idle",
		Priority:  constants.IdlePriority,
		StackSize: 4096,
		Entry: func(any) {
			for {
				time.Sleep(time.Millisecond)
				th := cpu.idleSelf()
				if th == nil {
					return
				}
				th.Yield()
			}
		},
	})
	if err != nil {
		panic("sched: failed to create idle thread: " + err.Error())
	}
	return th
}

func (cpu *CPU) idleSelf() *kthread.Thread { return cpu.idle }

// now returns the current time in UnixNano, using the owning
// Scheduler's injected clock when present (tests construct CPUs
// directly with a nil owner, so this falls back to the real clock).
func (cpu *CPU) now() int64 {
	if cpu.owner != nil {
		return cpu.owner.now()
	}
	return defaultClock.Now().UnixNano()
}

var defaultClock = timeutil.RealClock()
