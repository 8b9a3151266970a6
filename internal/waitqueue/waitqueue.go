// Package waitqueue implements the FIFO sleep primitive that underlies
// every blocking kernel call: thread_sleep, IPC receive, and futex
// wait are all layered on a WaitQueue.
package waitqueue

import (
	"sync/atomic"
	"time"

	"github.com/mkcore-project/mkcore/internal/kernsync"
	"github.com/mkcore-project/mkcore/internal/kthread"
)

// WakeupMode selects how many sleepers wait_queue_wakeup releases.
type WakeupMode int

const (
	// One wakes only the head sleeper.
	One WakeupMode = iota
	// All drains the entire sleeper list.
	All
)

// SleepFlags modify wait_queue_sleep's blocking behavior.
type SleepFlags uint32

const (
	// NonBlocking returns WouldBlock immediately instead of sleeping if
	// nothing would wake the calling thread.
	NonBlocking SleepFlags = 1 << iota
	// Interruptible allows an external Interrupted wakeup to cancel the
	// sleep (always honored in this implementation; the flag exists to
	// mirror the source API surface).
	Interruptible
)

// Status is the wakeup_reason the wait_queue_sleep returns.
type Status int32

const (
	StatusOk Status = iota
	StatusTimeout
	StatusInterrupted
	StatusWouldBlock
)

// Scheduler is the narrow slice of the scheduler a WaitQueue needs:
// readying a woken thread and registering/canceling a CPU timeout. A
// real internal/sched.Scheduler implements this; tests can fake it.
type Scheduler interface {
	ThreadReady(t *kthread.Thread)
	// RegisterTimeout arms fn to run after the given duration unless
	// canceled first; it returns a cancel function.
	RegisterTimeout(d time.Duration, fn func()) (cancel func())
}

// WaitQueue is the "ordered sequence of sleepers plus a missed-
// wakeup count". It embeds an IRQSpinlock (guarding the sleeper list)
// and a list of *kthread.Thread built on the shared intrusive list.
type WaitQueue struct {
	lock  kernsync.IRQSpinlock
	guard kernsync.PreemptGuard

	sleepers kthread.List
	missed   atomic.Int64
}

// New creates an initialized, empty wait queue (the core's
// wait_queue_init).
func New() *WaitQueue {
	return &WaitQueue{}
}

// MissedWakeups returns the current missed-wakeup credit count, for
// tests asserting the "never goes negative" invariant.
func (wq *WaitQueue) MissedWakeups() int64 {
	return wq.missed.Load()
}

// Len reports the current number of sleepers. Used by futex_wake
// to bound how many times it calls Wakeup: futex_wake
// has no missed-wakeup banking of its own (an address with nobody
// waiting on it simply wakes nobody), so the caller checks Len before
// each Wakeup rather than relying on this queue's general missed-credit
// accrual, which is designed for the sleep-before-wake ordering of
// thread_sleep/IPC, not for a table of ephemeral per-address queues.
func (wq *WaitQueue) Len() int {
	wq.lock.Lock(&wq.guard)
	defer wq.lock.Unlock(&wq.guard)
	return wq.sleepers.Len()
}

// Sleep implements wait_queue_sleep. sched
// provides thread readying and timeout registration; self is the
// calling thread, assumed already in state Running and not locked by
// the caller.
func (wq *WaitQueue) Sleep(sched Scheduler, self *kthread.Thread, timeout time.Duration, flags SleepFlags) Status {
	wq.lock.Lock(&wq.guard)

	// Step 2: consume a missed-wakeup credit without blocking.
	for {
		cur := wq.missed.Load()
		if cur <= 0 {
			break
		}
		if wq.missed.CompareAndSwap(cur, cur-1) {
			wq.lock.Unlock(&wq.guard)
			return StatusOk
		}
	}

	// Step 3: non-blocking sleep with nothing pending.
	if flags&NonBlocking != 0 {
		wq.lock.Unlock(&wq.guard)
		return StatusWouldBlock
	}

	// Step 4: mark the thread sleeping under its own lock.
	self.Lock()
	self.SetState(kthread.Sleeping)
	self.SetSleepQueue(wq)
	self.SetWakeStatus(int32(StatusOk))
	self.Unlock()

	// Step 5: append to the sleeper list.
	wq.sleepers.PushBack(self)

	// Step 6: register a timeout if requested.
	var cancelTimeout func()
	if timeout > 0 {
		cancelTimeout = sched.RegisterTimeout(timeout, func() {
			wq.timeoutFire(sched, self)
		})
	}

	// Step 7: release locks in reverse order, then yield. The caller's
	// scheduler loop is responsible for actually descheduling self;
	// here we park the thread's backing goroutine and wait for Resume.
	wq.lock.Unlock(&wq.guard)

	self.ParkSelf()

	if cancelTimeout != nil {
		cancelTimeout()
	}

	return Status(self.WakeStatus())
}

// timeoutFire is the timeout handler: it reacquires the thread lock,
// and only if the thread is still
// Sleeping does it detach the thread and re-ready it with Timeout
// status — otherwise a waker already won the race and this is a no-op.
func (wq *WaitQueue) timeoutFire(sched Scheduler, t *kthread.Thread) {
	t.Lock()
	if t.State() != kthread.Sleeping || t.SleepQueue() != any(wq) {
		t.Unlock()
		return
	}
	t.SetWakeStatus(int32(StatusTimeout))
	t.SetSleepQueue(nil)
	t.SetState(kthread.Ready)
	t.Unlock()

	wq.lock.Lock(&wq.guard)
	wq.removeIfMember(t)
	wq.lock.Unlock(&wq.guard)

	sched.ThreadReady(t)
	t.Resume()
}

// removeIfMember removes t from the sleeper list if still present.
// Caller holds wq's lock.
func (wq *WaitQueue) removeIfMember(t *kthread.Thread) {
	for e := wq.sleepers.Front(); e != nil; {
		next := kthread.Next(e)
		if e == t {
			wq.sleepers.Remove(e)
			return
		}
		e = next
	}
}

// Wakeup implements wait_queue_wakeup.
func (wq *WaitQueue) Wakeup(sched Scheduler, mode WakeupMode) {
	wq.lock.Lock(&wq.guard)

	var woken []*kthread.Thread
	if mode == One {
		if head := wq.sleepers.Front(); head != nil {
			wq.sleepers.Remove(head)
			woken = append(woken, head)
		} else {
			wq.missed.Add(1)
		}
	} else {
		for head := wq.sleepers.Front(); head != nil; head = wq.sleepers.Front() {
			wq.sleepers.Remove(head)
			woken = append(woken, head)
		}
	}

	wq.lock.Unlock(&wq.guard)

	for _, t := range woken {
		t.Lock()
		if t.State() == kthread.Sleeping {
			t.SetWakeStatus(int32(StatusOk))
			t.SetSleepQueue(nil)
			t.SetState(kthread.Ready)
			t.Unlock()
			sched.ThreadReady(t)
			t.Resume()
		} else {
			// Lost the race to a timeout handler; no-op.
			t.Unlock()
		}
	}
}

// Interrupt asynchronously wakes t with StatusInterrupted, used for
// task teardown cancellation. No-ops if t is not sleeping on wq.
func (wq *WaitQueue) Interrupt(sched Scheduler, t *kthread.Thread) {
	t.Lock()
	if t.State() != kthread.Sleeping || t.SleepQueue() != any(wq) {
		t.Unlock()
		return
	}
	t.SetWakeStatus(int32(StatusInterrupted))
	t.SetSleepQueue(nil)
	t.SetState(kthread.Ready)
	t.Unlock()

	wq.lock.Lock(&wq.guard)
	wq.removeIfMember(t)
	wq.lock.Unlock(&wq.guard)

	sched.ThreadReady(t)
	t.Resume()
}

