package ipc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkcore-project/mkcore/internal/kernsync"
	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/ktask"
	"github.com/mkcore-project/mkcore/internal/waitqueue"
)

// Answerbox is the single receive endpoint every task owns: a pickup
// queue of calls not yet claimed by ipc_wait_for_call, an
// awaiting-answer queue of calls already handed to the owning task's
// server loop, and the wait queue ipc_wait_for_call blocks on.
//
// Answerbox implements ktask.Drainer so Task.Destroy's reaper can wait
// for every outstanding call to clear before completing teardown.
type Answerbox struct {
	lock  kernsync.IRQSpinlock
	guard kernsync.PreemptGuard

	owner *ktask.Task

	pickup   CallList
	awaiting CallList

	waiters waitqueue.WaitQueue

	// pending coalesces repeat notifications from the same source, via
	// a per-source pending flag, so a burst of interrupts from one IRQ
	// line collapses to at most one undelivered notification in
	// flight. Guarded by a jacobsa/syncutil invariant-checked mutex
	// rather than a bare sync.Mutex: the invariant ("every tracked
	// source maps to true; a cleared source is removed, never set
	// false") is simple enough to assert continuously in
	// invariant-checking test builds at no cost in production ones.
	pendingMu *kernsync.CheckedMutex
	pending   map[uint64]bool

	torndown     atomic.Bool
	teardownOnce sync.Once
	drained      chan struct{}
}

// NewAnswerbox allocates an empty answerbox owned by owner.
func NewAnswerbox(owner *ktask.Task) *Answerbox {
	ab := &Answerbox{
		owner:   owner,
		pending: make(map[uint64]bool),
		drained: make(chan struct{}),
	}
	ab.pendingMu = kernsync.NewCheckedMutex(ab.checkPendingInvariants)
	return ab
}

// checkPendingInvariants asserts the coalescing invariant:
// every tracked notification source is pending. Run by pendingMu
// around each critical section in invariant-checking test builds.
func (ab *Answerbox) checkPendingInvariants() {
	for source, isPending := range ab.pending {
		if !isPending {
			panic(fmt.Sprintf("ipc: pending notification source %d recorded as not pending", source))
		}
	}
}

// Owner returns the task this answerbox belongs to.
func (ab *Answerbox) Owner() *ktask.Task { return ab.owner }

// Drained implements ktask.Drainer: closed once the box has been torn
// down and both its queues are empty.
func (ab *Answerbox) Drained() <-chan struct{} { return ab.drained }

// deliver places c at the back of the pickup queue (ordinary calls) or
// the front (notifications, which bypass FIFO so they are never stuck
// behind a backlog of ordinary calls) and wakes one waiter.
func (ab *Answerbox) deliver(sched waitqueue.Scheduler, c *Call, front bool) error {
	if ab.torndown.Load() {
		return kerrors.New("ipc_deliver", kerrors.ErrCodeHangup, "target answerbox has torn down")
	}
	ab.lock.Lock(&ab.guard)
	if front {
		ab.pickup.PushFront(c)
	} else {
		ab.pickup.PushBack(c)
	}
	ab.lock.Unlock(&ab.guard)

	ab.waiters.Wakeup(sched, waitqueue.One)
	return nil
}

// waitForCall implements ipc_wait_for_call: block until a call is on
// the pickup queue and return it. A fresh request (not yet answered,
// not a notification) moves to the awaiting-answer queue so a later
// ipc_answer/ipc_forward can find it; a call already carrying
// FlagAnswered — an async sender picking up its own answer, including
// one synthesized by Teardown on a dead peer — is returned as-is, its
// terminal State (Answered or Discarded) left intact.
func (ab *Answerbox) waitForCall(sched waitqueue.Scheduler, self *kthread.Thread, timeout time.Duration) (*Call, waitqueue.Status) {
	for {
		ab.lock.Lock(&ab.guard)
		if head := ab.pickup.Front(); head != nil {
			ab.pickup.Remove(head)
			head.mu.Lock()
			isNotify := head.flags&FlagNotification != 0
			isAnswer := head.flags&FlagAnswered != 0
			if !isNotify && !isAnswer {
				head.state = StateAwaitingAnswer
			}
			source := head.notifySource
			head.mu.Unlock()
			if !isNotify && !isAnswer {
				ab.awaiting.PushBack(head)
			}
			ab.lock.Unlock(&ab.guard)
			if isNotify {
				ab.clearPendingNotification(source)
			}
			return head, waitqueue.StatusOk
		}
		ab.lock.Unlock(&ab.guard)

		status := ab.waiters.Sleep(sched, self, timeout, 0)
		if status != waitqueue.StatusOk {
			return nil, status
		}
		// Lost a race to another waiter on a multi-threaded server;
		// loop and re-check the pickup queue.
	}
}

// takeAwaiting removes c from the awaiting-answer queue. Returns an
// error if c is not a member (already answered, forwarded, or
// discarded).
func (ab *Answerbox) takeAwaiting(c *Call) error {
	ab.lock.Lock(&ab.guard)
	defer ab.lock.Unlock(&ab.guard)
	for e := ab.awaiting.Front(); e != nil; e = callNext(e) {
		if e == c {
			ab.awaiting.Remove(e)
			return nil
		}
	}
	return kerrors.New("ipc_answer", kerrors.ErrCodeInvalidArgument, "call handle not awaiting answer on this box")
}

// markPendingNotification reports whether a notification from source
// was already pending (in which case the caller should coalesce and
// skip delivery) and marks it pending either way.
func (ab *Answerbox) markPendingNotification(source uint64) (alreadyPending bool) {
	ab.pendingMu.Lock()
	defer ab.pendingMu.Unlock()
	alreadyPending = ab.pending[source]
	ab.pending[source] = true
	return alreadyPending
}

// clearPendingNotification is called once a notification from source
// has been picked up, allowing the next one through undropped.
func (ab *Answerbox) clearPendingNotification(source uint64) {
	ab.pendingMu.Lock()
	defer ab.pendingMu.Unlock()
	delete(ab.pending, source)
}

// Teardown discards every outstanding call on this box with EHANGUP —
// if the server task terminates with calls on its answerbox, each is
// answered with EHANGUP on behalf of the dead server — and marks the
// box drained once empty. Called once by whatever drives task_destroy
// for this box's owning task.
func (ab *Answerbox) Teardown(sched waitqueue.Scheduler) {
	ab.teardownOnce.Do(func() {
		ab.torndown.Store(true)

		ab.lock.Lock(&ab.guard)
		var outstanding []*Call
		for e := ab.pickup.Front(); e != nil; {
			next := callNext(e)
			ab.pickup.Remove(e)
			outstanding = append(outstanding, e)
			e = next
		}
		for e := ab.awaiting.Front(); e != nil; {
			next := callNext(e)
			ab.awaiting.Remove(e)
			outstanding = append(outstanding, e)
			e = next
		}
		ab.lock.Unlock(&ab.guard)

		for _, c := range outstanding {
			c.mu.Lock()
			c.state = StateDiscarded
			c.flags |= FlagAnswered
			sender := c.sender
			c.mu.Unlock()
			if sender == nil {
				continue
			}
			// Mirror Answer: deliver the discarded call to the sender's
			// own answerbox so an async sender's WaitForCall returns it
			// (with Hangup, once the caller inspects State), not just a
			// sync sender's ownWQ sleeper. Ignore the delivery error: if
			// the sender's own box has itself torn down, there is no one
			// left to notice.
			if senderBox, err := answerboxOf("ipc_teardown", sender); err == nil {
				_ = senderBox.deliver(sched, c, false)
			}
			c.ownWQ.Wakeup(sched, waitqueue.One)
		}

		close(ab.drained)
	})
}
