// Package ktask implements the task/process container: the
// address-space handle, capability word, thread membership, and the
// asynchronous teardown that waits for both the last thread to exit and
// the task's answerbox to drain.
package ktask

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/kthread"
)

// State is the task's lifecycle position: Active while any thread may
// still run, Zombie once task_destroy has been called and reclamation is
// pending drain of the answerbox and thread count.
type State int

const (
	Active State = iota
	Zombie
)

func (s State) String() string {
	if s == Zombie {
		return "Zombie"
	}
	return "Active"
}

// Drainer is the narrow view of an answerbox a Task needs to decide
// whether teardown may complete: a channel that closes once every
// pending call on the box has been reclaimed. internal/ipc.Answerbox
// implements this; it is not imported here to keep ktask a leaf package
// that ipc depends on rather than the reverse.
type Drainer interface {
	Drained() <-chan struct{}
}

var nextTaskID atomic.Uint64

// registry is the process-wide list-of-all-tasks: a weak back
// reference only, keyed by task ID, for enumeration/lookup — it never
// keeps a Task alive past its own natural lifetime. Entries are added
// by Create and removed once reap() completes teardown.
var registry sync.Map // map[uint64]*Task

// Find looks up a task by ID in the process-wide registry (the
// task_find primitive), reporting false if no task with that ID was
// ever created or if it has already been fully reaped.
func Find(id uint64) (*Task, bool) {
	v, ok := registry.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Task), true
}

// Range calls fn for every currently registered task, stopping early
// if fn returns false. For debugging/enumeration only; iteration order
// is unspecified and not synchronized with concurrent Create/reap.
func Range(fn func(*Task) bool) {
	registry.Range(func(_, v any) bool {
		return fn(v.(*Task))
	})
}

// Config configures a new task at creation time.
type Config struct {
	Name       string
	AddrSpace  any // opaque to the core
	Caps       CapSet
}

// Task is the process container: threads, an address-space
// handle opaque to the core, a capability word, and (once internal/ipc
// and internal/futex construct them) an answerbox, phone table, and
// futex table. Those three are held as `any` and wired in by whichever
// package builds them, the same pattern kthread.Thread uses for its
// sleepQueue back-pointer, so that ktask need not import ipc or futex.
type Task struct {
	id   uint64
	name string

	mu         sync.Mutex
	state      State
	addrSpace  any
	caps       CapSet
	threads    []*kthread.Thread
	answerbox  any
	phoneTable any
	futexTable any

	threadCount atomic.Int64

	notify chan struct{}
	reaped chan struct{}
}

// Create allocates a new task in state Active (the task_create) and
// registers it in the process-wide task registry Find resolves.
func Create(cfg Config) *Task {
	t := &Task{
		id:        nextTaskID.Add(1),
		name:      cfg.Name,
		state:     Active,
		addrSpace: cfg.AddrSpace,
		caps:      cfg.Caps,
		notify:    make(chan struct{}, 1),
		reaped:    make(chan struct{}),
	}
	registry.Store(t.id, t)
	return t
}

// TaskID satisfies kthread.TaskRef.
func (t *Task) TaskID() uint64 { return t.id }

// Name returns the task's human-readable name.
func (t *Task) Name() string { return t.name }

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AddressSpace returns the opaque address-space handle.
func (t *Task) AddressSpace() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addrSpace
}

// HasCap reports whether the task's capability word grants c.
func (t *Task) HasCap(c Capability) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps.Has(c)
}

// GrantCap adds c to the task's capability word.
func (t *Task) GrantCap(c Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.caps = t.caps.Grant(c)
}

// RevokeCap removes c from the task's capability word.
func (t *Task) RevokeCap(c Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.caps = t.caps.Revoke(c)
}

// Answerbox returns the task's owned answerbox, or nil if not yet wired.
func (t *Task) Answerbox() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answerbox
}

// SetAnswerbox wires the task's answerbox. Called once by whatever
// constructs the task's IPC endpoints.
func (t *Task) SetAnswerbox(ab any) {
	t.mu.Lock()
	t.answerbox = ab
	t.mu.Unlock()
	t.wake()
}

// PhoneTable returns the task's phone table, or nil if not yet wired.
func (t *Task) PhoneTable() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phoneTable
}

// SetPhoneTable wires the task's phone table.
func (t *Task) SetPhoneTable(pt any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phoneTable = pt
}

// FutexTable returns the task's futex table, or nil if not yet wired.
func (t *Task) FutexTable() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.futexTable
}

// SetFutexTable wires the task's futex table.
func (t *Task) SetFutexTable(ft any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.futexTable = ft
}

// AttachThread adds th to the task's child-thread set. Rejected once the
// task has entered Zombie state (the core's rule: teardown is one-way).
func (t *Task) AttachThread(th *kthread.Thread) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Zombie {
		return kerrors.NewTaskError("task_attach_thread", t.id, kerrors.ErrCodeInvalidArgument, "task is being destroyed")
	}
	t.threads = append(t.threads, th)
	t.threadCount.Add(1)
	return nil
}

// DetachThread removes th from the task's child-thread set, called once
// thread_exit bookkeeping for th has completed. Wakes the reaper so a
// pending task_destroy can re-check its drain condition.
func (t *Task) DetachThread(th *kthread.Thread) {
	t.mu.Lock()
	for i, x := range t.threads {
		if x == th {
			t.threads = append(t.threads[:i], t.threads[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	t.threadCount.Add(-1)
	t.wake()
}

// Threads returns a snapshot of the task's current child threads.
func (t *Task) Threads() []*kthread.Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*kthread.Thread, len(t.threads))
	copy(out, t.threads)
	return out
}

// ThreadCount returns the number of threads currently attached.
func (t *Task) ThreadCount() int64 { return t.threadCount.Load() }

// Destroy marks the task for teardown (the task_destroy) and
// starts the asynchronous reaper. Idempotent.
func (t *Task) Destroy() {
	t.mu.Lock()
	if t.state == Zombie {
		t.mu.Unlock()
		return
	}
	t.state = Zombie
	t.mu.Unlock()

	go t.reap()
}

// Reaped returns a channel closed once the task has fully torn down:
// every thread has exited and the answerbox has drained.
func (t *Task) Reaped() <-chan struct{} { return t.reaped }

// reap is the asynchronous reclamation loop: it waits on both the
// thread-count reaching zero and the answerbox
// drain signal, re-checking whenever either condition might have
// changed (a wake from DetachThread/SetAnswerbox, or a fallback poll).
func (t *Task) reap() {
	for {
		if t.threadCount.Load() == 0 && t.drained() {
			registry.Delete(t.id)
			close(t.reaped)
			return
		}
		select {
		case <-t.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (t *Task) drained() bool {
	t.mu.Lock()
	ab := t.answerbox
	t.mu.Unlock()
	if ab == nil {
		return true
	}
	d, ok := ab.(Drainer)
	if !ok {
		return true
	}
	select {
	case <-d.Drained():
		return true
	default:
		return false
	}
}

func (t *Task) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

var _ kthread.TaskRef = (*Task)(nil)
