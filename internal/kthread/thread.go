// Package kthread implements the scheduling entity: the thread
// object, its state machine, and the saved-context cushion used to
// start a thread's entry function on the goroutine backing it.
package kthread

import (
	"sync"
	"sync/atomic"

	"github.com/mkcore-project/mkcore/internal/kernsync"
	"github.com/mkcore-project/mkcore/internal/kernsync/ilist"
	"github.com/mkcore-project/mkcore/internal/kerrors"
)

// State is the thread's position in the state machine:
// Entering -> Ready <-> Running -> {Sleeping -> Ready, Exiting}.
type State int

const (
	Entering State = iota
	Ready
	Running
	Sleeping
	Exiting
)

func (s State) String() string {
	switch s {
	case Entering:
		return "Entering"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Exiting:
		return "Exiting"
	default:
		return "Unknown"
	}
}

// TaskRef is the narrow view of an owning task that kthread needs,
// satisfied by ktask.Task. Defined here (rather than imported from
// ktask) to avoid a kthread<->ktask import cycle, since ktask in turn
// needs to create and hold *Thread values.
type TaskRef interface {
	TaskID() uint64
}

// Flags are per-thread scheduling flags.
type Flags uint32

const (
	// FlagWired threads must not migrate across CPUs.
	FlagWired Flags = 1 << iota
	// FlagStolen marks a thread currently mid-flight in a work-steal.
	FlagStolen
)

var nextThreadID atomic.Uint64

// registry is the process-wide list-of-all-threads: a weak back
// reference only, keyed by thread ID, for enumeration/debugging — it
// never keeps a Thread (or its Task, stack, etc.) alive past its own
// natural lifetime. Entries are added by Create and removed once the
// thread's entry function returns, the same point Exited() closes.
var registry sync.Map // map[uint64]*Thread

// Find looks up a thread by ID in the process-wide registry (the
// thread_find primitive), reporting false if no thread with that ID
// was ever created or if it has already exited.
func Find(id uint64) (*Thread, bool) {
	v, ok := registry.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Thread), true
}

// Range calls fn for every currently registered thread, stopping early
// if fn returns false. For debugging/enumeration only; iteration order
// is unspecified and not synchronized with concurrent Create/exit.
func Range(fn func(*Thread) bool) {
	registry.Range(func(_, v any) bool {
		return fn(v.(*Thread))
	})
}

// Thread is the kernel's scheduling entity. Exactly one of {ready
// queue, wait-queue sleeper list, a CPU's current
// slot} owns a Thread at any moment; the Link field realizes that
// membership as an intrusive list node reused across whichever of those
// three lists currently holds the thread.
// List is the intrusive-list instantiation used by ready queues and
// wait-queue sleeper lists to hold *Thread values.
type List = ilist.List[Thread, *Thread]

type Thread struct {
	link ilist.Link[Thread]

	id   uint64
	task TaskRef
	name string

	lock kernsync.Spinlock

	state State

	// Saved-context cushion: entry is invoked on the thread's backing
	// goroutine, which parks on park until Resume is called. This is
	// the idiomatic Go stand-in for an architecture register-save
	// record: Go cannot expose a raw stack pointer to switch onto, so
	// "context switch" is modeled as parking/unparking the goroutine
	// while the CPU record's dispatch bookkeeping (state, ready-queue
	// membership, priority, ticks) stays authoritative independent of
	// the goroutine scheduler.
	entry   func(arg any)
	arg     any
	park    chan struct{}
	yielded chan struct{}
	started bool
	exited  chan struct{}

	// readyAt is the UnixNano timestamp of the thread's last transition
	// to Ready, used by sched to report thread_ready-to-dispatch latency.
	readyAt atomic.Int64

	priority      int
	remainingTick int
	accumTicks    uint64
	lastCPU       int
	flags         Flags

	// sleepQueue is set while Sleeping; typed any to avoid an import
	// cycle with internal/waitqueue (which itself holds *Thread values
	// in its sleeper list).
	sleepQueue any

	// wakeStatus carries the result wait_queue_sleep should return,
	// stamped by whichever of {timeout handler, waker} wins the race
	// to fire first.
	wakeStatus int32

	// callMeFn is armed by CallMeOnNextSchedule and invoked once, right
	// after the scheduler switches away from this thread, never while
	// any of the thread's locks are held.
	callMeFn func()
}

// Config configures a new thread at creation time.
type Config struct {
	Name       string
	Task       TaskRef
	Entry      func(arg any)
	Arg        any
	Priority   int
	StackSize  int
	Wired      bool
}

// Create allocates a new thread in state Entering. The saved context's
// program counter is modeled as the cushion goroutine started lazily
// on first dispatch (see Start); StackSize of zero is rejected.
func Create(cfg Config) (*Thread, error) {
	if cfg.StackSize <= 0 {
		return nil, kerrors.New("thread_create", kerrors.ErrCodeInvalidArgument, "zero-size stack requested")
	}
	if cfg.Entry == nil {
		return nil, kerrors.New("thread_create", kerrors.ErrCodeInvalidArgument, "nil entry function")
	}

	t := &Thread{
		id:       nextThreadID.Add(1),
		task:     cfg.Task,
		name:     cfg.Name,
		state:    Entering,
		entry:    cfg.Entry,
		arg:      cfg.Arg,
		park:     make(chan struct{}, 1),
		yielded:  make(chan struct{}, 1),
		exited:   make(chan struct{}),
		priority: cfg.Priority,
		lastCPU:  -1,
	}
	if cfg.Wired {
		t.flags |= FlagWired
	}
	registry.Store(t.id, t)
	return t, nil
}

// ID returns the thread's immutable identifier.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the thread's human-readable name.
func (t *Thread) Name() string { return t.name }

// Task returns the owning task reference.
func (t *Thread) Task() TaskRef { return t.task }

// Lock acquires the thread's own lock. All state transitions happen
// under this lock.
func (t *Thread) Lock() { t.lock.Lock() }

// Unlock releases the thread's own lock.
func (t *Thread) Unlock() { t.lock.Unlock() }

// State returns the current state. Caller should hold the thread lock
// for a consistent read in the presence of concurrent transitions.
func (t *Thread) State() State { return t.state }

// SetState sets the state. Caller must hold the thread lock.
func (t *Thread) SetState(s State) { t.state = s }

// Priority returns the thread's current MLFQ priority class.
func (t *Thread) Priority() int { return t.priority }

// SetPriority sets the priority class. Caller must hold the thread lock.
func (t *Thread) SetPriority(p int) { t.priority = p }

// RemainingTicks returns the thread's remaining time-slice ticks.
func (t *Thread) RemainingTicks() int { return t.remainingTick }

// SetRemainingTicks sets the remaining time-slice ticks.
func (t *Thread) SetRemainingTicks(n int) { t.remainingTick = n }

// AccumulatedTicks returns the total ticks this thread has run.
func (t *Thread) AccumulatedTicks() uint64 { return t.accumTicks }

// AddAccumulatedTick increments the accumulated tick counter by one.
func (t *Thread) AddAccumulatedTick() { t.accumTicks++ }

// LastCPU returns the id of the CPU this thread last ran on, or -1.
func (t *Thread) LastCPU() int { return t.lastCPU }

// SetLastCPU records the CPU this thread is now running on.
func (t *Thread) SetLastCPU(id int) { t.lastCPU = id }

// Wired reports whether the thread may not be migrated across CPUs.
func (t *Thread) Wired() bool { return t.flags&FlagWired != 0 }

// Stolen reports whether the thread is mid-flight in a work-steal.
func (t *Thread) Stolen() bool { return t.flags&FlagStolen != 0 }

// SetStolen sets or clears the stolen flag. Caller must hold the thread
// lock.
func (t *Thread) SetStolen(v bool) {
	if v {
		t.flags |= FlagStolen
	} else {
		t.flags &^= FlagStolen
	}
}

// SleepQueue returns the wait queue this thread is sleeping on, or nil.
func (t *Thread) SleepQueue() any { return t.sleepQueue }

// SetSleepQueue sets the sleep-queue back-pointer. Caller must hold the
// thread lock. Passing nil clears it (on wake).
func (t *Thread) SetSleepQueue(wq any) { t.sleepQueue = wq }

// WakeStatus returns the status a waker or timeout handler stamped.
func (t *Thread) WakeStatus() int32 { return atomic.LoadInt32(&t.wakeStatus) }

// SetWakeStatus stamps the wake status. Uses an atomic store so the
// race between a waker and a timeout handler is resolved purely by
// whichever acquires the thread lock first and observes state
// Sleeping — the status write itself happens
// under that same lock, so the atomic is solely for lock-free reads
// after the thread resumes.
func (t *Thread) SetWakeStatus(v int32) { atomic.StoreInt32(&t.wakeStatus, v) }

// RegisterCallMe arms fn to run once, immediately after the scheduler
// switches away from this thread (thread_register_call_me). Caller
// must hold the thread lock.
func (t *Thread) RegisterCallMe(fn func()) { t.callMeFn = fn }

// TakeCallMe clears and returns the armed callback, or nil if none is
// armed. Caller must hold the thread lock.
func (t *Thread) TakeCallMe() func() {
	fn := t.callMeFn
	t.callMeFn = nil
	return fn
}

// Start launches the thread's backing goroutine the first time it is
// dispatched. The goroutine immediately parks; Resume release it to
// run entry(arg), and on return transitions to Exiting and closes
// exited.
func (t *Thread) Start() {
	if t.started {
		return
	}
	t.started = true
	go func() {
		<-t.park
		t.entry(t.arg)
		t.Lock()
		t.state = Exiting
		t.Unlock()
		t.notifyYielded()
		registry.Delete(t.id)
		close(t.exited)
	}()
}

// Resume unparks the thread's goroutine so it runs until it next blocks
// or exits. It does not wait for the goroutine to reach a stopping
// point — the scheduler's per-CPU loop owns pacing via the clock tick.
func (t *Thread) Resume() {
	select {
	case t.park <- struct{}{}:
	default:
	}
}

// ParkSelf blocks the calling goroutine (the thread's own backing
// goroutine, invoked from within a blocking kernel operation such as
// WaitQueue.Sleep) until the next Resume. It reuses the same park
// channel Start/Resume use for the initial launch, and signals Yielded
// first so a CPU's dispatch loop waiting on it knows this thread just
// relinquished control.
func (t *Thread) ParkSelf() {
	t.notifyYielded()
	<-t.park
}

// Yield is the voluntary/preemption safe point a thread's entry
// function calls to let the scheduler dispatch again: if still Running
// it reverts to Ready (so dispatch re-enqueues it) rather than
// Sleeping. Go cannot interrupt a running goroutine from
// outside, so forced preemption in this simulation only takes effect
// when the running thread reaches a Yield or a blocking primitive.
func (t *Thread) Yield() {
	t.Lock()
	if t.state == Running {
		t.state = Ready
	}
	t.Unlock()
	t.ParkSelf()
}

// Yielded returns a channel signaled every time the thread relinquishes
// its goroutine (via Yield, ParkSelf, or on exit), letting a CPU's
// dispatch loop learn it is safe to schedule again.
func (t *Thread) Yielded() <-chan struct{} { return t.yielded }

func (t *Thread) notifyYielded() {
	select {
	case t.yielded <- struct{}{}:
	default:
	}
}

// ReadyAt returns the UnixNano timestamp of the thread's last
// transition to Ready, or 0 if never set.
func (t *Thread) ReadyAt() int64 { return t.readyAt.Load() }

// SetReadyAt stamps the thread's last Ready transition time.
func (t *Thread) SetReadyAt(unixNano int64) { t.readyAt.Store(unixNano) }

// Next returns the thread following t in whichever intrusive list
// currently holds it (a ready queue or a wait queue's sleeper list), or
// nil if t is the tail.
func Next(t *Thread) *Thread {
	return ilist.Next[Thread, *Thread](t)
}

// Exited returns a channel closed once the thread's entry function has
// returned and thread_exit bookkeeping completed.
func (t *Thread) Exited() <-chan struct{} { return t.exited }

// Link implements ilist.Elem[Thread], exposing the intrusive link
// field so a Thread can be a member of a ready queue or a wait queue's
// sleeper list without any extra allocation.
func (t *Thread) Link() *ilist.Link[Thread] { return &t.link }

var _ ilist.Elem[Thread] = (*Thread)(nil)
