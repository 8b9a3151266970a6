package abi

import (
	"sync"
	"time"

	"github.com/mkcore-project/mkcore/internal/addrspace"
	"github.com/mkcore-project/mkcore/internal/futex"
	"github.com/mkcore-project/mkcore/internal/interfaces"
	"github.com/mkcore-project/mkcore/internal/ipc"
	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/ktask"
	"github.com/mkcore-project/mkcore/internal/waitqueue"
)

// Runtime bundles the handful of kernel-global collaborators Dispatch
// needs to reach an operation's real implementation: the scheduler
// every waitqueue/ipc/futex call threads through, the task's address
// space, the shared IRQ registry, a table resolving the opaque call
// handles Dispatch hands back across the syscall boundary to the
// *ipc.Call values CallAsync/WaitForCall actually traffic in, and the
// Observer that records the IPC/futex events internal/ipc and
// internal/futex have no Observer parameter of their own to report
// through (only internal/sched's per-CPU loop does).
type Runtime struct {
	Sched    waitqueue.Scheduler
	IRQ      *ipc.IRQRegistry
	Observer interfaces.Observer

	mu       sync.Mutex
	nextCall uint64
	calls    map[uint64]*ipc.Call
}

// NewRuntime allocates a Runtime wired to sched and an empty IRQ
// registry shared across every task dispatched through it. obs may be
// nil, in which case call/futex-wake events are simply not recorded.
func NewRuntime(sched waitqueue.Scheduler, obs interfaces.Observer) *Runtime {
	return &Runtime{
		Sched:    sched,
		IRQ:      ipc.NewIRQRegistry(),
		Observer: obs,
		calls:    make(map[uint64]*ipc.Call),
	}
}

// registerCall hands out a handle for c, retrievable later via
// resolveCall. Dispatch is the only place *ipc.Call values cross the
// syscall boundary as a raw uint64 rather than a pointer.
func (rt *Runtime) registerCall(c *ipc.Call) uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextCall++
	id := rt.nextCall
	rt.calls[id] = c
	return id
}

func (rt *Runtime) resolveCall(id uint64) (*ipc.Call, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	c, ok := rt.calls[id]
	if !ok {
		return nil, kerrors.New("abi_dispatch", kerrors.ErrCodeInvalidArgument, "unknown call handle")
	}
	return c, nil
}

func (rt *Runtime) forgetCall(id uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.calls, id)
}

// Dispatch is the single entry point every syscall trampoline calls
// into: one switch over a closed Syscall enum, fanning out to the
// package that owns each operation's real implementation. self and
// task are the calling thread and its owning task, resolved
// by whatever per-CPU dispatch loop traps the syscall; as is that
// task's address space, needed by the futex_wait/wake cases to
// translate the user-supplied address.
func Dispatch(rt *Runtime, self *kthread.Thread, task *ktask.Task, as addrspace.AddressSpace, sc Syscall, fast FastArgs, slow SlowArgs) (Result, error) {
	switch sc {
	case SysThreadYield:
		self.Yield()
		return Result{}, nil

	case SysThreadSleep:
		// thread_sleep is sleeping on a private wait queue with a
		// timeout: nobody else ever holds a reference to this queue,
		// so nothing but the timeout can wake it, and the call returns
		// as soon as that timeout fires.
		d := time.Duration(fast[0])
		priv := waitqueue.New()
		status := priv.Sleep(rt.Sched, self, d, 0)
		if status == waitqueue.StatusInterrupted {
			return Result{}, kerrors.Wrap("thread_sleep", kerrors.ErrInterrupted)
		}
		return Result{}, nil

	case SysIPCCallSync:
		phoneIdx := int(fast[0])
		method := uint32(fast[1])
		timeout := time.Duration(fast[2])
		start := time.Now()
		answer, err := ipc.CallSync(rt.Sched, self, task, phoneIdx, method, ipc.Args(slow.IPCArgs), timeout)
		if rt.Observer != nil {
			rt.Observer.ObserveCall(method, uint64(time.Since(start)), err == nil)
		}
		if err != nil {
			return Result{}, err
		}
		return Result{IPCArgs: [6]uint64(answer)}, nil

	case SysIPCCallAsync:
		phoneIdx := int(fast[0])
		method := uint32(fast[1])
		c, err := ipc.CallAsync(rt.Sched, task, phoneIdx, method, ipc.Args(slow.IPCArgs))
		if err != nil {
			return Result{}, err
		}
		return Result{CallID: rt.registerCall(c)}, nil

	case SysIPCAnswer:
		callID := uint64(fast[0])
		call, err := rt.resolveCall(callID)
		if err != nil {
			return Result{}, err
		}
		if err := ipc.Answer(rt.Sched, task, call, ipc.Args(slow.IPCArgs)); err != nil {
			return Result{}, err
		}
		rt.forgetCall(callID)
		return Result{}, nil

	case SysIPCForward:
		callID := uint64(fast[0])
		call, err := rt.resolveCall(callID)
		if err != nil {
			return Result{}, err
		}
		targetPhoneIdx := int(fast[1])
		newMethod := uint32(fast[2])
		pt, err := phoneTableForForward(task)
		if err != nil {
			return Result{}, err
		}
		targetPhone, err := pt.Slot(targetPhoneIdx)
		if err != nil {
			return Result{}, err
		}
		if err := ipc.Forward(rt.Sched, task, call, targetPhone, newMethod); err != nil {
			return Result{}, err
		}
		rt.forgetCall(callID)
		return Result{}, nil

	case SysIPCWaitForCall:
		timeout := time.Duration(fast[0])
		call, err := ipc.WaitForCall(rt.Sched, self, task, timeout)
		if call == nil {
			return Result{}, err
		}
		// call is non-nil even on ErrHangup (an async sender picking up
		// a call Teardown discarded on its behalf): hand the handle and
		// whatever answer payload it carries back to the caller along
		// with the error, rather than dropping it the way a genuine
		// timeout/interrupt (call == nil) does.
		answer := call.Answer()
		return Result{CallID: rt.registerCall(call), IPCArgs: [6]uint64(answer)}, err

	case SysIPCHangup:
		phoneIdx := int(fast[0])
		if err := ipc.Hangup(rt.Sched, task, phoneIdx); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case SysIPCConnectMeTo:
		viaPhoneIdx := int(fast[0])
		timeout := time.Duration(fast[1])
		idx, _, err := ipc.ConnectMeTo(rt.Sched, self, task, viaPhoneIdx, timeout)
		if err != nil {
			return Result{}, err
		}
		return Result{PhoneIdx: idx}, nil

	case SysIRQRegister:
		inr := uint64(fast[0])
		box, err := answerboxOf(task)
		if err != nil {
			return Result{}, err
		}
		if err := ipc.RegisterIRQ(rt.IRQ, task, inr, slow.IRQProgram, box); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case SysIRQUnregister:
		inr := uint64(fast[0])
		if err := ipc.UnregisterIRQ(rt.IRQ, inr); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case SysFutexWait:
		tbl, err := futexTableOf(task)
		if err != nil {
			return Result{}, err
		}
		userAddr := uintptr(fast[0])
		expected := uint32(fast[1])
		timeout := time.Duration(fast[2])
		if err := futex.Wait(rt.Sched, self, tbl, as, userAddr, expected, timeout); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case SysFutexWake:
		tbl, err := futexTableOf(task)
		if err != nil {
			return Result{}, err
		}
		userAddr := uintptr(fast[0])
		n := int(fast[1])
		woken, err := futex.Wake(rt.Sched, tbl, as, userAddr, n)
		if err != nil {
			return Result{}, err
		}
		if rt.Observer != nil && woken > 0 {
			rt.Observer.ObserveFutexWake(woken)
		}
		return Result{Woken: woken}, nil

	case SysTaskDestroy:
		if box, err := answerboxOf(task); err == nil {
			box.Teardown(rt.Sched)
		}
		task.Destroy()
		return Result{}, nil

	default:
		return Result{}, kerrors.New("abi_dispatch", kerrors.ErrCodeInvalidArgument, "unknown syscall")
	}
}

// phoneTableForForward and answerboxOf re-derive the *ipc.PhoneTable /
// *ipc.Answerbox a task carries as an opaque any (ktask.Task.PhoneTable/
// Answerbox), the same type-assertion ipc.ops.go's own answerboxOf/
// phoneTableOf helpers perform; Dispatch needs its own copies since
// those helpers are unexported. answerboxOf is shared by the IRQ-
// registration case and task_destroy, both of which just need the
// task's answerbox resolved from its any-typed field.
func phoneTableForForward(task *ktask.Task) (*ipc.PhoneTable, error) {
	pt, ok := task.PhoneTable().(*ipc.PhoneTable)
	if !ok || pt == nil {
		return nil, kerrors.NewTaskError("ipc_forward", task.TaskID(), kerrors.ErrCodeInvalidArgument, "task has no phone table")
	}
	return pt, nil
}

func answerboxOf(task *ktask.Task) (*ipc.Answerbox, error) {
	box, ok := task.Answerbox().(*ipc.Answerbox)
	if !ok || box == nil {
		return nil, kerrors.NewTaskError("ipc_register_irq", task.TaskID(), kerrors.ErrCodeInvalidArgument, "task has no answerbox")
	}
	return box, nil
}

func futexTableOf(task *ktask.Task) (*futex.Table, error) {
	tbl, ok := task.FutexTable().(*futex.Table)
	if !ok || tbl == nil {
		return nil, kerrors.NewTaskError("futex_wait", task.TaskID(), kerrors.ErrCodeInvalidArgument, "task has no futex table")
	}
	return tbl, nil
}
