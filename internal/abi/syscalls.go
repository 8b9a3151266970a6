// Package abi is the syscall surface a hypothetical architecture
// trampoline would call into: a closed set of syscall numbers and a
// single dispatch entry point fanning out to kthread/ktask/ipc/futex —
// one command struct per operation, submitted through one entry point,
// the same shape as any ioctl/control-command dispatch table.
package abi

import "github.com/mkcore-project/mkcore/internal/ipc"

// Syscall is the closed uint32 enum of operation codes Dispatch
// accepts.
type Syscall uint32

// thread_exit has no Dispatch case: in this simulation it is realized
// structurally by a thread's Entry function returning (see
// kthread.Thread.Start), not by an explicit syscall invocation mid-flight.
const (
	SysThreadYield Syscall = iota + 1
	SysThreadSleep
	SysIPCCallSync
	SysIPCCallAsync
	SysIPCAnswer
	SysIPCForward
	SysIPCWaitForCall
	SysIPCHangup
	SysIPCConnectMeTo
	SysIRQRegister
	SysIRQUnregister
	SysFutexWait
	SysFutexWake
	SysTaskDestroy
)

func (s Syscall) String() string {
	switch s {
	case SysThreadYield:
		return "thread_yield"
	case SysThreadSleep:
		return "thread_sleep"
	case SysIPCCallSync:
		return "ipc_call_sync"
	case SysIPCCallAsync:
		return "ipc_call_async"
	case SysIPCAnswer:
		return "ipc_answer"
	case SysIPCForward:
		return "ipc_forward"
	case SysIPCWaitForCall:
		return "ipc_wait_for_call"
	case SysIPCHangup:
		return "ipc_hangup"
	case SysIPCConnectMeTo:
		return "ipc_connect_me_to"
	case SysIRQRegister:
		return "ipc_register_irq"
	case SysIRQUnregister:
		return "ipc_unregister_irq"
	case SysFutexWait:
		return "futex_wait"
	case SysFutexWake:
		return "futex_wake"
	case SysTaskDestroy:
		return "task_destroy"
	default:
		return "unknown_syscall"
	}
}

// FastArgs is the register-style argument array "fast" syscalls take
// directly (phone indices, method ids, timeouts expressed as
// nanosecond counts, futex addresses/counts) — no memory read needed.
type FastArgs [4]uintptr

// SlowArgs is read from the caller's addrspace.AddressSpace by
// syscalls whose payload does not fit in four registers: the IPC
// argument vector for call/answer/forward, and an IRQ program for
// register_irq. A real trampoline would marshal these out of
// AddressSpace bytes the way MarshalCall/UnmarshalCall do for the
// wire-format encoding (see internal/ipc/wire.go); Dispatch's callers
// in this simulation hand the already-decoded
// value directly, since there is exactly one in-process address space
// implementation and no wire boundary to cross.
type SlowArgs struct {
	IPCArgs    [6]uint64
	IRQProgram *ipc.Program
}

// Result is the value Dispatch returns on success; which field is
// meaningful depends on the Syscall.
type Result struct {
	IPCArgs  [6]uint64
	CallID   uint64
	PhoneIdx int
	Woken    int
}
