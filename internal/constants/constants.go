// Package constants collects the tunables shared across the kernel core
// packages, so a single file governs the scheduler/IPC/futex knobs.
package constants

import "time"

// Scheduler tunables.
const (
	// RQCount is the number of priority-ordered ready queues per CPU.
	// Lower index is higher priority, matching classic MLFQ numbering.
	RQCount = 16

	// IdlePriority is below all real priorities; only the per-CPU idle
	// thread ever runs at this priority.
	IdlePriority = RQCount

	// BaseSliceTicks is the time-slice unit used by the inverted MLFQ
	// formula: slice(p) = BaseSliceTicks * (1 + (RQCount-1) - p).
	BaseSliceTicks = 2

	// NeedsRelinkPeriod is how many clock ticks elapse between priority
	// aging passes on a single CPU.
	NeedsRelinkPeriod = 64

	// DefaultAgingPeriod names the starvation bound used by tests:
	// no ready thread should wait longer than RQCount * DefaultAgingPeriod
	// ticks without being dispatched.
	DefaultAgingPeriod = NeedsRelinkPeriod
)

// IPC tunables.
const (
	// IPCMaxPhones is the fixed size of a task's phone table.
	IPCMaxPhones = 16

	// IPCMaxAsyncCalls caps the number of outstanding async calls a
	// single sender task may have queued on one answerbox before it
	// receives Again.
	IPCMaxAsyncCalls = 4096

	// IPCCallArgs is the number of scalar argument words carried by a
	// Call payload.
	IPCCallArgs = 6

	// IPCFirstUserMethod is the first method id available to userspace;
	// ids below it are reserved system methods and notification ids.
	IPCFirstUserMethod = 1000
)

// Reserved system method ids.
const (
	IPCMPhoneHungup uint32 = iota + 1
	IPCMConnectMeTo
	IPCMConnectToMe
	IPCMShareOut
	IPCMShareIn
)

// Futex tunables.
const (
	// FutexTableShards is the number of lock-striped buckets in a task's
	// futex hash table.
	FutexTableShards = 64
)

// Clock tunables.
const (
	// DefaultTickInterval is the wall-clock period used by the portable
	// (non-io_uring) clock source.
	DefaultTickInterval = 4 * time.Millisecond
)
