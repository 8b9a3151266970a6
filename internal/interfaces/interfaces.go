// Package interfaces provides internal interface definitions shared across
// the kernel core packages. They are kept separate from the concrete types
// in internal/sched, internal/ipc, and internal/futex to avoid circular
// imports between those packages and internal/logging/internal/constants.
package interfaces

// Logger is a minimal printf-shaped logging surface.
// internal/logging.Logger satisfies it; no package in this module takes
// a Logger parameter.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives scheduling and IPC events for metrics collection.
// Implementations must be thread-safe: methods are called from dispatch
// loops running concurrently on every simulated CPU.
type Observer interface {
	// ObserveDispatch records a thread beginning a run on a CPU, with the
	// priority level it was dispatched from.
	ObserveDispatch(cpuID int, priority int)

	// ObserveWakeup records a thread being woken from a wait queue.
	ObserveWakeup(latencyNs uint64)

	// ObserveSteal records a successful work-steal between CPUs.
	ObserveSteal(fromCPU, toCPU int)

	// ObserveCall records an IPC call completing, successfully or not.
	ObserveCall(method uint32, latencyNs uint64, success bool)

	// ObserveFutexWake records a futex_wake waking n waiters.
	ObserveFutexWake(woken int)

	// ObserveReadyQueueDepth records the instantaneous length of a CPU's
	// ready queue at a given priority level.
	ObserveReadyQueueDepth(cpuID int, priority int, depth int)
}
