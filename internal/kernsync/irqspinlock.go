package kernsync

// IRQSpinlock pairs a Spinlock with a PreemptGuard, mirroring the real
// kernel's irq_spinlock: acquiring it both serializes access to the
// guarded structure and disables preemption on the calling CPU for the
// duration of the critical section, so a clock-tick reschedule can never
// interrupt code holding a scheduler-internal lock.
//
// The PreemptGuard is supplied by the caller rather than embedded. In
// this tree each structure owning an IRQSpinlock passes its own guard
// (see PreemptGuard), so IRQSpinlocks of different structures do not
// share a preemption depth.
type IRQSpinlock struct {
	lock Spinlock
}

// Lock disables preemption on guard, then acquires the underlying
// spinlock.
func (s *IRQSpinlock) Lock(guard *PreemptGuard) {
	guard.Disable()
	s.lock.Lock()
}

// Unlock releases the underlying spinlock, then re-enables preemption on
// guard. Order matters: preemption must stay disabled for as long as the
// lock is held.
func (s *IRQSpinlock) Unlock(guard *PreemptGuard) {
	s.lock.Unlock()
	guard.Enable()
}

// TryLock attempts to acquire without spinning. On failure it leaves
// guard untouched.
func (s *IRQSpinlock) TryLock(guard *PreemptGuard) bool {
	guard.Disable()
	if s.lock.TryLock() {
		return true
	}
	guard.Enable()
	return false
}
