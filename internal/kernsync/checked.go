package kernsync

import "github.com/jacobsa/syncutil"

// CheckedMutex wraps jacobsa/syncutil's invariant-checked mutex for the
// handful of locks in this codebase that guard a single small, clearly
// statable invariant (e.g. "every map entry is true") rather than a
// multi-field object graph: the checker runs on every Lock/Unlock when
// built with syncutil's invariant-checking build tag and is a no-op
// otherwise, giving the test suite a cheap way to assert the invariant
// continuously without paying for it in production builds.
type CheckedMutex struct {
	inv syncutil.InvariantMutex
}

// NewCheckedMutex creates a lock that runs checkInvariants around every
// critical section (subject to syncutil's build-tag gating).
func NewCheckedMutex(checkInvariants func()) *CheckedMutex {
	return &CheckedMutex{inv: syncutil.NewInvariantMutex(checkInvariants)}
}

func (m *CheckedMutex) Lock()   { m.inv.Lock() }
func (m *CheckedMutex) Unlock() { m.inv.Unlock() }
