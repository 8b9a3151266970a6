package kernsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	var lock Spinlock
	var counter int
	var wg sync.WaitGroup

	const goroutines = 32
	const iterations = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*iterations, counter)
}

func TestSpinlockTryLock(t *testing.T) {
	var lock Spinlock
	require.True(t, lock.TryLock())
	require.False(t, lock.TryLock())
	lock.Unlock()
	require.True(t, lock.TryLock())
}

func TestSpinlockUnlockUnheldPanics(t *testing.T) {
	var lock Spinlock
	require.Panics(t, func() { lock.Unlock() })
}

func TestPreemptGuardNesting(t *testing.T) {
	var guard PreemptGuard
	require.False(t, guard.Disabled())

	guard.Disable()
	guard.Disable()
	require.True(t, guard.Disabled())
	require.Equal(t, int32(2), guard.Depth())

	guard.Enable()
	require.True(t, guard.Disabled())
	guard.Enable()
	require.False(t, guard.Disabled())
}

func TestPreemptGuardUnbalancedEnablePanics(t *testing.T) {
	var guard PreemptGuard
	require.Panics(t, func() { guard.Enable() })
}

func TestIRQSpinlockDisablesPreemption(t *testing.T) {
	var lock IRQSpinlock
	var guard PreemptGuard

	lock.Lock(&guard)
	require.True(t, guard.Disabled())
	lock.Unlock(&guard)
	require.False(t, guard.Disabled())
}

func TestIRQSpinlockTryLockFailureRestoresGuard(t *testing.T) {
	var lock IRQSpinlock
	var guard PreemptGuard

	lock.Lock(&guard)
	var guard2 PreemptGuard
	require.False(t, lock.TryLock(&guard2))
	require.False(t, guard2.Disabled())
	lock.Unlock(&guard)
}

func TestCounter(t *testing.T) {
	var c Counter
	require.Equal(t, uint64(0), c.Load())
	require.Equal(t, uint64(5), c.Add(5))
	require.Equal(t, uint64(8), c.Add(3))
	require.Equal(t, uint64(8), c.Reset())
	require.Equal(t, uint64(0), c.Load())
}
