package waitqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcore-project/mkcore/internal/kthread"
)

// fakeScheduler records readied threads and lets tests fire timeouts
// deterministically instead of waiting on a real clock.
type fakeScheduler struct {
	mu      sync.Mutex
	readied []*kthread.Thread
	timers  []func()
}

func (f *fakeScheduler) ThreadReady(t *kthread.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readied = append(f.readied, t)
}

func (f *fakeScheduler) RegisterTimeout(d time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	canceled := false
	wrapped := func() {
		f.mu.Lock()
		c := canceled
		f.mu.Unlock()
		if !c {
			fn()
		}
	}
	f.timers = append(f.timers, wrapped)
	return func() {
		f.mu.Lock()
		canceled = true
		f.mu.Unlock()
	}
}

func (f *fakeScheduler) fireAll() {
	f.mu.Lock()
	timers := append([]func(){}, f.timers...)
	f.mu.Unlock()
	for _, fn := range timers {
		fn()
	}
}

func newRunningThread(t *testing.T, name string) *kthread.Thread {
	t.Helper()
	th, err := kthread.Create(kthread.Config{Name: name, Entry: func(any) {}, StackSize: 4096})
	require.NoError(t, err)
	th.Start()
	th.Lock()
	th.SetState(kthread.Running)
	th.Unlock()
	return th
}

func TestSleepThenWakeupOneReturnsOk(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}
	th := newRunningThread(t, "sleeper")

	result := make(chan Status, 1)
	go func() { result <- wq.Sleep(sched, th, 0, 0) }()

	require.Eventually(t, func() bool {
		th.Lock()
		defer th.Unlock()
		return th.State() == kthread.Sleeping
	}, time.Second, time.Millisecond)

	wq.Wakeup(sched, One)

	select {
	case status := <-result:
		require.Equal(t, StatusOk, status)
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after wakeup")
	}
	require.Equal(t, kthread.Ready, th.State())
}

func TestWakeupWithNoSleepersAccruesMissedCredit(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}

	wq.Wakeup(sched, One)
	require.EqualValues(t, 1, wq.MissedWakeups())

	th := newRunningThread(t, "consumer")
	status := wq.Sleep(sched, th, 0, 0)
	require.Equal(t, StatusOk, status)
	require.EqualValues(t, 0, wq.MissedWakeups())
}

func TestMissedWakeupCreditNeverGoesNegative(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}
	th := newRunningThread(t, "consumer")

	status := wq.Sleep(sched, th, 0, NonBlocking)
	require.Equal(t, StatusWouldBlock, status)
	require.EqualValues(t, 0, wq.MissedWakeups())
}

func TestNonBlockingSleepReturnsWouldBlockWithoutPendingCredit(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}
	th := newRunningThread(t, "caller")

	status := wq.Sleep(sched, th, 0, NonBlocking)
	require.Equal(t, StatusWouldBlock, status)
	require.Equal(t, kthread.Running, th.State())
}

func TestSleepTimeoutFiresWhenUnwoken(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}
	th := newRunningThread(t, "sleeper")

	result := make(chan Status, 1)
	go func() { result <- wq.Sleep(sched, th, 10*time.Millisecond, 0) }()

	require.Eventually(t, func() bool {
		th.Lock()
		defer th.Unlock()
		return th.State() == kthread.Sleeping
	}, time.Second, time.Millisecond)

	sched.fireAll()

	select {
	case status := <-result:
		require.Equal(t, StatusTimeout, status)
	case <-time.After(time.Second):
		t.Fatal("sleep did not time out")
	}
}

func TestWakeupWinsRaceAgainstTimeout(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}
	th := newRunningThread(t, "sleeper")

	result := make(chan Status, 1)
	go func() { result <- wq.Sleep(sched, th, time.Hour, 0) }()

	require.Eventually(t, func() bool {
		th.Lock()
		defer th.Unlock()
		return th.State() == kthread.Sleeping
	}, time.Second, time.Millisecond)

	wq.Wakeup(sched, One)

	select {
	case status := <-result:
		require.Equal(t, StatusOk, status)
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after wakeup")
	}

	// The timeout firing afterward must be a no-op: the thread is no
	// longer Sleeping on wq, so timeoutFire must not re-ready it.
	sched.fireAll()
	require.Equal(t, kthread.Ready, th.State())
}

func TestWakeupAllDrainsEverySleeper(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}

	const n = 5
	results := make([]chan Status, n)
	threads := make([]*kthread.Thread, n)
	for i := 0; i < n; i++ {
		threads[i] = newRunningThread(t, "sleeper")
		results[i] = make(chan Status, 1)
		th := threads[i]
		ch := results[i]
		go func() { ch <- wq.Sleep(sched, th, 0, 0) }()
	}

	require.Eventually(t, func() bool {
		for _, th := range threads {
			th.Lock()
			state := th.State()
			th.Unlock()
			if state != kthread.Sleeping {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	wq.Wakeup(sched, All)

	for i := 0; i < n; i++ {
		select {
		case status := <-results[i]:
			require.Equal(t, StatusOk, status)
		case <-time.After(time.Second):
			t.Fatalf("sleeper %d did not wake", i)
		}
	}
	require.True(t, wq.sleepers.Empty())
}

func TestInterruptWakesSleeperWithInterruptedStatus(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}
	th := newRunningThread(t, "sleeper")

	result := make(chan Status, 1)
	go func() { result <- wq.Sleep(sched, th, 0, Interruptible) }()

	require.Eventually(t, func() bool {
		th.Lock()
		defer th.Unlock()
		return th.State() == kthread.Sleeping
	}, time.Second, time.Millisecond)

	wq.Interrupt(sched, th)

	select {
	case status := <-result:
		require.Equal(t, StatusInterrupted, status)
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after interrupt")
	}
}

func TestInterruptOfNonSleeperIsNoOp(t *testing.T) {
	wq := New()
	sched := &fakeScheduler{}
	th := newRunningThread(t, "awake")

	wq.Interrupt(sched, th)
	require.Equal(t, kthread.Running, th.State())
	require.Empty(t, sched.readied)
}
