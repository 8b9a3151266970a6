package futex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/kthread"
)

type fakeScheduler struct {
	mu     sync.Mutex
	timers []func()
}

func (f *fakeScheduler) ThreadReady(t *kthread.Thread) {}

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

// identitySpace is an AddressSpace where virtual == physical, backed by
// a plain map of words for the test to mutate.
type identitySpace struct {
	mu    sync.Mutex
	words map[uintptr]uint32
}

func newIdentitySpace() *identitySpace {
	return &identitySpace{words: make(map[uintptr]uint32)}
}

func (s *identitySpace) Translate(virt uintptr) (uintptr, error) { return virt, nil }

func (s *identitySpace) ReadWord(virt uintptr) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words[virt], nil
}

func (s *identitySpace) set(virt uintptr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words[virt] = v
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

func TestWaitReturnsWouldBlockOnMismatch(t *testing.T) {
	sched := &fakeScheduler{}
	tbl := NewTable()
	as := newIdentitySpace()
	as.set(0x1000, 5)
	self := newRunningThread(t, "t")

	err := Wait(sched, self, tbl, as, 0x1000, 99, 0)
	require.True(t, kerrors.IsCode(err, kerrors.ErrCodeWouldBlock))
}

func TestWakeWithNoWaitersReturnsZero(t *testing.T) {
	sched := &fakeScheduler{}
	tbl := NewTable()
	as := newIdentitySpace()

	n, err := Wake(sched, tbl, as, 0x2000, 4)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestWaitThenWakeWakesSleeper(t *testing.T) {
	sched := &fakeScheduler{}
	tbl := NewTable()
	as := newIdentitySpace()
	as.set(0x3000, 1)
	self := newRunningThread(t, "sleeper")

	result := make(chan error, 1)
	go func() { result <- Wait(sched, self, tbl, as, 0x3000, 1, 0) }()

	require.Eventually(t, func() bool {
		self.Lock()
		defer self.Unlock()
		return self.State() == kthread.Sleeping
	}, time.Second, time.Millisecond)

	n, err := Wake(sched, tbl, as, 0x3000, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("futex_wait never woke")
	}
}

func TestWakeOnlyWakesUpToN(t *testing.T) {
	sched := &fakeScheduler{}
	tbl := NewTable()
	as := newIdentitySpace()
	as.set(0x4000, 1)

	const sleepers = 3
	results := make([]chan error, sleepers)
	threads := make([]*kthread.Thread, sleepers)
	for i := range results {
		threads[i] = newRunningThread(t, "sleeper")
		results[i] = make(chan error, 1)
		th := threads[i]
		ch := results[i]
		go func() { ch <- Wait(sched, th, tbl, as, 0x4000, 1, 0) }()
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

	n, err := Wake(sched, tbl, as, 0x4000, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	woken := 0
	for i := 0; i < sleepers; i++ {
		select {
		case <-results[i]:
			woken++
		case <-time.After(50 * time.Millisecond):
		}
	}
	require.Equal(t, 2, woken)
}

func TestWaitTimesOutWhenUnwoken(t *testing.T) {
	sched := &fakeScheduler{}
	tbl := NewTable()
	as := newIdentitySpace()
	as.set(0x5000, 1)
	self := newRunningThread(t, "sleeper")

	result := make(chan error, 1)
	go func() { result <- Wait(sched, self, tbl, as, 0x5000, 1, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		self.Lock()
		defer self.Unlock()
		return self.State() == kthread.Sleeping
	}, time.Second, time.Millisecond)

	sched.fireAll()

	select {
	case err := <-result:
		require.True(t, kerrors.IsCode(err, kerrors.ErrCodeTimeout))
	case <-time.After(time.Second):
		t.Fatal("futex_wait never timed out")
	}
}

func TestSameAddressSharesSameFutexAcrossVirtualMappings(t *testing.T) {
	tbl := NewTable()
	f1 := tbl.lookup(0x6000)
	f2 := tbl.lookup(0x6000)
	require.Same(t, f1, f2)
	tbl.release(f1)
	tbl.release(f2)
}

func TestFutexReleasedWhenLastReferenceDrops(t *testing.T) {
	tbl := NewTable()
	f := tbl.lookup(0x7000)
	tbl.release(f)

	b := tbl.shardFor(0x7000)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, 0, b.chain.Len())
}
