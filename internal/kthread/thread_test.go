package kthread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTask struct{ id uint64 }

func (f fakeTask) TaskID() uint64 { return f.id }

func TestCreateRejectsZeroStack(t *testing.T) {
	_, err := Create(Config{Name: "t", Entry: func(any) {}, StackSize: 0})
	require.Error(t, err)
}

func TestCreateRejectsNilEntry(t *testing.T) {
	_, err := Create(Config{Name: "t", StackSize: 4096})
	require.Error(t, err)
}

func TestCreateEntersEnteringState(t *testing.T) {
	th, err := Create(Config{Name: "t", Task: fakeTask{1}, Entry: func(any) {}, StackSize: 4096})
	require.NoError(t, err)
	require.Equal(t, Entering, th.State())
	require.NotZero(t, th.ID())
	require.Equal(t, uint64(1), th.Task().TaskID())
}

func TestThreadRunsEntryOnResume(t *testing.T) {
	done := make(chan struct{})
	th, err := Create(Config{
		Name:      "runner",
		Entry:     func(any) { close(done) },
		StackSize: 4096,
	})
	require.NoError(t, err)

	th.Start()
	th.Resume()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("entry function did not run")
	}

	select {
	case <-th.Exited():
	case <-time.After(time.Second):
		t.Fatal("thread did not reach Exiting")
	}
	require.Equal(t, Exiting, th.State())
}

func TestCallMeOnNextScheduleArmsOnce(t *testing.T) {
	th, err := Create(Config{Entry: func(any) {}, StackSize: 4096})
	require.NoError(t, err)

	calls := 0
	th.Lock()
	th.RegisterCallMe(func() { calls++ })
	fn := th.TakeCallMe()
	th.Unlock()

	require.NotNil(t, fn)
	fn()
	require.Equal(t, 1, calls)
	require.Nil(t, th.TakeCallMe())
}

func TestFindLocatesRegisteredThreadUntilExit(t *testing.T) {
	done := make(chan struct{})
	th, err := Create(Config{Name: "findable", Entry: func(any) { close(done) }, StackSize: 4096})
	require.NoError(t, err)

	got, ok := Find(th.ID())
	require.True(t, ok)
	require.Same(t, th, got)

	found := false
	Range(func(candidate *Thread) bool {
		if candidate == th {
			found = true
			return false
		}
		return true
	})
	require.True(t, found)

	th.Start()
	th.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("entry function did not run")
	}
	select {
	case <-th.Exited():
	case <-time.After(time.Second):
		t.Fatal("thread did not reach Exiting")
	}

	_, ok = Find(th.ID())
	require.False(t, ok, "registry should drop the weak reference once the thread exits")
}

func TestFindReportsUnknownID(t *testing.T) {
	_, ok := Find(^uint64(0))
	require.False(t, ok)
}

func TestWiredAndStolenFlags(t *testing.T) {
	th, err := Create(Config{Entry: func(any) {}, StackSize: 4096, Wired: true})
	require.NoError(t, err)
	require.True(t, th.Wired())
	require.False(t, th.Stolen())

	th.Lock()
	th.SetStolen(true)
	th.Unlock()
	require.True(t, th.Stolen())
}
