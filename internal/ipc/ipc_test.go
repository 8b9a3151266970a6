package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/mkcore-project/mkcore/internal/constants"
	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/ktask"
)

// requireArgsEqual compares two Args payloads with a readable diff on
// mismatch rather than testify's default %+v dump, the ambient
// assertion style carried from the jacobsa test stack this project's
// ambient tooling is drawn from.
func requireArgsEqual(t *testing.T, want, got Args) {
	t.Helper()
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("Args mismatch (-want +got):\n%s", diff)
	}
}

// fakeScheduler mirrors internal/waitqueue's test double: it readies
// threads synchronously and lets tests fire registered timeouts
// deterministically.
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

// newTestTask builds a task with a wired-in answerbox and phone table,
// the way kernel.go's task constructor (Kernel.CreateTask) does.
func newTestTask(name string) *ktask.Task {
	task := ktask.Create(ktask.Config{Name: name, Caps: ktask.CapSet(0).Grant(ktask.CapIRQReg)})
	task.SetAnswerbox(NewAnswerbox(task))
	task.SetPhoneTable(NewPhoneTable())
	return task
}

func connectPhone(t *testing.T, from, to *ktask.Task) int {
	t.Helper()
	pt := from.PhoneTable().(*PhoneTable)
	idx, phone, err := pt.AllocFree()
	require.NoError(t, err)
	toBox := to.Answerbox().(*Answerbox)
	phone.connect(toBox)
	return idx
}

func TestCallSyncDeliversAndReceivesAnswer(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	server := newTestTask("server")
	phoneIdx := connectPhone(t, client, server)

	self := newRunningThread(t, "client-thread")

	result := make(chan Args, 1)
	errs := make(chan error, 1)
	go func() {
		answer, err := CallSync(sched, self, client, phoneIdx, 42, Args{1, 2, 3}, 0)
		errs <- err
		result <- answer
	}()

	serverThread := newRunningThread(t, "server-thread")
	var call *Call
	require.Eventually(t, func() bool {
		var err error
		call, err = WaitForCall(sched, serverThread, server, 0)
		return err == nil && call != nil
	}, time.Second, time.Millisecond)

	require.Equal(t, uint32(42), call.Method())
	requireArgsEqual(t, Args{1, 2, 3}, call.Args())

	require.NoError(t, Answer(sched, server, call, Args{9, 9, 9}))

	require.NoError(t, <-errs)
	requireArgsEqual(t, Args{9, 9, 9}, <-result)
}

func TestCallAsyncAnswerRetrievedViaWaitForCall(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	server := newTestTask("server")
	phoneIdx := connectPhone(t, client, server)

	call, err := CallAsync(sched, client, phoneIdx, 7, Args{})
	require.NoError(t, err)

	serverThread := newRunningThread(t, "server-thread")
	got, err := WaitForCall(sched, serverThread, server, 0)
	require.NoError(t, err)
	require.Equal(t, call, got)

	require.NoError(t, Answer(sched, server, call, Args{5}))

	clientThread := newRunningThread(t, "client-thread")
	answerCall, err := WaitForCall(sched, clientThread, client, 0)
	require.NoError(t, err)
	require.Equal(t, call, answerCall)
	require.True(t, answerCall.Flags()&FlagAnswered != 0)
	requireArgsEqual(t, Args{5}, answerCall.Answer())
}

func TestCallSyncOnHungupPhoneFailsFast(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	self := newRunningThread(t, "client-thread")

	pt := client.PhoneTable().(*PhoneTable)
	idx, phone, err := pt.AllocFree()
	require.NoError(t, err)
	phone.hangup()

	_, err = CallSync(sched, self, client, idx, 1, Args{}, 0)
	require.Error(t, err)
	require.True(t, kerrors.IsCode(err, kerrors.ErrCodeHangup))
}

func TestForwardPreservesSenderAndRetargets(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	mid := newTestTask("mid")
	final := newTestTask("final")

	toMid := connectPhone(t, client, mid)
	midToFinal := connectPhone(t, mid, final)
	midToFinalPhone, err := mid.PhoneTable().(*PhoneTable).Slot(midToFinal)
	require.NoError(t, err)

	self := newRunningThread(t, "client-thread")
	result := make(chan Args, 1)
	go func() {
		answer, _ := CallSync(sched, self, client, toMid, 1, Args{1}, 0)
		result <- answer
	}()

	midThread := newRunningThread(t, "mid-thread")
	var call *Call
	require.Eventually(t, func() bool {
		var err error
		call, err = WaitForCall(sched, midThread, mid, 0)
		return err == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, Forward(sched, mid, call, midToFinalPhone, 2))

	finalThread := newRunningThread(t, "final-thread")
	var finalCall *Call
	require.Eventually(t, func() bool {
		var err error
		finalCall, err = WaitForCall(sched, finalThread, final, 0)
		return err == nil
	}, time.Second, time.Millisecond)

	require.Equal(t, uint32(2), finalCall.Method())
	require.Equal(t, client, finalCall.Sender())
	require.True(t, finalCall.Flags()&FlagForwarded != 0)

	require.NoError(t, Answer(sched, final, finalCall, Args{99}))
	requireArgsEqual(t, Args{99}, <-result)
}

func TestHangupDeliversPhoneHungupNotification(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	server := newTestTask("server")
	phoneIdx := connectPhone(t, client, server)

	require.NoError(t, Hangup(sched, client, phoneIdx))

	serverThread := newRunningThread(t, "server-thread")
	call, err := WaitForCall(sched, serverThread, server, 0)
	require.NoError(t, err)
	require.Equal(t, constants.IPCMPhoneHungup, call.Method())
	require.True(t, call.Flags()&FlagNotification != 0)
}

func TestWaitForCallTimesOutWithNoCalls(t *testing.T) {
	sched := &fakeScheduler{}
	server := newTestTask("server")
	self := newRunningThread(t, "server-thread")

	result := make(chan error, 1)
	go func() {
		_, err := WaitForCall(sched, self, server, time.Hour)
		result <- err
	}()

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
		t.Fatal("wait_for_call never timed out")
	}
}

func TestConnectMeToAllocatesConnectedPhone(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	server := newTestTask("server")
	viaIdx := connectPhone(t, client, server)

	self := newRunningThread(t, "client-thread")
	newIdx := -1
	var connectErr error
	done := make(chan struct{})
	go func() {
		newIdx, _, connectErr = ConnectMeTo(sched, self, client, viaIdx, 0)
		close(done)
	}()

	serverThread := newRunningThread(t, "server-thread")
	var call *Call
	require.Eventually(t, func() bool {
		var err error
		call, err = WaitForCall(sched, serverThread, server, 0)
		return err == nil
	}, time.Second, time.Millisecond)
	require.Equal(t, constants.IPCMConnectMeTo, call.Method())
	require.NoError(t, Answer(sched, server, call, Args{}))

	<-done
	require.NoError(t, connectErr)
	require.NotEqual(t, viaIdx, newIdx)

	pt := client.PhoneTable().(*PhoneTable)
	newPhone, err := pt.Slot(newIdx)
	require.NoError(t, err)
	require.Equal(t, PhoneConnected, newPhone.State())
}

func TestRegisterIRQRequiresCapability(t *testing.T) {
	unprivileged := ktask.Create(ktask.Config{Name: "driver"})
	reg := NewIRQRegistry()
	prog := &Program{Instructions: []Instruction{{Op: OpAccept}}}

	err := RegisterIRQ(reg, unprivileged, 5, prog, nil)
	require.Error(t, err)
	require.True(t, kerrors.IsCode(err, kerrors.ErrCodePermissionDenied))
}

func TestRegisterIRQRejectsProgramWithoutAccept(t *testing.T) {
	driver := newTestTask("driver")
	reg := NewIRQRegistry()
	prog := &Program{Instructions: []Instruction{{Op: OpDecline}}}

	err := RegisterIRQ(reg, driver, 5, prog, nil)
	require.Error(t, err)
}

type fakePortIO struct {
	reads map[uint64]uint64
}

func (f *fakePortIO) ReadPort(addr uint64, width int) (uint64, error) { return f.reads[addr], nil }
func (f *fakePortIO) WritePort(addr uint64, width int, val uint64) error { return nil }

type fakeMemIO struct{}

func (fakeMemIO) ReadMem(addr uint64, width int) (uint64, error)  { return 0, nil }
func (fakeMemIO) WriteMem(addr uint64, width int, val uint64) error { return nil }

func TestFireInterruptDeliversNotificationOnAccept(t *testing.T) {
	sched := &fakeScheduler{}
	driver := newTestTask("driver")
	reg := NewIRQRegistry()

	prog := &Program{Instructions: []Instruction{
		{Op: OpPioRead32, Addr: 0x3f8, DstReg: 0},
		{Op: OpAccept},
	}}
	driverBox := driver.Answerbox().(*Answerbox)
	require.NoError(t, RegisterIRQ(reg, driver, 4, prog, driverBox))

	pio := &fakePortIO{reads: map[uint64]uint64{0x3f8: 0xAB}}
	require.NoError(t, FireInterrupt(sched, reg, 4, pio, fakeMemIO{}))

	th := newRunningThread(t, "driver-thread")
	call, err := WaitForCall(sched, th, driver, 0)
	require.NoError(t, err)
	require.True(t, call.Flags()&FlagIRQ != 0)
	require.EqualValues(t, 0xAB, call.Args()[0])
}

func TestFireInterruptCoalescesRepeatedUndeliveredNotifications(t *testing.T) {
	sched := &fakeScheduler{}
	driver := newTestTask("driver")
	reg := NewIRQRegistry()

	prog := &Program{Instructions: []Instruction{{Op: OpAccept}}}
	driverBox := driver.Answerbox().(*Answerbox)
	require.NoError(t, RegisterIRQ(reg, driver, 4, prog, driverBox))

	require.NoError(t, FireInterrupt(sched, reg, 4, &fakePortIO{reads: map[uint64]uint64{}}, fakeMemIO{}))
	require.NoError(t, FireInterrupt(sched, reg, 4, &fakePortIO{reads: map[uint64]uint64{}}, fakeMemIO{}))

	require.Equal(t, 1, driverBox.pickup.Len())
}

func TestFireInterruptDeclinesWithoutAccept(t *testing.T) {
	sched := &fakeScheduler{}
	driver := newTestTask("driver")
	reg := NewIRQRegistry()

	// PREDICATE always false (register 0 is zero) skips straight past
	// ACCEPT to DECLINE.
	prog := &Program{Instructions: []Instruction{
		{Op: OpPredicate, PredicateReg: 0, Skip: 1},
		{Op: OpAccept},
		{Op: OpDecline},
	}}
	driverBox := driver.Answerbox().(*Answerbox)
	require.NoError(t, RegisterIRQ(reg, driver, 4, prog, driverBox))

	require.NoError(t, FireInterrupt(sched, reg, 4, &fakePortIO{reads: map[uint64]uint64{}}, fakeMemIO{}))
	require.Equal(t, 0, driverBox.pickup.Len())
}

func TestMarshalUnmarshalCallRoundTrips(t *testing.T) {
	c := newCall(99, Args{1, 2, 3, 4, 5, 6}, nil, nil)
	buf := MarshalCall(c)

	decoded, err := UnmarshalCall(buf)
	require.NoError(t, err)
	require.Equal(t, c.ID(), decoded.ID())
	require.Equal(t, c.Method(), decoded.Method())
	require.Equal(t, c.Args(), decoded.Args())
}

func TestUnmarshalCallRejectsShortBuffer(t *testing.T) {
	_, err := UnmarshalCall([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestAnswerboxTeardownDiscardsOutstandingCalls(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	server := newTestTask("server")
	phoneIdx := connectPhone(t, client, server)

	self := newRunningThread(t, "client-thread")
	result := make(chan error, 1)
	go func() {
		_, err := CallSync(sched, self, client, phoneIdx, 1, Args{}, 0)
		result <- err
	}()

	require.Eventually(t, func() bool {
		self.Lock()
		defer self.Unlock()
		return self.State() == kthread.Sleeping
	}, time.Second, time.Millisecond)

	serverBox := server.Answerbox().(*Answerbox)
	serverBox.Teardown(sched)

	select {
	case err := <-result:
		require.True(t, kerrors.IsCode(err, kerrors.ErrCodeHangup))
	case <-time.After(time.Second):
		t.Fatal("call sync never unblocked after answerbox teardown")
	}

	select {
	case <-serverBox.Drained():
	default:
		t.Fatal("answerbox not marked drained after teardown")
	}
}

// TestAnswerboxTeardownDiscardsOutstandingAsyncCalls covers the async
// counterpart: three ipc_call_async calls outstanding against a server
// that dies should each come back from the client's own
// ipc_wait_for_call with ErrHangup, not block forever — Teardown must
// re-deliver discarded calls to their sender's answerbox, not just
// wake a synchronous ownWQ sleeper nobody is sleeping on here.
func TestAnswerboxTeardownDiscardsOutstandingAsyncCalls(t *testing.T) {
	sched := &fakeScheduler{}
	client := newTestTask("client")
	server := newTestTask("server")
	phoneIdx := connectPhone(t, client, server)

	const n = 3
	sent := make([]*Call, n)
	for i := range sent {
		c, err := CallAsync(sched, client, phoneIdx, uint32(1+i), Args{uint64(i)})
		require.NoError(t, err)
		sent[i] = c
	}

	serverBox := server.Answerbox().(*Answerbox)
	serverBox.Teardown(sched)

	clientThread := newRunningThread(t, "client-thread")
	for i := 0; i < n; i++ {
		got, err := WaitForCall(sched, clientThread, client, 0)
		require.True(t, kerrors.IsCode(err, kerrors.ErrCodeHangup))
		require.NotNil(t, got)
		require.Equal(t, StateDiscarded, got.State())
		require.True(t, got.Flags()&FlagAnswered != 0)
	}

	select {
	case <-serverBox.Drained():
	default:
		t.Fatal("answerbox not marked drained after teardown")
	}
}
