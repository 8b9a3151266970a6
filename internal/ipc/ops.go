package ipc

import (
	"sync"
	"time"

	"github.com/mkcore-project/mkcore/internal/constants"
	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/ktask"
	"github.com/mkcore-project/mkcore/internal/waitqueue"
)

// answerboxOf resolves a task's wired-in answerbox, per the ktask.Task
// SetAnswerbox/Answerbox any-field pattern.
func answerboxOf(op string, task *ktask.Task) (*Answerbox, error) {
	ab, ok := task.Answerbox().(*Answerbox)
	if !ok || ab == nil {
		return nil, kerrors.NewTaskError(op, task.TaskID(), kerrors.ErrCodeInvalidArgument, "task has no answerbox")
	}
	return ab, nil
}

func phoneTableOf(op string, task *ktask.Task) (*PhoneTable, error) {
	pt, ok := task.PhoneTable().(*PhoneTable)
	if !ok || pt == nil {
		return nil, kerrors.NewTaskError(op, task.TaskID(), kerrors.ErrCodeInvalidArgument, "task has no phone table")
	}
	return pt, nil
}

// CallSync implements ipc_call_sync: allocate a call from the
// sender's (conceptual) local pool, stamp the sender, enqueue
// it on the phone's target answerbox, sleep on the call's own wait
// flag, and on wake copy the answer payload.
func CallSync(sched waitqueue.Scheduler, self *kthread.Thread, sender *ktask.Task, phoneIdx int, method uint32, args Args, timeout time.Duration) (Args, error) {
	pt, err := phoneTableOf("ipc_call_sync", sender)
	if err != nil {
		return Args{}, err
	}
	phone, err := pt.Slot(phoneIdx)
	if err != nil {
		return Args{}, err
	}
	target, ok := phone.upgrade()
	if !ok {
		return Args{}, kerrors.New("ipc_call_sync", kerrors.ErrCodeHangup, "phone's peer has hung up")
	}

	c := newCall(method, args, sender, phone)
	if err := target.deliver(sched, c, false); err != nil {
		return Args{}, err
	}

	status := c.ownWQ.Sleep(sched, self, timeout, 0)
	switch status {
	case waitqueue.StatusTimeout:
		return Args{}, kerrors.Wrap("ipc_call_sync", kerrors.ErrTimeout)
	case waitqueue.StatusInterrupted:
		return Args{}, kerrors.Wrap("ipc_call_sync", kerrors.ErrInterrupted)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDiscarded {
		return c.answer, kerrors.Wrap("ipc_call_sync", kerrors.ErrHangup)
	}
	return c.answer, nil
}

// CallAsync implements ipc_call_async: same delivery as CallSync, but
// returns the call handle immediately; the sender later retrieves the
// answer via WaitForCall on its own answerbox.
func CallAsync(sched waitqueue.Scheduler, sender *ktask.Task, phoneIdx int, method uint32, args Args) (*Call, error) {
	pt, err := phoneTableOf("ipc_call_async", sender)
	if err != nil {
		return nil, err
	}
	phone, err := pt.Slot(phoneIdx)
	if err != nil {
		return nil, err
	}
	target, ok := phone.upgrade()
	if !ok {
		return nil, kerrors.New("ipc_call_async", kerrors.ErrCodeHangup, "phone's peer has hung up")
	}

	c := newCall(method, args, sender, phone)
	if err := target.deliver(sched, c, false); err != nil {
		return nil, err
	}
	return c, nil
}

// Answer implements ipc_answer: server-side, dequeue call from the
// awaiting-answer list, stamp ANSWERED, deliver it to the sender's own
// answerbox, and wake the sender (directly, via the call's own wait
// flag, which covers both the sync-sleeper and the async
// WaitForCall-on-sender's-box cases since the latter polls the same
// box the notification lands on).
func Answer(sched waitqueue.Scheduler, server *ktask.Task, call *Call, answer Args) error {
	box, err := answerboxOf("ipc_answer", server)
	if err != nil {
		return err
	}
	if err := box.takeAwaiting(call); err != nil {
		return err
	}
	if err := call.transition("ipc_answer", StateAnswered, StateAwaitingAnswer); err != nil {
		return err
	}

	call.mu.Lock()
	call.answer = answer
	call.flags |= FlagAnswered
	sender := call.sender
	call.mu.Unlock()

	if sender != nil {
		if senderBox, err := answerboxOf("ipc_answer", sender); err == nil {
			_ = senderBox.deliver(sched, call, false)
		}
	}
	call.ownWQ.Wakeup(sched, waitqueue.One)
	return nil
}

// Forward implements ipc_forward: re-enqueue call on targetPhone's
// answerbox under a new method id, preserving sender identity, stamping
// FORWARDED. Used to build protocol chains.
func Forward(sched waitqueue.Scheduler, server *ktask.Task, call *Call, targetPhone *Phone, newMethod uint32) error {
	box, err := answerboxOf("ipc_forward", server)
	if err != nil {
		return err
	}
	if err := box.takeAwaiting(call); err != nil {
		return err
	}
	if err := call.transition("ipc_forward", StateForwarded, StateAwaitingAnswer); err != nil {
		return err
	}

	target, ok := targetPhone.upgrade()
	if !ok {
		call.mu.Lock()
		call.state = StateDiscarded
		call.mu.Unlock()
		call.ownWQ.Wakeup(sched, waitqueue.One)
		return kerrors.New("ipc_forward", kerrors.ErrCodeHangup, "forward target has hung up")
	}

	call.mu.Lock()
	call.method = newMethod
	call.flags |= FlagForwarded
	call.state = StateQueued
	call.mu.Unlock()

	return target.deliver(sched, call, false)
}

// WaitForCall implements ipc_wait_for_call: block until a call arrives
// on self's task's answerbox, move it to the awaiting-answer queue
// (ordinary calls) and return it. A call an async sender is picking up
// its own answer to, where the peer died before answering, comes back
// as StateDiscarded — reported as ErrHangup here the same way a
// synchronous CallSync sleeper learns of the same event, with the
// call's (empty) answer still attached for inspection.
func WaitForCall(sched waitqueue.Scheduler, self *kthread.Thread, owner *ktask.Task, timeout time.Duration) (*Call, error) {
	box, err := answerboxOf("ipc_wait_for_call", owner)
	if err != nil {
		return nil, err
	}
	call, status := box.waitForCall(sched, self, timeout)
	switch status {
	case waitqueue.StatusTimeout:
		return nil, kerrors.Wrap("ipc_wait_for_call", kerrors.ErrTimeout)
	case waitqueue.StatusInterrupted:
		return nil, kerrors.Wrap("ipc_wait_for_call", kerrors.ErrInterrupted)
	case waitqueue.StatusWouldBlock:
		return nil, kerrors.Wrap("ipc_wait_for_call", kerrors.ErrWouldBlock)
	}
	if call.State() == StateDiscarded {
		return call, kerrors.Wrap("ipc_wait_for_call", kerrors.ErrHangup)
	}
	return call, nil
}

// Hangup implements ipc_hangup: transition the phone to Hungup and
// deliver a synthetic IPC_M_PHONE_HUNGUP notification to the target
// answerbox so the server can clean up.
func Hangup(sched waitqueue.Scheduler, task *ktask.Task, phoneIdx int) error {
	pt, err := phoneTableOf("ipc_hangup", task)
	if err != nil {
		return err
	}
	phone, err := pt.Slot(phoneIdx)
	if err != nil {
		return err
	}
	prev := phone.hangup()
	if prev == nil {
		return nil
	}

	notify := newCall(constants.IPCMPhoneHungup, Args{}, nil, nil)
	notify.flags = FlagNotification
	notify.notifySource = phoneHangupSource(task.TaskID(), phoneIdx)
	return prev.deliver(sched, notify, true)
}

func phoneHangupSource(taskID uint64, phoneIdx int) uint64 {
	return taskID<<16 | uint64(phoneIdx)
}

// ConnectMeTo implements ipc_connect_me_to: ask the server already
// connected via viaPhoneIdx to grant a new phone. The handshake is a
// synchronous call carrying IPC_M_CONNECT_ME_TO; on success a new phone
// slot in the caller's own table is allocated and connected to the same
// peer answerbox the via-phone already reaches.
func ConnectMeTo(sched waitqueue.Scheduler, self *kthread.Thread, caller *ktask.Task, viaPhoneIdx int, timeout time.Duration) (int, *Phone, error) {
	pt, err := phoneTableOf("ipc_connect_me_to", caller)
	if err != nil {
		return -1, nil, err
	}
	via, err := pt.Slot(viaPhoneIdx)
	if err != nil {
		return -1, nil, err
	}
	target, ok := via.upgrade()
	if !ok {
		return -1, nil, kerrors.New("ipc_connect_me_to", kerrors.ErrCodeHangup, "via-phone's peer has hung up")
	}

	if _, err := CallSync(sched, self, caller, viaPhoneIdx, constants.IPCMConnectMeTo, Args{}, timeout); err != nil {
		return -1, nil, err
	}

	idx, newPhone, err := pt.AllocFree()
	if err != nil {
		return -1, nil, err
	}
	newPhone.connect(target)
	return idx, newPhone, nil
}

// BindPhone installs target as the peer of the phone at idx in pt,
// bypassing the ipc_connect_me_to handshake entirely. Real connections
// between two already-running tasks always negotiate through
// ConnectMeTo; BindPhone exists for the bootstrap wiring a kernel does
// once at task-creation time (e.g. handing a freshly created task's
// phone 0 a direct line to a naming service) where there is no peer
// task yet able to answer a connect call.
func BindPhone(pt *PhoneTable, idx int, target *Answerbox) (*Phone, error) {
	phone, err := pt.Slot(idx)
	if err != nil {
		return nil, err
	}
	phone.connect(target)
	return phone, nil
}

// IRQHandler is a registered IRQ code program bound to one interrupt
// number and the answerbox its notifications land on.
type IRQHandler struct {
	inr     uint64
	program *Program
	target  *Answerbox
}

// IRQRegistry holds every currently registered IRQ handler.
type IRQRegistry struct {
	mu       sync.Mutex
	handlers map[uint64]*IRQHandler
}

// NewIRQRegistry allocates an empty registry.
func NewIRQRegistry() *IRQRegistry {
	return &IRQRegistry{handlers: make(map[uint64]*IRQHandler)}
}

// RegisterIRQ implements ipc_register_irq: validate prog once, and
// install it as the handler for inr. Requires CapIRQReg.
func RegisterIRQ(reg *IRQRegistry, task *ktask.Task, inr uint64, prog *Program, target *Answerbox) error {
	if !task.HasCap(ktask.CapIRQReg) {
		return kerrors.NewTaskError("ipc_register_irq", task.TaskID(), kerrors.ErrCodePermissionDenied, "task lacks CapIRQReg")
	}
	if err := ValidateProgram(prog); err != nil {
		return err
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.handlers[inr]; exists {
		return kerrors.New("ipc_register_irq", kerrors.ErrCodeInvalidArgument, "interrupt already has a handler")
	}
	reg.handlers[inr] = &IRQHandler{inr: inr, program: prog, target: target}
	return nil
}

// UnregisterIRQ implements ipc_unregister_irq.
func UnregisterIRQ(reg *IRQRegistry, inr uint64) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.handlers[inr]; !exists {
		return kerrors.New("ipc_unregister_irq", kerrors.ErrCodeInvalidArgument, "no handler registered for interrupt")
	}
	delete(reg.handlers, inr)
	return nil
}

// FireInterrupt runs the IRQ program registered for inr (if any) and,
// on ACCEPT, synthesizes a notification call delivered to the head of
// the handler's target answerbox. Repeat interrupts from the same
// source while an earlier notification is still undelivered are
// coalesced into a no-op, per the lossy-notification contract
// notifications are defined to have.
func FireInterrupt(sched waitqueue.Scheduler, reg *IRQRegistry, inr uint64, pio PortIO, mem MemIO) error {
	reg.mu.Lock()
	h, ok := reg.handlers[inr]
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	regs, accepted, err := Execute(h.program, pio, mem)
	if err != nil {
		return err
	}
	if !accepted {
		return nil
	}

	if h.target.markPendingNotification(inr) {
		return nil // already pending; coalesce
	}

	var args Args
	for i := 0; i < RegCount && i < len(args); i++ {
		args[i] = regs[i]
	}
	notify := newCall(constants.IPCFirstUserMethod-1, args, nil, nil)
	notify.flags = FlagNotification | FlagIRQ
	notify.notifySource = inr
	return h.target.deliver(sched, notify, true)
}
