// Package ipc implements call-style message passing: phones,
// answerboxes, the call state machine, the wire format calls are
// copied through, and IRQ code programs that turn a hardware
// interrupt into a notification call.
package ipc

import (
	"sync"
	"sync/atomic"

	"github.com/mkcore-project/mkcore/internal/kernsync/ilist"
	"github.com/mkcore-project/mkcore/internal/kerrors"
	"github.com/mkcore-project/mkcore/internal/ktask"
	"github.com/mkcore-project/mkcore/internal/waitqueue"
)

// Flags are the call's flag bits.
type Flags uint32

const (
	FlagAnswered Flags = 1 << iota
	FlagForwarded
	FlagNotification
	FlagIRQ
)

// CallState is the call's position in its lifecycle state machine: a
// fixed small enum, one mutex per in-flight object, and a switch over
// the current state that rejects invalid transitions instead of
// silently corrupting the call.
type CallState int

const (
	// StateQueued: created, sitting on a phone's target answerbox
	// pickup queue, not yet taken by ipc_wait_for_call.
	StateQueued CallState = iota
	// StateAwaitingAnswer: handed to a server via ipc_wait_for_call,
	// waiting for ipc_answer or ipc_forward.
	StateAwaitingAnswer
	// StateAnswered: ipc_answer has stamped a result; delivered to the
	// sender's own answerbox.
	StateAnswered
	// StateForwarded: ipc_forward re-targeted the call at a new phone;
	// it re-enters StateQueued on the new target immediately after.
	StateForwarded
	// StateDiscarded: the sender task died before the call was
	// answered, or the server task died with the call still
	// outstanding (answered with EHANGUP on its behalf).
	StateDiscarded
)

func (s CallState) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateAwaitingAnswer:
		return "AwaitingAnswer"
	case StateAnswered:
		return "Answered"
	case StateForwarded:
		return "Forwarded"
	case StateDiscarded:
		return "Discarded"
	default:
		return "Unknown"
	}
}

var nextCallID atomic.Uint64

// Call is the call object: a method id, a fixed number of scalar
// arguments, and no inline payload — data-transfer methods are out of
// scope and treated as ordinary scalar calls here.
type Call struct {
	link ilist.Link[Call]

	id uint64

	mu    sync.Mutex
	state CallState

	method uint32
	args   Args
	flags  Flags

	sender      *ktask.Task // nil for kernel-originated notifications
	senderPhone *Phone

	// notifySource identifies the coalescing source of a
	// FlagNotification call (an IRQ number or a phone identity for
	// IPC_M_PHONE_HUNGUP); meaningless otherwise.
	notifySource uint64

	answer Args

	// ownWQ is the call's own wait flag: ipc_call_sync sleeps on it
	// directly rather than on the target answerbox's wait queue.
	ownWQ waitqueue.WaitQueue
}

// Args is the call's fixed scalar argument vector; there is no inline
// payload.
type Args [6]uint64

func newCall(method uint32, args Args, sender *ktask.Task, senderPhone *Phone) *Call {
	return &Call{
		id:          nextCallID.Add(1),
		state:       StateQueued,
		method:      method,
		args:        args,
		sender:      sender,
		senderPhone: senderPhone,
	}
}

// ID returns the call's immutable identifier (its "call handle").
func (c *Call) ID() uint64 { return c.id }

// Method returns the call's method id.
func (c *Call) Method() uint32 { return c.method }

// Args returns the call's scalar argument vector.
func (c *Call) Args() Args { return c.args }

// Flags returns the call's current flag word.
func (c *Call) Flags() Flags { return c.flags }

// Answer returns the answer payload, valid once State is StateAnswered.
func (c *Call) Answer() Args { return c.answer }

// Sender returns the task that issued the call, or nil for a
// kernel-originated notification.
func (c *Call) Sender() *ktask.Task { return c.sender }

// State returns the call's current state.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition moves the call from one of the allowed "from" states to
// "to", rejecting the transition with a structured error otherwise.
func (c *Call) transition(op string, to CallState, from ...CallState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range from {
		if c.state == f {
			c.state = to
			return nil
		}
	}
	return kerrors.New(op, kerrors.ErrCodeInvalidArgument,
		"call "+c.state.String()+" -> "+to.String()+" is not a valid transition")
}

// Link implements ilist.Elem[Call].
func (c *Call) Link() *ilist.Link[Call] { return &c.link }

// CallList is the intrusive-list instantiation used by an answerbox's
// pickup and awaiting-answer queues.
type CallList = ilist.List[Call, *Call]

func callNext(c *Call) *Call { return ilist.Next[Call, *Call](c) }

var _ ilist.Elem[Call] = (*Call)(nil)
