package ipc

import (
	"sync"
	"sync/atomic"

	"github.com/mkcore-project/mkcore/internal/constants"
	"github.com/mkcore-project/mkcore/internal/kerrors"
)

// PhoneState is a phone slot's lifecycle position: Free, transiently
// Connecting, Connected to a peer answerbox, or
// Hungup once the connection has been torn down.
type PhoneState int

const (
	PhoneFree PhoneState = iota
	PhoneConnecting
	PhoneConnected
	PhoneHungup
)

func (s PhoneState) String() string {
	switch s {
	case PhoneFree:
		return "Free"
	case PhoneConnecting:
		return "Connecting"
	case PhoneConnected:
		return "Connected"
	case PhoneHungup:
		return "Hungup"
	default:
		return "Unknown"
	}
}

// Phone is one slot in a task's phone table: a capability naming a
// target answerbox. Phones hold a weak reference to their peer: a
// pointer to the answerbox that is only handed out by upgrade, under
// the phone's own lock, while the peer has not torn down; a failed
// upgrade (the peer answerbox has since been torn down) synthesizes a
// Hangup rather than using the torn-down answerbox. targetGen is
// stamped on every connect; upgrade does not consult it.
type Phone struct {
	mu    sync.Mutex
	state PhoneState

	target   *Answerbox
	targetGen uint64
}

// PhoneTable is a task's fixed IPC_MAX_PHONES-slot phone table.
type PhoneTable struct {
	slots [constants.IPCMaxPhones]Phone
}

// NewPhoneTable allocates an empty phone table with every slot Free.
func NewPhoneTable() *PhoneTable {
	return &PhoneTable{}
}

// Slot returns the phone at index idx, or an error if idx is out of
// range.
func (pt *PhoneTable) Slot(idx int) (*Phone, error) {
	if idx < 0 || idx >= constants.IPCMaxPhones {
		return nil, kerrors.New("phone_slot", kerrors.ErrCodeInvalidArgument, "phone index out of range")
	}
	return &pt.slots[idx], nil
}

// AllocFree returns the index and pointer of the first Free slot, or an
// error if the table is full.
func (pt *PhoneTable) AllocFree() (int, *Phone, error) {
	for i := range pt.slots {
		p := &pt.slots[i]
		p.mu.Lock()
		if p.state == PhoneFree {
			p.state = PhoneConnecting
			p.mu.Unlock()
			return i, p, nil
		}
		p.mu.Unlock()
	}
	return -1, nil, kerrors.New("phone_alloc", kerrors.ErrCodeNoResource, "phone table full")
}

var nextGen atomic.Uint64

// connect finishes a phone's handshake, pointing it at box.
func (p *Phone) connect(box *Answerbox) {
	p.mu.Lock()
	p.target = box
	p.targetGen = nextGen.Add(1)
	p.state = PhoneConnected
	p.mu.Unlock()
}

// State returns the phone's current lifecycle state.
func (p *Phone) State() PhoneState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// upgrade resolves the phone's weak reference to its target answerbox.
// Returns ok=false if the phone is not Connected or its peer has since
// torn down, in which case the caller must synthesize a Hangup.
func (p *Phone) upgrade() (*Answerbox, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PhoneConnected || p.target == nil {
		return nil, false
	}
	if p.target.torndown.Load() {
		return nil, false
	}
	return p.target, true
}

// hangup transitions the phone to Hungup, returning its previous target
// (nil if it had none) so the caller can deliver the synthetic
// IPC_M_PHONE_HUNGUP notification.
func (p *Phone) hangup() *Answerbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.target
	p.state = PhoneHungup
	p.target = nil
	return prev
}
