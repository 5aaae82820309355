package connection

import (
	"errors"
	"fmt"
	"sync"
)

// Lifecycle errors.
var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnecting       = errors.New("connection attempt in progress")
	ErrNotConnected     = errors.New("not connected")
)

// State is the session lifecycle state.
type State uint8

const (
	// StateIdle indicates no session has been started.
	StateIdle State = iota

	// StateConnecting indicates the transport is being opened.
	StateConnecting

	// StateHandshaking indicates the transport is open and the server info
	// request is outstanding.
	StateHandshaking

	// StateActive indicates an established session.
	StateActive

	// StatePingFault indicates the session ended because a keep-alive probe
	// failed.
	StatePingFault

	// StateClosed indicates the session ended by request or transport loss.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateActive:
		return "ACTIVE"
	case StatePingFault:
		return "PING_FAULT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether a session is in progress in this state.
func (s State) Live() bool {
	return s == StateConnecting || s == StateHandshaking || s == StateActive
}

// transitions lists the allowed successor states.
var transitions = map[State][]State{
	StateIdle:        {StateConnecting},
	StateConnecting:  {StateHandshaking, StateClosed},
	StateHandshaking: {StateActive, StateClosed},
	StateActive:      {StatePingFault, StateClosed},
	StatePingFault:   {StateConnecting},
	StateClosed:      {StateConnecting},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a disallowed transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// Machine tracks the lifecycle state of one client.
type Machine struct {
	// notifyMu orders observer calls the same as the transitions.
	notifyMu sync.Mutex

	mu            sync.RWMutex
	state         State
	onStateChange func(oldState, newState State)
	onBegin       func()
}

// NewMachine creates a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsActive returns true if the session is established.
func (m *Machine) IsActive() bool {
	return m.State() == StateActive
}

// OnStateChange sets the observer for state changes. The observer must not
// trigger transitions itself.
func (m *Machine) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnBegin sets a hook that resets per-session state. Begin runs it after
// admitting a new attempt and before entering StateConnecting, so observers
// of that transition never see the previous session's state.
func (m *Machine) OnBegin(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBegin = fn
}

// Begin starts a new session attempt. It fails fast with ErrConnecting or
// ErrAlreadyConnected while a session is in progress.
func (m *Machine) Begin() error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.RLock()
	old := m.state
	reset := m.onBegin
	m.mu.RUnlock()

	switch old {
	case StateConnecting, StateHandshaking:
		return ErrConnecting
	case StateActive:
		return ErrAlreadyConnected
	}

	// State only changes under notifyMu, so old is still current.
	if reset != nil {
		reset()
	}

	m.mu.Lock()
	m.state = StateConnecting
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(old, StateConnecting)
	}
	return nil
}

// Transition moves to a successor state of the current one.
func (m *Machine) Transition(to State) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	old := m.state
	if !CanTransition(old, to) {
		m.mu.Unlock()
		return &TransitionError{From: old, To: to}
	}
	m.state = to
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(old, to)
	}
	return nil
}

// End moves a live session to the terminal state to. It returns the state
// it left and false when no session was live, in which case nothing changes.
// A fault outside StateActive is recorded as StateClosed.
func (m *Machine) End(to State) (State, bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	old := m.state
	if !old.Live() {
		m.mu.Unlock()
		return old, false
	}
	if !CanTransition(old, to) {
		to = StateClosed
	}
	m.state = to
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(old, to)
	}
	return old, true
}
