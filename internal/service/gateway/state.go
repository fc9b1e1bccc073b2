package gateway

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a provider connection.
type State int

const (
	// StateIdle - registered, dial not started.
	StateIdle State = iota
	// StateConnecting - dial in progress.
	StateConnecting
	// StateStreaming - audio may be sent and results are delivered.
	StateStreaming
	// StateClosing - teardown started; results are discarded.
	StateClosing
	// StateClosed - terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// Lifecycle is the state machine of one provider connection.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → CONNECTING → STREAMING → CLOSING → CLOSED
//	  │         │                      ▲
//	  │         └──────────────────────┤ (dial failed or closed mid-dial)
//	  └────────────────────────────────┘
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

var allowed = map[State][]State{
	StateIdle:       {StateConnecting, StateClosing},
	StateConnecting: {StateStreaming, StateClosing},
	StateStreaming:  {StateClosing},
	StateClosing:    {StateClosed},
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Transition moves to the given state if the move is allowed.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range allowed[l.state] {
		if s == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
}

// BeginClose moves to CLOSING from any non-closing state. It returns false if
// teardown had already started, which makes Close idempotent.
func (l *Lifecycle) BeginClose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosing || l.state == StateClosed {
		return false
	}
	l.state = StateClosing
	return true
}
