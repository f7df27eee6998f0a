package session

import (
	"sync"
	"time"
)

// State is the connection lifecycle of the realtime session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// StatusEvent is published on every state transition. Err is set when
// a dial or transport error caused the transition.
type StatusEvent struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
	Err       error
	SessionID string
}

// stateMachine guards connection state transitions.
type stateMachine struct {
	mu      sync.RWMutex
	current State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateDisconnected}
}

// State returns the current state.
func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// transitionValid checks if a state transition is allowed (must be
// called with the lock held).
func (m *stateMachine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateDisconnected: {StateConnecting},
		StateConnecting:   {StateConnected, StateFailed, StateDisconnected},
		StateConnected:    {StateDisconnected},
		StateFailed:       {StateConnecting, StateDisconnected},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, state := range allowed {
		if state == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation and returns the
// event to publish.
func (m *stateMachine) Transition(to State, reason string, err error) (StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transitionValid(m.current, to) {
		return StatusEvent{}, &InvalidTransitionError{From: m.current, To: to}
	}

	event := StatusEvent{
		From:      m.current,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
		Err:       err,
	}
	m.current = to
	return event, nil
}

// InvalidTransitionError represents an invalid state transition
// attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
