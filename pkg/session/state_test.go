package session

import (
	"errors"
	"testing"
)

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from State
		to   State
		ok   bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateDisconnected, StateDisconnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateFailed, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateConnecting, false},
		{StateFailed, StateConnecting, true},
		{StateFailed, StateDisconnected, true},
		{StateFailed, StateConnected, false},
	}
	for _, tc := range cases {
		m := newStateMachine()
		m.current = tc.from
		_, err := m.Transition(tc.to, "test", nil)
		if tc.ok && err != nil {
			t.Errorf("transition %s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("transition %s -> %s: expected error, got none", tc.from, tc.to)
		}
	}
}

func TestTransitionEvent(t *testing.T) {
	m := newStateMachine()
	cause := errors.New("connection refused")

	event, err := m.Transition(StateConnecting, "connect", nil)
	if err != nil {
		t.Fatalf("transition to connecting: %v", err)
	}
	if event.From != StateDisconnected || event.To != StateConnecting {
		t.Fatalf("event = %s -> %s, want DISCONNECTED -> CONNECTING", event.From, event.To)
	}
	if event.Timestamp.IsZero() {
		t.Fatal("event timestamp not set")
	}

	event, err = m.Transition(StateFailed, "dial_failed", cause)
	if err != nil {
		t.Fatalf("transition to failed: %v", err)
	}
	if event.Reason != "dial_failed" {
		t.Fatalf("event reason = %q, want dial_failed", event.Reason)
	}
	if !errors.Is(event.Err, cause) {
		t.Fatalf("event err = %v, want %v", event.Err, cause)
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %s, want FAILED", m.State())
	}
}

func TestInvalidTransitionError(t *testing.T) {
	m := newStateMachine()
	_, err := m.Transition(StateConnected, "test", nil)
	if err == nil {
		t.Fatal("expected error for DISCONNECTED -> CONNECTED")
	}

	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("error type = %T, want *InvalidTransitionError", err)
	}
	if ite.From != StateDisconnected || ite.To != StateConnected {
		t.Fatalf("error = %s -> %s, want DISCONNECTED -> CONNECTED", ite.From, ite.To)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state changed on rejected transition: %s", m.State())
	}
}
