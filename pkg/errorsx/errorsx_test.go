package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonSpeechSynth)
	if Reason(err) != ReasonSpeechSynth {
		t.Fatalf("expected reason %s, got %s", ReasonSpeechSynth, Reason(err))
	}
	if !HasReason(err, ReasonSpeechSynth) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSessionDial)
	second := Wrap(first, ReasonConfigSend)
	if Reason(second) != ReasonSessionDial {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("send config: %w", Wrap(assertErr{}, ReasonConfigSend))
	if Reason(err) != ReasonConfigSend {
		t.Fatalf("expected reason through fmt wrap, got %s", Reason(err))
	}
	var re ReasonedError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReasonedError in chain")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonCapture) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
