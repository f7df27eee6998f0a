package narration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/netra/pkg/adapters/speech"
	"github.com/harunnryd/netra/pkg/metrics"
	"github.com/harunnryd/netra/pkg/protocol"
)

// fakeSpeaker records utterances. With blocking set, Speak waits until
// Stop or finish releases it, mimicking a device that is still
// playing.
type fakeSpeaker struct {
	mu       sync.Mutex
	uttered  []string
	stops    int
	err      error
	blocking bool
	current  chan struct{}
}

var _ speech.Speaker = (*fakeSpeaker)(nil)

func (f *fakeSpeaker) Name() string { return "fake" }

func (f *fakeSpeaker) Start(_ context.Context) error { return nil }

func (f *fakeSpeaker) Close() error { return nil }

func (f *fakeSpeaker) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	f.uttered = append(f.uttered, text)
	err := f.err
	var wait chan struct{}
	if f.blocking {
		wait = make(chan struct{})
		f.current = wait
	}
	f.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
		}
	}
	return err
}

func (f *fakeSpeaker) Stop() {
	f.mu.Lock()
	f.stops++
	if f.current != nil {
		close(f.current)
		f.current = nil
	}
	f.mu.Unlock()
}

// finish completes the current utterance as the device would on its
// own.
func (f *fakeSpeaker) finish() {
	f.mu.Lock()
	if f.current != nil {
		close(f.current)
		f.current = nil
	}
	f.mu.Unlock()
}

func (f *fakeSpeaker) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.uttered))
	copy(out, f.uttered)
	return out
}

func (f *fakeSpeaker) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestArbiter(mode protocol.Mode, sp speech.Speaker, obs metrics.Observer) (*Arbiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := New(Config{Mode: mode, Speaker: sp, Logger: discardLogger(), Observer: obs})
	a.now = clk.now
	return a, clk
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestNavigationSpeaksOnChange(t *testing.T) {
	sp := &fakeSpeaker{}
	obs := metrics.NewMemoryObserver()
	a, clk := newTestArbiter(protocol.ModeNavigation, sp, obs)
	ctx := context.Background()

	a.Handle(ctx, protocol.DetectionResult{FrameID: 1, Summary: "turn left"})
	waitFor(t, func() bool { return len(sp.texts()) == 1 && !a.Speaking() }, "first utterance")

	// Same summary, nothing significant, inside the cooldown: silent.
	clk.advance(500 * time.Millisecond)
	a.Handle(ctx, protocol.DetectionResult{FrameID: 2, Summary: "turn left"})
	if got := len(sp.texts()); got != 1 {
		t.Fatalf("utterances after repeat = %d, want 1", got)
	}

	clk.advance(2700 * time.Millisecond)
	a.Handle(ctx, protocol.DetectionResult{
		FrameID: 3,
		Summary: "obstacle ahead",
		Changes: &protocol.Changes{HasSignificantChange: true},
	})
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "second utterance")

	texts := sp.texts()
	if texts[0] != "turn left" || texts[1] != "obstacle ahead" {
		t.Fatalf("utterances = %v", texts)
	}
	if obs.Count(metrics.EventUtteranceSuppressed) != 1 {
		t.Fatalf("suppressed events = %d, want 1", obs.Count(metrics.EventUtteranceSuppressed))
	}
}

func TestNavigationCooldownBlocksChangedText(t *testing.T) {
	sp := &fakeSpeaker{}
	obs := metrics.NewMemoryObserver()
	a, clk := newTestArbiter(protocol.ModeNavigation, sp, obs)
	ctx := context.Background()

	a.Handle(ctx, protocol.DetectionResult{FrameID: 1, Summary: "turn left"})
	waitFor(t, func() bool { return !a.Speaking() && len(sp.texts()) == 1 }, "first utterance")

	// New text and a significant change, but only 1s since the last
	// utterance began.
	clk.advance(time.Second)
	a.Handle(ctx, protocol.DetectionResult{
		FrameID: 2,
		Summary: "obstacle ahead",
		Changes: &protocol.Changes{HasSignificantChange: true},
	})
	if got := len(sp.texts()); got != 1 {
		t.Fatalf("utterances inside cooldown = %d, want 1", got)
	}

	// Exactly at the cooldown boundary the guard clears.
	clk.advance(2 * time.Second)
	a.Handle(ctx, protocol.DetectionResult{FrameID: 3, Summary: "obstacle ahead"})
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "utterance after cooldown")
}

func TestNavigationSkipsEmptySummary(t *testing.T) {
	sp := &fakeSpeaker{}
	a, _ := newTestArbiter(protocol.ModeNavigation, sp, nil)

	a.Handle(context.Background(), protocol.DetectionResult{FrameID: 1, Summary: "   "})
	a.Handle(context.Background(), protocol.DetectionResult{FrameID: 2})
	if got := len(sp.texts()); got != 0 {
		t.Fatalf("utterances = %d, want 0", got)
	}
}

func TestHazardSpeaksOnlyDangerAlerts(t *testing.T) {
	sp := &fakeSpeaker{}
	a, clk := newTestArbiter(protocol.ModeHazard, sp, nil)
	ctx := context.Background()

	// No danger: silent even though a summary is present.
	a.Handle(ctx, protocol.DetectionResult{FrameID: 1, Summary: "path clear"})
	// Danger without alert text: silent.
	a.Handle(ctx, protocol.DetectionResult{FrameID: 2, HasDanger: true, AlertText: "  "})
	if got := len(sp.texts()); got != 0 {
		t.Fatalf("utterances = %d, want 0", got)
	}

	// Critical alert speaks immediately, no cooldown has elapsed.
	clk.advance(100 * time.Millisecond)
	a.Handle(ctx, protocol.DetectionResult{
		FrameID:   3,
		HasDanger: true,
		Priority:  protocol.PriorityCritical,
		AlertText: "stop",
	})
	waitFor(t, func() bool { return len(sp.texts()) == 1 }, "critical utterance")

	// A second critical inside the cooldown window is not blocked
	// either.
	clk.advance(200 * time.Millisecond)
	a.Handle(ctx, protocol.DetectionResult{
		FrameID:   4,
		HasDanger: true,
		Priority:  protocol.PriorityCritical,
		AlertText: "move back",
	})
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "second critical utterance")

	texts := sp.texts()
	if texts[0] != "stop" || texts[1] != "move back" {
		t.Fatalf("utterances = %v", texts)
	}
}

func TestCriticalInterruptsSpeech(t *testing.T) {
	sp := &fakeSpeaker{blocking: true}
	obs := metrics.NewMemoryObserver()
	a, _ := newTestArbiter(protocol.ModeHazard, sp, obs)
	ctx := context.Background()

	a.Handle(ctx, protocol.DetectionResult{
		FrameID:   1,
		HasDanger: true,
		Priority:  protocol.PriorityHigh,
		AlertText: "obstacle right",
	})
	waitFor(t, func() bool { return a.Speaking() && len(sp.texts()) == 1 }, "first utterance in flight")

	a.Handle(ctx, protocol.DetectionResult{
		FrameID:   2,
		HasDanger: true,
		Priority:  protocol.PriorityCritical,
		AlertText: "stop now",
	})
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "critical utterance started")

	if sp.stopCount() < 1 {
		t.Fatal("in-progress speech was not stopped for the critical alert")
	}
	if !a.Speaking() {
		t.Fatal("arbiter not speaking while critical utterance is in flight")
	}
	if got := sp.texts()[1]; got != "stop now" {
		t.Fatalf("critical utterance = %q, want \"stop now\"", got)
	}
	if obs.Count(metrics.EventUtteranceInterrupted) != 1 {
		t.Fatalf("interrupted events = %d, want 1", obs.Count(metrics.EventUtteranceInterrupted))
	}

	sp.finish()
	waitFor(t, func() bool { return !a.Speaking() }, "critical utterance completed")
}

func TestHighPriorityObeysGuards(t *testing.T) {
	sp := &fakeSpeaker{blocking: true}
	a, clk := newTestArbiter(protocol.ModeHazard, sp, nil)
	ctx := context.Background()

	alert := protocol.DetectionResult{
		FrameID:   1,
		HasDanger: true,
		Priority:  protocol.PriorityHigh,
		AlertText: "obstacle right",
	}
	a.Handle(ctx, alert)
	waitFor(t, func() bool { return a.Speaking() }, "first utterance in flight")

	// Blocked by the in-progress guard.
	a.Handle(ctx, alert)
	if got := len(sp.texts()); got != 1 {
		t.Fatalf("utterances while speaking = %d, want 1", got)
	}

	sp.finish()
	waitFor(t, func() bool { return !a.Speaking() }, "first utterance completed")

	// Blocked by the cooldown guard.
	a.Handle(ctx, alert)
	if got := len(sp.texts()); got != 1 {
		t.Fatalf("utterances inside cooldown = %d, want 1", got)
	}

	// Identical alert text is fine once the cooldown clears; hazard
	// mode has no repeat suppression.
	clk.advance(3 * time.Second)
	a.Handle(ctx, alert)
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "repeat alert after cooldown")
}

func TestSetModeAppliesToNextResult(t *testing.T) {
	sp := &fakeSpeaker{}
	a, clk := newTestArbiter(protocol.ModeNavigation, sp, nil)
	ctx := context.Background()

	res := protocol.DetectionResult{
		FrameID:   1,
		Summary:   "path clear",
		HasDanger: true,
		Priority:  protocol.PriorityCritical,
		AlertText: "stop",
	}
	a.Handle(ctx, res)
	waitFor(t, func() bool { return len(sp.texts()) == 1 }, "navigation utterance")
	if sp.texts()[0] != "path clear" {
		t.Fatalf("navigation mode spoke %q, want the summary", sp.texts()[0])
	}

	a.SetMode(protocol.ModeHazard)
	clk.advance(5 * time.Second)
	res.FrameID = 2
	a.Handle(ctx, res)
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "hazard utterance")
	if sp.texts()[1] != "stop" {
		t.Fatalf("hazard mode spoke %q, want the alert text", sp.texts()[1])
	}
}

func TestSpeechErrorClearsSpeaking(t *testing.T) {
	sp := &fakeSpeaker{err: errors.New("device gone")}
	obs := metrics.NewMemoryObserver()
	a, clk := newTestArbiter(protocol.ModeNavigation, sp, obs)
	ctx := context.Background()

	a.Handle(ctx, protocol.DetectionResult{FrameID: 1, Summary: "turn left"})
	waitFor(t, func() bool { return len(sp.texts()) == 1 && !a.Speaking() }, "error cleared the flag")
	waitFor(t, func() bool { return obs.Count(metrics.EventSpeechFailed) == 1 }, "failure recorded")

	// Future results are not starved by the failure.
	clk.advance(3 * time.Second)
	a.Handle(ctx, protocol.DetectionResult{FrameID: 2, Summary: "go right"})
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "next utterance after failure")
}

func TestResetClearsState(t *testing.T) {
	sp := &fakeSpeaker{blocking: true}
	a, _ := newTestArbiter(protocol.ModeNavigation, sp, nil)
	ctx := context.Background()

	a.Handle(ctx, protocol.DetectionResult{FrameID: 1, Summary: "turn left"})
	waitFor(t, func() bool { return a.Speaking() }, "utterance in flight")

	a.Reset()
	if a.Speaking() {
		t.Fatal("still speaking after Reset")
	}
	if sp.stopCount() < 1 {
		t.Fatal("Reset did not stop the device")
	}

	// Idempotent.
	a.Reset()
	if a.Speaking() {
		t.Fatal("state changed by repeated Reset")
	}

	// Both the last-spoken text and the cooldown clock were cleared:
	// the identical summary speaks again with no time having passed.
	a.Handle(ctx, protocol.DetectionResult{FrameID: 2, Summary: "turn left"})
	waitFor(t, func() bool { return len(sp.texts()) == 2 }, "utterance after reset")
}
