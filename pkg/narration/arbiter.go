// Package narration turns detection results into speech. The Arbiter
// is the only component allowed to drive the speech device: it applies
// the active mode's policy to each result and keeps at most one
// utterance audible at any instant.
package narration

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/adapters/speech"
	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/logging"
	"github.com/harunnryd/netra/pkg/metrics"
	"github.com/harunnryd/netra/pkg/protocol"
	"github.com/harunnryd/netra/pkg/redact"
)

// DefaultCooldown is the minimum interval between the starts of two
// non-critical utterances.
const DefaultCooldown = 3 * time.Second

// Config holds the settings for an Arbiter.
type Config struct {
	// Mode selects the initial narration policy.
	Mode protocol.Mode
	// Cooldown overrides DefaultCooldown when positive.
	Cooldown time.Duration
	// Speaker is the speech device. Required.
	Speaker speech.Speaker

	Logger   *slog.Logger
	Observer metrics.Observer
}

// request is a candidate utterance produced by one policy decision.
type request struct {
	text     string
	critical bool
}

// Arbiter decides which single utterance, if any, each detection
// result should produce. Decisions are serialized under a mutex;
// playback runs in its own goroutine, tagged with a generation so a
// stale completion never clears state owned by a newer utterance.
type Arbiter struct {
	speaker  speech.Speaker
	log      *slog.Logger
	obs      metrics.Observer
	cooldown time.Duration

	now func() time.Time

	mu         sync.Mutex
	mode       protocol.Mode
	speaking   bool
	lastStart  time.Time
	lastSpoken string
	generation uint64
}

// New creates an Arbiter.
func New(cfg Config) *Arbiter {
	if cfg.Mode == "" {
		cfg.Mode = protocol.DefaultMode
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	return &Arbiter{
		speaker:  cfg.Speaker,
		log:      logging.NewComponentLogger(cfg.Logger, "narration_arbiter"),
		obs:      cfg.Observer,
		cooldown: cfg.Cooldown,
		now:      time.Now,
		mode:     cfg.Mode,
	}
}

// Mode returns the active narration policy.
func (a *Arbiter) Mode() protocol.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetMode switches the narration policy. The new policy applies from
// the next result; a judgment already made for an in-flight utterance
// is not revisited.
func (a *Arbiter) SetMode(mode protocol.Mode) {
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	a.log.Info("narration_mode_set", slog.String("mode", mode.String()))
}

// Speaking reports whether an utterance is currently in flight.
func (a *Arbiter) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// Reset stops any current speech and clears narration memory so a
// torn-down session never bleeds into the next one. Safe to call
// repeatedly.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	a.generation++
	a.speaking = false
	a.lastStart = time.Time{}
	a.lastSpoken = ""
	a.mu.Unlock()

	a.speaker.Stop()
	a.log.Debug("narration_reset")
}

// Handle applies the active policy to one detection result. Results
// must be handed over one at a time, in arrival order.
func (a *Arbiter) Handle(ctx context.Context, res protocol.DetectionResult) {
	a.mu.Lock()
	req, ok := a.evaluate(res)
	if !ok {
		a.mu.Unlock()
		return
	}
	interrupted := a.speaking && req.critical
	a.generation++
	gen := a.generation
	a.speaking = true
	a.lastStart = a.now()
	a.lastSpoken = req.text
	mode := a.mode
	a.mu.Unlock()

	if interrupted {
		a.record(metrics.EventUtteranceInterrupted, 0, mode)
	}
	// Residual playback always loses to the utterance that just won
	// the decision.
	a.speaker.Stop()
	go a.speak(ctx, gen, req, mode)
}

// evaluate runs the mode policy. Must be called with the lock held.
func (a *Arbiter) evaluate(res protocol.DetectionResult) (request, bool) {
	if a.mode == protocol.ModeHazard {
		return a.evaluateHazard(res)
	}
	return a.evaluateSummary(res)
}

// evaluateSummary is the navigation-like policy: speak the summary
// when it differs from the last spoken text or the service flags a
// significant change, and the cooldown and speaking guards clear.
func (a *Arbiter) evaluateSummary(res protocol.DetectionResult) (request, bool) {
	text := strings.TrimSpace(res.Summary)
	if text == "" {
		return request{}, false
	}
	if text == a.lastSpoken && !res.Significant() {
		a.suppress("unchanged", res)
		return request{}, false
	}
	if !a.guardsClear(res) {
		return request{}, false
	}
	return request{text: text}, true
}

// evaluateHazard speaks only danger alerts. Critical alerts bypass
// every guard; "high" alerts wait out the cooldown and any current
// utterance like navigation speech does.
func (a *Arbiter) evaluateHazard(res protocol.DetectionResult) (request, bool) {
	if !res.HasAlert() {
		return request{}, false
	}
	text := strings.TrimSpace(res.AlertText)
	if res.Priority == protocol.PriorityCritical {
		return request{text: text, critical: true}, true
	}
	if !a.guardsClear(res) {
		return request{}, false
	}
	return request{text: text}, true
}

// guardsClear checks the speaking and cooldown guards. Must be called
// with the lock held.
func (a *Arbiter) guardsClear(res protocol.DetectionResult) bool {
	if a.speaking {
		a.suppress("speaking", res)
		return false
	}
	if !a.lastStart.IsZero() && a.now().Sub(a.lastStart) < a.cooldown {
		a.suppress("cooldown", res)
		return false
	}
	return true
}

func (a *Arbiter) suppress(reason string, res protocol.DetectionResult) {
	a.log.Debug("narration_suppressed",
		slog.String("reason", reason),
		slog.Uint64("frame_id", res.FrameID))
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventUtteranceSuppressed,
		Time: time.Now(),
		Tags: map[string]string{
			"component": "narration_arbiter",
			"mode":      a.mode.String(),
			"reason":    reason,
		},
	})
}

// speak runs one utterance to completion. Playback errors are
// swallowed, narration is best-effort, but the Speaking flag is always
// cleared so later results are never starved.
func (a *Arbiter) speak(ctx context.Context, gen uint64, req request, mode protocol.Mode) {
	a.log.Info("speaking_started",
		slog.String("text", redact.Clip(redact.Text(req.text), 64)),
		slog.Bool("critical", req.critical))
	a.record(metrics.EventUtteranceStarted, float64(len(req.text)), mode)

	err := a.speaker.Speak(ctx, req.text)

	a.mu.Lock()
	stale := gen != a.generation
	if !stale {
		a.speaking = false
	}
	a.mu.Unlock()

	if err != nil {
		a.log.Warn("speech_failed",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		a.record(metrics.EventSpeechFailed, 0, mode)
		return
	}
	if !stale {
		a.log.Debug("speaking_completed")
		a.record(metrics.EventUtteranceCompleted, float64(len(req.text)), mode)
	}
}

func (a *Arbiter) record(name string, value float64, mode protocol.Mode) {
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags: map[string]string{
			"component": "narration_arbiter",
			"mode":      mode.String(),
		},
	})
}
