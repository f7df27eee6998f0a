package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/metrics"
)

// UsageSummary aggregates what a run consumed: frames pushed upstream,
// detections that came back, and characters handed to synthesis, which
// is what metered speech vendors bill on.
type UsageSummary struct {
	RunID                string `json:"run_id"`
	SessionsOpened       int    `json:"sessions_opened"`
	FramesSent           int    `json:"frames_sent"`
	FrameBytes           int64  `json:"frame_bytes"`
	FramesDropped        int    `json:"frames_dropped"`
	DetectionsReceived   int    `json:"detections_received"`
	DetectionsDropped    int    `json:"detections_dropped"`
	UtterancesSpoken     int    `json:"utterances_spoken"`
	UtterancesSuppressed int    `json:"utterances_suppressed"`
	CharsSpoken          int    `json:"chars_spoken"`
	RecordedAtUTC        string `json:"recorded_at_utc"`
}

// UsageObserver accumulates a UsageSummary for the run and writes it
// as dir/<runID>.usage.json on Close.
type UsageObserver struct {
	dir   string
	runID string

	mu      sync.Mutex
	summary UsageSummary
}

func NewUsageObserver(dir, runID string) *UsageObserver {
	return &UsageObserver{
		dir:     dir,
		runID:   runID,
		summary: UsageSummary{RunID: runID},
	}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventSessionConnected:
		o.summary.SessionsOpened++
	case metrics.EventFrameSent:
		o.summary.FramesSent++
		o.summary.FrameBytes += int64(ev.Value)
	case metrics.EventFrameDropped:
		o.summary.FramesDropped++
	case metrics.EventDetectionReceived:
		o.summary.DetectionsReceived++
	case metrics.EventDetectionDropped:
		o.summary.DetectionsDropped++
	case metrics.EventUtteranceStarted:
		o.summary.UtterancesSpoken++
		o.summary.CharsSpoken += int(ev.Value)
	case metrics.EventUtteranceSuppressed:
		o.summary.UtterancesSuppressed++
	}
}

// Snapshot returns a copy of the current totals.
func (o *UsageObserver) Snapshot() UsageSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// Close writes the summary artifact. Safe to call with nothing
// recorded; the artifact then just reports zeros.
func (o *UsageObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	safe := sanitizeID(o.runID)
	if safe == "" {
		return nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	o.mu.Lock()
	summary := o.summary
	o.mu.Unlock()
	summary.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(o.dir, safe+".usage.json")
	return os.WriteFile(path, b, 0o644)
}

var _ metrics.Observer = (*UsageObserver)(nil)
