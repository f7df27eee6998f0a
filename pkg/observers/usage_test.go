package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/netra/pkg/metrics"
)

func TestUsageSummaryTotals(t *testing.T) {
	dir := t.TempDir()
	obs := NewUsageObserver(dir, "run-7")

	now := time.Now()
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionConnected, Time: now})
	for i := 0; i < 3; i++ {
		obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameSent, Time: now, Value: 100})
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameDropped, Time: now, Value: 100})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDetectionReceived, Time: now, Value: 42})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDetectionReceived, Time: now, Value: 57})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventUtteranceStarted, Time: now, Value: 11})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventUtteranceSuppressed, Time: now})

	got := obs.Snapshot()
	if got.SessionsOpened != 1 || got.FramesSent != 3 || got.FrameBytes != 300 {
		t.Fatalf("unexpected frame totals: %+v", got)
	}
	if got.FramesDropped != 1 || got.DetectionsReceived != 2 {
		t.Fatalf("unexpected detection totals: %+v", got)
	}
	if got.UtterancesSpoken != 1 || got.CharsSpoken != 11 || got.UtterancesSuppressed != 1 {
		t.Fatalf("unexpected narration totals: %+v", got)
	}

	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "run-7.usage.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var written UsageSummary
	if err := json.Unmarshal(b, &written); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if written.RunID != "run-7" || written.FramesSent != 3 {
		t.Fatalf("unexpected written summary: %+v", written)
	}
	if written.RecordedAtUTC == "" {
		t.Fatal("expected recorded_at_utc to be set")
	}
}

func TestUsageNoopWithoutDir(t *testing.T) {
	obs := NewUsageObserver("", "run-8")
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameSent, Time: time.Now(), Value: 9})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
