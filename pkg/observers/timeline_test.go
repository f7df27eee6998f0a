package observers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/netra/pkg/metrics"
	"github.com/harunnryd/netra/pkg/redact"
)

func TestTimelineWritesPerRunTrace(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir, "run-1")

	obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventFrameSent,
		Time:  time.Now(),
		Value: 2048,
		Tags:  map[string]string{"component": "session", "session_id": "sess-1"},
		Fields: map[string]any{
			"frame_id": uint64(3),
		},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventUtteranceStarted,
		Time:  time.Now(),
		Value: 11,
		Tags:  map[string]string{"component": "narration", "mode": "navigation"},
	})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Events after Close must not reopen the file.
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameSent, Time: time.Now()})

	b, err := os.ReadFile(filepath.Join(dir, "run-1.jsonl"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 trace lines, got %d: %q", len(lines), string(b))
	}
	if !strings.Contains(lines[0], `"event":"frame_sent"`) || !strings.Contains(lines[0], `"session_id":"sess-1"`) {
		t.Fatalf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"event":"utterance_started"`) {
		t.Fatalf("unexpected second line: %s", lines[1])
	}
}

func TestTimelineRedactsContactDetails(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)

	dir := t.TempDir()
	obs := NewTimelineObserver(dir, "run-redact")
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventUtteranceStarted,
		Time: time.Now(),
		Fields: map[string]any{
			"text": "call 0812 3456 7890 for info",
		},
	})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "run-redact.jsonl"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(b), "[REDACTED_PHONE]") {
		t.Fatalf("expected phone number to be redacted: %s", string(b))
	}
	if strings.Contains(string(b), "3456") {
		t.Fatalf("raw phone number leaked into trace: %s", string(b))
	}
}

func TestTimelineNoopWithoutDir(t *testing.T) {
	obs := NewTimelineObserver("", "run-2")
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameSent, Time: time.Now()})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
