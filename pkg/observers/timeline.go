package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/metrics"
	"github.com/harunnryd/netra/pkg/redact"
)

// TimelineObserver appends every recorded event to a per-run JSONL
// trace. One run produces one file, so a field report covering a whole
// walk can be replayed event by event afterwards.
type TimelineObserver struct {
	dir   string
	runID string

	mu   sync.Mutex
	file *os.File
	dead bool
}

// NewTimelineObserver creates a timeline observer writing
// dir/<runID>.jsonl. The file is opened lazily on the first event.
func NewTimelineObserver(dir, runID string) *TimelineObserver {
	return &TimelineObserver{dir: dir, runID: runID}
}

type timelineEvent struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id,omitempty"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// RecordEvent implements metrics.Observer.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	if strings.TrimSpace(o.dir) == "" {
		return
	}
	entry := timelineEvent{
		Time:      ev.Time.UTC(),
		Event:     ev.Name,
		SessionID: tagValue(ev.Tags, "session_id"),
		Value:     ev.Value,
		Tags:      copyTags(ev.Tags),
		Fields:    sanitizeFields(ev.Fields),
	}
	delete(entry.Tags, "session_id")

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil && !o.open() {
		return
	}
	_, _ = o.file.Write(append(line, '\n'))
}

// Close closes the trace file.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dead = true
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

func (o *TimelineObserver) open() bool {
	if o.dead {
		return false
	}
	safe := sanitizeID(o.runID)
	if safe == "" {
		o.dead = true
		return false
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		o.dead = true
		return false
	}
	path := filepath.Join(o.dir, safe+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		o.dead = true
		return false
	}
	o.file = f
	return true
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// sanitizeFields runs string values through redaction so contact
// details read off signage never land in trace artifacts.
func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
