package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/metrics"
)

// maxPendingFrames bounds the correlation map. Frames that never get
// a detection back (dropped server-side, or the socket died) would
// otherwise accumulate forever.
const maxPendingFrames = 64

// LatencyObserver correlates outbound frames with the detection
// results that answer them and logs the round trip per frame.
type LatencyObserver struct {
	mu      sync.Mutex
	pending map[uint64]frameTrace
	log     *slog.Logger
}

type frameTrace struct {
	sentAt    time.Time
	sessionID string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		pending: make(map[uint64]frameTrace),
		log:     log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	switch ev.Name {
	case metrics.EventFrameSent:
		id, ok := frameIDFromFields(ev.Fields)
		if !ok {
			return
		}
		o.mu.Lock()
		if len(o.pending) >= maxPendingFrames {
			o.evictOldestLocked()
		}
		o.pending[id] = frameTrace{sentAt: ev.Time, sessionID: tagValue(ev.Tags, "session_id")}
		o.mu.Unlock()
	case metrics.EventDetectionReceived:
		id, ok := frameIDFromFields(ev.Fields)
		if !ok {
			return
		}
		o.mu.Lock()
		tr, found := o.pending[id]
		delete(o.pending, id)
		o.mu.Unlock()
		if !found {
			return
		}
		o.log.Info("frame_latency",
			"frame_id", id,
			"session_id", tr.sessionID,
			"round_trip_ms", ev.Time.Sub(tr.sentAt).Milliseconds(),
			"service_ms", int64(ev.Value),
		)
	case metrics.EventSessionConnected:
		// Frame numbering restarts on every connection, so pending
		// entries from the previous socket would alias new frames.
		o.mu.Lock()
		o.pending = make(map[uint64]frameTrace)
		o.mu.Unlock()
	}
}

func (o *LatencyObserver) evictOldestLocked() {
	var oldestID uint64
	var oldestAt time.Time
	first := true
	for id, tr := range o.pending {
		if first || tr.sentAt.Before(oldestAt) {
			oldestID = id
			oldestAt = tr.sentAt
			first = false
		}
	}
	if !first {
		delete(o.pending, oldestID)
	}
}

func frameIDFromFields(fields map[string]any) (uint64, bool) {
	if fields == nil {
		return 0, false
	}
	switch v := fields["frame_id"].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

func tagValue(tags map[string]string, key string) string {
	if tags == nil {
		return ""
	}
	return tags[key]
}

var _ metrics.Observer = (*LatencyObserver)(nil)
