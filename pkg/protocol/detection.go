package protocol

import "strings"

// Zone is the coarse distance bucket the service assigns to an entity.
type Zone string

const (
	ZoneVeryClose Zone = "very_close"
	ZoneClose     Zone = "close"
	ZoneFar       Zone = "far"
)

// Priority is the hazard tier attached to a detection result.
type Priority string

const (
	PriorityNone     Priority = ""
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Entity is one detected object in a processed frame.
type Entity struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Zone       Zone    `json:"zone"`
}

// ZoneChange records an entity moving between zones since the
// previous result.
type ZoneChange struct {
	Name string `json:"name"`
	From Zone   `json:"from_zone"`
	To   Zone   `json:"to_zone"`
}

// Changes is the service-computed delta against the previous result.
type Changes struct {
	Appeared             []string     `json:"appeared"`
	Disappeared          []string     `json:"disappeared"`
	ZoneChanges          []ZoneChange `json:"zone_changes"`
	HasSignificantChange bool         `json:"has_significant_change"`
}

// DetectionResult is the service's answer for one processed frame.
// Results are ephemeral: nothing retains one once the next arrives.
type DetectionResult struct {
	FrameID     uint64   `json:"frame_id"`
	Summary     string   `json:"summary"`
	Entities    []Entity `json:"objects"`
	ObjectCount int      `json:"object_count"`
	LatencyMS   float64  `json:"processing_time_ms"`
	Timestamp   float64  `json:"timestamp"`
	HasDanger   bool     `json:"has_danger"`
	Priority    Priority `json:"priority"`
	AlertText   string   `json:"alert_text"`
	Changes     *Changes `json:"changes,omitempty"`
}

func (r DetectionResult) InboundKind() Kind { return KindDetection }

// Significant reports whether the service flagged this result as a
// meaningful change against the previous one.
func (r DetectionResult) Significant() bool {
	return r.Changes != nil && r.Changes.HasSignificantChange
}

// HasAlert reports whether this result carries a speakable hazard
// alert.
func (r DetectionResult) HasAlert() bool {
	return r.HasDanger && strings.TrimSpace(r.AlertText) != ""
}
