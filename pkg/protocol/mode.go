package protocol

import (
	"fmt"
	"strings"
)

// Mode selects the analysis policy on the service and the narration
// policy on the client.
type Mode string

const (
	ModeNavigation  Mode = "navigation"
	ModeExploration Mode = "exploration"
	ModeReading     Mode = "reading"
	ModeHazard      Mode = "hazard"
)

// DefaultMode applies whenever no mode has been configured.
const DefaultMode = ModeNavigation

func (m Mode) String() string { return string(m) }

func (m Mode) Valid() bool {
	switch m {
	case ModeNavigation, ModeExploration, ModeReading, ModeHazard:
		return true
	}
	return false
}

// ParseMode normalizes a mode name. Empty input yields DefaultMode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return DefaultMode, nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode: %q", s)
	}
	return m, nil
}
