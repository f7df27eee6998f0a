package logging

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger installs a JSON handler writing to stdout with source
// location information and returns the root logger.
func InitLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}

// ParseLevel maps a configured level name onto a slog level. Unknown
// names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewComponentLogger tags every record with the owning component name
// for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(
		slog.String("component", component),
	)
}

// WithSession tags records with the realtime session id so one
// connection's lifecycle can be followed end to end.
func WithSession(base *slog.Logger, sessionID string) *slog.Logger {
	if sessionID == "" {
		return base
	}
	return base.With(slog.String("session_id", sessionID))
}
