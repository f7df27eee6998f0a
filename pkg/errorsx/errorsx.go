package errorsx

import "errors"

// ReasonCode is a short machine-readable error reason. Codes end up
// in log attrs and metric tags, never in control flow.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSessionDial     ReasonCode = "session_dial"
	ReasonSessionEndpoint ReasonCode = "session_endpoint"
	ReasonConfigSend      ReasonCode = "config_send"
	ReasonFrameSend       ReasonCode = "frame_send"
	ReasonInboundDecode   ReasonCode = "inbound_decode"

	ReasonCapture     ReasonCode = "capture"
	ReasonSourceStart ReasonCode = "source_start"

	ReasonSpeechConnect     ReasonCode = "speech_connect"
	ReasonSpeechSynth       ReasonCode = "speech_synth"
	ReasonSpeechPlayback    ReasonCode = "speech_playback"
	ReasonSpeechRateLimit   ReasonCode = "speech_rate_limit"
	ReasonSpeechCircuitOpen ReasonCode = "speech_circuit_open"
	ReasonPlayerStart       ReasonCode = "player_start"

	ReasonSettingsDecode ReasonCode = "settings_decode"
	ReasonConfigInvalid  ReasonCode = "config_invalid"
)

// ReasonedError carries a reason code alongside the underlying error.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches a reason code. It is a no-op when err is nil or a
// reason is already attached, so the first classification wins.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason extracts the reason code from err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
