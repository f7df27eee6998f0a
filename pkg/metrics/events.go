package metrics

// Event names recorded across the client. Session events carry a
// session_id tag; frame events also carry frame_id in fields.
const (
	EventSessionConnected     = "session_connected"
	EventSessionDisconnected  = "session_disconnected"
	EventSessionDialFailed    = "session_dial_failed"
	EventReconnectScheduled   = "reconnect_scheduled"
	EventReconnectExhausted   = "reconnect_exhausted"
	EventConfigSent           = "config_sent"
	EventFrameSent            = "frame_sent"
	EventFrameDropped         = "frame_dropped"
	EventDetectionReceived    = "detection_received"
	EventDetectionDropped     = "detection_dropped"
	EventDetectionMalformed   = "detection_malformed"
	EventInboundIgnored       = "inbound_ignored"
	EventCaptureSkipped       = "capture_skipped"
	EventCaptureFailed        = "capture_failed"
	EventUtteranceStarted     = "utterance_started"
	EventUtteranceCompleted   = "utterance_completed"
	EventUtteranceSuppressed  = "utterance_suppressed"
	EventUtteranceInterrupted = "utterance_interrupted"
	EventSpeechFailed         = "speech_failed"
	EventBreakerOpen          = "breaker_open"
	EventBreakerClose         = "breaker_close"
	EventBreakerDenied        = "breaker_denied"
	EventRateLimit            = "rate_limited"
)
