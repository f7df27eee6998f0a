package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind discriminates every message crossing the realtime socket.
type Kind string

const (
	KindConfig    Kind = "config"
	KindFrame     Kind = "frame"
	KindPing      Kind = "ping"
	KindDetection Kind = "detection"
	KindStatus    Kind = "status"
	KindError     Kind = "error"
	KindPong      Kind = "pong"
)

// ErrUnknownKind marks inbound messages whose kind has no local
// handler. Callers drop these without failing the connection.
var ErrUnknownKind = errors.New("unknown message kind")

// ConfigMessage tells the service which mode to analyze under. It is
// the first message on every connection and is re-sent on every mode
// change.
type ConfigMessage struct {
	Kind                Kind     `json:"kind"`
	Mode                Mode     `json:"mode"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

func NewConfigMessage(mode Mode, threshold *float64) ConfigMessage {
	return ConfigMessage{Kind: KindConfig, Mode: mode, ConfidenceThreshold: threshold}
}

// FrameMessage wraps one encoded camera frame. Data marshals to a
// base64 string per encoding/json.
type FrameMessage struct {
	Kind      Kind   `json:"kind"`
	Data      []byte `json:"data"`
	FrameID   uint64 `json:"frameId"`
	Timestamp int64  `json:"timestamp"`
}

func NewFrameMessage(data []byte, frameID uint64, capturedAt time.Time) FrameMessage {
	return FrameMessage{
		Kind:      KindFrame,
		Data:      data,
		FrameID:   frameID,
		Timestamp: capturedAt.UnixMilli(),
	}
}

// PingMessage is the application-level keep-alive.
type PingMessage struct {
	Kind Kind `json:"kind"`
}

func NewPingMessage() PingMessage { return PingMessage{Kind: KindPing} }

// Inbound is implemented by every message the service can send.
type Inbound interface {
	InboundKind() Kind
}

// ServiceStatus is an informational notice from the service.
type ServiceStatus struct {
	Message string `json:"message"`
}

func (ServiceStatus) InboundKind() Kind { return KindStatus }

// ServiceError reports a problem inside the service's own pipeline.
// It does not imply anything about this connection.
type ServiceError struct {
	Message string `json:"message"`
}

func (ServiceError) InboundKind() Kind { return KindError }

// Pong answers an outbound ping.
type Pong struct{}

func (Pong) InboundKind() Kind { return KindPong }

type envelope struct {
	Kind Kind `json:"kind"`
}

// DecodeInbound parses one inbound text frame into its typed message.
// Unknown kinds return ErrUnknownKind so the caller can drop them
// explicitly instead of guessing from field presence.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindDetection:
		var res DetectionResult
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode detection: %w", err)
		}
		return res, nil
	case KindStatus:
		var st ServiceStatus
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return st, nil
	case KindError:
		var se ServiceError
		if err := json.Unmarshal(data, &se); err != nil {
			return nil, fmt.Errorf("decode error notice: %w", err)
		}
		return se, nil
	case KindPong:
		return Pong{}, nil
	case KindConfig, KindFrame, KindPing:
		// Outbound-only kinds echoing back are a service bug; drop
		// them like any unknown tag.
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}
