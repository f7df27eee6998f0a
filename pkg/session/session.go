// Package session maintains the persistent websocket connection to the
// detection service. It owns connection state, linear reconnect
// backoff, frame sequencing, and decoding of inbound service messages.
// Callers never see transport errors directly; every failure surfaces
// as a status event on the Status channel.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/logging"
	"github.com/harunnryd/netra/pkg/metrics"
	"github.com/harunnryd/netra/pkg/protocol"
	"github.com/harunnryd/netra/pkg/resilience"
)

// Config holds the settings for a Session.
type Config struct {
	// BaseURL is the detection service address, typically http or
	// https. The websocket scheme is derived from it.
	BaseURL string
	// Path is the realtime endpoint path on the service.
	Path string
	// Mode is the initial analysis mode sent in the opening
	// configuration message.
	Mode protocol.Mode
	// ConfidenceThreshold, when set, is forwarded to the service in
	// every configuration message.
	ConfidenceThreshold *float64
	// BaseDelay is the backoff unit: attempt n waits n*BaseDelay.
	BaseDelay time.Duration
	// MaxAttempts bounds consecutive reconnect attempts.
	MaxAttempts int
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration
	// PingInterval is the application-level keep-alive period. Zero
	// selects the default, negative disables keep-alives.
	PingInterval time.Duration
	// DetectionBuffer is the capacity of the Detections channel.
	DetectionBuffer int
	// StatusBuffer is the capacity of the Status channel.
	StatusBuffer int

	Logger   *slog.Logger
	Observer metrics.Observer
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/ws/realtime"
	}
	if c.Mode == "" {
		c.Mode = protocol.DefaultMode
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.DetectionBuffer <= 0 {
		c.DetectionBuffer = 16
	}
	if c.StatusBuffer <= 0 {
		c.StatusBuffer = 32
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = metrics.NoopObserver{}
	}
}

// Session is a client for the detection service's realtime endpoint.
// At most one socket is open at a time; a generation counter retires
// goroutines belonging to earlier connections.
type Session struct {
	cfg Config
	log *slog.Logger
	obs metrics.Observer

	machine    *stateMachine
	detections chan protocol.DetectionResult
	status     chan StatusEvent

	// writeMu serializes websocket writes, which gorilla requires.
	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	connDone   chan struct{}
	mode       protocol.Mode
	frameID    uint64
	backoff    resilience.LinearBackoff
	attempt    int
	generation uint64
	sessionID  string
	retryTimer *time.Timer
}

// New creates a Session. The session starts disconnected; call
// Connect to open it.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:        cfg,
		log:        logging.NewComponentLogger(cfg.Logger, "stream_session"),
		obs:        cfg.Observer,
		machine:    newStateMachine(),
		detections: make(chan protocol.DetectionResult, cfg.DetectionBuffer),
		status:     make(chan StatusEvent, cfg.StatusBuffer),
		mode:       cfg.Mode,
	}
}

// Detections delivers decoded detection results in arrival order.
func (s *Session) Detections() <-chan protocol.DetectionResult {
	return s.detections
}

// Status delivers one event per connection state transition.
func (s *Session) Status() <-chan StatusEvent {
	return s.status
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.machine.State()
}

// Mode returns the currently requested analysis mode.
func (s *Session) Mode() protocol.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SessionID returns the id of the current connect cycle. It is empty
// until the first Connect.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Connect starts a connection attempt. It returns immediately and
// never reports an error: dial failures surface as status events so
// the capture side keeps running regardless. Calling Connect while
// connecting or connected is a no-op. Connect re-arms the reconnect
// budget, so it also restarts a session that Disconnect shut down.
func (s *Session) Connect() {
	s.mu.Lock()
	state := s.machine.State()
	if state == StateConnecting || state == StateConnected {
		s.mu.Unlock()
		s.log.Debug("connect_ignored", slog.String("state", state.String()))
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.backoff = resilience.NewLinearBackoff(s.cfg.BaseDelay, s.cfg.MaxAttempts)
	s.attempt = 0
	s.sessionID = uuid.NewString()
	s.generation++
	gen := s.generation
	sid := s.sessionID
	s.mu.Unlock()

	s.transition(StateConnecting, "connect", nil)
	go s.dial(gen, sid)
}

// Disconnect closes the socket and disables reconnection. Pending
// reconnect timers are cancelled. A later Connect opens a fresh
// session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.generation++
	s.backoff.MaxAttempts = 0
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	s.transition(StateDisconnected, "client_disconnect", nil)
}

// SetMode updates the analysis mode. When connected, the service is
// reconfigured in place; otherwise the new mode rides along on the
// next connect. Only an unknown mode is reported as an error, send
// failures surface as status events like any other transport fault.
func (s *Session) SetMode(mode protocol.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown mode: %q", mode)
	}

	s.mu.Lock()
	s.mode = mode
	connected := s.machine.State() == StateConnected && s.conn != nil
	gen := s.generation
	s.mu.Unlock()

	s.log.Info("mode_set", slog.String("mode", mode.String()))
	if !connected {
		return nil
	}
	s.sendConfig(gen, mode)
	return nil
}

// SendFrame forwards one encoded frame to the service. Frames are
// dropped silently unless the session is connected; they are never
// queued. The frame id and capture timestamp are assigned here.
func (s *Session) SendFrame(data []byte) {
	s.mu.Lock()
	if s.conn == nil || s.machine.State() != StateConnected {
		s.mu.Unlock()
		s.log.Debug("frame_dropped", slog.Int("size_bytes", len(data)))
		s.record(metrics.EventFrameDropped, float64(len(data)), nil)
		return
	}
	s.frameID++
	frameID := s.frameID
	gen := s.generation
	s.mu.Unlock()

	msg := protocol.NewFrameMessage(data, frameID, time.Now())
	if err := s.writeJSON(msg); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonFrameSend)
		s.log.Warn("frame_send_failed",
			slog.Uint64("frame_id", frameID),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		s.handleSocketClosed(gen, err)
		return
	}
	s.record(metrics.EventFrameSent, float64(len(data)), map[string]any{"frame_id": frameID})
}

// dial performs one connection attempt for the given generation.
func (s *Session) dial(gen uint64, sessionID string) {
	log := logging.WithSession(s.log, sessionID)
	endpoint, err := DeriveEndpoint(s.cfg.BaseURL, s.cfg.Path)
	if err != nil {
		s.failDial(gen, errorsx.Wrap(err, errorsx.ReasonSessionEndpoint))
		return
	}

	log.Info("session_connecting", slog.String("endpoint", endpoint))

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.DialTimeout,
	}
	conn, resp, err := dialer.Dial(endpoint, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%s: %w", resp.Status, err)
		}
		s.failDial(gen, errorsx.Wrap(err, errorsx.ReasonSessionDial))
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	done := make(chan struct{})
	s.conn = conn
	s.connDone = done
	s.frameID = 0
	s.attempt = 0
	mode := s.mode
	s.mu.Unlock()

	s.transition(StateConnected, "dial_ok", nil)
	s.sendConfig(gen, mode)

	go s.readLoop(conn, gen)
	if s.cfg.PingInterval > 0 {
		go s.keepAlive(done)
	}
}

// sendConfig pushes a configuration message for the given mode. A
// failed send tears the connection down like any other write error.
func (s *Session) sendConfig(gen uint64, mode protocol.Mode) {
	msg := protocol.NewConfigMessage(mode, s.cfg.ConfidenceThreshold)
	if err := s.writeJSON(msg); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonConfigSend)
		s.log.Warn("config_send_failed",
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()))
		s.handleSocketClosed(gen, err)
		return
	}
	s.record(metrics.EventConfigSent, 0, map[string]any{"mode": mode.String()})
}

// failDial marks a failed connection attempt and schedules the next
// one.
func (s *Session) failDial(gen uint64, err error) {
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}

	s.log.Warn("session_dial_failed",
		slog.String("reason_code", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
	s.transition(StateFailed, "dial_failed", err)
	s.scheduleReconnect(gen)
}

// handleSocketClosed tears down the current connection and schedules a
// reconnect. It is safe to call from multiple goroutines; only the
// first caller for a generation does the work.
func (s *Session) handleSocketClosed(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	s.mu.Unlock()
	_ = conn.Close()

	if err != nil {
		s.log.Warn("session_socket_closed", slog.String("error", err.Error()))
	} else {
		s.log.Info("session_socket_closed")
	}
	s.transition(StateDisconnected, "socket_closed", err)
	s.scheduleReconnect(gen)
}

// scheduleReconnect arms the retry timer for the next attempt, or
// gives up once the backoff budget is spent.
func (s *Session) scheduleReconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.attempt++
	attempt := s.attempt
	delay, ok := s.backoff.Delay(attempt)
	if !ok {
		s.mu.Unlock()
		s.log.Warn("reconnect_exhausted", slog.Int("attempts", attempt-1))
		s.record(metrics.EventReconnectExhausted, float64(attempt-1), nil)
		s.transition(StateDisconnected, "reconnect_exhausted", nil)
		return
	}
	s.retryTimer = time.AfterFunc(delay, func() { s.reconnect(gen) })
	s.mu.Unlock()

	s.log.Info("reconnect_scheduled",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))
	s.record(metrics.EventReconnectScheduled, float64(attempt),
		map[string]any{"delay_ms": delay.Milliseconds()})
}

// reconnect fires when the retry timer elapses.
func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	sid := s.sessionID
	s.mu.Unlock()

	s.transition(StateConnecting, "reconnect", nil)
	go s.dial(gen, sid)
}

// readLoop drains inbound messages until the socket errors out.
func (s *Session) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				err = nil
			}
			s.handleSocketClosed(gen, err)
			return
		}
		s.handleInbound(data)
	}
}

// handleInbound decodes one service message and routes it. Unknown
// and malformed payloads are logged and dropped, never fatal.
func (s *Session) handleInbound(data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			s.log.Debug("inbound_ignored", slog.String("error", err.Error()))
			s.record(metrics.EventInboundIgnored, 0, nil)
			return
		}
		s.log.Warn("inbound_malformed",
			slog.String("reason_code", string(errorsx.ReasonInboundDecode)),
			slog.String("error", err.Error()))
		s.record(metrics.EventDetectionMalformed, 0, nil)
		return
	}

	switch m := msg.(type) {
	case protocol.DetectionResult:
		s.deliverDetection(m)
	case protocol.ServiceStatus:
		s.log.Info("service_status", slog.String("message", m.Message))
	case protocol.ServiceError:
		s.log.Warn("service_error", slog.String("message", m.Message))
	case protocol.Pong:
		s.log.Debug("pong_received")
	}
}

// deliverDetection hands a result to the consumer. When the consumer
// lags, the oldest buffered result is discarded so the freshest one
// always lands.
func (s *Session) deliverDetection(res protocol.DetectionResult) {
	s.record(metrics.EventDetectionReceived, res.LatencyMS,
		map[string]any{"frame_id": res.FrameID})

	select {
	case s.detections <- res:
		return
	default:
	}
	select {
	case <-s.detections:
		s.record(metrics.EventDetectionDropped, 0, nil)
	default:
	}
	select {
	case s.detections <- res:
	default:
		s.log.Warn("detections_buffer_full")
	}
}

// keepAlive sends application-level pings until the connection is
// torn down.
func (s *Session) keepAlive(done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.writeJSON(protocol.NewPingMessage()); err != nil {
				return
			}
		}
	}
}

// writeJSON marshals and sends one text message under the write lock.
func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// transition advances the state machine and publishes the resulting
// status event. Rejected transitions are debug-logged and dropped,
// which keeps teardown paths idempotent.
func (s *Session) transition(to State, reason string, err error) {
	event, terr := s.machine.Transition(to, reason, err)
	if terr != nil {
		s.log.Debug("transition_skipped", slog.String("error", terr.Error()))
		return
	}
	event.SessionID = s.SessionID()

	s.log.Info("session_state_changed",
		slog.String("from", event.From.String()),
		slog.String("to", event.To.String()),
		slog.String("reason", event.Reason),
		slog.String("session_id", event.SessionID))

	switch event.To {
	case StateConnected:
		s.record(metrics.EventSessionConnected, 0, nil)
	case StateFailed:
		s.record(metrics.EventSessionDialFailed, 0, map[string]any{"reason": event.Reason})
	case StateDisconnected:
		s.record(metrics.EventSessionDisconnected, 0, map[string]any{"reason": event.Reason})
	}

	select {
	case s.status <- event:
	default:
		s.log.Warn("status_buffer_full", slog.String("to", event.To.String()))
	}
}

// record emits one metrics event tagged with this session.
func (s *Session) record(name string, value float64, fields map[string]any) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags: map[string]string{
			"component":  "session",
			"session_id": s.SessionID(),
		},
		Fields: fields,
	})
}
