// Package elevenlabs speaks narration through the ElevenLabs
// streaming synthesis websocket. Each utterance dials its own
// stream-input connection, pipes the returned audio chunks into an
// external player, and returns once playback drains.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/netra/pkg/adapters/speech"
	"github.com/harunnryd/netra/pkg/audio"
	"github.com/harunnryd/netra/pkg/configutil"
	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/logging"
	"github.com/harunnryd/netra/pkg/redact"
	"github.com/harunnryd/netra/pkg/resilience"
)

const defaultEndpoint = "wss://api.elevenlabs.io"

// Config holds the settings for the ElevenLabs speaker.
type Config struct {
	// APIKey and VoiceID are required.
	APIKey  string
	VoiceID string
	// Endpoint overrides the service address, mainly for tests.
	Endpoint string
	// ModelID selects the synthesis model.
	ModelID string
	// OutputFormat is requested from the service; the player sniffs
	// the container, so any mp3 variant works.
	OutputFormat string
	// OptimizeLatency is the streaming latency knob (0-4).
	OptimizeLatency int
	// Stability and SimilarityBoost are voice settings.
	Stability       float64
	SimilarityBoost float64
	// LanguageCode pins the synthesis language on models that support
	// enforcement. Empty lets the model decide.
	LanguageCode string
	// PlayerCommand is the playback binary. Defaults to ffplay.
	PlayerCommand string
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.ModelID == "" {
		c.ModelID = "eleven_turbo_v2_5"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "mp3_44100_128"
	}
	if c.OptimizeLatency <= 0 {
		c.OptimizeLatency = 4
	}
	if c.Stability <= 0 {
		c.Stability = 0.5
	}
	if c.SimilarityBoost <= 0 {
		c.SimilarityBoost = 0.8
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type generationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

type initMessage struct {
	Text             string           `json:"text"`
	VoiceSettings    voiceSettings    `json:"voice_settings"`
	GenerationConfig generationConfig `json:"generation_config"`
}

type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type streamChunk struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
}

// Speaker synthesizes and plays one utterance at a time.
type Speaker struct {
	cfg    Config
	log    *slog.Logger
	player *audio.Player

	mu         sync.Mutex
	started    bool
	generation uint64
	conn       *websocket.Conn
	playback   *audio.Playback
	speaking   bool
}

// New creates an ElevenLabs speaker.
func New(cfg Config) *Speaker {
	cfg.applyDefaults()
	return &Speaker{
		cfg:    cfg,
		log:    logging.NewComponentLogger(cfg.Logger, "elevenlabs_speaker"),
		player: audio.NewPlayer(audio.PlayerConfig{Command: cfg.PlayerCommand}),
	}
}

func (s *Speaker) Name() string { return "elevenlabs_speaker" }

// Start validates the configuration. Connections are dialed per
// utterance.
func (s *Speaker) Start(_ context.Context) error {
	if err := configutil.RequireString(s.cfg.APIKey, "elevenlabs api key"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	if err := configutil.RequireString(s.cfg.VoiceID, "elevenlabs voice id"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.log.Info("speaker_ready",
		slog.String("voice_id", s.cfg.VoiceID),
		slog.String("model_id", s.cfg.ModelID))
	return nil
}

// Close stops any current playback and retires the speaker.
func (s *Speaker) Close() error {
	s.Stop()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// Speaking reports whether an utterance is currently playing.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Stop abandons the in-flight utterance; its Speak call returns nil
// promptly. Safe when idle.
func (s *Speaker) Stop() {
	s.mu.Lock()
	s.generation++
	conn := s.conn
	playback := s.playback
	s.conn = nil
	s.playback = nil
	s.speaking = false
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if playback != nil {
		_ = playback.Stop()
	}
}

// Speak synthesizes text and blocks until playback finishes, fails,
// or Stop cuts it short.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errorsx.Wrap(errors.New("speaker not started"), errorsx.ReasonSpeechSynth)
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.log.Debug("synthesis_requested",
		slog.String("text", redact.Clip(redact.Text(text), 64)))

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	playback, err := s.player.Begin(ctx)
	if err != nil {
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	if gen != s.generation {
		// Stopped while dialing.
		s.mu.Unlock()
		_ = conn.Close()
		_ = playback.Stop()
		return nil
	}
	s.conn = conn
	s.playback = playback
	s.speaking = true
	s.mu.Unlock()

	err = s.stream(ctx, conn, playback, text)

	s.mu.Lock()
	stale := gen != s.generation
	if !stale {
		s.conn = nil
		s.playback = nil
		s.speaking = false
	}
	s.mu.Unlock()

	_ = conn.Close()
	if stale {
		// Stop owns the playback teardown; an interrupted utterance
		// completes without error.
		return nil
	}
	if err != nil {
		_ = playback.Stop()
		return err
	}
	return playback.Finish(ctx)
}

// stream sends the utterance and feeds returned audio into playback
// until the service marks it final.
func (s *Speaker) stream(ctx context.Context, conn *websocket.Conn, playback *audio.Playback, text string) error {
	open := initMessage{
		Text:          " ",
		VoiceSettings: voiceSettings{Stability: s.cfg.Stability, SimilarityBoost: s.cfg.SimilarityBoost},
		GenerationConfig: generationConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
	if err := writeJSON(conn, open); err != nil {
		return errorsx.Wrap(fmt.Errorf("send init message: %w", err), errorsx.ReasonSpeechSynth)
	}
	if err := writeJSON(conn, textMessage{Text: text + " ", TryTriggerGeneration: true}); err != nil {
		return errorsx.Wrap(fmt.Errorf("send utterance: %w", err), errorsx.ReasonSpeechSynth)
	}
	// Empty text closes the input stream; the service synthesizes the
	// remainder and finishes.
	if err := writeJSON(conn, textMessage{Text: ""}); err != nil {
		return errorsx.Wrap(fmt.Errorf("send end of input: %w", err), errorsx.ReasonSpeechSynth)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errorsx.Wrap(fmt.Errorf("read synthesis stream: %w", err), errorsx.ReasonSpeechSynth)
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.log.Debug("unexpected_stream_payload", slog.String("error", err.Error()))
			continue
		}
		if chunk.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(chunk.Audio)
			if err != nil {
				s.log.Debug("audio_chunk_decode_failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := playback.Write(raw); err != nil {
				return errorsx.Wrap(fmt.Errorf("feed player: %w", err), errorsx.ReasonSpeechPlayback)
			}
		}
		if chunk.IsFinal {
			return nil
		}
	}
}

// dial opens the stream-input websocket for one utterance. A 429
// response surfaces as a rate-limit error so a circuit breaker can
// count it.
func (s *Speaker) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.DialTimeout,
	}
	header := http.Header{}
	header.Set("xi-api-key", s.cfg.APIKey)

	conn, resp, err := dialer.DialContext(ctx, s.buildURL(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, errorsx.Wrap(resilience.RateLimitError{
				Provider: "elevenlabs",
				Message:  "synthesis rate limit exceeded",
			}, errorsx.ReasonSpeechRateLimit)
		}
		return nil, errorsx.Wrap(fmt.Errorf("dial synthesis stream: %w", err), errorsx.ReasonSpeechConnect)
	}
	return conn, nil
}

func (s *Speaker) buildURL() string {
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", strconv.Itoa(s.cfg.OptimizeLatency))
	if s.cfg.LanguageCode != "" {
		q.Set("language_code", s.cfg.LanguageCode)
	}
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s",
		s.cfg.Endpoint, url.PathEscape(s.cfg.VoiceID), q.Encode())
}

func writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

var _ speech.Speaker = (*Speaker)(nil)
