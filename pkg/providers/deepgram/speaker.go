// Package deepgram speaks narration through the Deepgram realtime
// synthesis websocket. The connection is long-lived; each utterance
// sends text, flushes, and streams the returned linear16 audio into
// an external player.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"

	"github.com/harunnryd/netra/pkg/adapters/speech"
	"github.com/harunnryd/netra/pkg/audio"
	"github.com/harunnryd/netra/pkg/configutil"
	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/logging"
	"github.com/harunnryd/netra/pkg/redact"
	"github.com/harunnryd/netra/pkg/resilience"
)

// DefaultSpeakTimeout bounds how long one utterance may take before
// the speaker gives up on the service.
const DefaultSpeakTimeout = 10 * time.Second

// SpeakerConfig holds the settings for the Deepgram speaker.
type SpeakerConfig struct {
	// APIKey is required.
	APIKey string
	// Model selects the synthesis voice.
	Model string
	// Encoding and SampleRate describe the requested audio. The
	// defaults are linear16 at 24kHz, which the player consumes raw.
	Encoding   string
	SampleRate int
	// PlayerCommand is the playback binary. Defaults to ffplay.
	PlayerCommand string
	// SpeakTimeout bounds one utterance end to end.
	SpeakTimeout time.Duration

	Logger *slog.Logger
}

func (c *SpeakerConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = "aura-2-thalia-en"
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.SpeakTimeout <= 0 {
		c.SpeakTimeout = DefaultSpeakTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Speaker is a speech device backed by the Deepgram speak websocket.
type Speaker struct {
	cfg    SpeakerConfig
	log    *slog.Logger
	player *audio.Player

	dgClient *client.WSCallback
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	started    bool
	generation uint64
	playback   *audio.Playback
	flushed    chan struct{}
	stopped    chan struct{}
	speaking   bool
}

// NewSpeaker creates a Deepgram speaker.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	cfg.applyDefaults()
	return &Speaker{
		cfg: cfg,
		log: logging.NewComponentLogger(cfg.Logger, "deepgram_speaker"),
		player: audio.NewPlayer(audio.PlayerConfig{
			Command:    cfg.PlayerCommand,
			Format:     "s16le",
			SampleRate: cfg.SampleRate,
		}),
	}
}

func (s *Speaker) Name() string { return "deepgram_speaker" }

// Start opens the synthesis connection.
func (s *Speaker) Start(ctx context.Context) error {
	if err := configutil.RequireString(s.cfg.APIKey, "deepgram api key"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	speakOptions := &interfaces.WSSpeakOptions{
		Model:      s.cfg.Model,
		Encoding:   s.cfg.Encoding,
		SampleRate: s.cfg.SampleRate,
	}

	cb := &speakCallback{parent: s}
	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, speakOptions, cb)
	if err != nil {
		s.log.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSpeechConnect)
	}
	s.dgClient = dgClient

	// The first dial often races service warm-up, so give it a couple
	// of spaced attempts before giving up.
	retry := resilience.NewRetryPolicy(2, 500*time.Millisecond)
	if err := retry.Do(func() error {
		if connected := s.dgClient.Connect(); !connected {
			return errors.New("deepgram connection failed")
		}
		return nil
	}); err != nil {
		s.log.Error("deepgram_connect_failed")
		return errorsx.Wrap(err, errorsx.ReasonSpeechConnect)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.log.Info("deepgram_connected",
		slog.String("model", s.cfg.Model),
		slog.Int("sample_rate", s.cfg.SampleRate))
	return nil
}

// Close tears down the connection and any playback.
func (s *Speaker) Close() error {
	s.Stop()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.dgClient != nil {
		s.dgClient.Stop()
	}
	s.log.Info("deepgram_closed")
	return nil
}

// Speaking reports whether an utterance is currently playing.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Stop abandons the in-flight utterance and asks the service to drop
// any audio still buffered for it. Safe when idle.
func (s *Speaker) Stop() {
	s.mu.Lock()
	s.generation++
	playback := s.playback
	stopped := s.stopped
	s.playback = nil
	s.flushed = nil
	s.stopped = nil
	s.speaking = false
	s.mu.Unlock()

	if stopped != nil {
		close(stopped)
	}
	if playback != nil {
		_ = playback.Stop()
	}
	if playback != nil && s.dgClient != nil {
		if err := s.dgClient.Reset(); err != nil {
			s.log.Debug("deepgram_reset_failed", slog.String("error", err.Error()))
		}
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

	playback, err := s.player.Begin(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = playback.Stop()
		return nil
	}
	flushed := make(chan struct{}, 1)
	stopped := make(chan struct{})
	s.playback = playback
	s.flushed = flushed
	s.stopped = stopped
	s.speaking = true
	s.mu.Unlock()

	s.log.Debug("synthesis_requested",
		slog.String("text", redact.Clip(redact.Text(text), 64)))

	if err := s.dgClient.SpeakWithText(text); err != nil {
		s.abandon(gen)
		_ = playback.Stop()
		return errorsx.Wrap(fmt.Errorf("send utterance: %w", err), errorsx.ReasonSpeechSynth)
	}
	if err := s.dgClient.Flush(); err != nil {
		s.abandon(gen)
		_ = playback.Stop()
		return errorsx.Wrap(fmt.Errorf("flush utterance: %w", err), errorsx.ReasonSpeechSynth)
	}

	select {
	case <-flushed:
		err = playback.Finish(ctx)
	case <-stopped:
		return nil
	case <-ctx.Done():
		_ = playback.Stop()
		err = ctx.Err()
	case <-s.ctx.Done():
		_ = playback.Stop()
		err = errorsx.Wrap(errors.New("speaker closed mid-utterance"), errorsx.ReasonSpeechPlayback)
	case <-time.After(s.cfg.SpeakTimeout):
		_ = playback.Stop()
		err = errorsx.Wrap(errors.New("synthesis timed out"), errorsx.ReasonSpeechSynth)
	}

	s.abandon(gen)
	return err
}

// abandon clears utterance state if it still belongs to gen.
func (s *Speaker) abandon(gen uint64) {
	s.mu.Lock()
	if gen == s.generation {
		s.playback = nil
		s.flushed = nil
		s.stopped = nil
		s.speaking = false
	}
	s.mu.Unlock()
}

// --- Callback Implementation ---

type speakCallback struct {
	parent *Speaker
}

func (c *speakCallback) Open(_ *msginterfaces.OpenResponse) error {
	c.parent.log.Info("deepgram_connection_opened")
	return nil
}

func (c *speakCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.log.Debug("deepgram_metadata_received",
		slog.String("request_id", md.RequestID))
	return nil
}

// Binary carries one chunk of synthesized audio.
func (c *speakCallback) Binary(byMsg []byte) error {
	c.parent.mu.Lock()
	playback := c.parent.playback
	c.parent.mu.Unlock()
	if playback == nil {
		return nil
	}
	if _, err := playback.Write(byMsg); err != nil {
		c.parent.log.Debug("player_write_failed", slog.String("error", err.Error()))
	}
	return nil
}

// Flush marks the end of one utterance's audio.
func (c *speakCallback) Flush(_ *msginterfaces.FlushedResponse) error {
	c.parent.mu.Lock()
	flushed := c.parent.flushed
	c.parent.mu.Unlock()
	if flushed != nil {
		select {
		case flushed <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *speakCallback) Clear(_ *msginterfaces.ClearedResponse) error {
	c.parent.log.Debug("deepgram_cleared")
	return nil
}

func (c *speakCallback) Close(_ *msginterfaces.CloseResponse) error {
	c.parent.log.Info("deepgram_connection_closed")
	return nil
}

func (c *speakCallback) Warning(wr *msginterfaces.WarningResponse) error {
	c.parent.log.Warn("deepgram_warning",
		slog.String("warn_code", wr.WarnCode),
		slog.String("warn_message", wr.WarnMsg))
	return nil
}

func (c *speakCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.log.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *speakCallback) UnhandledEvent(byData []byte) error {
	c.parent.log.Debug("deepgram_unhandled_event",
		slog.String("data", string(byData)))
	return nil
}

var _ speech.Speaker = (*Speaker)(nil)
