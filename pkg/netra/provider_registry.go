package netra

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/netra/pkg/adapters/speech"
	"github.com/harunnryd/netra/pkg/adapters/vision"
	"github.com/harunnryd/netra/pkg/configutil"
	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/providers/deepgram"
	"github.com/harunnryd/netra/pkg/providers/elevenlabs"
	"github.com/harunnryd/netra/pkg/providers/ffmpeg"
	"github.com/harunnryd/netra/pkg/providers/mock"
)

// SourceFactory builds a camera from the shared capture config plus
// the vendor's free-form settings block.
type SourceFactory func(cfg vision.Config, settings map[string]any, log *slog.Logger) (vision.FrameSource, error)

// SpeakerFactory builds a speech output from the shared narration
// config plus the vendor's free-form settings block.
type SpeakerFactory func(cfg speech.Config, settings map[string]any, log *slog.Logger) (speech.Speaker, error)

// ProviderRegistry maps vendor names to factories. Lookup is
// case/whitespace insensitive.
type ProviderRegistry struct {
	sources  map[string]SourceFactory
	speakers map[string]SpeakerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		sources:  make(map[string]SourceFactory),
		speakers: make(map[string]SpeakerFactory),
	}
}

// DefaultProviderRegistry returns a registry with every built-in
// vendor registered.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSource("mock", buildMockSource)
	r.RegisterSource("ffmpeg", buildFFmpegSource)
	r.RegisterSpeaker("mock", buildMockSpeaker)
	r.RegisterSpeaker("elevenlabs", buildElevenLabsSpeaker)
	r.RegisterSpeaker("deepgram", buildDeepgramSpeaker)
	return r
}

func (r *ProviderRegistry) RegisterSource(name string, factory SourceFactory) {
	r.sources[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterSpeaker(name string, factory SpeakerFactory) {
	r.speakers[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSource(provider string, cfg vision.Config, settings map[string]any, log *slog.Logger) (vision.FrameSource, error) {
	fn := r.sources[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("camera provider not registered: %s", provider)
	}
	return fn(cfg, settings, log)
}

func (r *ProviderRegistry) BuildSpeaker(provider string, cfg speech.Config, settings map[string]any, log *slog.Logger) (speech.Speaker, error) {
	fn := r.speakers[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("speech provider not registered: %s", provider)
	}
	return fn(cfg, settings, log)
}

type mockSourceSettings struct {
	CaptureDelayMS int `mapstructure:"capture_delay_ms"`
	FailEvery      int `mapstructure:"fail_every"`
}

func buildMockSource(_ vision.Config, settings map[string]any, _ *slog.Logger) (vision.FrameSource, error) {
	var s mockSourceSettings
	if err := decodeSettings("mock camera", settings, &s, configutil.Schema{
		Optional: []string{"capture_delay_ms", "fail_every"},
	}); err != nil {
		return nil, err
	}
	return mock.NewSource(mock.SourceConfig{
		CaptureDelay: time.Duration(s.CaptureDelayMS) * time.Millisecond,
		FailEvery:    s.FailEvery,
	}), nil
}

type ffmpegSourceSettings struct {
	Command      string `mapstructure:"command"`
	InputFormat  string `mapstructure:"input_format"`
	InputDevice  string `mapstructure:"input_device"`
	FPS          int    `mapstructure:"fps"`
	StaleAfterMS int    `mapstructure:"stale_after_ms"`
}

func buildFFmpegSource(cfg vision.Config, settings map[string]any, log *slog.Logger) (vision.FrameSource, error) {
	var s ffmpegSourceSettings
	if err := decodeSettings("ffmpeg camera", settings, &s, configutil.Schema{
		Optional: []string{"command", "input_format", "input_device", "fps", "stale_after_ms"},
	}); err != nil {
		return nil, err
	}
	return ffmpeg.New(ffmpeg.Config{
		Command:     s.Command,
		InputFormat: s.InputFormat,
		InputDevice: s.InputDevice,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Quality:     cfg.Quality,
		FPS:         s.FPS,
		StaleAfter:  time.Duration(s.StaleAfterMS) * time.Millisecond,
		Logger:      log,
	}), nil
}

type mockSpeakerSettings struct {
	CharDurationMS int `mapstructure:"char_duration_ms"`
}

func buildMockSpeaker(_ speech.Config, settings map[string]any, _ *slog.Logger) (speech.Speaker, error) {
	var s mockSpeakerSettings
	if err := decodeSettings("mock speaker", settings, &s, configutil.Schema{
		Optional: []string{"char_duration_ms"},
	}); err != nil {
		return nil, err
	}
	return mock.NewSpeaker(mock.SpeakerConfig{
		CharDuration: time.Duration(s.CharDurationMS) * time.Millisecond,
	}), nil
}

type elevenLabsSettings struct {
	APIKey          string  `mapstructure:"api_key"`
	VoiceID         string  `mapstructure:"voice_id"`
	ModelID         string  `mapstructure:"model_id"`
	OutputFormat    string  `mapstructure:"output_format"`
	OptimizeLatency int     `mapstructure:"optimize_latency"`
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
	PlayerCommand   string  `mapstructure:"player_command"`
	Endpoint        string  `mapstructure:"endpoint"`
	DialTimeoutMS   int     `mapstructure:"dial_timeout_ms"`
}

func buildElevenLabsSpeaker(cfg speech.Config, settings map[string]any, log *slog.Logger) (speech.Speaker, error) {
	var s elevenLabsSettings
	if err := decodeSettings("elevenlabs speaker", settings, &s, configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model_id", "output_format", "optimize_latency", "stability", "similarity_boost", "player_command", "endpoint", "dial_timeout_ms"},
	}); err != nil {
		return nil, err
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:          s.APIKey,
		VoiceID:         s.VoiceID,
		ModelID:         s.ModelID,
		OutputFormat:    s.OutputFormat,
		OptimizeLatency: s.OptimizeLatency,
		Stability:       s.Stability,
		SimilarityBoost: s.SimilarityBoost,
		LanguageCode:    cfg.Language,
		PlayerCommand:   s.PlayerCommand,
		Endpoint:        s.Endpoint,
		DialTimeout:     time.Duration(s.DialTimeoutMS) * time.Millisecond,
		Logger:          log,
	}), nil
}

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Encoding       string `mapstructure:"encoding"`
	PlayerCommand  string `mapstructure:"player_command"`
	SpeakTimeoutMS int    `mapstructure:"speak_timeout_ms"`
}

func buildDeepgramSpeaker(cfg speech.Config, settings map[string]any, log *slog.Logger) (speech.Speaker, error) {
	var s deepgramSettings
	if err := decodeSettings("deepgram speaker", settings, &s, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "encoding", "player_command", "speak_timeout_ms"},
	}); err != nil {
		return nil, err
	}
	return deepgram.NewSpeaker(deepgram.SpeakerConfig{
		APIKey:        s.APIKey,
		Model:         s.Model,
		Encoding:      s.Encoding,
		SampleRate:    cfg.SampleRate,
		PlayerCommand: s.PlayerCommand,
		SpeakTimeout:  time.Duration(s.SpeakTimeoutMS) * time.Millisecond,
		Logger:        log,
	}), nil
}

func decodeSettings(what string, settings map[string]any, out any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(settings, schema); err != nil {
		return errorsx.Wrap(fmt.Errorf("%s settings: %w", what, err), errorsx.ReasonSettingsDecode)
	}
	if err := configutil.DecodeSettings(settings, out); err != nil {
		return errorsx.Wrap(fmt.Errorf("%s settings: %w", what, err), errorsx.ReasonSettingsDecode)
	}
	return nil
}
