package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/adapters/speech"
)

// SpeakerConfig holds the settings for a mock speech device.
type SpeakerConfig struct {
	// CharDuration paces playback per character, approximating real
	// synthesis. Defaults to 30ms.
	CharDuration time.Duration
}

// Speaker pretends to play an utterance for a duration proportional
// to its length. Stop cuts the current utterance short.
type Speaker struct {
	cfg SpeakerConfig

	mu      sync.Mutex
	started bool
	current chan struct{}
}

// NewSpeaker creates a mock speech device.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.CharDuration <= 0 {
		cfg.CharDuration = 30 * time.Millisecond
	}
	return &Speaker{cfg: cfg}
}

func (s *Speaker) Name() string { return "mock_speaker" }

func (s *Speaker) Start(_ context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Speaker) Close() error {
	s.Stop()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.current != nil {
		close(s.current)
	}
	interrupt := make(chan struct{})
	s.current = interrupt
	s.mu.Unlock()

	select {
	case <-time.After(s.cfg.CharDuration * time.Duration(len(text))):
	case <-interrupt:
	case <-ctx.Done():
		s.clear(interrupt)
		return ctx.Err()
	}
	s.clear(interrupt)
	return nil
}

func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.current != nil {
		close(s.current)
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// clear releases utterance state, unless a newer utterance replaced
// it.
func (s *Speaker) clear(interrupt chan struct{}) {
	s.mu.Lock()
	if s.current == interrupt {
		s.current = nil
	}
	s.mu.Unlock()
}

var _ speech.Speaker = (*Speaker)(nil)
