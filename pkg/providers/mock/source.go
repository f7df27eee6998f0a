// Package mock provides in-process stand-ins for the camera and the
// speech device, used by tests and by headless runs on machines
// without either.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/adapters/vision"
)

// SourceConfig holds the settings for a mock camera.
type SourceConfig struct {
	// CaptureDelay simulates capture plus encode time.
	CaptureDelay time.Duration
	// FailEvery makes every Nth capture fail. Zero disables failures.
	FailEvery int
}

// Source produces synthetic frames with a JPEG-like envelope and a
// running counter in the payload, so downstream consumers can tell
// frames apart.
type Source struct {
	cfg SourceConfig

	mu       sync.Mutex
	started  bool
	captures int
}

// NewSource creates a mock camera.
func NewSource(cfg SourceConfig) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) Name() string { return "mock_camera" }

func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *Source) CaptureFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, errors.New("not started")
	}
	s.captures++
	n := s.captures
	delay := s.cfg.CaptureDelay
	failEvery := s.cfg.FailEvery
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failEvery > 0 && n%failEvery == 0 {
		return nil, fmt.Errorf("simulated capture failure on frame %d", n)
	}

	frame := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	frame = append(frame, fmt.Sprintf("mock-frame-%06d", n)...)
	return append(frame, 0xFF, 0xD9), nil
}

var _ vision.FrameSource = (*Source)(nil)
