// Package capture drives the camera on a fixed cadence. A Scheduler
// ticks at the configured frame rate, asks the source for a frame,
// and hands the result to the sink. At most one capture runs at a
// time; ticks that land while a capture is still in flight are
// skipped rather than queued.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/netra/pkg/adapters/vision"
	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/logging"
	"github.com/harunnryd/netra/pkg/metrics"
)

const (
	// MinFPS and MaxFPS bound the capture rate. The detection service
	// cannot keep up beyond MaxFPS and narration turns useless below
	// MinFPS.
	MinFPS = 2
	MaxFPS = 5

	DefaultFPS = 2
)

// FrameSink receives captured frames. A stream session satisfies it.
type FrameSink interface {
	SendFrame(data []byte)
}

// Config holds the settings for a Scheduler.
type Config struct {
	// FPS is the target capture rate, clamped to [MinFPS, MaxFPS].
	FPS int
	// Source produces encoded frames.
	Source vision.FrameSource
	// Sink consumes them.
	Sink FrameSink

	Logger   *slog.Logger
	Observer metrics.Observer
}

// Scheduler runs the capture loop. Start and Stop are idempotent.
type Scheduler struct {
	source   vision.FrameSource
	sink     FrameSink
	log      *slog.Logger
	obs      metrics.Observer
	fps      int
	interval time.Duration

	inFlight atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler. Source and Sink are required.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	fps := clampFPS(cfg.FPS)
	return &Scheduler{
		source:   cfg.Source,
		sink:     cfg.Sink,
		log:      logging.NewComponentLogger(cfg.Logger, "frame_scheduler"),
		obs:      cfg.Observer,
		fps:      fps,
		interval: time.Second / time.Duration(fps),
	}
}

func clampFPS(fps int) int {
	if fps == 0 {
		return DefaultFPS
	}
	if fps < MinFPS {
		return MinFPS
	}
	if fps > MaxFPS {
		return MaxFPS
	}
	return fps
}

// FPS returns the effective capture rate.
func (s *Scheduler) FPS() int {
	return s.fps
}

// Running reports whether the capture loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the capture loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Debug("capture_already_running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(loopCtx, s.done)

	s.log.Info("capture_started",
		slog.Int("fps", s.fps),
		slog.Duration("interval", s.interval))
}

// Stop halts the loop and waits for it to exit. An in-flight capture
// is cancelled through its context and its frame is discarded. Stop
// before Start, or repeated Stop, is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("capture_stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts one capture unless the previous one is still running.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("capture_tick_skipped")
		s.record(metrics.EventCaptureSkipped)
		return
	}
	go func() {
		defer s.inFlight.Store(false)

		data, err := s.source.CaptureFrame(ctx)
		if err != nil {
			// Capture hiccups are routine (device warming up, a slow
			// read). The loop keeps its cadence and tries again on
			// the next tick.
			s.log.Debug("capture_failed",
				slog.String("reason_code", string(errorsx.ReasonCapture)),
				slog.String("error", err.Error()))
			s.record(metrics.EventCaptureFailed)
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.sink.SendFrame(data)
	}()
}

func (s *Scheduler) record(name string) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{"component": "frame_scheduler"},
	})
}
