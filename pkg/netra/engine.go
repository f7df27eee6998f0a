package netra

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/netra/pkg/adapters/speech"
	"github.com/harunnryd/netra/pkg/adapters/vision"
	"github.com/harunnryd/netra/pkg/capture"
	"github.com/harunnryd/netra/pkg/logging"
	"github.com/harunnryd/netra/pkg/metrics"
	"github.com/harunnryd/netra/pkg/narration"
	"github.com/harunnryd/netra/pkg/observers"
	"github.com/harunnryd/netra/pkg/protocol"
	"github.com/harunnryd/netra/pkg/redact"
	"github.com/harunnryd/netra/pkg/resilience"
	"github.com/harunnryd/netra/pkg/runner"
	"github.com/harunnryd/netra/pkg/session"
)

// Engine wires the session, capture scheduler, and narration arbiter
// together and owns their lifecycle.
type Engine struct {
	cfg   Config
	runID string

	source  vision.FrameSource
	speaker speech.Speaker
	sess    *session.Session
	sched   *capture.Scheduler
	arb     *narration.Arbiter

	runner      *runner.LifecycleRunner
	asyncObs    *metrics.AsyncObserver
	timelineObs *observers.TimelineObserver
	usageObs    *observers.UsageObserver
	jsonlFile   *os.File

	detectionHook func(protocol.DetectionResult)
	statusHook    func(session.StatusEvent)

	cancel context.CancelFunc
}

// EngineOptions configures an Engine beyond the file-backed Config.
type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Observer is appended to the built-in observer fan-out.
	Observer metrics.Observer
	// DetectionHook mirrors every delivered result to an embedding UI.
	// It runs on the routing goroutine and must not block.
	DetectionHook func(protocol.DetectionResult)
	// StatusHook receives connection status events.
	StatusHook func(session.StatusEvent)
}

// NewEngine builds the full client from configuration. Nothing is
// started; call Run.
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	mode, err := protocol.ParseMode(cfg.Session.Mode)
	if err != nil {
		return nil, fmt.Errorf("session.mode: %w", err)
	}

	runID := uuid.NewString()
	slog.Info("netra_init",
		"environment", cfg.Environment,
		"camera_provider", cfg.Capture.Provider,
		"speech_provider", cfg.Narration.Provider,
		"mode", mode.String(),
		"run_id", runID,
	)

	e := &Engine{
		cfg:           cfg,
		runID:         runID,
		detectionHook: opts.DetectionHook,
		statusHook:    opts.StatusHook,
	}

	obs, err := e.buildObservers(opts.Observer)
	if err != nil {
		return nil, err
	}

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviderRegistry()
	}

	e.source, err = providers.BuildSource(cfg.Capture.Provider, vision.Config{
		Width:   cfg.Capture.Width,
		Height:  cfg.Capture.Height,
		Quality: cfg.Capture.Quality,
	}, cfg.Capture.Settings, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("build camera: %w", err)
	}

	spk, err := providers.BuildSpeaker(cfg.Narration.Provider, speech.Config{
		Language:   cfg.Narration.Language,
		SampleRate: cfg.Narration.SampleRate,
	}, cfg.Narration.Settings, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("build speech: %w", err)
	}
	breaker := resilience.NewCircuitBreaker(
		cfg.Narration.BreakerThreshold,
		time.Duration(cfg.Narration.BreakerCooldownMS)*time.Millisecond,
	)
	e.speaker = speech.WithBreaker(spk, breaker, slog.Default(), obs)

	e.sess = session.New(session.Config{
		BaseURL:             cfg.Service.BaseURL,
		Path:                cfg.Service.WSPath,
		Mode:                mode,
		ConfidenceThreshold: cfg.Service.ConfidenceThreshold,
		BaseDelay:           time.Duration(cfg.Session.BaseDelayMS) * time.Millisecond,
		MaxAttempts:         cfg.Session.MaxReconnectAttempts,
		DialTimeout:         time.Duration(cfg.Session.DialTimeoutMS) * time.Millisecond,
		PingInterval:        time.Duration(cfg.Session.PingIntervalMS) * time.Millisecond,
		DetectionBuffer:     cfg.Session.DetectionBuffer,
		Logger:              slog.Default(),
		Observer:            obs,
	})

	e.arb = narration.New(narration.Config{
		Mode:     mode,
		Cooldown: time.Duration(cfg.Narration.CooldownMS) * time.Millisecond,
		Speaker:  e.speaker,
		Logger:   slog.Default(),
		Observer: obs,
	})

	e.sched = capture.New(capture.Config{
		FPS:      cfg.Capture.FPS,
		Source:   e.source,
		Sink:     e.sess,
		Logger:   slog.Default(),
		Observer: obs,
	})

	hooks := runner.Hooks{
		OnStart: func() {
			slog.Info("engine_ready",
				"mode", e.arb.Mode().String(),
				"fps", e.sched.FPS(),
				"run_id", e.runID,
			)
		},
		OnStop: func() {
			if e.asyncObs != nil {
				e.asyncObs.Close()
			}
			if e.timelineObs != nil {
				_ = e.timelineObs.Close()
			}
			if e.usageObs != nil {
				_ = e.usageObs.Close()
			}
			if e.jsonlFile != nil {
				_ = e.jsonlFile.Close()
			}
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine())
		},
	}
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), hooks, 30*time.Second)

	return e, nil
}

// buildObservers assembles the metrics fan-out behind one async
// boundary so the capture and narration paths never block on sinks.
func (e *Engine) buildObservers(extra metrics.Observer) (metrics.Observer, error) {
	cfg := e.cfg
	var obsList []metrics.Observer
	if cfg.Metrics.Enabled {
		var logObs metrics.Observer = observers.NewLoggerObserver(slog.Default())
		if rate := cfg.Metrics.LogSampleRate; rate > 0 && rate < 1 {
			logObs = metrics.NewSamplingObserver(logObs, rate)
		}
		obsList = append(obsList,
			observers.NewLatencyObserver(slog.Default()),
			logObs,
		)
		if path := strings.TrimSpace(cfg.Metrics.JSONLPath); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open metrics jsonl: %w", err)
			}
			e.jsonlFile = f
			obsList = append(obsList, metrics.NewJSONLObserver(f))
		}
		if dir := strings.TrimSpace(cfg.Metrics.TimelineDir); dir != "" {
			if cfg.Metrics.ArtifactMaxAgeHours > 0 {
				_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Metrics.ArtifactMaxAgeHours)*time.Hour)
			}
			e.timelineObs = observers.NewTimelineObserver(dir, e.runID)
			e.usageObs = observers.NewUsageObserver(dir, e.runID)
			obsList = append(obsList, e.timelineObs, e.usageObs)
		}
	}
	if extra != nil {
		obsList = append(obsList, extra)
	}
	if len(obsList) == 0 {
		return metrics.NoopObserver{}, nil
	}
	e.asyncObs = metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)
	return e.asyncObs, nil
}

// Run starts the providers, connects the session, starts the capture
// cadence, and blocks until ctx is cancelled or Shutdown is called.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.source.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start camera: %w", err)
	}
	if err := e.speaker.Start(runCtx); err != nil {
		_ = e.source.Close()
		cancel()
		return fmt.Errorf("start speech: %w", err)
	}

	e.sess.Connect()
	e.sched.Start(runCtx)
	go e.route(runCtx)

	return e.runner.Run(runCtx)
}

// Shutdown stops the engine and waits for the drain to finish.
func (e *Engine) Shutdown() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

// SetMode switches the analysis mode on the service and the narration
// policy together.
func (e *Engine) SetMode(mode protocol.Mode) error {
	if err := e.sess.SetMode(mode); err != nil {
		return err
	}
	e.arb.SetMode(mode)
	return nil
}

// Mode returns the current narration mode.
func (e *Engine) Mode() protocol.Mode {
	return e.arb.Mode()
}

// Session exposes the realtime session, mainly for embedding UIs that
// want to observe connection state.
func (e *Engine) Session() *session.Session {
	return e.sess
}

func (e *Engine) Config() Config {
	return e.cfg
}

// route moves detections into the arbiter and status events to the
// log and the optional hook until the run context ends.
func (e *Engine) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-e.sess.Detections():
			if e.detectionHook != nil {
				e.detectionHook(res)
			}
			e.arb.Handle(ctx, res)
		case ev := <-e.sess.Status():
			slog.Debug("session_status",
				"from", ev.From.String(),
				"to", ev.To.String(),
				"reason", ev.Reason,
			)
			if e.statusHook != nil {
				e.statusHook(ev)
			}
		}
	}
}

// drain tears the pipeline down in dependency order: stop producing
// frames, then drop the socket, then silence narration, then release
// the devices.
func (e *Engine) drain() error {
	e.sched.Stop()
	e.sess.Disconnect()
	e.arb.Reset()
	if err := e.speaker.Close(); err != nil {
		slog.Warn("speaker_close_failed", "error", err)
	}
	if err := e.source.Close(); err != nil {
		slog.Warn("camera_close_failed", "error", err)
	}
	return nil
}

// SetDefaultLogger installs the process-wide slog handler.
func SetDefaultLogger(level, format string) {
	lvl := logging.ParseLevel(level)
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		slog.SetDefault(logging.InitLogger(lvl))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
