// Package ffmpeg captures camera frames by running ffmpeg as a child
// process that emits an MJPEG stream on stdout. The stream is scanned
// for complete JPEG images and the newest one is cached; CaptureFrame
// hands out a copy of that cache, so capture latency never depends on
// the camera's own timing.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/adapters/vision"
	"github.com/harunnryd/netra/pkg/errorsx"
	"github.com/harunnryd/netra/pkg/logging"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Config holds the settings for the ffmpeg camera source.
type Config struct {
	// Command is the ffmpeg binary. Defaults to "ffmpeg".
	Command string
	// InputFormat is the capture backend. Defaults to v4l2.
	InputFormat string
	// InputDevice is the camera device. Defaults to /dev/video0.
	InputDevice string
	// Width and Height set the capture resolution.
	Width  int
	Height int
	// FPS is the internal stream rate. It should be at or above the
	// scheduler's rate so the cache never starves.
	FPS int
	// Quality is the MJPEG q:v value (2 best, 31 worst).
	Quality int
	// StaleAfter rejects cached frames older than this, which catches
	// a wedged camera that stopped producing. Defaults to 2s.
	StaleAfter time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "v4l2"
	}
	if c.InputDevice == "" {
		c.InputDevice = "/dev/video0"
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FPS <= 0 {
		c.FPS = 5
	}
	if c.Quality <= 0 {
		c.Quality = 5
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Source is a FrameSource backed by an ffmpeg child process.
type Source struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	started bool
	frame   []byte
	frameAt time.Time
	readErr error

	process *os.Process
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// New creates an ffmpeg camera source.
func New(cfg Config) *Source {
	cfg.applyDefaults()
	return &Source{
		cfg: cfg,
		log: logging.NewComponentLogger(cfg.Logger, "ffmpeg_camera"),
	}
}

func (s *Source) Name() string { return "ffmpeg_camera" }

// Start launches ffmpeg and begins collecting frames.
func (s *Source) Start(ctx context.Context) error {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.cfg.InputFormat,
		"-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"-i", s.cfg.InputDevice,
		"-r", strconv.Itoa(s.cfg.FPS),
		"-q:v", strconv.Itoa(s.cfg.Quality),
		"-f", "mjpeg",
		"-",
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("create ffmpeg stdout pipe: %w", err), errorsx.ReasonSourceStart)
	}
	if err := cmd.Start(); err != nil {
		return errorsx.Wrap(fmt.Errorf("start ffmpeg: %w", err), errorsx.ReasonSourceStart)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Give the device a beat to open; a camera that cannot be opened
	// makes ffmpeg exit almost immediately.
	select {
	case err := <-waitErr:
		if err != nil {
			return errorsx.Wrap(
				fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, bytes.TrimSpace(stderr.Bytes())),
				errorsx.ReasonSourceStart)
		}
		return errorsx.Wrap(errors.New("ffmpeg exited before capture started"), errorsx.ReasonSourceStart)
	case <-time.After(250 * time.Millisecond):
	}

	s.mu.Lock()
	s.started = true
	s.stdout = stdout
	s.stderr = &stderr
	s.process = cmd.Process
	s.waitErr = waitErr
	s.mu.Unlock()

	go s.scanLoop(stdout)

	s.log.Info("camera_started",
		slog.String("device", s.cfg.InputDevice),
		slog.String("size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height)),
		slog.Int("fps", s.cfg.FPS))
	return nil
}

// CaptureFrame returns a copy of the newest complete frame.
func (s *Source) CaptureFrame(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, errorsx.Wrap(errors.New("camera not started"), errorsx.ReasonCapture)
	}
	if s.readErr != nil {
		return nil, errorsx.Wrap(fmt.Errorf("camera stream ended: %w", s.readErr), errorsx.ReasonCapture)
	}
	if s.frame == nil {
		return nil, errorsx.Wrap(errors.New("no frame available yet"), errorsx.ReasonCapture)
	}
	if age := time.Since(s.frameAt); age > s.cfg.StaleAfter {
		return nil, errorsx.Wrap(fmt.Errorf("camera frame is stale (%s old)", age.Round(time.Millisecond)), errorsx.ReasonCapture)
	}

	out := make([]byte, len(s.frame))
	copy(out, s.frame)
	return out, nil
}

// Close stops ffmpeg, escalating to a kill when it does not exit
// promptly. Safe to call repeatedly.
func (s *Source) Close() error {
	s.mu.Lock()
	s.started = false
	process := s.process
	stdout := s.stdout
	waitErr := s.waitErr
	s.mu.Unlock()

	if process == nil {
		return nil
	}

	s.stopOnce.Do(func() {
		_ = process.Signal(os.Interrupt)

		select {
		case err, ok := <-waitErr:
			if ok {
				s.stopErr = normalizeExitErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			_ = process.Kill()
			err, ok := <-waitErr
			if ok {
				s.stopErr = normalizeExitErr(err)
			}
		}

		if stdout != nil {
			if err := stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
				s.stopErr = err
			}
		}
		s.log.Info("camera_stopped")
	})
	return s.stopErr
}

// scanLoop consumes the MJPEG stream and caches each complete frame.
func (s *Source) scanLoop(stdout io.Reader) {
	reader := bufio.NewReaderSize(stdout, 1<<16)
	chunk := make([]byte, 32*1024)
	var buf []byte
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = s.extractFrames(buf)
		}
		if err != nil {
			s.mu.Lock()
			if s.started {
				s.readErr = err
			}
			s.mu.Unlock()
			s.log.Debug("camera_stream_ended", slog.String("error", err.Error()))
			return
		}
	}
}

// extractFrames pulls every complete JPEG out of buf, caches the
// newest, and returns the unconsumed tail.
func (s *Source) extractFrames(buf []byte) []byte {
	for {
		start := bytes.Index(buf, jpegSOI)
		if start < 0 {
			// A trailing 0xFF may be the first half of a marker split
			// across reads.
			if len(buf) > 0 && buf[len(buf)-1] == 0xFF {
				return buf[len(buf)-1:]
			}
			return nil
		}
		buf = buf[start:]

		end := bytes.Index(buf[2:], jpegEOI)
		if end < 0 {
			return buf
		}
		frameLen := 2 + end + len(jpegEOI)
		frame := make([]byte, frameLen)
		copy(frame, buf[:frameLen])

		s.mu.Lock()
		s.frame = frame
		s.frameAt = time.Now()
		s.mu.Unlock()

		buf = buf[frameLen:]
	}
}

func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

var _ vision.FrameSource = (*Source)(nil)
