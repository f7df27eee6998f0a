// Package audio shells out to an external player binary for audio
// playback. Speech providers stream synthesized chunks into a
// Playback's stdin; the player exits on its own once stdin closes and
// the buffer drains.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/netra/pkg/errorsx"
)

// PlayerConfig holds the settings for a Player.
type PlayerConfig struct {
	// Command is the player binary. Defaults to ffplay.
	Command string
	// Format names the raw sample format (e.g. "s16le"). Empty lets
	// the player sniff a container format such as mp3.
	Format string
	// SampleRate applies when Format is a raw format. Synthesized
	// speech is mono, so no channel flag is passed.
	SampleRate int
}

// Player launches one playback process per utterance.
type Player struct {
	command string
	args    []string
}

// NewPlayer creates a Player.
func NewPlayer(cfg PlayerConfig) *Player {
	if cfg.Command == "" {
		cfg.Command = "ffplay"
	}
	args := []string{
		"-autoexit",
		"-nodisp",
		"-loglevel", "quiet",
	}
	if cfg.Format != "" {
		if cfg.SampleRate <= 0 {
			cfg.SampleRate = 24000
		}
		args = append(args,
			"-f", cfg.Format,
			"-ar", strconv.Itoa(cfg.SampleRate),
		)
	}
	args = append(args, "-i", "-")
	return &Player{command: cfg.Command, args: args}
}

// Begin starts one playback process reading audio from its stdin.
func (p *Player) Begin(ctx context.Context) (*Playback, error) {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("create player stdin pipe: %w", err), errorsx.ReasonPlayerStart)
	}
	if err := cmd.Start(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("start player: %w", err), errorsx.ReasonPlayerStart)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	return &Playback{
		stdin:   stdin,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// Playback is one running player process.
type Playback struct {
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// Write streams one chunk of audio into the player.
func (pb *Playback) Write(data []byte) (int, error) {
	return pb.stdin.Write(data)
}

// Finish closes stdin and waits for the player to drain and exit. A
// cancelled context stops the process instead of waiting.
func (pb *Playback) Finish(ctx context.Context) error {
	_ = pb.stdin.Close()

	select {
	case err, ok := <-pb.waitErr:
		if !ok {
			return nil
		}
		return pb.decorate(normalizeExitErr(err))
	case <-ctx.Done():
		_ = pb.Stop()
		return ctx.Err()
	}
}

// Stop interrupts playback, escalating to a kill when the process does
// not exit promptly. Safe to call repeatedly and after Finish.
func (pb *Playback) Stop() error {
	pb.stopOnce.Do(func() {
		_ = pb.stdin.Close()
		if pb.process != nil {
			_ = pb.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-pb.waitErr:
			if ok {
				pb.stopErr = normalizeExitErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if pb.process != nil {
				_ = pb.process.Kill()
			}
			err, ok := <-pb.waitErr
			if ok {
				pb.stopErr = normalizeExitErr(err)
			}
		}

		pb.stopErr = pb.decorate(pb.stopErr)
	})
	return pb.stopErr
}

// decorate appends the player's stderr tail to a non-nil error.
func (pb *Playback) decorate(err error) error {
	if err == nil || pb.stderr == nil || pb.stderr.Len() == 0 {
		return err
	}
	return fmt.Errorf("%w: %s", err, bytes.TrimSpace(pb.stderr.Bytes()))
}

// normalizeExitErr drops the exit-status noise a signalled player
// reports; only genuine launch or I/O failures are of interest.
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
