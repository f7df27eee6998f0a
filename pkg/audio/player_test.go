package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/harunnryd/netra/pkg/errorsx"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestNewPlayerArgs(t *testing.T) {
	t.Parallel()

	raw := NewPlayer(PlayerConfig{Format: "s16le", SampleRate: 24000})
	if !slices.Contains(raw.args, "s16le") || !slices.Contains(raw.args, "24000") {
		t.Fatalf("raw format args missing: %v", raw.args)
	}

	sniffed := NewPlayer(PlayerConfig{})
	if slices.Contains(sniffed.args, "-ar") {
		t.Fatalf("container playback should not force a sample rate: %v", sniffed.args)
	}
	if sniffed.command != "ffplay" {
		t.Fatalf("default command = %q, want ffplay", sniffed.command)
	}
}

func TestPlaybackStreamsToStdin(t *testing.T) {
	t.Parallel()

	sink := filepath.Join(t.TempDir(), "sink")
	script := writeScript(t, "player.sh", "#!/usr/bin/env bash\ncat > "+sink+"\n")
	p := NewPlayer(PlayerConfig{Command: script})

	pb, err := p.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if _, err := pb.Write([]byte("chunk-one ")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := pb.Write([]byte("chunk-two")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := pb.Finish(context.Background()); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	data, err := os.ReadFile(sink)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	if string(data) != "chunk-one chunk-two" {
		t.Fatalf("player received %q", string(data))
	}
}

func TestPlaybackStopInterrupts(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "player.sh", "#!/usr/bin/env bash\nsleep 5\n")
	p := NewPlayer(PlayerConfig{Command: script})

	pb, err := p.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	start := time.Now()
	if err := pb.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("stop took %v", elapsed)
	}
	// Repeated stop is a no-op.
	if err := pb.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestPlaybackFinishHonorsContext(t *testing.T) {
	t.Parallel()

	// The player lingers after stdin closes; Finish must not wait
	// forever.
	script := writeScript(t, "player.sh", "#!/usr/bin/env bash\ncat > /dev/null\nsleep 5\n")
	p := NewPlayer(PlayerConfig{Command: script})

	pb, err := p.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := pb.Finish(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("finish error = %v, want deadline exceeded", err)
	}
}

func TestBeginMissingBinary(t *testing.T) {
	t.Parallel()

	p := NewPlayer(PlayerConfig{Command: filepath.Join(t.TempDir(), "no-such-player")})
	_, err := p.Begin(context.Background())
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !errorsx.HasReason(err, errorsx.ReasonPlayerStart) {
		t.Fatalf("error reason = %q", errorsx.Reason(err))
	}
}

func TestNormalizeExitErr(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatal("expected command to fail")
	}
	if got := normalizeExitErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
	if got := normalizeExitErr(nil); got != nil {
		t.Fatalf("expected nil passthrough, got %v", got)
	}
}
