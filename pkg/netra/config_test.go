package netra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
service:
  base_url: http://localhost:8000
capture:
  provider: mock
narration:
  provider: mock
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service.WSPath != "/ws/realtime" {
		t.Errorf("ws_path = %q", cfg.Service.WSPath)
	}
	if cfg.Session.Mode != "navigation" {
		t.Errorf("mode = %q", cfg.Session.Mode)
	}
	if cfg.Session.BaseDelayMS != 1000 || cfg.Session.MaxReconnectAttempts != 5 {
		t.Errorf("reconnect defaults = %d/%d", cfg.Session.BaseDelayMS, cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Session.DialTimeoutMS != 5000 || cfg.Session.PingIntervalMS != 15000 {
		t.Errorf("timeout defaults = %d/%d", cfg.Session.DialTimeoutMS, cfg.Session.PingIntervalMS)
	}
	if cfg.Session.DetectionBuffer != 16 {
		t.Errorf("detection_buffer = %d", cfg.Session.DetectionBuffer)
	}
	if cfg.Capture.FPS != 2 || cfg.Capture.Width != 640 || cfg.Capture.Height != 480 || cfg.Capture.Quality != 5 {
		t.Errorf("capture defaults = %+v", cfg.Capture)
	}
	if cfg.Narration.CooldownMS != 3000 || cfg.Narration.Language != "en" || cfg.Narration.SampleRate != 24000 {
		t.Errorf("narration defaults = %+v", cfg.Narration)
	}
	if cfg.Narration.BreakerThreshold != 3 || cfg.Narration.BreakerCooldownMS != 30000 {
		t.Errorf("breaker defaults = %d/%d", cfg.Narration.BreakerThreshold, cfg.Narration.BreakerCooldownMS)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics not enabled by default")
	}
	if cfg.Metrics.LogSampleRate != 1 {
		t.Errorf("log_sample_rate = %v, want 1", cfg.Metrics.LogSampleRate)
	}
	if !cfg.Privacy.RedactPII {
		t.Error("redaction not enabled by default")
	}
	if cfg.Environment != "development" || cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("ambient defaults = %q/%q/%q", cfg.Environment, cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Service.ConfidenceThreshold != nil {
		t.Errorf("confidence_threshold = %v, want unset", *cfg.Service.ConfidenceThreshold)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
service:
  base_url: https://vision.example.com
  confidence_threshold: 0.4
session:
  mode: reading
  ping_interval_ms: -1
capture:
  provider: ffmpeg
  fps: 4
narration:
  provider: elevenlabs
privacy:
  redact_pii: false
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.Mode != "reading" || cfg.Session.PingIntervalMS != -1 {
		t.Errorf("session overrides = %q/%d", cfg.Session.Mode, cfg.Session.PingIntervalMS)
	}
	if cfg.Capture.FPS != 4 {
		t.Errorf("fps = %d, want 4", cfg.Capture.FPS)
	}
	if cfg.Privacy.RedactPII {
		t.Error("redact_pii override ignored")
	}
	if cfg.Service.ConfidenceThreshold == nil || *cfg.Service.ConfidenceThreshold != 0.4 {
		t.Errorf("confidence_threshold = %v", cfg.Service.ConfidenceThreshold)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("NETRA_TEST_BASE", "http://localhost:9000")
	t.Setenv("NETRA_TEST_KEY", "sk-secret-123")

	cfg, err := LoadConfig(writeConfig(t, `
service:
  base_url: ${NETRA_TEST_BASE}
capture:
  provider: mock
narration:
  provider: elevenlabs
  settings:
    api_key: ${NETRA_TEST_KEY}
    voice_id: luna
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.BaseURL != "http://localhost:9000" {
		t.Errorf("base_url = %q, env reference not expanded", cfg.Service.BaseURL)
	}
	if cfg.Narration.Settings["api_key"] != "sk-secret-123" {
		t.Errorf("settings api_key = %v, env reference not expanded", cfg.Narration.Settings["api_key"])
	}
	if cfg.Narration.Settings["voice_id"] != "luna" {
		t.Errorf("settings voice_id = %v", cfg.Narration.Settings["voice_id"])
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing base_url",
			yaml: `
capture:
  provider: mock
narration:
  provider: mock
`,
			wantErr: "service.base_url",
		},
		{
			name: "unknown mode",
			yaml: `
service:
  base_url: http://localhost:8000
session:
  mode: turbo
capture:
  provider: mock
narration:
  provider: mock
`,
			wantErr: "session.mode",
		},
		{
			name: "missing capture provider",
			yaml: `
service:
  base_url: http://localhost:8000
narration:
  provider: mock
`,
			wantErr: "capture.provider",
		},
		{
			name: "missing narration provider",
			yaml: `
service:
  base_url: http://localhost:8000
capture:
  provider: mock
`,
			wantErr: "narration.provider",
		},
		{
			name: "negative fps",
			yaml: `
service:
  base_url: http://localhost:8000
capture:
  provider: mock
  fps: -1
narration:
  provider: mock
`,
			wantErr: "capture.fps",
		},
		{
			name: "confidence out of range",
			yaml: `
service:
  base_url: http://localhost:8000
  confidence_threshold: 1.5
capture:
  provider: mock
narration:
  provider: mock
`,
			wantErr: "confidence_threshold",
		},
		{
			name: "sample rate out of range",
			yaml: `
service:
  base_url: http://localhost:8000
capture:
  provider: mock
narration:
  provider: mock
metrics:
  log_sample_rate: 2
`,
			wantErr: "log_sample_rate",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
