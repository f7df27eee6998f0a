package netra

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/harunnryd/netra/pkg/protocol"
	"github.com/spf13/viper"
)

// Config is the YAML-backed configuration for the whole client.
type Config struct {
	Service     ServiceConfig   `mapstructure:"service"`
	Session     SessionConfig   `mapstructure:"session"`
	Capture     CaptureConfig   `mapstructure:"capture"`
	Narration   NarrationConfig `mapstructure:"narration"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Privacy     PrivacyConfig   `mapstructure:"privacy"`
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
}

// ServiceConfig locates the detection service.
type ServiceConfig struct {
	BaseURL             string   `mapstructure:"base_url"`
	WSPath              string   `mapstructure:"ws_path"`
	ConfidenceThreshold *float64 `mapstructure:"confidence_threshold"`
}

// SessionConfig tunes the realtime connection.
type SessionConfig struct {
	Mode                 string `mapstructure:"mode"`
	BaseDelayMS          int    `mapstructure:"base_delay_ms"`
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts"`
	DialTimeoutMS        int    `mapstructure:"dial_timeout_ms"`
	PingIntervalMS       int    `mapstructure:"ping_interval_ms"`
	DetectionBuffer      int    `mapstructure:"detection_buffer"`
}

// CaptureConfig selects the camera vendor and cadence. The settings
// block is vendor-specific and decoded by the provider factory.
type CaptureConfig struct {
	FPS      int            `mapstructure:"fps"`
	Width    int            `mapstructure:"width"`
	Height   int            `mapstructure:"height"`
	Quality  int            `mapstructure:"quality"`
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// NarrationConfig selects the speech vendor and the arbiter knobs.
type NarrationConfig struct {
	CooldownMS        int            `mapstructure:"cooldown_ms"`
	Language          string         `mapstructure:"language"`
	SampleRate        int            `mapstructure:"sample_rate"`
	BreakerThreshold  int            `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int            `mapstructure:"breaker_cooldown_ms"`
	Provider          string         `mapstructure:"provider"`
	Settings          map[string]any `mapstructure:"settings"`
}

// MetricsConfig controls the observer stack.
type MetricsConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	JSONLPath           string `mapstructure:"jsonl_path"`
	TimelineDir         string `mapstructure:"timeline_dir"`
	ArtifactMaxAgeHours int    `mapstructure:"artifact_max_age_hours"`
	// LogSampleRate thins frame-cadence events in the debug log.
	// 1 logs every frame event, 0.1 roughly every tenth.
	LogSampleRate float64 `mapstructure:"log_sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("service.ws_path", "/ws/realtime")
	v.SetDefault("session.mode", "navigation")
	v.SetDefault("session.base_delay_ms", 1000)
	v.SetDefault("session.max_reconnect_attempts", 5)
	v.SetDefault("session.dial_timeout_ms", 5000)
	v.SetDefault("session.ping_interval_ms", 15000)
	v.SetDefault("session.detection_buffer", 16)
	v.SetDefault("capture.fps", 2)
	v.SetDefault("capture.width", 640)
	v.SetDefault("capture.height", 480)
	v.SetDefault("capture.quality", 5)
	v.SetDefault("narration.cooldown_ms", 3000)
	v.SetDefault("narration.language", "en")
	v.SetDefault("narration.sample_rate", 24000)
	v.SetDefault("narration.breaker_threshold", 3)
	v.SetDefault("narration.breaker_cooldown_ms", 30000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.jsonl_path", "")
	v.SetDefault("metrics.timeline_dir", "")
	v.SetDefault("metrics.artifact_max_age_hours", 0)
	v.SetDefault("metrics.log_sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.BaseURL) == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if _, err := protocol.ParseMode(c.Session.Mode); err != nil {
		return fmt.Errorf("session.mode: %w", err)
	}
	if strings.TrimSpace(c.Capture.Provider) == "" {
		return fmt.Errorf("capture.provider is required")
	}
	if strings.TrimSpace(c.Narration.Provider) == "" {
		return fmt.Errorf("narration.provider is required")
	}
	if c.Capture.FPS < 0 {
		return fmt.Errorf("capture.fps must not be negative")
	}
	if t := c.Service.ConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("service.confidence_threshold must be between 0 and 1")
	}
	if r := c.Metrics.LogSampleRate; r < 0 || r > 1 {
		return fmt.Errorf("metrics.log_sample_rate must be between 0 and 1")
	}
	return nil
}

// expandEnvStrings substitutes ${VAR} references in every string
// field, including the free-form provider settings blocks. Secrets
// like API keys stay out of config files this way.
func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Capture.Settings = expandSettings(cfg.Capture.Settings)
	cfg.Narration.Settings = expandSettings(cfg.Narration.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
