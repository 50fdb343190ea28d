// Package config holds the embedder-facing configuration surface for the
// canvas sync subsystem and its hot-reload watcher.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SuppressPolicy controls what happens to human edits that land while the
// agent is typing onto the canvas.
type SuppressPolicy string

const (
	// SuppressDrop discards mid-animation edits entirely.
	SuppressDrop SuppressPolicy = "drop"
	// SuppressDefer queues one extraction pass for after the animation ends.
	SuppressDefer SuppressPolicy = "defer"
)

// Config is the full configuration for the sync subsystem.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Sync    SyncConfig    `yaml:"sync"`
	Typing  TypingConfig  `yaml:"typing"`
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig points at the agent backend channel.
type BackendConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
	Timeout   string `yaml:"timeout"` // dial timeout, Go duration string
}

// SyncConfig tunes the activity tracker.
type SyncConfig struct {
	Enabled            bool           `yaml:"enabled"`
	DebounceWindowMs   int            `yaml:"debounce_window_ms"`
	IdleThresholdMs    int            `yaml:"idle_threshold_ms"`
	IdlePollIntervalMs int            `yaml:"idle_poll_interval_ms"`
	SuppressPolicy     SuppressPolicy `yaml:"suppress_policy"`
}

// TypingConfig tunes the typing animation cadence.
type TypingConfig struct {
	BaseDelayMs int `yaml:"base_delay_ms"`
	JitterMs    int `yaml:"jitter_ms"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:     "ws://localhost:8787/agent",
			Timeout: "10s",
		},
		Sync: SyncConfig{
			Enabled:            true,
			DebounceWindowMs:   2000,
			IdleThresholdMs:    30000,
			IdlePollIntervalMs: 5000,
			SuppressPolicy:     SuppressDrop,
		},
		Typing: TypingConfig{
			BaseDelayMs: 35,
			JitterMs:    15,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, layering it over defaults and applying
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// applyEnv layers environment overrides on top of file values. Only the
// backend coordinates are overridable; tuning knobs stay in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CANVASSYNC_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("CANVASSYNC_AUTH_TOKEN"); v != "" {
		cfg.Backend.AuthToken = v
	}
}

// Validate rejects configurations the components cannot run with.
func (c Config) Validate() error {
	if c.Sync.DebounceWindowMs <= 0 {
		return fmt.Errorf("sync.debounce_window_ms must be positive, got %d", c.Sync.DebounceWindowMs)
	}
	if c.Sync.IdleThresholdMs <= 0 {
		return fmt.Errorf("sync.idle_threshold_ms must be positive, got %d", c.Sync.IdleThresholdMs)
	}
	if c.Sync.IdlePollIntervalMs <= 0 {
		return fmt.Errorf("sync.idle_poll_interval_ms must be positive, got %d", c.Sync.IdlePollIntervalMs)
	}
	if c.Sync.IdlePollIntervalMs > c.Sync.IdleThresholdMs {
		return fmt.Errorf("sync.idle_poll_interval_ms (%d) must not exceed idle_threshold_ms (%d)",
			c.Sync.IdlePollIntervalMs, c.Sync.IdleThresholdMs)
	}
	switch c.Sync.SuppressPolicy {
	case SuppressDrop, SuppressDefer:
	default:
		return fmt.Errorf("sync.suppress_policy must be %q or %q, got %q", SuppressDrop, SuppressDefer, c.Sync.SuppressPolicy)
	}
	if c.Typing.BaseDelayMs <= 0 {
		return fmt.Errorf("typing.base_delay_ms must be positive, got %d", c.Typing.BaseDelayMs)
	}
	if c.Typing.JitterMs < 0 {
		return fmt.Errorf("typing.jitter_ms must not be negative, got %d", c.Typing.JitterMs)
	}
	if _, err := c.DialTimeout(); err != nil {
		return err
	}
	return nil
}

// DebounceWindow returns the debounce window as a duration.
func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.Sync.DebounceWindowMs) * time.Millisecond
}

// IdleThreshold returns the idle threshold as a duration.
func (c Config) IdleThreshold() time.Duration {
	return time.Duration(c.Sync.IdleThresholdMs) * time.Millisecond
}

// IdlePollInterval returns the idle poll interval as a duration.
func (c Config) IdlePollInterval() time.Duration {
	return time.Duration(c.Sync.IdlePollIntervalMs) * time.Millisecond
}

// BaseDelay returns the per-rune animation base delay.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Typing.BaseDelayMs) * time.Millisecond
}

// Jitter returns the animation jitter span.
func (c Config) Jitter() time.Duration {
	return time.Duration(c.Typing.JitterMs) * time.Millisecond
}

// DialTimeout parses the backend dial timeout.
func (c Config) DialTimeout() (time.Duration, error) {
	if c.Backend.Timeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil {
		return 0, fmt.Errorf("backend.timeout: %w", err)
	}
	return d, nil
}
