// Package config provides configuration types and defaults for tether.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration for tether.
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Stream      StreamConfig      `yaml:"stream" mapstructure:"stream"`
	Backoff     BackoffConfig     `yaml:"backoff" mapstructure:"backoff"`
	Network     NetworkConfig     `yaml:"network" mapstructure:"network"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Execute     ExecuteConfig     `yaml:"execute" mapstructure:"execute"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
}

// ServerConfig locates the execution service.
type ServerConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`               // Prefix for every control and stream endpoint
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"` // Per control call; streams are not bounded
}

// StreamConfig holds stream endpoint templates and reconnection limits.
// "{id}" in a path is replaced with the session or execution id.
type StreamConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	SwarmPath   string `yaml:"swarm_path" mapstructure:"swarm_path"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// BackoffConfig holds reconnect delay settings.
type BackoffConfig struct {
	Initial      time.Duration `yaml:"initial" mapstructure:"initial"`
	Max          time.Duration `yaml:"max" mapstructure:"max"`
	JitterFactor float64       `yaml:"jitter_factor" mapstructure:"jitter_factor"`
}

// NetworkConfig holds network status monitor settings.
type NetworkConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	HealthPath   string        `yaml:"health_path" mapstructure:"health_path"` // Resolved against the server origin, not base_url
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	ResolvConf   string        `yaml:"resolv_conf" mapstructure:"resolv_conf"` // Watched for connectivity changes; empty disables watching
}

// CacheConfig holds session snapshot cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ExecuteConfig holds defaults for `tether run`.
type ExecuteConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"`
	Prompt     string `yaml:"prompt" mapstructure:"prompt"`
	PromptFile string `yaml:"prompt_file" mapstructure:"prompt_file"` // Takes priority over Prompt
}

// PathsConfig holds local file paths.
type PathsConfig struct {
	Log   string `yaml:"log" mapstructure:"log"`
	State string `yaml:"state" mapstructure:"state"`
}

// LogRotationConfig holds settings for log file rotation.
// Used for the event log and the TUI debug log (lumberjack-based automatic rotation).
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:        "http://localhost:8000/api",
			RequestTimeout: 30 * time.Second,
		},
		Stream: StreamConfig{
			Path:        "/sessions/{id}/stream",
			SwarmPath:   "/stream/{id}",
			MaxAttempts: 10,
		},
		Backoff: BackoffConfig{
			Initial:      time.Second,
			Max:          30 * time.Second,
			JitterFactor: 0.1,
		},
		Network: NetworkConfig{
			Enabled:      true,
			HealthPath:   "/api/health",
			PollInterval: 30 * time.Second,
			ProbeTimeout: 5 * time.Second,
			ResolvConf:   "/etc/resolv.conf",
		},
		Cache: CacheConfig{
			TTL: 30 * time.Second,
		},
		Execute: ExecuteConfig{
			Provider: "claude",
		},
		Paths: PathsConfig{
			Log:   ".tether/events.log",
			State: ".tether/state.json",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.BaseURL) == "" {
		errs = append(errs, errors.New("server.base_url must not be empty"))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must not be negative, got %s", c.Server.RequestTimeout))
	}
	if c.Stream.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("stream.max_attempts must be at least 1, got %d", c.Stream.MaxAttempts))
	}
	if c.Backoff.Initial <= 0 {
		errs = append(errs, fmt.Errorf("backoff.initial must be positive, got %s", c.Backoff.Initial))
	}
	if c.Backoff.Max <= 0 {
		errs = append(errs, fmt.Errorf("backoff.max must be positive, got %s", c.Backoff.Max))
	}
	if c.Backoff.Initial > 0 && c.Backoff.Max > 0 && c.Backoff.Initial > c.Backoff.Max {
		errs = append(errs, fmt.Errorf("backoff.initial (%s) must not exceed backoff.max (%s)", c.Backoff.Initial, c.Backoff.Max))
	}
	if c.Backoff.JitterFactor < 0 || c.Backoff.JitterFactor >= 1 {
		errs = append(errs, fmt.Errorf("backoff.jitter_factor must be in [0,1), got %v", c.Backoff.JitterFactor))
	}
	if c.Network.Enabled && c.Network.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("network.poll_interval must be positive, got %s", c.Network.PollInterval))
	}

	return errors.Join(errs...)
}
