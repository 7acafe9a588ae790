// Package config provides configuration loading for reviewd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables with the REVIEWD_ prefix. Every field has a working default so
// a bare `reviewd run` needs nothing beyond an API key.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete reviewd configuration.
type Config struct {
	Backend   BackendConfig   `koanf:"backend"`
	Facility  FacilityConfig  `koanf:"facility"`
	GitHub    GitHubConfig    `koanf:"github"`
	Review    ReviewConfig    `koanf:"review"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Server    ServerConfig    `koanf:"server"`
	Events    EventsConfig    `koanf:"events"`
	Redaction RedactionConfig `koanf:"redaction"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// BackendConfig holds model backend settings for the direct completion path.
type BackendConfig struct {
	Provider          string   `koanf:"provider"` // only "anthropic" is supported
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	MaxTokens         int      `koanf:"max_tokens"`
	RequestTimeout    Duration `koanf:"request_timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// FacilityConfig holds settings for the tool-layer execution facility.
// An empty BaseURL disables the facility; runs then use the direct
// completion path for every phase.
type FacilityConfig struct {
	BaseURL        string   `koanf:"base_url"`
	RequestTimeout Duration `koanf:"request_timeout"`
	ProbeTimeout   Duration `koanf:"probe_timeout"`
}

// GitHubConfig holds credentials for loading pull requests. The token
// is optional; public repositories work unauthenticated, subject to
// API rate limits.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// ReviewConfig holds run loop budgets and limits.
type ReviewConfig struct {
	MaxIterations      int      `koanf:"max_iterations"`
	MaxRetries         int      `koanf:"max_retries"`
	InitialBackoff     Duration `koanf:"initial_backoff"`
	MaxBackoff         Duration `koanf:"max_backoff"`
	MaxConcurrentTodos int      `koanf:"max_concurrent_todos"`
	MaxSubRunDepth     int      `koanf:"max_sub_run_depth"`
	PhaseTimeout       Duration `koanf:"phase_timeout"`
}

// SessionsConfig holds backend session pool settings.
type SessionsConfig struct {
	MaxActive      int      `koanf:"max_active"`
	AcquireTimeout Duration `koanf:"acquire_timeout"`
}

// ServerConfig holds HTTP daemon settings.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EventsConfig holds NATS progress event publishing settings.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedactionConfig holds secret scanning settings for report output.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// LoggingConfig holds log level and encoding settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // "grpc" or "http"
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	Insecure        bool     `koanf:"insecure"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricInterval  Duration `koanf:"metric_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Backend defaults
	if cfg.Backend.Provider == "" {
		cfg.Backend.Provider = "anthropic"
	}
	if cfg.Backend.Model == "" {
		cfg.Backend.Model = "claude-sonnet-4-5"
	}
	if cfg.Backend.MaxTokens == 0 {
		cfg.Backend.MaxTokens = 8192
	}
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = Duration(2 * time.Minute)
	}
	if cfg.Backend.RequestsPerSecond == 0 {
		cfg.Backend.RequestsPerSecond = 2
	}
	if cfg.Backend.Burst == 0 {
		cfg.Backend.Burst = 4
	}

	// Facility defaults (BaseURL stays empty: direct path only)
	if cfg.Facility.RequestTimeout == 0 {
		cfg.Facility.RequestTimeout = Duration(5 * time.Minute)
	}
	if cfg.Facility.ProbeTimeout == 0 {
		cfg.Facility.ProbeTimeout = Duration(5 * time.Second)
	}

	// Review loop defaults
	if cfg.Review.MaxIterations == 0 {
		cfg.Review.MaxIterations = 32
	}
	if cfg.Review.MaxRetries == 0 {
		cfg.Review.MaxRetries = 3
	}
	if cfg.Review.InitialBackoff == 0 {
		cfg.Review.InitialBackoff = Duration(time.Second)
	}
	if cfg.Review.MaxBackoff == 0 {
		cfg.Review.MaxBackoff = Duration(30 * time.Second)
	}
	if cfg.Review.MaxConcurrentTodos == 0 {
		cfg.Review.MaxConcurrentTodos = 4
	}
	if cfg.Review.MaxSubRunDepth == 0 {
		cfg.Review.MaxSubRunDepth = 1
	}
	if cfg.Review.PhaseTimeout == 0 {
		cfg.Review.PhaseTimeout = Duration(10 * time.Minute)
	}

	// Session pool defaults
	if cfg.Sessions.MaxActive == 0 {
		cfg.Sessions.MaxActive = 8
	}
	if cfg.Sessions.AcquireTimeout == 0 {
		cfg.Sessions.AcquireTimeout = Duration(30 * time.Second)
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9410
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Events defaults (disabled unless configured)
	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "reviewd"
	}

	// Redaction defaults: scanning defaults on, but only when the section
	// is untouched. A loaded `enabled: false` must stick, so the default is
	// applied in Load before unmarshal rather than here.

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "reviewd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.MetricInterval == 0 {
		cfg.Telemetry.MetricInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Backend.Provider != "anthropic" {
		return fmt.Errorf("unsupported backend provider: %q", c.Backend.Provider)
	}
	if c.Backend.Model == "" {
		return errors.New("backend.model is required")
	}
	if c.Backend.MaxTokens < 1 {
		return fmt.Errorf("backend.max_tokens must be positive, got %d", c.Backend.MaxTokens)
	}
	if c.Backend.RequestTimeout.Duration() <= 0 {
		return errors.New("backend.request_timeout must be positive")
	}
	if c.Backend.RequestsPerSecond <= 0 {
		return fmt.Errorf("backend.requests_per_second must be positive, got %f", c.Backend.RequestsPerSecond)
	}
	if c.Backend.Burst < 1 {
		return fmt.Errorf("backend.burst must be at least 1, got %d", c.Backend.Burst)
	}

	if c.Facility.BaseURL != "" {
		if !strings.HasPrefix(c.Facility.BaseURL, "http://") && !strings.HasPrefix(c.Facility.BaseURL, "https://") {
			return fmt.Errorf("facility.base_url must be an http(s) URL, got %q", c.Facility.BaseURL)
		}
		if c.Facility.RequestTimeout.Duration() <= 0 {
			return errors.New("facility.request_timeout must be positive")
		}
		if c.Facility.ProbeTimeout.Duration() <= 0 {
			return errors.New("facility.probe_timeout must be positive")
		}
	}

	if c.Review.MaxIterations < 1 {
		return fmt.Errorf("review.max_iterations must be at least 1, got %d", c.Review.MaxIterations)
	}
	if c.Review.MaxRetries < 0 {
		return fmt.Errorf("review.max_retries cannot be negative, got %d", c.Review.MaxRetries)
	}
	if c.Review.MaxConcurrentTodos < 1 {
		return fmt.Errorf("review.max_concurrent_todos must be at least 1, got %d", c.Review.MaxConcurrentTodos)
	}
	if c.Review.MaxSubRunDepth < 0 {
		return fmt.Errorf("review.max_sub_run_depth cannot be negative, got %d", c.Review.MaxSubRunDepth)
	}
	if c.Review.PhaseTimeout.Duration() <= 0 {
		return errors.New("review.phase_timeout must be positive")
	}

	if c.Sessions.MaxActive < 1 {
		return fmt.Errorf("sessions.max_active must be at least 1, got %d", c.Sessions.MaxActive)
	}
	if c.Sessions.AcquireTimeout.Duration() <= 0 {
		return errors.New("sessions.acquire_timeout must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	if c.Events.Enabled {
		if c.Events.URL == "" {
			return errors.New("events.url is required when events are enabled")
		}
		if c.Events.SubjectPrefix == "" {
			return errors.New("events.subject_prefix is required when events are enabled")
		}
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format: %q (must be json or console)", c.Logging.Format)
	}

	if err := c.Telemetry.validate(); err != nil {
		return err
	}

	return nil
}

func (t *TelemetryConfig) validate() error {
	if !t.Enabled {
		return nil
	}

	if t.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	if t.ServiceName == "" {
		return errors.New("telemetry.service_name is required when telemetry is enabled")
	}
	if t.ServiceVersion == "" {
		return errors.New("telemetry.service_version is required when telemetry is enabled")
	}
	if t.Protocol != "grpc" && t.Protocol != "http" {
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
	}

	// Insecure export is only allowed toward local collectors.
	if t.Insecure && !t.isLocalEndpoint() {
		return errors.New("insecure telemetry export to remote endpoints is not allowed; set insecure=false or use a local endpoint")
	}

	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", t.SampleRate)
	}
	if t.MetricInterval.Duration() <= 0 {
		return errors.New("telemetry.metric_interval must be positive")
	}
	if t.ShutdownTimeout.Duration() <= 0 {
		return errors.New("telemetry.shutdown_timeout must be positive")
	}

	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func (t *TelemetryConfig) isLocalEndpoint() bool {
	host := t.Endpoint

	// Handle IPv6 addresses (may be bracketed like [::1]:4317)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(t.Endpoint, "::1")
}
