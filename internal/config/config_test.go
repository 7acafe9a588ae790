package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	var cfg Config
	cfg.Redaction.Enabled = true
	applyDefaults(&cfg)
	return &cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unsupported provider",
			mutate:  func(c *Config) { c.Backend.Provider = "openai" },
			wantErr: "unsupported backend provider",
		},
		{
			name:    "zero max tokens",
			mutate:  func(c *Config) { c.Backend.MaxTokens = -1 },
			wantErr: "max_tokens",
		},
		{
			name:    "facility URL without scheme",
			mutate:  func(c *Config) { c.Facility.BaseURL = "localhost:8123" },
			wantErr: "facility.base_url",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Review.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Review.MaxConcurrentTodos = -2 },
			wantErr: "max_concurrent_todos",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name: "events enabled without URL",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.URL = ""
			},
			wantErr: "events.url",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name: "insecure telemetry to remote endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Insecure = true
				c.Telemetry.Endpoint = "collector.example.com:4317"
			},
			wantErr: "insecure telemetry export",
		},
		{
			name: "insecure telemetry to localhost is allowed",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Insecure = true
				c.Telemetry.Endpoint = "localhost:4317"
			},
		},
		{
			name: "bad telemetry protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Protocol = "udp"
			},
			wantErr: "telemetry.protocol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(Duration(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"2m0s"`, string(out))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-real-key")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "sk-real-key", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(out))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestSecret_UnmarshalJSON(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"sk-from-json"`), &s))
	assert.Equal(t, "sk-from-json", s.Value())
}
