package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad scheme", func(c *Config) { c.Backend.BaseURL = "file:///tmp" }, "backend.base_url"},
		{"missing host", func(c *Config) { c.Backend.BaseURL = "https://" }, "missing host"},
		{"bad timeout", func(c *Config) { c.Backend.Timeout = "soon" }, "backend.timeout: invalid duration"},
		{"timeout too short", func(c *Config) { c.Backend.Timeout = "10ms" }, "must be between"},
		{"bad auth url", func(c *Config) { c.OAuth.AuthURL = "login" }, "oauth.auth_url"},
		{"bad log level", func(c *Config) { c.Logging.LogLevel = "verbose" }, "logging.log_level"},
		{"bad log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"bad listen", func(c *Config) { c.Bridge.Listen = "8787" }, "bridge.listen"},
		{"two wildcards", func(c *Config) { c.Bridge.AllowedOrigins = []string{"http://*.*"} }, "more than one wildcard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Timeout = "x"
	cfg.Logging.LogLevel = "x"
	cfg.Bridge.Listen = "x"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.timeout")
	assert.Contains(t, err.Error(), "logging.log_level")
	assert.Contains(t, err.Error(), "bridge.listen")
}

func TestRequireBackend(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.RequireBackend())

	cfg.Backend.BaseURL = "https://cal.example.com"
	assert.NoError(t, cfg.RequireBackend())
}

func TestParseLogLevel(t *testing.T) {
	lvl, ok := ParseLogLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, ok = ParseLogLevel("loud")
	assert.False(t, ok)
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "log_level", closestMatch("loglevel", knownKeys["logging"]))
	assert.Empty(t, closestMatch("completely_different", knownKeys["logging"]))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
