package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minTimeout = 1 * time.Second
	maxTimeout = 10 * time.Minute
)

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBackend(&cfg.Backend)...)
	errs = append(errs, validateOAuth(&cfg.OAuth)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateBridge(&cfg.Bridge)...)

	return errors.Join(errs...)
}

// RequireBackend reports an error when no backend URL is configured.
// Commands that talk to the backend call it; offline commands do not.
func (c *Config) RequireBackend() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is not set (config file or %s)", EnvBackendURL)
	}

	return nil
}

// Timeout returns the parsed backend timeout.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil {
		return 0
	}

	return d
}

func validateBackend(b *BackendConfig) []error {
	var errs []error

	if b.BaseURL != "" {
		if err := validateHTTPURL(b.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
		}
	}

	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("backend.timeout: invalid duration %q", b.Timeout))
	} else if d < minTimeout || d > maxTimeout {
		errs = append(errs, fmt.Errorf("backend.timeout: must be between %s and %s, got %s",
			minTimeout, maxTimeout, d))
	}

	return errs
}

func validateOAuth(o *OAuthConfig) []error {
	var errs []error

	if o.AuthURL != "" {
		if err := validateHTTPURL(o.AuthURL); err != nil {
			errs = append(errs, fmt.Errorf("oauth.auth_url: %w", err))
		}
	}

	if o.RedirectURL != "" {
		if _, err := url.Parse(o.RedirectURL); err != nil {
			errs = append(errs, fmt.Errorf("oauth.redirect_url: %w", err))
		}
	}

	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, ok := ParseLogLevel(l.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q",
			l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q",
			l.LogFormat))
	}

	return errs
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// ParseLogLevel maps a config log level to a slog level.
func ParseLogLevel(level string) (slog.Level, bool) {
	switch level {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func validateBridge(b *BridgeConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(b.Listen); err != nil {
		errs = append(errs, fmt.Errorf("bridge.listen: %w", err))
	}

	for _, o := range b.AllowedOrigins {
		if strings.Count(o, "*") > 1 {
			errs = append(errs, fmt.Errorf("bridge.allowed_origins: %q has more than one wildcard", o))
		}
	}

	return errs
}
