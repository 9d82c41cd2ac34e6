// Package config provides configuration types for lms-session.
//
// Configuration is file based (lms-session.yaml) with environment overrides
// under the LMS_SESSION_ prefix. Durations are kept as strings in the file
// and parsed through the accessor methods after validation.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for lms-session.
type Config struct {
	// API configures the LMS backend the gateway talks to.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Session configures the inactivity monitor.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Storage configures where credentials and session flags persist.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Telemetry configures metrics and tracing output.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// DevMode forces debug logging and allows a missing base URL to
	// fall back to the local development backend.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// APIConfig configures the backend endpoints.
type APIConfig struct {
	// BaseURL is the root of the LMS API, e.g. "http://localhost:8000".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	// Timeout bounds a single HTTP exchange (e.g., "30s").
	// Default: "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"duration"`
	// RefreshPath is the token refresh endpoint.
	// Default: "/api/auth/refresh".
	RefreshPath       string `yaml:"refresh_path" mapstructure:"refresh_path" validate:"startswith=/"`
	LoginPath         string `yaml:"login_path" mapstructure:"login_path" validate:"startswith=/"`
	RegisterPath      string `yaml:"register_path" mapstructure:"register_path" validate:"startswith=/"`
	MePath            string `yaml:"me_path" mapstructure:"me_path" validate:"startswith=/"`
	ResetPasswordPath string `yaml:"reset_password_path" mapstructure:"reset_password_path" validate:"startswith=/"`
}

// SessionConfig configures inactivity handling.
type SessionConfig struct {
	// IdleTimeout is the inactivity threshold (e.g., "30m").
	// Default: "30m".
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"duration"`
	// ActivityFilter is an optional CEL expression over kind, target and
	// synthetic. Events for which it evaluates to false do not count as
	// activity. Empty accepts every qualifying event.
	ActivityFilter string `yaml:"activity_filter" mapstructure:"activity_filter"`
}

// StorageConfig configures the persisted key-value store.
type StorageConfig struct {
	// Driver selects the backend: file, sqlite or memory.
	// Default: "file".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"oneof=file sqlite memory"`
	// Path is the session file or SQLite database. Ignored for memory.
	// Default: "./session.json" for file, "./session.db" for sqlite.
	Path string `yaml:"path" mapstructure:"path" validate:"required_unless=Driver memory"`
}

// TelemetryConfig configures observability outputs.
type TelemetryConfig struct {
	// MetricsAddr enables a Prometheus /metrics listener in monitor mode.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	// Trace writes spans to stderr.
	Trace bool `yaml:"trace" mapstructure:"trace"`
	// OTelMetrics mirrors metrics to an OpenTelemetry stdout exporter.
	OTelMetrics bool `yaml:"otel_metrics" mapstructure:"otel_metrics"`
	// OTelInterval is the export interval for OTelMetrics.
	// Default: "1m".
	OTelInterval string `yaml:"otel_interval" mapstructure:"otel_interval" validate:"duration"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.API.Timeout == "" {
		c.API.Timeout = "30s"
	}
	if c.API.RefreshPath == "" {
		c.API.RefreshPath = "/api/auth/refresh"
	}
	if c.API.LoginPath == "" {
		c.API.LoginPath = "/api/auth/login"
	}
	if c.API.RegisterPath == "" {
		c.API.RegisterPath = "/api/auth/register"
	}
	if c.API.MePath == "" {
		c.API.MePath = "/api/auth/me"
	}
	if c.API.ResetPasswordPath == "" {
		c.API.ResetPasswordPath = "/api/auth/reset-password"
	}

	if c.Session.IdleTimeout == "" {
		c.Session.IdleTimeout = "30m"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case "file":
			c.Storage.Path = "./session.json"
		case "sqlite":
			c.Storage.Path = "./session.db"
		}
	}

	if c.Telemetry.OTelInterval == "" {
		c.Telemetry.OTelInterval = "1m"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// SetDevDefaults applies development defaults. Applied before validation
// so a bare dev run needs no config file.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000"
	}
	// An explicit log level in file or env still wins.
	if !viper.IsSet("log_level") {
		c.LogLevel = "debug"
	}
}

// APITimeout returns the parsed API timeout. Call after Validate.
func (c *Config) APITimeout() time.Duration {
	return parseDuration(c.API.Timeout)
}

// IdleTimeout returns the parsed inactivity threshold. Call after Validate.
func (c *Config) IdleTimeout() time.Duration {
	return parseDuration(c.Session.IdleTimeout)
}

// OTelInterval returns the parsed metric export interval. Call after Validate.
func (c *Config) OTelInterval() time.Duration {
	return parseDuration(c.Telemetry.OTelInterval)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
