// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for engram.
package config

import (
	"fmt"
	"time"

	"github.com/engramdev/engram/internal/engine"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Engine  engine.Config `yaml:"engine"`
	Gateway GatewayConfig `yaml:"gateway"`
	Cron    CronConfig    `yaml:"cron"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Empty means text.
	Format string `yaml:"format"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Path is the SQLite database file. Empty runs the in-memory store
	// (contents are lost on restart; useful for development).
	Path string `yaml:"path"`
}

// GatewayConfig controls the HTTP API.
type GatewayConfig struct {
	// Addr is the listen address, e.g. ":8080". Empty disables the
	// gateway.
	Addr string `yaml:"addr"`

	// AuthToken protects the API. Empty allows unauthenticated access;
	// only sensible behind a trusted proxy.
	AuthToken string `yaml:"auth_token"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CronConfig controls the background jobs.
type CronConfig struct {
	// Enabled turns the scheduler on. Default false: one-shot deployments
	// run compression via the CLI instead.
	Enabled bool `yaml:"enabled"`

	// CompressionSchedule is the sweep's cron expression. Empty means
	// hourly.
	CompressionSchedule string `yaml:"compression_schedule"`

	// CleanupSchedule is the access-log retention job's cron expression.
	// Empty means daily at 03:30.
	CleanupSchedule string `yaml:"cleanup_schedule"`

	// AccessRetention is how long access records are kept. Zero means
	// 90 days.
	AccessRetention time.Duration `yaml:"access_retention"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/HTTP collector, e.g. "localhost:4318".
	Endpoint string `yaml:"endpoint"`
}

// Validate checks the whole config tree.
func (c *Config) Validate() error {
	if c.Version != "" && c.Version != "1" {
		return fmt.Errorf("config: unsupported version %q", c.Version)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Cron.AccessRetention < 0 {
		return fmt.Errorf("config: access_retention must not be negative")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("config: tracing enabled without an endpoint")
	}
	return c.Engine.Validate()
}
