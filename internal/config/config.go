// Package config parses the kernel's configuration from environment
// variables using caarlos0/env/v11.
//
// Call [Load] once at startup and pass the resulting [Config] to the
// bootstrap.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

// Queue backends.
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Feature flags ────────────────────────────────────────────────────────
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	QueueEnabled     bool `env:"QUEUE_ENABLED"     envDefault:"true"`

	// ── Scheduler ────────────────────────────────────────────────────────────
	// SchedulerOverlap: "allow" starts every tick, "skip" drops a tick while
	// the previous run of the same task is still going.
	SchedulerOverlap  string `env:"SCHEDULER_OVERLAP"  envDefault:"allow"`
	SchedulerTimezone string `env:"SCHEDULER_TIMEZONE" envDefault:"UTC"`

	// ── Queue ────────────────────────────────────────────────────────────────
	QueueBackend string        `env:"QUEUE_BACKEND" envDefault:"sql"`
	QueueName    string        `env:"QUEUE_NAME"    envDefault:"jobs"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"100ms"`
	RedisURL     string        `env:"REDIS_URL"     envDefault:"redis://localhost:6379/0"`
	// DatabaseDriver: "sqlite" or "postgres".
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN"    envDefault:"kernel.db"`

	// ── Lifecycle ────────────────────────────────────────────────────────────
	DrainTimeout    time.Duration `env:"DRAIN_TIMEOUT"    envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"45s"`
	// GreetUser, when set, dispatches one greeting job at start.
	GreetUser string `env:"GREET_USER"`

	// ── Observability ────────────────────────────────────────────────────────
	// MetricsAddr: empty disables the /metrics listener.
	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses and validates Config from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses and validates Config from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.SchedulerOverlap) {
	case "allow", "skip":
	default:
		errs = append(errs, fmt.Errorf("SCHEDULER_OVERLAP must be allow or skip, got %q", c.SchedulerOverlap))
	}
	if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err))
	}

	switch c.QueueBackend {
	case BackendSQL:
		switch c.DatabaseDriver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be sql or redis, got %q", c.QueueBackend))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, errors.New("DRAIN_TIMEOUT must not be negative"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the scheduler's time zone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SchedulerTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
