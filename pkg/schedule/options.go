package schedule

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// OverlapPolicy decides what happens when a task's timer fires while its
// previous run is still going.
type OverlapPolicy int

const (
	// AllowOverlap starts a new run regardless.
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning drops the tick and records a skipped outcome.
	SkipIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case SkipIfRunning:
		return "skip"
	default:
		return "allow"
	}
}

// ParseOverlapPolicy accepts "allow" or "skip".
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return AllowOverlap, nil
	case "skip":
		return SkipIfRunning, nil
	default:
		return AllowOverlap, fmt.Errorf("schedule: unknown overlap policy %q", s)
	}
}

// DefaultDrainTimeout bounds how long Shutdown waits for running ticks.
const DefaultDrainTimeout = 30 * time.Second

// Options holds Kernel configuration.
type Options struct {
	Logger       *slog.Logger
	Enabled      bool
	Overlap      OverlapPolicy
	DrainTimeout time.Duration
	Clock        func() time.Time
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Logger:       slog.Default(),
		Enabled:      true,
		Overlap:      AllowOverlap,
		DrainTimeout: DefaultDrainTimeout,
		Clock:        time.Now,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithLogger sets the kernel logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}

// WithEnabled turns the scheduler on or off. A disabled kernel never
// touches its ticker.
func WithEnabled(enabled bool) Option {
	return optionFunc(func(o *Options) {
		o.Enabled = enabled
	})
}

// WithOverlapPolicy sets the overlap policy for every task.
func WithOverlapPolicy(p OverlapPolicy) Option {
	return optionFunc(func(o *Options) {
		o.Overlap = p
	})
}

// WithDrainTimeout bounds how long Shutdown waits for running ticks.
// Zero or negative means do not wait: running ticks are cancelled.
func WithDrainTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.DrainTimeout = d
	})
}

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	})
}
