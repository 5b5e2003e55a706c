package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/security"
)

// DefaultDrainTimeout bounds how long Shutdown waits for the delivery in
// flight once the worker is closed.
const DefaultDrainTimeout = 30 * time.Second

// Options holds Kernel configuration.
type Options struct {
	Logger       *slog.Logger
	Enabled      bool
	Enqueue      core.EnqueueOptions
	DrainTimeout time.Duration
	Clock        func() time.Time
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Logger:       slog.Default(),
		Enabled:      true,
		Enqueue:      core.DefaultEnqueueOptions(),
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

// WithEnabled turns the queue on or off. A disabled kernel never contacts
// the broker.
func WithEnabled(enabled bool) Option {
	return optionFunc(func(o *Options) {
		o.Enabled = enabled
	})
}

// WithEnqueueOptions overrides the submission policy used by Dispatch.
// Attempts are clamped to [1, security.MaxAttempts].
func WithEnqueueOptions(eo core.EnqueueOptions) Option {
	return optionFunc(func(o *Options) {
		eo.Attempts = security.ClampAttempts(eo.Attempts)
		if eo.Backoff.Type == "" {
			eo.Backoff.Type = core.BackoffExponential
		}
		o.Enqueue = eo
	})
}

// WithDrainTimeout bounds how long Shutdown waits for running deliveries.
// Zero or negative means do not wait: running deliveries are cancelled.
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
