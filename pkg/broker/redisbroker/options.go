package redisbroker

import (
	"log/slog"
	"time"

	"github.com/jdziat/durable-kernel/pkg/broker/internal/retry"
)

// Defaults.
const (
	DefaultQueue  = "jobs"
	DefaultPrefix = "kernel"
)

// Retention bounds how long finished jobs are kept.
type Retention struct {
	// CompletedAge is the TTL of a completed job kept with RemoveOnComplete false.
	CompletedAge time.Duration
	// CompletedCount keeps at most this many completed jobs.
	CompletedCount int
	// FailedAge is the TTL of a job whose attempts are exhausted.
	FailedAge time.Duration
}

// DefaultRetention keeps completed jobs for an hour (at most 1000 of them)
// and failed jobs for a day.
func DefaultRetention() Retention {
	return Retention{
		CompletedAge:   time.Hour,
		CompletedCount: 1000,
		FailedAge:      24 * time.Hour,
	}
}

// Options holds Broker configuration.
type Options struct {
	Queue               string
	Prefix              string
	PollTimeout         time.Duration
	PromoteBatch        int
	MaintenanceInterval time.Duration
	Retention           Retention
	StorageRetry        retry.Config
	Logger              *slog.Logger
	Clock               func() time.Time
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Queue:               DefaultQueue,
		Prefix:              DefaultPrefix,
		PollTimeout:         time.Second,
		PromoteBatch:        100,
		MaintenanceInterval: time.Minute,
		Retention:           DefaultRetention(),
		StorageRetry:        retry.DefaultConfig(),
		Logger:              slog.Default(),
		Clock:               time.Now,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithQueue sets the queue the broker submits to and consumes from.
func WithQueue(name string) Option {
	return optionFunc(func(o *Options) {
		if name != "" {
			o.Queue = name
		}
	})
}

// WithPrefix sets the first segment of every key.
func WithPrefix(prefix string) Option {
	return optionFunc(func(o *Options) {
		if prefix != "" {
			o.Prefix = prefix
		}
	})
}

// WithPollTimeout sets how long one blocking wait for a job lasts. It also
// bounds how late a delayed retry is promoted and how long Close may wait
// for an idle worker.
func WithPollTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.PollTimeout = d
		}
	})
}

// WithMaintenanceInterval sets how often retention is applied.
func WithMaintenanceInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.MaintenanceInterval = d
		}
	})
}

// WithRetention replaces the finished-job retention policy.
func WithRetention(r Retention) Option {
	return optionFunc(func(o *Options) {
		o.Retention = r
	})
}

// WithStorageRetry configures retries for recording a delivery's result.
func WithStorageRetry(cfg retry.Config) Option {
	return optionFunc(func(o *Options) {
		o.StorageRetry = cfg
	})
}

// WithLogger sets the broker logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}

// WithClock replaces time.Now for retry scores and timestamps.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	})
}
