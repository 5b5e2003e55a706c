package sqlbroker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/durable-kernel/pkg/broker/internal/retry"
)

// DefaultQueue is the queue name used when none is configured.
const DefaultQueue = "jobs"

// Retention bounds how long finished jobs stay in the table.
type Retention struct {
	// CompletedAge removes completed jobs older than this.
	CompletedAge time.Duration
	// CompletedCount keeps at most this many completed jobs.
	CompletedCount int
	// FailedAge removes failed jobs older than this.
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
	WorkerID            string
	PollInterval        time.Duration
	LockDuration        time.Duration
	HeartbeatInterval   time.Duration
	StaleGrace          time.Duration
	MaintenanceInterval time.Duration
	Retention           Retention
	StorageRetry        retry.Config
	ClaimRetry          retry.Config
	Logger              *slog.Logger
	Clock               func() time.Time
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Queue:               DefaultQueue,
		WorkerID:            uuid.New().String(),
		PollInterval:        100 * time.Millisecond,
		LockDuration:        5 * time.Minute,
		HeartbeatInterval:   2 * time.Minute,
		StaleGrace:          0,
		MaintenanceInterval: time.Minute,
		Retention:           DefaultRetention(),
		StorageRetry:        retry.DefaultConfig(),
		ClaimRetry:          retry.ClaimConfig(),
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

// WithWorkerID sets the identity written into job locks.
func WithWorkerID(id string) Option {
	return optionFunc(func(o *Options) {
		if id != "" {
			o.WorkerID = id
		}
	})
}

// WithPollInterval sets how often the worker looks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.PollInterval = d
		}
	})
}

// WithLockDuration sets how long a claim holds a job before it is
// considered abandoned. Heartbeats extend it while the handler runs.
func WithLockDuration(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.LockDuration = d
		}
	})
}

// WithHeartbeatInterval sets how often a running job's lock is extended.
func WithHeartbeatInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d > 0 {
			o.HeartbeatInterval = d
		}
	})
}

// WithStaleGrace delays reclaiming an expired lock by d.
func WithStaleGrace(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d >= 0 {
			o.StaleGrace = d
		}
	})
}

// WithMaintenanceInterval sets how often stale locks are released and
// retention is applied.
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

// WithStorageRetry configures retries for complete, fail and heartbeat.
func WithStorageRetry(cfg retry.Config) Option {
	return optionFunc(func(o *Options) {
		o.StorageRetry = cfg
	})
}

// WithClaimRetry configures retries for claiming the next job.
func WithClaimRetry(cfg retry.Config) Option {
	return optionFunc(func(o *Options) {
		o.ClaimRetry = cfg
	})
}

// DisableRetry makes every storage operation a single attempt.
func DisableRetry() Option {
	return optionFunc(func(o *Options) {
		o.StorageRetry = retry.Disabled()
		o.ClaimRetry = retry.Disabled()
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

// WithClock replaces time.Now for scheduling and locking.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	})
}
