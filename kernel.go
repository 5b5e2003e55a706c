// Package kernel runs recurring tasks on cron expressions and durable
// background jobs through a broker.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages.
//
// Basic usage:
//
//	// Recurring tasks
//	sk := kernel.NewScheduleKernel(kernel.NewCronTicker())
//	sk.AddScheduler(kernel.TaskDefinition{
//	    Name: "cleanup",
//	    Cron: kernel.Every(time.Minute),
//	    Handle: func(ctx context.Context) error { return cleanup(ctx) },
//	})
//	sk.Register()
//	sk.Boot()
//
//	// Durable jobs on SQLite
//	db, _ := kernel.OpenSQL(kernel.DriverSQLite, "jobs.db")
//	broker, _ := kernel.NewSQLBroker(ctx, db)
//	qk := kernel.NewQueueKernel(broker, broker)
//	qk.AddJob(kernel.MustTypedJob("send-email", func(ctx context.Context, to string) error {
//	    return sendEmail(ctx, to)
//	}))
//	qk.Register(ctx)
//	qk.Boot()
//	qk.Dispatch(ctx, "send-email", "user@example.com")
//
//	// On exit
//	sk.Shutdown(ctx)
//	qk.Shutdown(ctx)
package kernel

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/jdziat/durable-kernel/pkg/broker/redisbroker"
	"github.com/jdziat/durable-kernel/pkg/broker/sqlbroker"
	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/queue"
	"github.com/jdziat/durable-kernel/pkg/schedule"
	"github.com/jdziat/durable-kernel/pkg/security"
)

type (
	// TaskDefinition is a named unit of recurring work.
	TaskDefinition = core.TaskDefinition

	// JobDefinition is a named handler for queued work.
	JobDefinition = core.JobDefinition

	// TaskFunc is the body of a recurring task.
	TaskFunc = core.TaskFunc

	// JobFunc is the body of a queued job.
	JobFunc = core.JobFunc

	// Delivery is one execution of a queued job.
	Delivery = core.Delivery

	// Outcome is the result of one tick or delivery.
	Outcome = core.Outcome

	// OutcomeHook observes outcomes.
	OutcomeHook = core.OutcomeHook

	// EnqueueOptions are the delivery guarantees requested for one submission.
	EnqueueOptions = core.EnqueueOptions

	// Backoff is the broker-side retry delay policy.
	Backoff = core.Backoff

	// Ticker turns a schedule expression into a Timer.
	Ticker = core.Ticker

	// Timer is a live schedule bound to one task.
	Timer = core.Timer

	// Client submits jobs to a durable broker.
	Client = core.Client

	// Subscriber attaches a worker to the broker's work stream.
	Subscriber = core.Subscriber

	// Subscription is a running worker.
	Subscription = core.Subscription

	// WorkerState is the lifecycle state of a queue kernel's worker.
	WorkerState = core.WorkerState

	// BrokerError is the only error class returned by Dispatch and Shutdown.
	BrokerError = core.BrokerError

	// PanicError carries a recovered handler panic.
	PanicError = core.PanicError

	// ScheduleKernel runs registered tasks on their cron expressions.
	ScheduleKernel = schedule.Kernel

	// ScheduleOption configures a ScheduleKernel.
	ScheduleOption = schedule.Option

	// OverlapPolicy decides what happens when a tick overlaps a running one.
	OverlapPolicy = schedule.OverlapPolicy

	// CronTicker is the robfig/cron backed Ticker.
	CronTicker = schedule.CronTicker

	// QueueKernel submits jobs and runs the single delivery worker.
	QueueKernel = queue.Kernel

	// QueueOption configures a QueueKernel.
	QueueOption = queue.Option

	// SQLBroker is the GORM backed broker.
	SQLBroker = sqlbroker.Broker

	// RedisBroker is the Redis backed broker.
	RedisBroker = redisbroker.Broker
)

// Backoff types
const (
	BackoffFixed       = core.BackoffFixed
	BackoffExponential = core.BackoffExponential
)

// Overlap policies
const (
	AllowOverlap  = schedule.AllowOverlap
	SkipIfRunning = schedule.SkipIfRunning
)

// Worker states
const (
	WorkerAbsent  = core.WorkerAbsent
	WorkerActive  = core.WorkerActive
	WorkerClosing = core.WorkerClosing
	WorkerClosed  = core.WorkerClosed
)

// SQL drivers
const (
	DriverSQLite   = sqlbroker.DriverSQLite
	DriverPostgres = sqlbroker.DriverPostgres
)

// Security limits
const (
	MaxNameLength         = security.MaxNameLength
	MaxPayloadSize        = security.MaxPayloadSize
	MaxAttempts           = security.MaxAttempts
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrDefinitionInvalid = core.ErrDefinitionInvalid
	ErrUnknownJob        = core.ErrUnknownJob
	ErrNotRegistered     = core.ErrNotRegistered
	ErrAlreadyRegistered = core.ErrAlreadyRegistered
	ErrDrainTimeout      = core.ErrDrainTimeout
	ErrShutdown          = core.ErrShutdown
	ErrInvalidName       = core.ErrInvalidName
	ErrNameTooLong       = core.ErrNameTooLong
	ErrInvalidPayload    = core.ErrInvalidPayload
)

// NewScheduleKernel creates a schedule kernel. ticker may be nil when the
// kernel is disabled.
func NewScheduleKernel(ticker Ticker, opts ...ScheduleOption) *ScheduleKernel {
	return schedule.NewKernel(ticker, opts...)
}

// NewCronTicker creates the default Ticker.
func NewCronTicker(opts ...schedule.TickerOption) *CronTicker {
	return schedule.NewCronTicker(opts...)
}

// NewQueueKernel creates a queue kernel. Both may be nil when the kernel is
// disabled.
func NewQueueKernel(client Client, sub Subscriber, opts ...QueueOption) *QueueKernel {
	return queue.NewKernel(client, sub, opts...)
}

// TypedJob builds a JobDefinition whose payload is decoded into fn's
// argument type.
func TypedJob(name string, fn any) (JobDefinition, error) {
	return queue.TypedJob(name, fn)
}

// MustTypedJob is like TypedJob but panics on an invalid handler.
func MustTypedJob(name string, fn any) JobDefinition {
	return queue.MustTypedJob(name, fn)
}

// DefaultEnqueueOptions returns three attempts with exponential backoff
// from 2s and removal on completion.
func DefaultEnqueueOptions() EnqueueOptions {
	return core.DefaultEnqueueOptions()
}

// OpenSQL connects to a SQLite or PostgreSQL database for the SQL broker.
func OpenSQL(driver, dsn string, opts ...sqlbroker.PoolOption) (*gorm.DB, error) {
	return sqlbroker.Open(driver, dsn, opts...)
}

// NewSQLBroker creates a broker on db and migrates its table.
func NewSQLBroker(ctx context.Context, db *gorm.DB, opts ...sqlbroker.Option) (*SQLBroker, error) {
	return sqlbroker.New(ctx, db, opts...)
}

// NewRedisBroker creates a broker on an existing Redis client.
func NewRedisBroker(rdb goredis.UniversalClient, opts ...redisbroker.Option) (*RedisBroker, error) {
	return redisbroker.New(rdb, opts...)
}

// OpenRedisBroker connects to url and creates a broker on it.
func OpenRedisBroker(ctx context.Context, url string, opts ...redisbroker.Option) (*RedisBroker, error) {
	return redisbroker.Open(ctx, url, opts...)
}

// Every returns a cron expression firing every d.
func Every(d time.Duration) string {
	return schedule.Every(d)
}

// Daily returns a cron expression firing once a day at hour:minute.
func Daily(hour, minute int) string {
	return schedule.Daily(hour, minute)
}

// Weekly returns a cron expression firing once a week.
func Weekly(day time.Weekday, hour, minute int) string {
	return schedule.Weekly(day, hour, minute)
}

// ValidateCron reports whether expr is a schedule expression the cron
// ticker accepts.
func ValidateCron(expr string) error {
	return schedule.Validate(expr)
}

// IsBrokerError reports whether err is or wraps a BrokerError.
func IsBrokerError(err error) bool {
	return core.IsBrokerError(err)
}
