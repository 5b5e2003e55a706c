package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/durable-kernel/internal/config"
	"github.com/jdziat/durable-kernel/internal/definitions"
	"github.com/jdziat/durable-kernel/internal/metrics"
	"github.com/jdziat/durable-kernel/pkg/broker/redisbroker"
	"github.com/jdziat/durable-kernel/pkg/broker/sqlbroker"
	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/queue"
	"github.com/jdziat/durable-kernel/pkg/schedule"
)

// App owns both registers and the broker connection behind the queue.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	schedule *ScheduleRegister
	queue    *QueueRegister
	stats    metrics.StatsFunc
}

// AppOption configures New.
type AppOption func(*appOptions)

type appOptions struct {
	ticker  core.Ticker
	broker  *broker
	deps    *definitions.Deps
	metrics *metrics.Metrics
}

type broker struct {
	client core.Client
	sub    core.Subscriber
	stats  metrics.StatsFunc
}

// WithTicker replaces the cron ticker.
func WithTicker(t core.Ticker) AppOption {
	return func(o *appOptions) { o.ticker = t }
}

// WithBroker replaces the broker opened from configuration. stats may be nil.
func WithBroker(client core.Client, sub core.Subscriber, stats metrics.StatsFunc) AppOption {
	return func(o *appOptions) { o.broker = &broker{client: client, sub: sub, stats: stats} }
}

// WithDeps replaces the side effects of the shipped definitions.
func WithDeps(d definitions.Deps) AppOption {
	return func(o *appOptions) { o.deps = &d }
}

// WithMetrics replaces the metrics registry.
func WithMetrics(m *metrics.Metrics) AppOption {
	return func(o *appOptions) { o.metrics = m }
}

// New builds the kernels from cfg. The broker is opened only when the queue
// is enabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	deps := definitions.DefaultDeps()
	if o.deps != nil {
		deps = *o.deps
	}

	overlap, err := schedule.ParseOverlapPolicy(cfg.SchedulerOverlap)
	if err != nil {
		return nil, err
	}

	var ticker core.Ticker
	if cfg.SchedulerEnabled {
		ticker = o.ticker
		if ticker == nil {
			ticker = schedule.NewCronTicker(
				schedule.WithLocation(cfg.Location()),
				schedule.WithTickerLogger(logger.With("component", "cron")))
		}
	}
	sk := schedule.NewKernel(ticker,
		schedule.WithEnabled(cfg.SchedulerEnabled),
		schedule.WithOverlapPolicy(overlap),
		schedule.WithDrainTimeout(cfg.DrainTimeout),
		schedule.WithLogger(logger.With("component", "schedule")))
	sk.OnOutcome(o.metrics.ObserveOutcome)

	b := o.broker
	if cfg.QueueEnabled && b == nil {
		b, err = openBroker(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	if !cfg.QueueEnabled {
		b = &broker{}
	}

	qk := queue.NewKernel(b.client, b.sub,
		queue.WithEnabled(cfg.QueueEnabled),
		queue.WithDrainTimeout(cfg.DrainTimeout),
		queue.WithLogger(logger.With("component", "queue")))
	qk.OnOutcome(o.metrics.ObserveOutcome)
	qk.OnDispatch(o.metrics.ObserveDispatch)

	if b.stats != nil {
		if err := o.metrics.WatchQueue(cfg.QueueName, b.stats); err != nil {
			logger.Warn("queue depth metric not registered", "error", err)
		}
	}

	tasks := definitions.Tasks(deps)
	for _, def := range tasks {
		o.metrics.Track(core.KindTask, def.Name)
	}
	jobs := definitions.Jobs(deps)
	for _, def := range jobs {
		o.metrics.Track(core.KindJob, def.Name)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  o.metrics,
		schedule: NewScheduleRegister(sk, tasks),
		queue:    NewQueueRegister(qk, jobs, logger.With("component", "queue")),
		stats:    b.stats,
	}, nil
}

func openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*broker, error) {
	logger = logger.With("component", "broker", "backend", cfg.QueueBackend)

	switch cfg.QueueBackend {
	case config.BackendRedis:
		rb, err := redisbroker.Open(ctx, cfg.RedisURL,
			redisbroker.WithQueue(cfg.QueueName),
			redisbroker.WithLogger(logger))
		if err != nil {
			return nil, &core.BrokerError{Op: "connect", Err: err}
		}
		return &broker{client: rb, sub: rb, stats: rb.Stats}, nil

	case config.BackendSQL:
		db, err := sqlbroker.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, &core.BrokerError{Op: "connect", Err: err}
		}
		sb, err := sqlbroker.New(ctx, db,
			sqlbroker.WithQueue(cfg.QueueName),
			sqlbroker.WithPollInterval(cfg.PollInterval),
			sqlbroker.WithLogger(logger))
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, &core.BrokerError{Op: "connect", Err: err}
		}
		return &broker{client: sb, sub: sb, stats: sb.Stats}, nil

	default:
		return nil, fmt.Errorf("bootstrap: unknown queue backend %q", cfg.QueueBackend)
	}
}

// Start activates both subsystems, then submits the greeting job when
// GREET_USER is set. A failed greeting is logged, not returned.
func (a *App) Start(ctx context.Context) error {
	a.schedule.Start()
	if err := a.queue.Start(ctx); err != nil {
		return err
	}

	if user := a.cfg.GreetUser; user != "" {
		payload := definitions.GreetingPayload{User: user}
		if err := a.Dispatch(ctx, string(definitions.MotivationalQuoteJob), payload); err != nil {
			a.logger.Error("greeting dispatch failed", "user", user, "error", err)
		}
	}
	return nil
}

// Dispatch submits a job through the queue kernel.
func (a *App) Dispatch(ctx context.Context, name string, payload any) error {
	return a.queue.Dispatch(ctx, name, payload)
}

// Shutdown stops both subsystems in parallel and returns the first error.
func (a *App) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.schedule.Shutdown(ctx) })
	g.Go(func() error { return a.queue.Shutdown(ctx) })
	return g.Wait()
}

// Stats returns the broker's job counts, or nil when the queue is disabled.
func (a *App) Stats(ctx context.Context) (map[string]int64, error) {
	if a.stats == nil {
		return nil, nil
	}
	return a.stats(ctx)
}

// MetricsHandler serves the Prometheus registry.
func (a *App) MetricsHandler() http.Handler {
	return a.metrics.Handler()
}

// Schedule returns the schedule register.
func (a *App) Schedule() *ScheduleRegister { return a.schedule }

// Queue returns the queue register.
func (a *App) Queue() *QueueRegister { return a.queue }
