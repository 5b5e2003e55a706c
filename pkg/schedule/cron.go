package schedule

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdziat/durable-kernel/pkg/core"
)

var _ core.Ticker = (*CronTicker)(nil)

// CronTicker creates one independent robfig/cron runner per timer, so each
// task can be started and stopped on its own.
type CronTicker struct {
	location *time.Location
	logger   *slog.Logger
}

// TickerOption configures a CronTicker.
type TickerOption func(*CronTicker)

// WithLocation evaluates expressions in loc instead of the local time zone.
func WithLocation(loc *time.Location) TickerOption {
	return func(t *CronTicker) {
		if loc != nil {
			t.location = loc
		}
	}
}

// WithTickerLogger routes the cron runner's own diagnostics to l.
func WithTickerLogger(l *slog.Logger) TickerOption {
	return func(t *CronTicker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewCronTicker creates a CronTicker.
func NewCronTicker(opts ...TickerOption) *CronTicker {
	t := &CronTicker{
		location: time.Local,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Schedule parses spec and returns a stopped timer that calls fn on each
// activation once started.
func (t *CronTicker) Schedule(spec string, fn func()) (core.Timer, error) {
	sched, err := Parse(spec)
	if err != nil {
		return nil, err
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(t.location),
		cron.WithLogger(cronLogger{l: t.logger}),
	)
	c.Schedule(sched, cron.FuncJob(fn))

	return &cronTimer{cron: c}, nil
}

type cronTimer struct {
	cron *cron.Cron
}

// Start is a no-op when the timer is already running.
func (t *cronTimer) Start() { t.cron.Start() }

// Stop prevents further activations. It does not wait for a running
// callback; the kernel tracks those itself.
func (t *cronTimer) Stop() { t.cron.Stop() }

// cronLogger adapts slog to cron.Logger. The runner's info output is
// per-wakeup noise, so it goes to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
