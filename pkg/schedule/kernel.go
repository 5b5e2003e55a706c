package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/internal/drain"
)

// Kernel runs every registered TaskDefinition on its cron expression.
// A failing task never stops its own timer or anyone else's.
type Kernel struct {
	ticker core.Ticker
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	definitions []core.TaskDefinition
	timers      []*liveTimer
	hooks       []core.OutcomeHook
	registered  bool
	booted      bool
	stopping    bool

	inflight drain.Group

	// runCtx is handed to every task; cancelled only when a drain times out.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

type liveTimer struct {
	def     core.TaskDefinition
	timer   core.Timer
	running atomic.Bool
}

// NewKernel creates a Kernel that binds timers through ticker.
// ticker may be nil when the kernel is disabled.
func NewKernel(ticker core.Ticker, opts ...Option) *Kernel {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Kernel{
		ticker:    ticker,
		opts:      *o,
		logger:    o.Logger,
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// AddScheduler appends def to the registry. Definitions added after
// Register are kept but never bound to a timer.
func (k *Kernel) AddScheduler(def core.TaskDefinition) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.definitions = append(k.definitions, def)
}

// OnOutcome registers a callback for every tick outcome.
func (k *Kernel) OnOutcome(fn core.OutcomeHook) {
	k.mu.Lock()
	k.hooks = append(k.hooks, fn)
	k.mu.Unlock()
}

// Register creates one timer per valid definition. Invalid definitions
// and expressions the ticker rejects are skipped with a warning.
func (k *Kernel) Register() {
	if !k.opts.Enabled {
		k.logger.Info("scheduler disabled by configuration, skipping registration")
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.registered {
		k.logger.Error("schedule kernel register called twice", "error", core.ErrAlreadyRegistered)
		return
	}

	k.logger.Info("registering schedules", "count", len(k.definitions))

	seen := make(map[string]bool, len(k.definitions))
	for _, def := range k.definitions {
		if err := def.Validate(); err != nil {
			k.logger.Warn("invalid scheduler skipped", "task", def.Name, "cron", def.Cron, "error", err)
			continue
		}
		if seen[def.Name] {
			k.logger.Warn("invalid scheduler skipped", "task", def.Name, "cron", def.Cron,
				"error", fmt.Errorf("%w: duplicate name %s", core.ErrDefinitionInvalid, def.Name))
			continue
		}

		lt := &liveTimer{def: def}
		timer, err := k.ticker.Schedule(def.Cron, func() { k.tick(lt) })
		if err != nil {
			k.logger.Warn("invalid scheduler skipped", "task", def.Name, "cron", def.Cron,
				"error", fmt.Errorf("%w: %w", core.ErrDefinitionInvalid, err))
			continue
		}
		lt.timer = timer

		seen[def.Name] = true
		k.timers = append(k.timers, lt)
		k.logger.Info("scheduled", "task", def.Name, "cron", def.Cron)
	}

	k.registered = true
}

// Boot starts every timer. Calling it before Register logs an error and
// does nothing.
func (k *Kernel) Boot() {
	if !k.opts.Enabled {
		k.logger.Info("scheduler disabled by configuration, boot skipped")
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.registered {
		k.logger.Error("schedule kernel boot failed", "error", core.ErrNotRegistered)
		return
	}
	if k.booted || k.stopping {
		return
	}

	for _, lt := range k.timers {
		lt.timer.Start()
	}
	k.booted = true
	k.logger.Info("all schedulers booted", "timers", len(k.timers))
}

// Shutdown stops every timer, then waits for running ticks up to the drain
// timeout or ctx's deadline. If work is still running afterwards its
// context is cancelled and ErrDrainTimeout is returned. Shutdown is safe
// to call before Boot and more than once.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if !k.opts.Enabled {
		return nil
	}

	k.mu.Lock()
	first := !k.stopping
	k.stopping = true
	timers := k.timers
	k.mu.Unlock()

	if first {
		k.logger.Info("shutting down all schedulers", "timers", len(timers))
	}
	for _, lt := range timers {
		lt.timer.Stop()
	}

	if err := k.inflight.Wait(ctx, k.opts.DrainTimeout); err != nil {
		k.cancelRun()
		k.logger.Error("schedule kernel shutdown incomplete", "error", err)
		return err
	}

	if first {
		k.logger.Info("schedule kernel shutdown completed")
	}
	return nil
}

// Timers returns the number of live timers.
func (k *Kernel) Timers() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.timers)
}

// Registered reports whether Register has run.
func (k *Kernel) Registered() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.registered
}

// Enabled reports whether the kernel was constructed enabled.
func (k *Kernel) Enabled() bool {
	return k.opts.Enabled
}

func (k *Kernel) tick(lt *liveTimer) {
	k.mu.Lock()
	if k.stopping {
		k.mu.Unlock()
		return
	}
	k.inflight.Add(1)
	k.mu.Unlock()
	defer k.inflight.Done()

	if k.opts.Overlap == SkipIfRunning {
		if !lt.running.CompareAndSwap(false, true) {
			k.report(core.Outcome{
				Kind:    core.KindTask,
				Name:    lt.def.Name,
				Started: k.opts.Clock(),
				Skipped: true,
			})
			return
		}
		defer lt.running.Store(false)
	}

	k.report(core.Run(k.runCtx, core.KindTask, lt.def.Name, k.opts.Clock, func(ctx context.Context) error {
		return lt.def.Handle(ctx)
	}))
}

func (k *Kernel) report(o core.Outcome) {
	switch {
	case o.Skipped:
		k.logger.Info("task still running, tick skipped", "task", o.Name)
	case o.Err != nil:
		k.logger.Error("task failed", "task", o.Name, "elapsed", o.Elapsed.Round(time.Millisecond), "error", o.Err)
	default:
		k.logger.Info("task executed", "task", o.Name, "elapsed", o.Elapsed.Round(time.Millisecond))
	}

	k.mu.RLock()
	hooks := make([]core.OutcomeHook, len(k.hooks))
	copy(hooks, k.hooks)
	k.mu.RUnlock()

	for _, fn := range hooks {
		fn(k.runCtx, o)
	}
}
