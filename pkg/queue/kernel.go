package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/internal/drain"
	"github.com/jdziat/durable-kernel/pkg/security"
)

// DispatchHook observes every accepted or rejected submission.
type DispatchHook func(ctx context.Context, name string, err error)

// Kernel routes broker deliveries to registered jobs and submits new jobs.
type Kernel struct {
	client core.Client
	sub    core.Subscriber
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	jobs       map[string]core.JobDefinition
	order      []string
	hooks      []core.OutcomeHook
	onDispatch []DispatchHook

	state        core.WorkerState
	subscription core.Subscription
	registering  bool
	shutdown     bool
	stopping     bool
	clientClosed bool

	inflight drain.Group

	// runCtx is cancelled when a drain times out; every handler context
	// follows it.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewKernel creates a Kernel. client and sub are usually the same broker
// connection. Both may be nil when the kernel is disabled.
func NewKernel(client core.Client, sub core.Subscriber, opts ...Option) *Kernel {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Kernel{
		client:    client,
		sub:       sub,
		opts:      *o,
		logger:    o.Logger,
		jobs:      make(map[string]core.JobDefinition),
		state:     core.WorkerAbsent,
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// AddJob adds def to the registry. Invalid definitions and duplicate names
// are logged and dropped; the first definition for a name wins.
func (k *Kernel) AddJob(def core.JobDefinition) {
	if err := def.Validate(); err != nil {
		k.logger.Warn("invalid job skipped", "job", def.Name, "error", err)
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.jobs[def.Name]; exists {
		k.logger.Warn("invalid job skipped", "job", def.Name,
			"error", fmt.Errorf("%w: duplicate name %s", core.ErrDefinitionInvalid, def.Name))
		return
	}
	k.jobs[def.Name] = def
	k.order = append(k.order, def.Name)
}

// Jobs returns the registered job names in the order they were added.
func (k *Kernel) Jobs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, len(k.order))
	copy(names, k.order)
	return names
}

// HasJob reports whether a handler is registered for name.
func (k *Kernel) HasJob(name string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.jobs[name]
	return ok
}

// OnOutcome registers a callback for every delivery outcome.
func (k *Kernel) OnOutcome(fn core.OutcomeHook) {
	k.mu.Lock()
	k.hooks = append(k.hooks, fn)
	k.mu.Unlock()
}

// OnDispatch registers a callback for every Dispatch that reached the
// validation stage.
func (k *Kernel) OnDispatch(fn DispatchHook) {
	k.mu.Lock()
	k.onDispatch = append(k.onDispatch, fn)
	k.mu.Unlock()
}

// State returns the worker lifecycle state.
func (k *Kernel) State() core.WorkerState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Enabled reports whether the kernel was constructed enabled.
func (k *Kernel) Enabled() bool {
	return k.opts.Enabled
}

// Register attaches exactly one worker to the broker. It returns a
// BrokerError when the broker refuses the subscription.
func (k *Kernel) Register(ctx context.Context) error {
	if !k.opts.Enabled {
		k.logger.Info("queue disabled by configuration, skipping worker registration")
		return nil
	}

	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		k.logger.Error("queue kernel register after shutdown", "error", core.ErrShutdown)
		return nil
	}
	if k.registering || k.state != core.WorkerAbsent {
		k.mu.Unlock()
		k.logger.Error("queue kernel register called twice", "error", core.ErrAlreadyRegistered)
		return nil
	}
	k.registering = true
	jobs := len(k.jobs)
	k.mu.Unlock()

	// The lock is released here: a subscription may deliver before
	// Subscribe returns.
	subscription, err := k.sub.Subscribe(ctx, k.deliver)

	k.mu.Lock()
	k.registering = false
	if err != nil {
		k.mu.Unlock()
		return core.NewBrokerError("subscribe", err)
	}

	// Shutdown ran while Subscribe was in progress and has already closed
	// the client, so nobody else will close this worker.
	if k.shutdown {
		k.state = core.WorkerClosed
		k.mu.Unlock()
		k.logger.Error("queue kernel shut down during register, closing worker", "error", core.ErrShutdown)
		if err := subscription.Close(ctx); err != nil {
			return core.NewBrokerError("close worker", err)
		}
		return nil
	}

	k.subscription = subscription
	k.state = core.WorkerActive
	k.mu.Unlock()
	k.logger.Info("queue worker registered", "jobs", jobs)
	return nil
}

// Boot confirms the worker is running. It has nothing to start itself:
// the subscription begins consuming as soon as Register returns.
func (k *Kernel) Boot() {
	if !k.opts.Enabled {
		k.logger.Info("queue disabled by configuration, boot skipped")
		return
	}

	k.mu.RLock()
	state := k.state
	k.mu.RUnlock()

	if state != core.WorkerActive {
		k.logger.Error("queue kernel boot failed", "state", state.String(), "error", core.ErrNotRegistered)
		return
	}
	k.logger.Info("queue worker active")
}

// Dispatch submits a job. payload is JSON-encoded unless it already is a
// json.RawMessage or []byte. Dispatch returns once the broker has accepted
// the job; it never checks the local registry because another process may
// own the handler.
func (k *Kernel) Dispatch(ctx context.Context, name string, payload any) error {
	if !k.opts.Enabled {
		k.logger.Info("queue disabled by configuration, dispatch skipped", "job", name)
		return nil
	}

	err := k.dispatch(ctx, name, payload)
	k.mu.RLock()
	hooks := make([]DispatchHook, len(k.onDispatch))
	copy(hooks, k.onDispatch)
	k.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, name, err)
	}
	return err
}

func (k *Kernel) dispatch(ctx context.Context, name string, payload any) error {
	if err := security.ValidateName(name); err != nil {
		return err
	}

	body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	k.mu.RLock()
	closed := k.clientClosed
	k.mu.RUnlock()
	if closed {
		return core.NewBrokerError("enqueue", core.ErrShutdown)
	}

	id, err := k.client.Enqueue(ctx, name, body, k.opts.Enqueue)
	if err != nil {
		k.logger.Error("job dispatch failed", "job", name, "error", err)
		return core.NewBrokerError("enqueue", err)
	}

	k.logger.Info("job dispatched", "job", name, "id", id)
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	var body []byte
	switch p := payload.(type) {
	case nil:
		body = []byte("null")
	case json.RawMessage:
		body = p
	case []byte:
		body = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
		}
		body = b
	}

	if len(body) > 0 && !json.Valid(body) {
		return nil, fmt.Errorf("%w: not valid JSON", core.ErrInvalidPayload)
	}
	if err := security.ValidatePayload(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Shutdown closes the worker, waits for the delivery in flight, then closes
// the broker client. It is safe before Register and safe to call twice.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if !k.opts.Enabled {
		return nil
	}

	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return nil
	}
	k.shutdown = true
	subscription := k.subscription
	if subscription != nil {
		k.state = core.WorkerClosing
	}
	k.mu.Unlock()

	k.logger.Info("shutting down queue kernel")

	var errs []error
	if subscription != nil {
		if err := subscription.Close(ctx); err != nil {
			errs = append(errs, core.NewBrokerError("close worker", err))
		}
	}

	k.mu.Lock()
	k.stopping = true
	k.mu.Unlock()

	if err := k.inflight.Wait(ctx, k.opts.DrainTimeout); err != nil {
		k.cancelRun()
		errs = append(errs, err)
	}

	k.mu.Lock()
	if subscription != nil {
		k.state = core.WorkerClosed
	}
	k.clientClosed = true
	k.mu.Unlock()

	if k.client != nil {
		if err := k.client.Close(ctx); err != nil {
			errs = append(errs, core.NewBrokerError("close client", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		k.logger.Error("queue kernel shutdown incomplete", "error", err)
		return err
	}
	k.logger.Info("queue kernel shutdown completed")
	return nil
}

// deliver is the worker callback. It completes every delivery it accepts:
// unknown names and handler failures are logged, never returned.
func (k *Kernel) deliver(ctx context.Context, d *core.Delivery) error {
	k.mu.Lock()
	if k.stopping {
		k.mu.Unlock()
		return core.ErrShutdown
	}
	k.inflight.Add(1)
	def, ok := k.jobs[d.Name]
	k.mu.Unlock()
	defer k.inflight.Done()

	if !ok {
		k.logger.Error("unknown job", "job", d.Name, "id", d.ID, "error", core.ErrUnknownJob)
		k.report(ctx, core.Outcome{
			Kind:    core.KindJob,
			Name:    d.Name,
			Started: k.opts.Clock(),
			Unknown: true,
		})
		return nil
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(k.runCtx, cancel)
	defer stop()

	o := core.Run(hctx, core.KindJob, d.Name, k.opts.Clock, func(ctx context.Context) error {
		return def.Handle(ctx, d.Payload)
	})
	if o.Err != nil {
		k.logger.Error("job failed", "job", d.Name, "id", d.ID, "attempt", d.Attempt,
			"elapsed", o.Elapsed.Round(time.Millisecond), "error", o.Err)
	} else {
		k.logger.Info("job executed", "job", d.Name, "id", d.ID,
			"elapsed", o.Elapsed.Round(time.Millisecond))
	}
	k.report(ctx, o)
	return nil
}

func (k *Kernel) report(ctx context.Context, o core.Outcome) {
	k.mu.RLock()
	hooks := make([]core.OutcomeHook, len(k.hooks))
	copy(hooks, k.hooks)
	k.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, o)
	}
}
