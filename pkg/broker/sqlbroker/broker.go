package sqlbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/security"
)

var (
	_ core.Client     = (*Broker)(nil)
	_ core.Subscriber = (*Broker)(nil)
)

// ErrClosed is returned by operations on a closed Broker.
var ErrClosed = errors.New("sqlbroker: broker closed")

// ErrAlreadySubscribed is returned when a second worker is attached.
var ErrAlreadySubscribed = errors.New("sqlbroker: worker already subscribed")

// Broker is a durable job broker backed by a SQL table through GORM.
// It is both the submission client and the worker subscriber for one queue.
type Broker struct {
	db     *gorm.DB
	store  *store
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	subscribed bool
}

// New creates a Broker on db and migrates its table.
func New(ctx context.Context, db *gorm.DB, opts ...Option) (*Broker, error) {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	if err := security.ValidateName(o.Queue); err != nil {
		return nil, fmt.Errorf("sqlbroker: queue %q: %w", o.Queue, err)
	}

	b := &Broker{
		db:     db,
		store:  newStore(db, o.Queue, o.Clock),
		opts:   *o,
		logger: o.Logger.With("queue", o.Queue),
	}

	if err := b.store.migrate(ctx); err != nil {
		return nil, fmt.Errorf("sqlbroker: migrate: %w", err)
	}
	return b, nil
}

// Queue returns the queue name.
func (b *Broker) Queue() string {
	return b.opts.Queue
}

// Enqueue stores a pending job and returns its id once the insert commits.
func (b *Broker) Enqueue(ctx context.Context, name string, payload json.RawMessage, opts core.EnqueueOptions) (string, error) {
	if b.isClosed() {
		return "", ErrClosed
	}

	job := &Job{
		ID:               uuid.New().String(),
		Name:             name,
		Payload:          payload,
		MaxAttempts:      security.ClampAttempts(opts.Attempts),
		BackoffType:      string(opts.Backoff.Type),
		BackoffDelayMs:   opts.Backoff.Delay.Milliseconds(),
		RemoveOnComplete: opts.RemoveOnComplete,
	}
	if err := b.store.insert(ctx, job); err != nil {
		return "", fmt.Errorf("sqlbroker: enqueue %s: %w", name, err)
	}
	return job.ID, nil
}

// Get returns a stored job by id, or nil when it was removed or never existed.
func (b *Broker) Get(ctx context.Context, id string) (*Job, error) {
	return b.store.get(ctx, id)
}

// Stats returns the number of stored jobs per status.
func (b *Broker) Stats(ctx context.Context) (map[string]int64, error) {
	counts, err := b.store.counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlbroker: stats: %w", err)
	}
	out := make(map[string]int64, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

// Subscribe starts the single worker for this broker's queue.
func (b *Broker) Subscribe(ctx context.Context, fn core.DeliveryFunc) (core.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.subscribed {
		return nil, ErrAlreadySubscribed
	}
	if fn == nil {
		return nil, errors.New("sqlbroker: delivery func cannot be nil")
	}

	// Recover jobs left running by a previous process before polling.
	if n, err := b.store.releaseStale(ctx, b.opts.StaleGrace); err != nil {
		b.logger.Warn("failed to release stale locks", "error", err)
	} else if n > 0 {
		b.logger.Info("released stale locks", "count", n)
	}

	w := newWorker(b, fn)
	w.start()
	b.subscribed = true
	return w, nil
}

// Close releases the database connection. Close the subscription first.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("sqlbroker: close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("sqlbroker: close: %w", err)
	}
	return nil
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) now() time.Time {
	return b.opts.Clock()
}
