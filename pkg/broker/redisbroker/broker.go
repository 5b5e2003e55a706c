package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/security"
)

var (
	_ core.Client     = (*Broker)(nil)
	_ core.Subscriber = (*Broker)(nil)
)

// ErrClosed is returned by operations on a closed Broker.
var ErrClosed = errors.New("redisbroker: broker closed")

// ErrAlreadySubscribed is returned when a second worker is attached.
var ErrAlreadySubscribed = errors.New("redisbroker: worker already subscribed")

// Broker is a durable job broker backed by Redis. It owns the client and
// closes it in Close.
type Broker struct {
	rdb    goredis.UniversalClient
	keys   keys
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	subscribed bool
}

// New creates a Broker on rdb.
func New(rdb goredis.UniversalClient, opts ...Option) (*Broker, error) {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	if err := security.ValidateName(o.Queue); err != nil {
		return nil, fmt.Errorf("redisbroker: queue %q: %w", o.Queue, err)
	}
	return &Broker{
		rdb:    rdb,
		keys:   newKeys(o.Prefix, o.Queue),
		opts:   *o,
		logger: o.Logger.With("queue", o.Queue),
	}, nil
}

// Open connects to the server at url (redis:// or rediss://) and checks the
// connection before returning the Broker.
func Open(ctx context.Context, url string, opts ...Option) (*Broker, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisbroker: parse url: %w", err)
	}
	rdb := goredis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisbroker: ping: %w", err)
	}

	b, err := New(rdb, opts...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return b, nil
}

// Queue returns the queue name.
func (b *Broker) Queue() string {
	return b.opts.Queue
}

// Enqueue writes the job hash and pushes its id onto the wait list in one
// transaction.
func (b *Broker) Enqueue(ctx context.Context, name string, payload json.RawMessage, opts core.EnqueueOptions) (string, error) {
	if b.isClosed() {
		return "", ErrClosed
	}

	job := &Job{
		ID:               uuid.New().String(),
		Name:             name,
		Payload:          payload,
		Status:           StatusWaiting,
		MaxAttempts:      security.ClampAttempts(opts.Attempts),
		BackoffType:      string(opts.Backoff.Type),
		BackoffDelay:     opts.Backoff.Delay,
		RemoveOnComplete: opts.RemoveOnComplete,
		EnqueuedAt:       b.now(),
	}

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.keys.job(job.ID), jobToMap(job))
	pipe.LPush(ctx, b.keys.wait(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redisbroker: enqueue %s: %w", name, err)
	}
	return job.ID, nil
}

// Get returns a stored job by id, or nil when it was removed, expired or
// never existed.
func (b *Broker) Get(ctx context.Context, id string) (*Job, error) {
	vals, err := b.rdb.HGetAll(ctx, b.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbroker: get %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	job, err := mapToJob(vals)
	if err != nil {
		return nil, fmt.Errorf("redisbroker: decode %s: %w", id, err)
	}
	return job, nil
}

// Stats returns the number of job ids per status.
func (b *Broker) Stats(ctx context.Context) (map[string]int64, error) {
	pipe := b.rdb.Pipeline()
	waiting := pipe.LLen(ctx, b.keys.wait())
	active := pipe.LLen(ctx, b.keys.active())
	delayed := pipe.ZCard(ctx, b.keys.delayed())
	completed := pipe.ZCard(ctx, b.keys.completed())
	failed := pipe.ZCard(ctx, b.keys.failed())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisbroker: stats: %w", err)
	}
	return map[string]int64{
		string(StatusWaiting):   waiting.Val(),
		string(StatusActive):    active.Val(),
		string(StatusDelayed):   delayed.Val(),
		string(StatusCompleted): completed.Val(),
		string(StatusFailed):    failed.Val(),
	}, nil
}

// Requeue moves every id in the active list back to the wait list. Use it
// only while no worker is consuming the queue, typically after a crash.
func (b *Broker) Requeue(ctx context.Context) (int, error) {
	n := 0
	for {
		err := b.rdb.LMove(ctx, b.keys.active(), b.keys.wait(), "LEFT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("redisbroker: requeue: %w", err)
		}
		n++
	}
}

// Subscribe starts the single worker for this broker's queue.
func (b *Broker) Subscribe(_ context.Context, fn core.DeliveryFunc) (core.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.subscribed {
		return nil, ErrAlreadySubscribed
	}
	if fn == nil {
		return nil, errors.New("redisbroker: delivery func cannot be nil")
	}

	w := newWorker(b, fn)
	w.start()
	b.subscribed = true
	return w, nil
}

// Close closes the Redis client. Close the subscription first.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.rdb.Close(); err != nil {
		return fmt.Errorf("redisbroker: close: %w", err)
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
