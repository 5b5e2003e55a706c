package sqlbroker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jdziat/durable-kernel/pkg/broker/internal/retry"
	"github.com/jdziat/durable-kernel/pkg/core"
)

// worker polls one queue and hands due jobs to fn one at a time.
type worker struct {
	b  *Broker
	fn core.DeliveryFunc

	// pollCtx stops claiming; runCtx is given to the delivery in flight and
	// is only cancelled when Close runs out of time.
	pollCtx    context.Context
	stopPoll   context.CancelFunc
	runCtx     context.Context
	cancelRun  context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
	closedDone chan struct{}
}

func newWorker(b *Broker, fn core.DeliveryFunc) *worker {
	pollCtx, stopPoll := context.WithCancel(context.Background())
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &worker{
		b:          b,
		fn:         fn,
		pollCtx:    pollCtx,
		stopPoll:   stopPoll,
		runCtx:     runCtx,
		cancelRun:  cancelRun,
		closedDone: make(chan struct{}),
	}
}

func (w *worker) start() {
	w.wg.Add(2)
	go w.poll()
	go w.maintain()
}

// Close stops claiming new jobs and waits for the one in flight. If ctx ends
// first the in-flight delivery's context is cancelled and ctx.Err() returned.
func (w *worker) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.stopPoll()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			w.cancelRun()
			w.closeErr = ctx.Err()
		}
		w.cancelRun()
		w.b.mu.Lock()
		w.b.subscribed = false
		w.b.mu.Unlock()
		close(w.closedDone)
	})
	<-w.closedDone
	return w.closeErr
}

func (w *worker) poll() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.pollCtx.Done():
			return
		case <-ticker.C:
			// Drain everything that is due before waiting for the next tick.
			for w.pollCtx.Err() == nil {
				job, err := w.claim()
				if err != nil {
					if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
						w.b.logger.Error("failed to claim job after retries", "error", err)
					}
					break
				}
				if job == nil {
					break
				}
				w.process(job)
			}
		}
	}
}

func (w *worker) claim() (*Job, error) {
	var job *Job
	err := retry.Do(w.pollCtx, w.b.opts.ClaimRetry, func() error {
		var claimErr error
		job, claimErr = w.b.store.claim(w.pollCtx, w.b.opts.WorkerID, w.b.opts.LockDuration)
		return claimErr
	})
	return job, err
}

func (w *worker) process(job *Job) {
	ctx := w.runCtx
	log := w.b.logger.With("job", job.Name, "id", job.ID, "attempt", job.Attempt)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, job)

	d := &core.Delivery{
		ID:          job.ID,
		Name:        job.Name,
		Payload:     job.Payload,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		EnqueuedAt:  job.CreatedAt,
		DeliveredAt: w.b.now(),
	}
	err := w.deliver(ctx, d)
	stopHeartbeat()

	if err == nil {
		if err := w.storage(ctx, func() error {
			return w.b.store.complete(ctx, job.ID, w.b.opts.WorkerID, job.RemoveOnComplete)
		}); err != nil {
			log.Error("failed to complete job after retries", "error", err)
		}
		return
	}

	if job.Attempt < job.MaxAttempts {
		backoff := core.Backoff{
			Type:  core.BackoffType(job.BackoffType),
			Delay: time.Duration(job.BackoffDelayMs) * time.Millisecond,
		}
		retryAt := w.b.now().Add(backoff.Next(job.Attempt))
		log.Warn("delivery failed, retry scheduled", "retry_at", retryAt, "error", err)
		w.fail(ctx, job, err, &retryAt)
		return
	}

	log.Error("delivery failed, attempts exhausted", "error", err)
	w.fail(ctx, job, err, nil)
}

// deliver calls fn and turns a panic into an error so the broker's failure
// policy applies.
func (w *worker) deliver(ctx context.Context, d *core.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.PanicError{Value: r}
		}
	}()
	return w.fn(ctx, d)
}

func (w *worker) fail(ctx context.Context, job *Job, cause error, retryAt *time.Time) {
	err := w.storage(ctx, func() error {
		return w.b.store.fail(ctx, job.ID, w.b.opts.WorkerID, cause.Error(), retryAt)
	})
	if err != nil {
		w.b.logger.Error("failed to record job failure after retries", "id", job.ID, "error", err)
	}
}

// storage retries op, giving up at once when the lock was lost.
func (w *worker) storage(ctx context.Context, op func() error) error {
	return retry.Do(ctx, w.b.opts.StorageRetry, func() error {
		err := op()
		if errors.Is(err, errNotOwned) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (w *worker) heartbeat(ctx context.Context, job *Job) {
	ticker := time.NewTicker(w.b.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.storage(ctx, func() error {
				return w.b.store.heartbeat(ctx, job.ID, w.b.opts.WorkerID, w.b.opts.LockDuration)
			})
			if err != nil && ctx.Err() == nil {
				w.b.logger.Warn("heartbeat failed after retries", "id", job.ID, "error", err)
			}
		}
	}
}

// maintain releases abandoned locks and applies retention.
func (w *worker) maintain() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.b.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.pollCtx.Done():
			return
		case <-ticker.C:
			w.maintainOnce(w.pollCtx)
		}
	}
}

func (w *worker) maintainOnce(ctx context.Context) {
	if n, err := w.b.store.releaseStale(ctx, w.b.opts.StaleGrace); err != nil {
		if ctx.Err() == nil {
			w.b.logger.Warn("failed to release stale locks", "error", err)
		}
	} else if n > 0 {
		w.b.logger.Info("released stale locks", "count", n)
	}

	if n, err := w.b.store.purge(ctx, w.b.opts.Retention); err != nil {
		if ctx.Err() == nil {
			w.b.logger.Warn("failed to apply retention", "error", err)
		}
	} else if n > 0 {
		w.b.logger.Debug("removed finished jobs", "count", n)
	}
}
