package redisbroker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/durable-kernel/pkg/broker/internal/retry"
	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/security"
)

// promoteScript moves up to ARGV[2] delayed ids whose score is at or below
// ARGV[1] onto the wait list.
var promoteScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// worker moves one id at a time from the wait list to the active list and
// hands the job to fn.
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

// Close stops claiming new jobs and waits for the one in flight. An idle
// worker returns after at most one poll timeout. If ctx ends first the
// in-flight delivery's context is cancelled and ctx.Err() returned.
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

	k := w.b.keys
	for w.pollCtx.Err() == nil {
		if _, err := w.b.promote(w.pollCtx); err != nil && w.pollCtx.Err() == nil {
			w.b.logger.Warn("failed to promote delayed jobs", "error", err)
		}

		id, err := w.b.rdb.BLMove(w.pollCtx, k.wait(), k.active(), "RIGHT", "LEFT", w.b.opts.PollTimeout).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			if w.pollCtx.Err() != nil {
				return
			}
			w.b.logger.Error("failed to claim job", "error", err)
			w.sleep(w.b.opts.PollTimeout)
			continue
		}

		if w.pollCtx.Err() != nil {
			// Claimed while Close was running; give it back untouched.
			w.putBack(id)
			return
		}
		w.process(id)
	}
}

func (w *worker) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.pollCtx.Done():
	case <-t.C:
	}
}

func (w *worker) putBack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	k := w.b.keys
	pipe := w.b.rdb.TxPipeline()
	pipe.LRem(ctx, k.active(), 1, id)
	pipe.RPush(ctx, k.wait(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		w.b.logger.Error("failed to return job to wait list", "id", id, "error", err)
	}
}

func (w *worker) process(id string) {
	ctx := w.runCtx
	k := w.b.keys

	job, err := w.claim(ctx, id)
	if err != nil {
		w.b.logger.Error("failed to load claimed job", "id", id, "error", err)
		w.putBack(id)
		return
	}
	if job == nil {
		w.b.logger.Warn("claimed job has no data, dropping", "id", id)
		_ = w.b.rdb.LRem(ctx, k.active(), 1, id).Err()
		return
	}

	log := w.b.logger.With("job", job.Name, "id", job.ID, "attempt", job.Attempt)
	d := &core.Delivery{
		ID:          job.ID,
		Name:        job.Name,
		Payload:     job.Payload,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		EnqueuedAt:  job.EnqueuedAt,
		DeliveredAt: w.b.now(),
	}
	failure := w.deliver(ctx, d)

	if failure == nil {
		if err := w.storage(ctx, func() error { return w.b.complete(ctx, job) }); err != nil {
			log.Error("failed to complete job after retries", "error", err)
		}
		return
	}

	if job.Attempt < job.MaxAttempts {
		backoff := core.Backoff{
			Type:  core.BackoffType(job.BackoffType),
			Delay: job.BackoffDelay,
		}
		retryAt := w.b.now().Add(backoff.Next(job.Attempt))
		log.Warn("delivery failed, retry scheduled", "retry_at", retryAt, "error", failure)
		if err := w.storage(ctx, func() error { return w.b.delay(ctx, job, failure.Error(), retryAt) }); err != nil {
			log.Error("failed to schedule retry after retries", "error", err)
		}
		return
	}

	log.Error("delivery failed, attempts exhausted", "error", failure)
	if err := w.storage(ctx, func() error { return w.b.fail(ctx, job, failure.Error()) }); err != nil {
		log.Error("failed to record job failure after retries", "error", err)
	}
}

// claim counts the attempt and marks the job active, returning the job as
// it is about to be delivered.
func (w *worker) claim(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := w.storage(ctx, func() error {
		var err error
		job, err = w.b.begin(ctx, id)
		return err
	})
	return job, err
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

func (w *worker) storage(ctx context.Context, op func() error) error {
	return retry.Do(ctx, w.b.opts.StorageRetry, op)
}

// maintain applies retention.
func (w *worker) maintain() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.b.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.pollCtx.Done():
			return
		case <-ticker.C:
			n, err := w.b.trim(w.pollCtx)
			if err != nil {
				if w.pollCtx.Err() == nil {
					w.b.logger.Warn("failed to apply retention", "error", err)
				}
			} else if n > 0 {
				w.b.logger.Debug("removed finished jobs", "count", n)
			}
		}
	}
}

// ────────────────────────────────────────────────────────────────────────────
// State transitions
// ────────────────────────────────────────────────────────────────────────────

// begin increments the attempt of a claimed job. It returns nil when the
// hash is gone.
func (b *Broker) begin(ctx context.Context, id string) (*Job, error) {
	key := b.keys.job(id)
	exists, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, nil
	}

	pipe := b.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "attempt", 1)
	pipe.HSet(ctx, key, "status", string(StatusActive))
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return mapToJob(all.Val())
}

func (b *Broker) complete(ctx context.Context, job *Job) error {
	k := b.keys
	key := k.job(job.ID)
	now := b.now()

	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, k.active(), 1, job.ID)
	if job.RemoveOnComplete {
		pipe.Del(ctx, key)
	} else {
		pipe.HSet(ctx, key,
			"status", string(StatusCompleted),
			"finished_at", now.UTC().Format(time.RFC3339Nano))
		pipe.ZAdd(ctx, k.completed(), goredis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
		if age := b.opts.Retention.CompletedAge; age > 0 {
			pipe.Expire(ctx, key, age)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *Broker) delay(ctx context.Context, job *Job, msg string, retryAt time.Time) error {
	k := b.keys
	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, k.active(), 1, job.ID)
	pipe.HSet(ctx, k.job(job.ID),
		"status", string(StatusDelayed),
		"last_error", security.SanitizeErrorMessage(msg))
	pipe.ZAdd(ctx, k.delayed(), goredis.Z{Score: float64(retryAt.UnixMilli()), Member: job.ID})
	_, err := pipe.Exec(ctx)
	return err
}

func (b *Broker) fail(ctx context.Context, job *Job, msg string) error {
	k := b.keys
	key := k.job(job.ID)
	now := b.now()

	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, k.active(), 1, job.ID)
	pipe.HSet(ctx, key,
		"status", string(StatusFailed),
		"last_error", security.SanitizeErrorMessage(msg),
		"finished_at", now.UTC().Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, k.failed(), goredis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	if age := b.opts.Retention.FailedAge; age > 0 {
		pipe.Expire(ctx, key, age)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// promote moves delayed jobs that are due onto the wait list.
func (b *Broker) promote(ctx context.Context) (int64, error) {
	k := b.keys
	now := strconv.FormatInt(b.now().UnixMilli(), 10)
	return promoteScript.Run(ctx, b.rdb, []string{k.delayed(), k.wait()}, now, b.opts.PromoteBatch).Int64()
}

// trim drops finished ids older than their retention age, and completed ids
// beyond the retention count, together with their hashes.
func (b *Broker) trim(ctx context.Context) (int, error) {
	k := b.keys
	r := b.opts.Retention
	now := b.now()
	total := 0

	byAge := func(set string, age time.Duration) error {
		if age <= 0 {
			return nil
		}
		cutoff := strconv.FormatInt(now.Add(-age).UnixMilli(), 10)
		ids, err := b.rdb.ZRangeByScore(ctx, set, &goredis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return err
		}
		return b.remove(ctx, set, ids, &total)
	}

	if err := byAge(k.completed(), r.CompletedAge); err != nil {
		return total, err
	}
	if err := byAge(k.failed(), r.FailedAge); err != nil {
		return total, err
	}

	if r.CompletedCount > 0 {
		// Oldest first; everything except the newest CompletedCount.
		ids, err := b.rdb.ZRange(ctx, k.completed(), 0, -int64(r.CompletedCount)-1).Result()
		if err != nil {
			return total, err
		}
		if err := b.remove(ctx, k.completed(), ids, &total); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (b *Broker) remove(ctx context.Context, set string, ids []string, total *int) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = b.keys.job(id)
	}

	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, set, members...)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	*total += len(ids)
	return nil
}
