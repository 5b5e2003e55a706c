package core

import (
	"context"
	"time"
)

// OutcomeKind tells which subsystem produced an Outcome.
type OutcomeKind string

const (
	KindTask OutcomeKind = "task"
	KindJob  OutcomeKind = "job"
)

// Outcome is the result of one tick or delivery. Handler failures end here
// instead of unwinding into the trigger source.
type Outcome struct {
	Kind    OutcomeKind
	Name    string
	Started time.Time
	Elapsed time.Duration
	Err     error

	// Unknown is set when a delivery named no registered job.
	Unknown bool
	// Skipped is set when a tick was dropped by the overlap policy.
	Skipped bool
}

// OK reports whether the handler ran and returned without error.
func (o Outcome) OK() bool {
	return o.Err == nil && !o.Unknown && !o.Skipped
}

// Result is a short label for logs and metrics.
func (o Outcome) Result() string {
	switch {
	case o.Unknown:
		return "unknown"
	case o.Skipped:
		return "skipped"
	case o.Err != nil:
		return "failed"
	default:
		return "succeeded"
	}
}

// OutcomeHook observes outcomes. Hooks run on the tick or delivery goroutine.
type OutcomeHook func(ctx context.Context, o Outcome)

// Run invokes fn, timing it and recovering panics into the outcome error.
func Run(ctx context.Context, kind OutcomeKind, name string, now func() time.Time, fn func(ctx context.Context) error) (o Outcome) {
	if now == nil {
		now = time.Now
	}
	o = Outcome{Kind: kind, Name: name, Started: now()}
	defer func() {
		if r := recover(); r != nil {
			o.Err = &PanicError{Value: r}
		}
		o.Elapsed = now().Sub(o.Started)
	}()
	o.Err = fn(ctx)
	return o
}
