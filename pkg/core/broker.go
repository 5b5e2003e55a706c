package core

import (
	"context"
	"encoding/json"
)

// Client submits jobs to a durable broker. Close releases the connection.
type Client interface {
	// Enqueue returns once the broker has durably accepted the submission.
	Enqueue(ctx context.Context, name string, payload json.RawMessage, opts EnqueueOptions) (string, error)
	Close(ctx context.Context) error
}

// DeliveryFunc processes a single delivery. A nil return completes the unit;
// an error hands it back to the broker's failure policy.
type DeliveryFunc func(ctx context.Context, d *Delivery) error

// Subscriber attaches a worker to the broker's shared work stream.
type Subscriber interface {
	// Subscribe starts a worker that calls fn for one delivery at a time.
	Subscribe(ctx context.Context, fn DeliveryFunc) (Subscription, error)
}

// Subscription is a running worker. Close stops new deliveries and waits for
// the one in flight, if any.
type Subscription interface {
	Close(ctx context.Context) error
}

// WorkerState is the lifecycle state of a queue kernel's worker.
type WorkerState int

const (
	WorkerAbsent WorkerState = iota
	WorkerActive
	WorkerClosing
	WorkerClosed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerAbsent:
		return "absent"
	case WorkerActive:
		return "active"
	case WorkerClosing:
		return "closing"
	case WorkerClosed:
		return "closed"
	default:
		return "unknown"
	}
}
