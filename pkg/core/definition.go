package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskFunc is the body of a recurring task.
type TaskFunc func(ctx context.Context) error

// JobFunc is the body of a queued job. The payload is the raw JSON that was
// submitted with Dispatch.
type JobFunc func(ctx context.Context, payload json.RawMessage) error

// TaskDefinition is a named unit of recurring work.
type TaskDefinition struct {
	Name   string
	Cron   string
	Handle TaskFunc
}

// Validate reports whether the definition can be bound to a timer.
func (d TaskDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrDefinitionInvalid)
	}
	if strings.TrimSpace(d.Cron) == "" {
		return fmt.Errorf("%w: %s has no cron expression", ErrDefinitionInvalid, d.Name)
	}
	if d.Handle == nil {
		return fmt.Errorf("%w: %s has no handler", ErrDefinitionInvalid, d.Name)
	}
	return nil
}

// JobDefinition is a named handler for queued work.
type JobDefinition struct {
	Name   string
	Handle JobFunc
}

// Validate reports whether the definition can be resolved by the worker.
func (d JobDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrDefinitionInvalid)
	}
	if d.Handle == nil {
		return fmt.Errorf("%w: %s has no handler", ErrDefinitionInvalid, d.Name)
	}
	return nil
}

// Delivery is one execution of a queued job as handed to the worker.
// It exists only for the duration of that execution.
type Delivery struct {
	ID          string
	Name        string
	Payload     json.RawMessage
	Attempt     int // 1-based
	MaxAttempts int
	EnqueuedAt  time.Time
	DeliveredAt time.Time
}
