package redisbroker

import (
	"fmt"
	"strconv"
	"time"
)

// Status is where a job currently sits.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusDelayed   Status = "delayed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the stored form of a submission.
type Job struct {
	ID               string
	Name             string
	Payload          []byte
	Status           Status
	Attempt          int
	MaxAttempts      int
	BackoffType      string
	BackoffDelay     time.Duration
	RemoveOnComplete bool
	LastError        string
	EnqueuedAt       time.Time
	FinishedAt       time.Time
}

func jobToMap(j *Job) map[string]any {
	m := map[string]any{
		"id":                 j.ID,
		"name":               j.Name,
		"payload":            string(j.Payload),
		"status":             string(j.Status),
		"attempt":            j.Attempt,
		"max_attempts":       j.MaxAttempts,
		"backoff_type":       j.BackoffType,
		"backoff_delay_ms":   j.BackoffDelay.Milliseconds(),
		"remove_on_complete": strconv.FormatBool(j.RemoveOnComplete),
		"last_error":         j.LastError,
		"enqueued_at":        j.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if !j.FinishedAt.IsZero() {
		m["finished_at"] = j.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(vals map[string]string) (*Job, error) {
	j := &Job{
		ID:          vals["id"],
		Name:        vals["name"],
		Payload:     []byte(vals["payload"]),
		Status:      Status(vals["status"]),
		BackoffType: vals["backoff_type"],
		LastError:   vals["last_error"],
	}

	var err error
	if j.Attempt, err = atoi(vals, "attempt"); err != nil {
		return nil, err
	}
	if j.MaxAttempts, err = atoi(vals, "max_attempts"); err != nil {
		return nil, err
	}
	delay, err := atoi(vals, "backoff_delay_ms")
	if err != nil {
		return nil, err
	}
	j.BackoffDelay = time.Duration(delay) * time.Millisecond

	if v := vals["remove_on_complete"]; v != "" {
		if j.RemoveOnComplete, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("remove_on_complete: %w", err)
		}
	}
	if j.EnqueuedAt, err = parseTime(vals, "enqueued_at"); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseTime(vals, "finished_at"); err != nil {
		return nil, err
	}
	return j, nil
}

func atoi(vals map[string]string, field string) (int, error) {
	v := vals[field]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}

func parseTime(vals map[string]string, field string) (time.Time, error) {
	v := vals[field]
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}
