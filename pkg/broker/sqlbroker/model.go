package sqlbroker

import (
	"time"
)

// Status is the lifecycle state of a stored job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the durable record of one submission.
type Job struct {
	ID      string `gorm:"primaryKey;size:36"`
	Queue   string `gorm:"index:idx_kernel_jobs_claim,priority:1;size:255;not null"`
	Name    string `gorm:"size:255;not null"`
	Payload []byte

	Status      Status `gorm:"index:idx_kernel_jobs_claim,priority:2;size:20;not null"`
	Attempt     int
	MaxAttempts int

	BackoffType      string `gorm:"size:20"`
	BackoffDelayMs   int64
	RemoveOnComplete bool

	LastError string `gorm:"type:text"`

	RunAt       *time.Time `gorm:"index:idx_kernel_jobs_claim,priority:3"`
	LockedBy    string     `gorm:"size:64"`
	LockedUntil *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps kernel jobs out of the way of an application's own tables.
func (Job) TableName() string {
	return "kernel_jobs"
}
