package sqlbroker

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/durable-kernel/pkg/security"
)

// errNotOwned is returned when a worker updates a job whose lock it lost.
var errNotOwned = errors.New("sqlbroker: job not owned by this worker")

// store is the GORM access layer for one queue.
type store struct {
	db    *gorm.DB
	queue string
	now   func() time.Time
}

func newStore(db *gorm.DB, queue string, now func() time.Time) *store {
	return &store{db: db, queue: queue, now: now}
}

func (s *store) migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Job{})
}

func (s *store) insert(ctx context.Context, job *Job) error {
	job.Queue = s.queue
	if job.Status == "" {
		job.Status = StatusPending
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// claim locks the oldest due pending job for workerID and bumps its attempt.
// It returns nil when nothing is due.
func (s *store) claim(ctx context.Context, workerID string, lockFor time.Duration) (*Job, error) {
	var job Job
	now := s.now()
	lockUntil := now.Add(lockFor)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("queue = ?", s.queue).
			Where("status = ?", StatusPending).
			Where("(run_at IS NULL OR run_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("created_at ASC")

		// SQLite serialises writers; PostgreSQL needs row locks so that two
		// workers never claim the same job.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		if err := q.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		job.Status = StatusRunning
		job.LockedBy = workerID
		job.LockedUntil = &lockUntil
		job.StartedAt = &now
		job.Attempt++

		return tx.Save(&job).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// complete finishes a job, deleting the row when remove is set.
func (s *store) complete(ctx context.Context, jobID, workerID string, remove bool) error {
	db := s.db.WithContext(ctx).Where("id = ? AND locked_by = ?", jobID, workerID)

	var result *gorm.DB
	if remove {
		result = db.Delete(&Job{})
	} else {
		result = db.Model(&Job{}).Updates(map[string]any{
			"status":       StatusCompleted,
			"completed_at": s.now(),
			"locked_by":    "",
			"locked_until": nil,
		})
	}

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errNotOwned
	}
	return nil
}

// fail records errMsg and either reschedules the job at retryAt or, when
// retryAt is nil, marks it failed for good.
func (s *store) fail(ctx context.Context, jobID, workerID, errMsg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error":   security.SanitizeErrorMessage(errMsg),
		"locked_by":    "",
		"locked_until": nil,
	}
	if retryAt != nil {
		updates["status"] = StatusPending
		updates["run_at"] = *retryAt
	} else {
		updates["status"] = StatusFailed
		updates["completed_at"] = s.now()
	}

	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errNotOwned
	}
	return nil
}

// heartbeat extends the lock on a running job.
func (s *store) heartbeat(ctx context.Context, jobID, workerID string, lockFor time.Duration) error {
	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Update("locked_until", s.now().Add(lockFor))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errNotOwned
	}
	return nil
}

// releaseStale returns running jobs whose lock expired more than grace ago
// to pending, so a crashed worker's job is delivered again.
func (s *store) releaseStale(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := s.now().Add(-grace)
	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("queue = ?", s.queue).
		Where("status = ?", StatusRunning).
		Where("locked_until < ?", cutoff).
		Updates(map[string]any{
			"status":       StatusPending,
			"locked_by":    "",
			"locked_until": nil,
		})
	return result.RowsAffected, result.Error
}

// purge applies retention to finished jobs and returns the rows removed.
func (s *store) purge(ctx context.Context, r Retention) (int64, error) {
	var removed int64
	now := s.now()
	db := s.db.WithContext(ctx)

	if r.CompletedAge > 0 {
		res := db.Where("queue = ? AND status = ? AND completed_at < ?", s.queue, StatusCompleted, now.Add(-r.CompletedAge)).
			Delete(&Job{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected
	}

	if r.CompletedCount > 0 {
		newest := db.Model(&Job{}).
			Select("id").
			Where("queue = ? AND status = ?", s.queue, StatusCompleted).
			Order("completed_at DESC").
			Limit(r.CompletedCount)
		res := db.Where("queue = ? AND status = ?", s.queue, StatusCompleted).
			Where("id NOT IN (?)", newest).
			Delete(&Job{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected
	}

	if r.FailedAge > 0 {
		res := db.Where("queue = ? AND status = ? AND completed_at < ?", s.queue, StatusFailed, now.Add(-r.FailedAge)).
			Delete(&Job{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected
	}

	return removed, nil
}

// get returns a job by id, or nil when it does not exist.
func (s *store) get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// counts returns the number of jobs per status in this queue.
func (s *store) counts(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		N      int64
	}
	err := s.db.WithContext(ctx).
		Model(&Job{}).
		Select("status, count(*) as n").
		Where("queue = ?", s.queue).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
