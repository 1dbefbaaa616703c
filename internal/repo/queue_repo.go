package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

// claimRetries bounds the optimistic claim loop when several workers race
// for the same ready row.
const claimRetries = 5

// InsertQueueJob stores a pending job. It returns false without error when a
// job with the same key already exists.
func InsertQueueJob(ctx context.Context, db *gorm.DB, queue, key string, payload []byte, runAt time.Time) (bool, error) {
	now := time.Now().UTC()
	j := &domain.QueueJob{
		ID:        uuid.NewString(),
		Queue:     queue,
		Key:       key,
		Payload:   payload,
		Status:    domain.QueuePending,
		RunAt:     runAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ClaimQueueJob leases the oldest ready job of queue until now+lease and
// increments its attempt counter. A job is ready when it is pending and its
// run_at has passed, or when it is running with an expired lease (its
// worker died). It returns ErrNotFound when nothing is ready.
func ClaimQueueJob(ctx context.Context, db *gorm.DB, queue string, now time.Time, lease time.Duration) (*domain.QueueJob, error) {
	now = now.UTC()
	for i := 0; i < claimRetries; i++ {
		var cand domain.QueueJob
		err := db.WithContext(ctx).
			Where("queue = ? AND ((status = ? AND run_at <= ?) OR (status = ? AND lease_until < ?))",
				queue, domain.QueuePending, now, domain.QueueRunning, now).
			Order("run_at asc").
			First(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		until := now.Add(lease)
		res := db.WithContext(ctx).
			Model(&domain.QueueJob{}).
			Where("id = ? AND status = ? AND attempts = ?", cand.ID, cand.Status, cand.Attempts).
			Updates(map[string]any{
				"status":      domain.QueueRunning,
				"attempts":    cand.Attempts + 1,
				"lease_until": until,
				"updated_at":  now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Another worker won the race.
			continue
		}
		cand.Status = domain.QueueRunning
		cand.Attempts++
		cand.LeaseUntil = &until
		return &cand, nil
	}
	return nil, ErrNotFound
}

// CompleteQueueJob marks a running job completed.
func CompleteQueueJob(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	now = now.UTC()
	return db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.QueueCompleted,
			"lease_until":  nil,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// RescheduleQueueJob puts a job back to pending, runnable at runAt.
func RescheduleQueueJob(ctx context.Context, db *gorm.DB, id string, runAt time.Time, lastErr string) error {
	return db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      domain.QueuePending,
			"run_at":      runAt.UTC(),
			"lease_until": nil,
			"last_error":  lastErr,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// FailQueueJob marks a job terminally failed.
func FailQueueJob(ctx context.Context, db *gorm.DB, id string, now time.Time, lastErr string) error {
	now = now.UTC()
	return db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      domain.QueueFailed,
			"lease_until": nil,
			"failed_at":   now,
			"last_error":  lastErr,
			"updated_at":  now,
		}).Error
}

// PurgeQueueJobs deletes completed jobs older than completedBefore and
// failed jobs older than failedBefore.
func PurgeQueueJobs(ctx context.Context, db *gorm.DB, queue string, completedBefore, failedBefore time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("queue = ? AND ((status = ? AND completed_at < ?) OR (status = ? AND failed_at < ?))",
			queue, domain.QueueCompleted, completedBefore.UTC(), domain.QueueFailed, failedBefore.UTC()).
		Delete(&domain.QueueJob{})
	return res.RowsAffected, res.Error
}

// GetQueueJobByKey fetches a job by its dedup key.
func GetQueueJobByKey(ctx context.Context, db *gorm.DB, key string) (*domain.QueueJob, error) {
	var j domain.QueueJob
	if err := db.WithContext(ctx).Where("key = ?", key).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}
