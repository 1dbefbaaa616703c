package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

// CreateHookLog inserts an immutable HookLog. ID and DetectedAt are filled
// in when empty.
func CreateHookLog(ctx context.Context, db *gorm.DB, l *domain.HookLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if l.DetectedAt.IsZero() {
		l.DetectedAt = now
	}
	l.CreatedAt = now
	if len(l.EventPayload) == 0 {
		l.EventPayload = []byte(`{}`)
	}
	return db.WithContext(ctx).Create(l).Error
}

// GetHookLog fetches a HookLog by id.
func GetHookLog(ctx context.Context, db *gorm.DB, id string) (*domain.HookLog, error) {
	var l domain.HookLog
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ListHookLogs returns the most recent logs of a hook job, newest first.
func ListHookLogs(ctx context.Context, db *gorm.DB, hookJobID string, limit int) ([]domain.HookLog, error) {
	var out []domain.HookLog
	err := db.WithContext(ctx).
		Where("hook_job_id = ?", hookJobID).
		Order("detected_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkHookLogEnqueued records that the execution job of a HookLog was
// accepted by the queue.
func MarkHookLogEnqueued(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.HookLog{}).
		Where("id = ? AND enqueued_at IS NULL", id).
		Update("enqueued_at", at.UTC()).Error
}

// PendingHookLog is a HookLog whose execution job was never enqueued.
// AreaActionID is empty when the owning hook job no longer exists.
type PendingHookLog struct {
	ID           string
	Source       string
	AreaActionID string
}

// ListUnqueuedHookLogs returns, oldest first, HookLogs detected before the
// given time that have no execution job yet.
func ListUnqueuedHookLogs(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]PendingHookLog, error) {
	var out []PendingHookLog
	err := db.WithContext(ctx).Table("hook_logs").
		Select("hook_logs.id AS id, hook_logs.source AS source, COALESCE(hook_jobs.area_action_id, '') AS area_action_id").
		Joins("LEFT JOIN hook_jobs ON hook_jobs.id = hook_logs.hook_job_id").
		Where("hook_logs.enqueued_at IS NULL AND hook_logs.detected_at < ?", before.UTC()).
		Order("hook_logs.detected_at").
		Limit(limit).
		Scan(&out).Error
	return out, err
}
