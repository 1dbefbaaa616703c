// Package repo – hook job persistence.
//
// Hook jobs are mutated from three places: the management API (status and
// interval), the polling detector (last_checked_at, cursor), and failure
// tracking (consecutive_failures, paused_reason). Every write touches a single
// row and is expressed as a conditional UPDATE so concurrent writers never
// overwrite each other's columns.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

// CreateHookJob inserts a HookJob. ID is generated when empty.
func CreateHookJob(ctx context.Context, db *gorm.DB, h *domain.HookJob) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	h.CreatedAt, h.UpdatedAt = now, now
	return db.WithContext(ctx).Create(h).Error
}

// GetHookJob fetches a HookJob by id.
func GetHookJob(ctx context.Context, db *gorm.DB, id string) (*domain.HookJob, error) {
	var h domain.HookJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// GetHookJobWithAction fetches a HookJob with its AreaAction, Area, and
// catalog action preloaded.
func GetHookJobWithAction(ctx context.Context, db *gorm.DB, id string) (*domain.HookJob, error) {
	var h domain.HookJob
	err := db.WithContext(ctx).
		Preload("AreaAction.Area").
		Preload("AreaAction.ServiceAction.Service").
		Where("id = ?", id).
		First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHookJobsByArea returns the hook jobs attached to the action of areaID,
// newest first.
func ListHookJobsByArea(ctx context.Context, db *gorm.DB, areaID string) ([]domain.HookJob, error) {
	var out []domain.HookJob
	err := db.WithContext(ctx).
		Joins("JOIN area_actions ON area_actions.id = hook_jobs.area_action_id").
		Where("area_actions.area_id = ?", areaID).
		Order("hook_jobs.created_at desc").
		Find(&out).Error
	return out, err
}

// ListActivePollingJobs returns every active polling HookJob with the data
// the detector needs preloaded: the Area (for its enabled flag), the
// catalog action and service (for the capability key), and the action's
// parameter values.
func ListActivePollingJobs(ctx context.Context, db *gorm.DB) ([]domain.HookJob, error) {
	var out []domain.HookJob
	err := db.WithContext(ctx).
		Preload("AreaAction.Area").
		Preload("AreaAction.ServiceAction.Service").
		Preload("AreaAction.ServiceAction.Params").
		Preload("AreaAction.ParamValues.Param").
		Where("type = ? AND status = ?", domain.HookTypePolling, domain.HookStatusActive).
		Order("last_checked_at asc").
		Find(&out).Error
	return out, err
}

// TransitionHookJob moves a job from one status to another only if it is
// still in from. It clears failure tracking when entering active or
// inactive. The bool reports whether the row changed.
func TransitionHookJob(ctx context.Context, db *gorm.DB, id string, from, to domain.HookStatus, reason string) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	switch to {
	case domain.HookStatusPaused:
		updates["paused_reason"] = reason
	default:
		updates["paused_reason"] = ""
		updates["consecutive_failures"] = 0
	}
	res := db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// UpdatePollingInterval sets a new polling interval.
func UpdatePollingInterval(ctx context.Context, db *gorm.DB, id string, seconds int) error {
	res := db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Where("id = ?", id).
		Updates(map[string]any{"polling_interval_seconds": seconds, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkChecked records a poll attempt at `at`. When cursor is non-nil the
// stored cursor is replaced too.
func MarkChecked(ctx context.Context, db *gorm.DB, id string, at time.Time, cursor *string) error {
	updates := map[string]any{"last_checked_at": at}
	if cursor != nil {
		updates["cursor"] = *cursor
	}
	return db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// RecordHookFailure increments the consecutive failure counter, stores the
// error text, and returns the new count.
func RecordHookFailure(ctx context.Context, db *gorm.DB, id, errText string) (int, error) {
	err := db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"last_error":           errText,
		}).Error
	if err != nil {
		return 0, err
	}
	var row struct{ ConsecutiveFailures int }
	err = db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Select("consecutive_failures").
		Where("id = ?", id).
		Take(&row).Error
	return row.ConsecutiveFailures, err
}

// ResetHookFailures zeroes the failure counter when it is non-zero.
func ResetHookFailures(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Where("id = ? AND consecutive_failures > 0", id).
		Updates(map[string]any{"consecutive_failures": 0, "last_error": ""}).Error
}

// ResumeTokenPausedJobs re-activates jobs paused for token expiry whose
// AreaAction uses userServiceID. It returns the number of resumed jobs.
func ResumeTokenPausedJobs(ctx context.Context, db *gorm.DB, userServiceID string) (int64, error) {
	sub := db.Model(&domain.AreaAction{}).Select("id").Where("user_service_id = ?", userServiceID)
	res := db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Where("status = ? AND paused_reason = ? AND area_action_id IN (?)",
			domain.HookStatusPaused, domain.PauseReasonTokenExpired, sub).
		Updates(map[string]any{
			"status":               domain.HookStatusActive,
			"paused_reason":        "",
			"consecutive_failures": 0,
			"updated_at":           time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
