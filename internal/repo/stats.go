package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

// ExecutionStats returns how many execution logs an Area has and the latest
// StartedAt among them. Logs are append-only, so the pair moves on every
// insert. latest is nil when there are none.
func ExecutionStats(ctx context.Context, db *gorm.DB, areaID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ExecutionLog{}).Where("area_id = ?", areaID)
	return countAndLatest(q, "started_at")
}

// HookJobsStats returns how many hook jobs hang off an Area's actions and
// their latest UpdatedAt.
func HookJobsStats(ctx context.Context, db *gorm.DB, areaID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.HookJob{}).
		Joins("JOIN area_actions ON area_actions.id = hook_jobs.area_action_id").
		Where("area_actions.area_id = ?", areaID)
	return countAndLatest(q, "hook_jobs.updated_at")
}

// countAndLatest counts the rows of q and reads the greatest value of column.
// It orders instead of using MAX() because SQLite returns MAX of a
// timestamp as TEXT.
func countAndLatest(q *gorm.DB, column string) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var at time.Time
	if err := q.Select(column).Order(column + " DESC").Limit(1).Row().Scan(&at); err != nil {
		return 0, nil, err
	}
	return count, &at, nil
}
