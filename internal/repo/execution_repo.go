package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

// CreateExecutionLog appends one reaction outcome.
func CreateExecutionLog(ctx context.Context, db *gorm.DB, l *domain.ExecutionLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(l).Error
}

// ListExecutionLogs returns the latest execution logs of an Area, newest
// first.
func ListExecutionLogs(ctx context.Context, db *gorm.DB, areaID string, limit int) ([]domain.ExecutionLog, error) {
	var out []domain.ExecutionLog
	err := db.WithContext(ctx).
		Where("area_id = ?", areaID).
		Order("started_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountExecutionsForHookLog returns how many execution logs reference a
// HookLog.
func CountExecutionsForHookLog(ctx context.Context, db *gorm.DB, hookLogID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ExecutionLog{}).Where("hook_log_id = ?", hookLogID).Count(&n).Error
	return n, err
}

// SucceededReactionIDs returns the ids of the reactions that already have a
// successful execution log for hookLogID. A re-delivered job uses it to skip
// them.
func SucceededReactionIDs(ctx context.Context, db *gorm.DB, hookLogID string) (map[string]bool, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.ExecutionLog{}).
		Where("hook_log_id = ? AND status = ?", hookLogID, domain.ExecutionSuccess).
		Distinct().
		Pluck("area_reaction_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
