package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

// GetArea fetches an Area by id.
func GetArea(ctx context.Context, db *gorm.DB, id string) (*domain.Area, error) {
	var a domain.Area
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetOwnedArea fetches an Area by id only if userID owns it; otherwise it
// returns ErrNotFound.
func GetOwnedArea(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Area, error) {
	var a domain.Area
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAreaEnabled flips the enabled flag of an owned Area.
func SetAreaEnabled(ctx context.Context, db *gorm.DB, id, userID string, enabled bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Area{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAreaAction loads an AreaAction with its Area, catalog action (and
// service), and parameter values with their definitions.
func GetAreaAction(ctx context.Context, db *gorm.DB, id string) (*domain.AreaAction, error) {
	var aa domain.AreaAction
	err := db.WithContext(ctx).
		Preload("Area").
		Preload("ServiceAction.Service").
		Preload("ParamValues.Param").
		Where("id = ?", id).
		First(&aa).Error
	if err != nil {
		return nil, err
	}
	return &aa, nil
}

// ListEnabledReactions returns the enabled reactions of an Area in execution
// order (position ascending, then insertion order) with their parameter
// values. The catalog reaction itself is not preloaded; the executor caches
// it by ServiceReactionID.
func ListEnabledReactions(ctx context.Context, db *gorm.DB, areaID string) ([]domain.AreaReaction, error) {
	var out []domain.AreaReaction
	err := db.WithContext(ctx).
		Preload("ParamValues.Param").
		Where("area_id = ? AND enabled = ?", areaID, true).
		Order("position asc").
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// SetReactionEnabled flips the enabled flag of a reaction inside areaID.
func SetReactionEnabled(ctx context.Context, db *gorm.DB, areaID, reactionID string, enabled bool) error {
	res := db.WithContext(ctx).
		Model(&domain.AreaReaction{}).
		Where("id = ? AND area_id = ?", reactionID, areaID).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserService fetches a connected account by id, preloading its service.
func GetUserService(ctx context.Context, db *gorm.DB, id string) (*domain.UserService, error) {
	var us domain.UserService
	err := db.WithContext(ctx).Preload("Service").Where("id = ?", id).First(&us).Error
	if err != nil {
		return nil, err
	}
	return &us, nil
}

// ListExpiringUserServices returns accounts holding a refresh token whose
// access token expires before cutoff.
func ListExpiringUserServices(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.UserService, error) {
	var out []domain.UserService
	err := db.WithContext(ctx).
		Preload("Service").
		Where("refresh_token <> '' AND token_expires_at IS NOT NULL AND token_expires_at < ?", cutoff).
		Find(&out).Error
	return out, err
}

// UpdateUserServiceTokens stores a refreshed token pair.
func UpdateUserServiceTokens(ctx context.Context, db *gorm.DB, id, access, refresh string, expiresAt *time.Time) error {
	updates := map[string]any{
		"access_token":     access,
		"token_expires_at": expiresAt,
		"updated_at":       time.Now().UTC(),
	}
	if refresh != "" {
		updates["refresh_token"] = refresh
	}
	res := db.WithContext(ctx).Model(&domain.UserService{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
