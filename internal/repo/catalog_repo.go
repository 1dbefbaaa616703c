package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

// UpsertService inserts or updates a Service by Name and returns the stored
// row (with its ID).
func UpsertService(ctx context.Context, db *gorm.DB, s domain.Service) (*domain.Service, error) {
	var cur domain.Service
	err := db.WithContext(ctx).Where("name = ?", s.Name).First(&cur).Error
	now := time.Now().UTC()
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.ID = uuid.NewString()
		s.CreatedAt, s.UpdatedAt = now, now
		if err := db.WithContext(ctx).Create(&s).Error; err != nil {
			return nil, err
		}
		return &s, nil
	case err != nil:
		return nil, err
	}
	err = db.WithContext(ctx).Model(&cur).Updates(map[string]any{
		"display_name": s.DisplayName,
		"description":  s.Description,
		"updated_at":   now,
	}).Error
	return &cur, err
}

// UpsertServiceAction inserts or updates an action of serviceID by Name.
func UpsertServiceAction(ctx context.Context, db *gorm.DB, a domain.ServiceAction) (*domain.ServiceAction, error) {
	var cur domain.ServiceAction
	err := db.WithContext(ctx).Where("service_id = ? AND name = ?", a.ServiceID, a.Name).First(&cur).Error
	now := time.Now().UTC()
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		a.ID = uuid.NewString()
		a.CreatedAt, a.UpdatedAt = now, now
		a.Params = nil
		if err := db.WithContext(ctx).Create(&a).Error; err != nil {
			return nil, err
		}
		return &a, nil
	case err != nil:
		return nil, err
	}
	err = db.WithContext(ctx).Model(&cur).Updates(map[string]any{
		"description":       a.Description,
		"polling_supported": a.PollingSupported,
		"webhook_supported": a.WebhookSupported,
		"updated_at":        now,
	}).Error
	return &cur, err
}

// UpsertServiceActionParam inserts or updates a parameter of an action by Name.
func UpsertServiceActionParam(ctx context.Context, db *gorm.DB, p domain.ServiceActionParam) error {
	var cur domain.ServiceActionParam
	err := db.WithContext(ctx).Where("service_action_id = ? AND name = ?", p.ServiceActionID, p.Name).First(&cur).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p.ID = uuid.NewString()
		return db.WithContext(ctx).Create(&p).Error
	case err != nil:
		return err
	}
	return db.WithContext(ctx).Model(&cur).Updates(map[string]any{
		"data_type":     p.DataType,
		"required":      p.Required,
		"position":      p.Position,
		"default_value": p.DefaultValue,
	}).Error
}

// UpsertServiceReaction inserts or updates a reaction of serviceID by Name.
func UpsertServiceReaction(ctx context.Context, db *gorm.DB, r domain.ServiceReaction) (*domain.ServiceReaction, error) {
	var cur domain.ServiceReaction
	err := db.WithContext(ctx).Where("service_id = ? AND name = ?", r.ServiceID, r.Name).First(&cur).Error
	now := time.Now().UTC()
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		r.ID = uuid.NewString()
		r.CreatedAt, r.UpdatedAt = now, now
		r.Params = nil
		if err := db.WithContext(ctx).Create(&r).Error; err != nil {
			return nil, err
		}
		return &r, nil
	case err != nil:
		return nil, err
	}
	err = db.WithContext(ctx).Model(&cur).Updates(map[string]any{
		"description": r.Description,
		"updated_at":  now,
	}).Error
	return &cur, err
}

// UpsertServiceReactionParam inserts or updates a parameter of a reaction by Name.
func UpsertServiceReactionParam(ctx context.Context, db *gorm.DB, p domain.ServiceReactionParam) error {
	var cur domain.ServiceReactionParam
	err := db.WithContext(ctx).Where("service_reaction_id = ? AND name = ?", p.ServiceReactionID, p.Name).First(&cur).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p.ID = uuid.NewString()
		return db.WithContext(ctx).Create(&p).Error
	case err != nil:
		return err
	}
	return db.WithContext(ctx).Model(&cur).Updates(map[string]any{
		"data_type":     p.DataType,
		"required":      p.Required,
		"position":      p.Position,
		"default_value": p.DefaultValue,
	}).Error
}

// GetServiceReaction loads a catalog reaction with its Service and its
// parameter definitions in position order.
func GetServiceReaction(ctx context.Context, db *gorm.DB, id string) (*domain.ServiceReaction, error) {
	var r domain.ServiceReaction
	err := db.WithContext(ctx).
		Preload("Service").
		Preload("Params", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}
