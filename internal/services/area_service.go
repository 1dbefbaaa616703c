package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/repo"
)

// AreaService toggles an Area and its reactions. A disabled Area is not
// polled and its queued executions are skipped; a disabled reaction is left
// out of executions.
type AreaService struct {
	DB *gorm.DB
}

// SetEnabled enables or disables an owned Area.
func (s *AreaService) SetEnabled(ctx context.Context, userID, areaID string, enabled bool) error {
	ctx, span := otel.Tracer("services/AreaService").Start(ctx, "SetEnabled",
		trace.WithAttributes(
			attribute.String("area.id", areaID),
			attribute.Bool("enabled", enabled),
		),
	)
	defer span.End()

	if err := s.owned(ctx, userID, areaID); err != nil {
		return err
	}
	return repo.SetAreaEnabled(ctx, s.DB, areaID, userID, enabled)
}

// SetReactionEnabled enables or disables one reaction of an owned Area.
func (s *AreaService) SetReactionEnabled(ctx context.Context, userID, areaID, reactionID string, enabled bool) error {
	ctx, span := otel.Tracer("services/AreaService").Start(ctx, "SetReactionEnabled",
		trace.WithAttributes(
			attribute.String("area.id", areaID),
			attribute.String("reaction.id", reactionID),
			attribute.Bool("enabled", enabled),
		),
	)
	defer span.End()

	if err := s.owned(ctx, userID, areaID); err != nil {
		return err
	}
	err := repo.SetReactionEnabled(ctx, s.DB, areaID, reactionID, enabled)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrReactionNotFound
	}
	return err
}

func (s *AreaService) owned(ctx context.Context, userID, areaID string) error {
	a, err := repo.GetArea(ctx, s.DB, areaID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAreaNotFound
	}
	if err != nil {
		return err
	}
	if a.UserID != userID {
		return ErrForbidden
	}
	return nil
}
