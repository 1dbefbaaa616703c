package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// Execution history bounds.
const (
	DefaultExecutionLimit = 100
	MaxExecutionLimit     = 500
)

// ExecutionService reads the execution history of an Area.
type ExecutionService struct {
	DB *gorm.DB
}

// List returns the latest execution logs of an owned Area, newest first.
// limit falls back to DefaultExecutionLimit and is capped at
// MaxExecutionLimit.
func (s *ExecutionService) List(ctx context.Context, userID, areaID string, limit int) ([]domain.ExecutionLog, error) {
	ctx, span := otel.Tracer("services/ExecutionService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("area.id", areaID),
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if err := s.owned(ctx, userID, areaID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}
	limit = min(limit, MaxExecutionLimit)

	logs, err := repo.ListExecutionLogs(ctx, s.DB, areaID, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []domain.ExecutionLog{}
	}
	return logs, nil
}

// ETag returns a weak validator for the execution history of an owned
// Area. It changes whenever a log is appended.
func (s *ExecutionService) ETag(ctx context.Context, userID, areaID string) (string, error) {
	if err := s.owned(ctx, userID, areaID); err != nil {
		return "", err
	}
	count, latest, err := repo.ExecutionStats(ctx, s.DB, areaID)
	if err != nil {
		return "", err
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	return fmt.Sprintf(`W/"executions:%s:%d:%d"`, areaID, count, ts), nil
}

func (s *ExecutionService) owned(ctx context.Context, userID, areaID string) error {
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
