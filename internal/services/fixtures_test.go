package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seed creates a "hooks" service whose "both" action supports polling and
// webhooks and whose "poll" action only polling, plus:
//
//	a1/aa1 owned by u1, action "both", account us1 (valid token)
//	a2/aa2 owned by u2, action "both"
//	a3/aa3 owned by u1, action "poll", account us-old (expired token)
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	rows := []any{
		&domain.Service{ID: "svc", Name: "hooks"},
		&domain.ServiceAction{ID: "sa-both", ServiceID: "svc", Name: "both", PollingSupported: true, WebhookSupported: true},
		&domain.ServiceAction{ID: "sa-poll", ServiceID: "svc", Name: "poll", PollingSupported: true},
		&domain.UserService{ID: "us1", UserID: "u1", ServiceID: "svc", AccessToken: "tok"},
		&domain.UserService{ID: "us-old", UserID: "u1", ServiceID: "svc", AccessToken: "stale", TokenExpiresAt: &past},
		&domain.Area{ID: "a1", UserID: "u1", Name: "one", Enabled: true, CreatedAt: now, UpdatedAt: now},
		&domain.Area{ID: "a2", UserID: "u2", Name: "two", Enabled: true, CreatedAt: now, UpdatedAt: now},
		&domain.Area{ID: "a3", UserID: "u1", Name: "three", Enabled: true, CreatedAt: now, UpdatedAt: now},
		&domain.AreaAction{ID: "aa1", AreaID: "a1", ServiceActionID: "sa-both", UserServiceID: "us1", Enabled: true},
		&domain.AreaAction{ID: "aa2", AreaID: "a2", ServiceActionID: "sa-both", Enabled: true},
		&domain.AreaAction{ID: "aa3", AreaID: "a3", ServiceActionID: "sa-poll", UserServiceID: "us-old", Enabled: true},
	}
	for _, v := range rows {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed %T: %v", v, err)
		}
	}
}

// hookRepo adapts the repo functions to HookRepo.
type hookRepo struct{}

func (hookRepo) GetArea(ctx context.Context, db *gorm.DB, id string) (*domain.Area, error) {
	return repo.GetArea(ctx, db, id)
}

func (hookRepo) GetAreaAction(ctx context.Context, db *gorm.DB, id string) (*domain.AreaAction, error) {
	return repo.GetAreaAction(ctx, db, id)
}

func (hookRepo) GetHookJob(ctx context.Context, db *gorm.DB, id string) (*domain.HookJob, error) {
	return repo.GetHookJob(ctx, db, id)
}

func (hookRepo) CreateHookJob(ctx context.Context, db *gorm.DB, h *domain.HookJob) error {
	return repo.CreateHookJob(ctx, db, h)
}

func (hookRepo) ListHookJobsByArea(ctx context.Context, db *gorm.DB, areaID string) ([]domain.HookJob, error) {
	return repo.ListHookJobsByArea(ctx, db, areaID)
}

func (hookRepo) TransitionHookJob(ctx context.Context, db *gorm.DB, id string, from, to domain.HookStatus, reason string) (bool, error) {
	return repo.TransitionHookJob(ctx, db, id, from, to, reason)
}

func (hookRepo) UpdatePollingInterval(ctx context.Context, db *gorm.DB, id string, seconds int) error {
	return repo.UpdatePollingInterval(ctx, db, id, seconds)
}

func (hookRepo) ListHookLogs(ctx context.Context, db *gorm.DB, hookJobID string, limit int) ([]domain.HookLog, error) {
	return repo.ListHookLogs(ctx, db, hookJobID, limit)
}

// loaderFunc adapts a function to CredentialLoader.
type loaderFunc func(ctx context.Context, id string) (capability.Credentials, error)

func (f loaderFunc) Load(ctx context.Context, id string) (capability.Credentials, error) {
	return f(ctx, id)
}

func intp(v int) *int { return &v }

func statusp(s domain.HookStatus) *domain.HookStatus { return &s }
