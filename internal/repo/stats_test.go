package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-area-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestExecutionStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := ExecutionStats(context.Background(), db, "a1"); err == nil {
		t.Fatalf("expected error due to missing execution_logs table")
	}
}

func TestExecutionStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.ExecutionLog{})
	count, latest, err := ExecutionStats(context.Background(), db, "a1")
	if err != nil {
		t.Fatalf("ExecutionStats error: %v", err)
	}
	if count != 0 || latest != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, latest)
	}
}

func TestExecutionStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.ExecutionLog{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for a1
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // other area

	for i, row := range []struct {
		area string
		at   time.Time
	}{{"a1", t1}, {"a1", t2}, {"a2", t3}} {
		l := &domain.ExecutionLog{
			ID: fmt.Sprintf("e%d", i), AreaID: row.area, AreaActionID: "aa", AreaReactionID: "r",
			HookLogID: "hl", Status: domain.ExecutionSuccess, StartedAt: row.at, FinishedAt: row.at,
		}
		if err := db.Create(l).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	count, latest, err := ExecutionStats(context.Background(), db, "a1")
	if err != nil {
		t.Fatalf("ExecutionStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if latest == nil || !latest.Equal(t2) {
		t.Fatalf("expected latest %v, got %v", t2, latest)
	}
}

// Force the second query (SELECT started_at ...) to fail by renaming the column.
func TestExecutionStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.ExecutionLog{})
	now := time.Now().UTC()
	if err := db.Create(&domain.ExecutionLog{
		ID: "ex", AreaID: "aerr", AreaActionID: "aa", AreaReactionID: "r", HookLogID: "hl",
		Status: domain.ExecutionFailure, StartedAt: now, FinishedAt: now,
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Exec(`ALTER TABLE execution_logs RENAME COLUMN started_at TO started_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}
	if _, _, err := ExecutionStats(context.Background(), db, "aerr"); err == nil {
		t.Fatalf("expected error from latest select after column rename")
	}
}

func TestHookJobsStats_ScopedToArea(t *testing.T) {
	db := newTestDB(t)
	seedArea(t, db)

	count, maxAt, err := HookJobsStats(context.Background(), db, "a1")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil, nil), got (%d, %v, %v)", count, maxAt, err)
	}

	seedHookJob(t, db, "h1", domain.HookTypePolling, domain.HookStatusActive)
	seedHookJob(t, db, "h2", domain.HookTypeWebhook, domain.HookStatusInactive)

	count, maxAt, err = HookJobsStats(context.Background(), db, "a1")
	if err != nil {
		t.Fatalf("HookJobsStats: %v", err)
	}
	if count != 2 || maxAt == nil {
		t.Fatalf("expected 2 jobs with a max time, got %d %v", count, maxAt)
	}

	count, _, err = HookJobsStats(context.Background(), db, "other")
	if err != nil || count != 0 {
		t.Fatalf("other area should have no jobs, got %d err=%v", count, err)
	}
}
