package repo

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
)

type fixture struct {
	Service     domain.Service
	Action      domain.ServiceAction
	Reaction    domain.ServiceReaction
	UserService domain.UserService
	Area        domain.Area
	AreaAction  domain.AreaAction
}

// seedArea migrates the full schema and inserts one enabled Area owned by
// "u1" with a timer.cron action and a logger.log catalog reaction.
func seedArea(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	f := fixture{
		Service:     domain.Service{ID: "svc-timer", Name: "timer", CreatedAt: now, UpdatedAt: now},
		Action:      domain.ServiceAction{ID: "sa-cron", ServiceID: "svc-timer", Name: "cron", PollingSupported: true},
		Reaction:    domain.ServiceReaction{ID: "sr-log", ServiceID: "svc-timer", Name: "log"},
		UserService: domain.UserService{ID: "us1", UserID: "u1", ServiceID: "svc-timer", AccessToken: "tok"},
		Area:        domain.Area{ID: "a1", UserID: "u1", Name: "A", Enabled: true, CreatedAt: now, UpdatedAt: now},
		AreaAction:  domain.AreaAction{ID: "aa1", AreaID: "a1", ServiceActionID: "sa-cron", UserServiceID: "us1", Enabled: true},
	}
	for _, v := range []any{&f.Service, &f.Action, &f.Reaction, &f.UserService, &f.Area, &f.AreaAction} {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed %T: %v", v, err)
		}
	}
	return f
}

func seedHookJob(t *testing.T, db *gorm.DB, id string, typ domain.HookType, status domain.HookStatus) *domain.HookJob {
	t.Helper()
	h := &domain.HookJob{ID: id, AreaActionID: "aa1", Type: typ, Status: status, PollingIntervalSeconds: 60}
	if err := CreateHookJob(t.Context(), db, h); err != nil {
		t.Fatalf("seed hook job: %v", err)
	}
	return h
}
