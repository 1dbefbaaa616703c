package domain

import (
	"testing"
	"time"
)

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Service{}).TableName():              "services",
		(ServiceAction{}).TableName():        "service_actions",
		(ServiceReaction{}).TableName():      "service_reactions",
		(UserService{}).TableName():          "user_services",
		(Area{}).TableName():                 "areas",
		(AreaAction{}).TableName():           "area_actions",
		(AreaReaction{}).TableName():         "area_reactions",
		(HookJob{}).TableName():              "hook_jobs",
		(HookLog{}).TableName():              "hook_logs",
		(ExecutionLog{}).TableName():         "execution_logs",
		(QueueJob{}).TableName():             "queue_jobs",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to HookStatus
		want     bool
	}{
		{HookStatusInactive, HookStatusActive, true},
		{HookStatusActive, HookStatusPaused, true},
		{HookStatusPaused, HookStatusActive, true},
		{HookStatusActive, HookStatusInactive, true},
		{HookStatusPaused, HookStatusInactive, true},
		{HookStatusInactive, HookStatusPaused, false},
		{HookStatusActive, HookStatusActive, true},
		{HookStatusActive, HookStatus("bogus"), false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s,%s)=%v want %v", tc.from, tc.to, got, tc.want)
		}
	}
	err := &TransitionError{From: HookStatusInactive, To: HookStatusPaused}
	if err.Error() != "hook job cannot move from inactive to paused" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestHookJob_DueAndInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := HookJob{Type: HookTypePolling, Status: HookStatusActive, PollingIntervalSeconds: 30}

	if !h.Due(now) {
		t.Fatalf("never-checked job must be due")
	}
	last := now.Add(-29 * time.Second)
	h.LastCheckedAt = &last
	if h.Due(now) {
		t.Fatalf("job checked 29s ago with 30s interval must not be due")
	}
	last = now.Add(-30 * time.Second)
	if !h.Due(now) {
		t.Fatalf("job at exactly the interval must be due")
	}

	h.Status = HookStatusPaused
	if h.Due(now) {
		t.Fatalf("paused job is never due")
	}
	h.Status = HookStatusActive
	h.Type = HookTypeWebhook
	if h.Due(now) {
		t.Fatalf("webhook job is never due")
	}

	if (HookJob{}).Interval() != 60*time.Second {
		t.Fatalf("default interval should be 60s")
	}
}

func TestEnumsAndHelpers(t *testing.T) {
	if !HookTypePolling.Valid() || !HookTypeWebhook.Valid() || HookType("cron").Valid() {
		t.Fatalf("HookType.Valid mismatch")
	}
	if !HookStatusPaused.Valid() || HookStatus("done").Valid() {
		t.Fatalf("HookStatus.Valid mismatch")
	}
	if CapabilityKey("discord", "send_message") != "discord.send_message" {
		t.Fatalf("CapabilityKey mismatch")
	}

	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Minute)
	if (UserService{}).Usable(now) {
		t.Fatalf("empty token is not usable")
	}
	if !(UserService{AccessToken: "t"}).Usable(now) {
		t.Fatalf("non-expiring token is usable")
	}
	if (UserService{AccessToken: "t", TokenExpiresAt: &past}).Usable(now) {
		t.Fatalf("expired token is not usable")
	}
	if !(UserService{AccessToken: "t", TokenExpiresAt: &future}).Usable(now) {
		t.Fatalf("unexpired token is usable")
	}
}

func TestMigrations_CascadesAndSoftReferences(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(
		&Service{}, &ServiceAction{}, &ServiceActionParam{}, &ServiceReaction{}, &ServiceReactionParam{},
		&UserService{}, &Area{}, &AreaAction{}, &AreaActionParamValue{}, &AreaReaction{}, &AreaReactionParamValue{},
		&HookJob{}, &HookLog{}, &ExecutionLog{}, &QueueJob{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, idx := range []struct {
		model any
		name  string
	}{
		{&ServiceAction{}, "ux_service_action"},
		{&ExecutionLog{}, "idx_exec_area_started"},
		{&QueueJob{}, "idx_queue_ready"},
		{&HookLog{}, "idx_hook_logs_job"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s on %T", idx.name, idx.model)
		}
	}

	now := time.Now().UTC()
	must := func(v any) {
		t.Helper()
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("insert %T: %v", v, err)
		}
	}
	must(&Service{ID: "s1", Name: "timer"})
	must(&ServiceAction{ID: "sa1", ServiceID: "s1", Name: "cron", PollingSupported: true})
	must(&Area{ID: "a1", UserID: "u1", Name: "A", Enabled: true})
	must(&AreaAction{ID: "aa1", AreaID: "a1", ServiceActionID: "sa1", Enabled: true})
	must(&HookJob{ID: "h1", AreaActionID: "aa1", Type: HookTypePolling, Status: HookStatusActive, PollingIntervalSeconds: 60})
	must(&HookLog{ID: "l1", HookJobID: "h1", Source: HookSourcePolling, EventPayload: []byte(`{}`), DetectedAt: now})

	// A second AreaAction for the same Area violates the one-action invariant.
	if err := db.Create(&AreaAction{ID: "aa2", AreaID: "a1", ServiceActionID: "sa1"}).Error; err == nil {
		t.Fatalf("expected unique violation for a second AreaAction on the same Area")
	}

	if err := db.Delete(&Area{}, "id = ?", "a1").Error; err != nil {
		t.Fatalf("delete area: %v", err)
	}
	var n int64
	db.Model(&AreaAction{}).Count(&n)
	if n != 0 {
		t.Fatalf("area actions should cascade, got %d", n)
	}
	db.Model(&HookJob{}).Count(&n)
	if n != 0 {
		t.Fatalf("hook jobs should cascade, got %d", n)
	}
	db.Model(&HookLog{}).Count(&n)
	if n != 1 {
		t.Fatalf("hook logs must outlive their job, got %d", n)
	}
}
