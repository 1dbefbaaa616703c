package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/catalog"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection serializes the concurrent polls of a cycle; shared-cache
	// SQLite reports table locks instead of waiting.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, rows ...any) {
	t.Helper()
	for _, v := range rows {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed %T: %v", v, err)
		}
	}
}

// seed inserts a "test" service with a polling "source" action, three
// reactions (ok, fail, echo with a "text" parameter), an enabled Area a1
// with AreaAction aa1, and an active polling HookJob h1.
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()
	mustCreate(t, db,
		&domain.Service{ID: "svc", Name: "test"},
		&domain.ServiceAction{ID: "sa-src", ServiceID: "svc", Name: "source", PollingSupported: true},
		&domain.ServiceReaction{ID: "sr-ok", ServiceID: "svc", Name: "ok"},
		&domain.ServiceReaction{ID: "sr-fail", ServiceID: "svc", Name: "fail"},
		&domain.ServiceReaction{ID: "sr-echo", ServiceID: "svc", Name: "echo"},
		&domain.ServiceReactionParam{ID: "p-text", ServiceReactionID: "sr-echo", Name: "text", DataType: "string"},
		&domain.ServiceReactionParam{ID: "p-mode", ServiceReactionID: "sr-echo", Name: "mode", DataType: "string", DefaultValue: []byte(`"plain"`)},
		&domain.Area{ID: "a1", UserID: "u1", Name: "A", Enabled: true, CreatedAt: now, UpdatedAt: now},
		&domain.AreaAction{ID: "aa1", AreaID: "a1", ServiceActionID: "sa-src", Enabled: true},
		&domain.HookJob{ID: "h1", AreaActionID: "aa1", Type: domain.HookTypePolling, Status: domain.HookStatusActive, PollingIntervalSeconds: 60},
	)
}

func addReaction(t *testing.T, db *gorm.DB, id, catalogID string, pos int, enabled bool) {
	t.Helper()
	mustCreate(t, db, &domain.AreaReaction{
		ID: id, AreaID: "a1", ServiceReactionID: catalogID, Position: pos, Enabled: enabled,
		CreatedAt: time.Now().UTC(),
	})
}

func addHookLog(t *testing.T, db *gorm.DB, id, payload string) {
	t.Helper()
	if err := repo.CreateHookLog(context.Background(), db, &domain.HookLog{
		ID: id, HookJobID: "h1", Source: domain.HookSourceWebhook, EventPayload: []byte(payload),
	}); err != nil {
		t.Fatalf("seed hook log: %v", err)
	}
}

// stepClock returns a time source that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	args  []map[string]any
}

func (r *recorder) reactor(name string, fail error) capability.ReactFunc {
	return func(_ context.Context, _ capability.Credentials, params map[string]any) (capability.Outcome, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.args = append(r.args, params)
		r.mu.Unlock()
		if fail != nil {
			return nil, fail
		}
		return capability.Outcome{"ok": true}, nil
	}
}

func newExecutor(t *testing.T, db *gorm.DB, reg *capability.Registry, threshold int) *Executor {
	t.Helper()
	ex, err := NewExecutor(db, reg, ExecutorOptions{
		Credentials: &CredentialStore{DB: db},
		Failures:    &FailureTracker{DB: db, Threshold: threshold, Log: zerolog.Nop()},
		Log:         zerolog.Nop(),
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	ex.now = stepClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	return ex
}

func testRegistry(rec *recorder) *capability.Registry {
	reg := capability.NewRegistry()
	reg.RegisterReactor("test", "ok", rec.reactor("ok", nil))
	reg.RegisterReactor("test", "fail", rec.reactor("fail", errors.New("upstream 500")))
	reg.RegisterReactor("test", "echo", rec.reactor("echo", nil))
	return reg
}

func executionLogs(t *testing.T, db *gorm.DB) []domain.ExecutionLog {
	t.Helper()
	var out []domain.ExecutionLog
	if err := db.Order("started_at asc").Find(&out).Error; err != nil {
		t.Fatalf("list execution logs: %v", err)
	}
	return out
}

func TestExecutor_ReactionFailuresAreIsolated(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r2", "sr-ok", 2, true)
	addReaction(t, db, "r0", "sr-ok", 0, true)
	addReaction(t, db, "r1", "sr-fail", 1, true)
	addHookLog(t, db, "l1", `{"n":1}`)

	rec := &recorder{}
	ex := newExecutor(t, db, testRegistry(rec), 3)
	if err := ex.Execute(context.Background(), "l1", "aa1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	logs := executionLogs(t, db)
	if len(logs) != 3 {
		t.Fatalf("expected 3 execution logs, got %d", len(logs))
	}
	want := []struct {
		reaction string
		status   domain.ExecutionStatus
	}{
		{"r0", domain.ExecutionSuccess},
		{"r1", domain.ExecutionFailure},
		{"r2", domain.ExecutionSuccess},
	}
	for i, w := range want {
		if logs[i].AreaReactionID != w.reaction || logs[i].Status != w.status {
			t.Fatalf("log %d = %s/%s; want %s/%s", i, logs[i].AreaReactionID, logs[i].Status, w.reaction, w.status)
		}
	}
	if logs[1].ErrorText != "upstream 500" {
		t.Fatalf("failure text not recorded: %q", logs[1].ErrorText)
	}
	if logs[0].HookLogID != "l1" || logs[0].AreaID != "a1" || logs[0].AreaActionID != "aa1" {
		t.Fatalf("log references not set: %+v", logs[0])
	}
}

func TestExecutor_DisabledReactionAndArea(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r0", "sr-ok", 0, true)
	addReaction(t, db, "r1", "sr-ok", 1, false)
	addHookLog(t, db, "l1", `{}`)

	rec := &recorder{}
	ex := newExecutor(t, db, testRegistry(rec), 3)
	if err := ex.Execute(context.Background(), "l1", "aa1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if logs := executionLogs(t, db); len(logs) != 1 || logs[0].AreaReactionID != "r0" {
		t.Fatalf("disabled reaction must not run: %+v", logs)
	}

	if err := repo.SetAreaEnabled(context.Background(), db, "a1", "u1", false); err != nil {
		t.Fatalf("SetAreaEnabled: %v", err)
	}
	addHookLog(t, db, "l2", `{}`)
	if err := ex.Execute(context.Background(), "l2", "aa1"); err != nil {
		t.Fatalf("Execute on disabled area: %v", err)
	}
	if n, _ := repo.CountExecutionsForHookLog(context.Background(), db, "l2"); n != 0 {
		t.Fatalf("disabled area must not execute, got %d logs", n)
	}
}

func TestExecutor_MissingReferencesArePermanent(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addHookLog(t, db, "l1", `{}`)
	ex := newExecutor(t, db, testRegistry(&recorder{}), 3)

	if err := ex.Execute(context.Background(), "missing", "aa1"); !queue.IsPermanent(err) {
		t.Fatalf("missing hook log must be permanent, got %v", err)
	}
	if err := ex.Execute(context.Background(), "l1", "missing"); !queue.IsPermanent(err) {
		t.Fatalf("missing area action must be permanent, got %v", err)
	}
	if err := ex.Handle(context.Background(), &queue.Job{Payload: []byte(`garbage`)}); !queue.IsPermanent(err) {
		t.Fatalf("bad payload must be permanent, got %v", err)
	}
}

func TestExecutor_BindsPayloadAndDefaults(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r0", "sr-echo", 0, true)
	text := "hello {{user.name}}, id={{id}}"
	mustCreate(t, db, &domain.AreaReactionParamValue{
		ID: "v1", AreaReactionID: "r0", ServiceReactionParamID: "p-text", ValueText: &text,
	})
	addHookLog(t, db, "l1", `{"id":42,"user":{"name":"ada"}}`)

	rec := &recorder{}
	ex := newExecutor(t, db, testRegistry(rec), 3)
	job := &queue.Job{Key: "webhook-l1", Payload: []byte(`{"hook_log_id":"l1","area_action_id":"aa1"}`)}
	if err := ex.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(rec.args) != 1 {
		t.Fatalf("expected one call, got %d", len(rec.args))
	}
	if got := rec.args[0]["text"]; got != "hello ada, id=42" {
		t.Fatalf("text = %v", got)
	}
	if got := rec.args[0]["mode"]; got != "plain" {
		t.Fatalf("default not applied: %v", got)
	}
	logs := executionLogs(t, db)
	if len(logs) != 1 || !strings.Contains(string(logs[0].RequestPayload), "hello ada") {
		t.Fatalf("request payload not stored: %+v", logs)
	}
}

func TestExecutor_RedeliverySkipsSucceededReactions(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r0", "sr-ok", 0, true)
	addReaction(t, db, "r1", "sr-fail", 1, true)
	addHookLog(t, db, "l1", `{}`)

	rec := &recorder{}
	ex := newExecutor(t, db, testRegistry(rec), 10)
	for i := 0; i < 2; i++ {
		if err := ex.Execute(context.Background(), "l1", "aa1"); err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
	}
	if strings.Join(rec.calls, ",") != "ok,fail,fail" {
		t.Fatalf("unexpected calls: %v", rec.calls)
	}
}

const fancyCatalog = `
services:
  - name: test
    reactions:
      - name: echo
        params:
          - name: text
          - name: mode
            default: fancy
`

func TestExecutor_CatalogSyncRefreshesCachedDefaults(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r0", "sr-echo", 0, true)
	addHookLog(t, db, "l1", `{}`)
	ctx := context.Background()

	rec := &recorder{}
	ex := newExecutor(t, db, testRegistry(rec), 3)
	if err := ex.Execute(ctx, "l1", "aa1"); err != nil {
		t.Fatalf("Execute l1: %v", err)
	}

	f, err := catalog.Parse([]byte(fancyCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := &catalog.Syncer{DB: db, Log: zerolog.Nop(), OnSync: func(catalog.Stats) { ex.PurgeCatalog() }}
	if _, err := s.Sync(ctx, f); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	addHookLog(t, db, "l2", `{}`)
	if err := ex.Execute(ctx, "l2", "aa1"); err != nil {
		t.Fatalf("Execute l2: %v", err)
	}
	if len(rec.args) != 2 {
		t.Fatalf("expected two calls, got %d", len(rec.args))
	}
	if got := rec.args[0]["mode"]; got != "plain" {
		t.Fatalf("first execution mode = %v", got)
	}
	if got := rec.args[1]["mode"]; got != "fancy" {
		t.Fatalf("reloaded default not applied: %v", got)
	}
}

func TestExecutor_CatalogCacheExpires(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r0", "sr-echo", 0, true)
	addHookLog(t, db, "l1", `{}`)
	ctx := context.Background()

	rec := &recorder{}
	ex, err := NewExecutor(db, testRegistry(rec), ExecutorOptions{Log: zerolog.Nop(), CacheTTL: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if err := ex.Execute(ctx, "l1", "aa1"); err != nil {
		t.Fatalf("Execute l1: %v", err)
	}
	// Written behind the executor's back, as another process would.
	if err := db.Model(&domain.ServiceReactionParam{}).Where("id = ?", "p-mode").
		Update("default_value", []byte(`"fancy"`)).Error; err != nil {
		t.Fatalf("update default: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	addHookLog(t, db, "l2", `{}`)
	if err := ex.Execute(ctx, "l2", "aa1"); err != nil {
		t.Fatalf("Execute l2: %v", err)
	}
	if len(rec.args) != 2 || rec.args[1]["mode"] != "fancy" {
		t.Fatalf("expired entry still served: %+v", rec.args)
	}
}

func TestExecutor_AllReactionsFailingCountsAsHookFailure(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r0", "sr-fail", 0, true)
	ctx := context.Background()

	ex := newExecutor(t, db, testRegistry(&recorder{}), 2)
	addHookLog(t, db, "l1", `{}`)
	if err := ex.Execute(ctx, "l1", "aa1"); err != nil {
		t.Fatalf("Execute l1: %v", err)
	}
	h, _ := repo.GetHookJob(ctx, db, "h1")
	if h.ConsecutiveFailures != 1 || h.Status != domain.HookStatusActive {
		t.Fatalf("one fully failed execution should count once: %+v", h)
	}

	addHookLog(t, db, "l2", `{}`)
	if err := ex.Execute(ctx, "l2", "aa1"); err != nil {
		t.Fatalf("Execute l2: %v", err)
	}
	h, _ = repo.GetHookJob(ctx, db, "h1")
	if h.Status != domain.HookStatusPaused || h.PausedReason != domain.PauseReasonFailures {
		t.Fatalf("hook job should pause at threshold 2: %+v", h)
	}
}

func TestExecutor_PartialFailureLeavesCounter(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addReaction(t, db, "r0", "sr-ok", 0, true)
	addReaction(t, db, "r1", "sr-fail", 1, true)
	addHookLog(t, db, "l1", `{}`)
	ctx := context.Background()
	if err := db.Model(&domain.HookJob{}).Where("id = ?", "h1").Update("consecutive_failures", 1).Error; err != nil {
		t.Fatalf("seed failures: %v", err)
	}

	ex := newExecutor(t, db, testRegistry(&recorder{}), 3)
	if err := ex.Execute(ctx, "l1", "aa1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	h, _ := repo.GetHookJob(ctx, db, "h1")
	if h.ConsecutiveFailures != 1 {
		t.Fatalf("partial failure changed the counter: %d", h.ConsecutiveFailures)
	}
}

func TestExecutor_ExpiredCredentialsPauseHookJob(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	past := time.Now().Add(-time.Hour)
	mustCreate(t, db, &domain.UserService{ID: "us1", UserID: "u1", ServiceID: "svc", AccessToken: "old", TokenExpiresAt: &past})
	mustCreate(t, db, &domain.AreaReaction{ID: "r0", AreaID: "a1", ServiceReactionID: "sr-ok", UserServiceID: "us1", Enabled: true})
	mustCreate(t, db, &domain.AreaReaction{ID: "r1", AreaID: "a1", ServiceReactionID: "sr-ok", UserServiceID: "gone", Position: 1, Enabled: true})
	addHookLog(t, db, "l1", `{}`)

	rec := &recorder{}
	ex := newExecutor(t, db, testRegistry(rec), 3)
	if err := ex.Execute(context.Background(), "l1", "aa1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("reactions without credentials must not be invoked: %v", rec.calls)
	}
	logs := executionLogs(t, db)
	if len(logs) != 2 || logs[0].Status != domain.ExecutionFailure || logs[1].Status != domain.ExecutionFailure {
		t.Fatalf("expected two failed logs, got %+v", logs)
	}
	if !strings.Contains(logs[1].ErrorText, "missing credentials") {
		t.Fatalf("unexpected error text: %q", logs[1].ErrorText)
	}

	h, _ := repo.GetHookJob(context.Background(), db, "h1")
	if h.Status != domain.HookStatusPaused || h.PausedReason != domain.PauseReasonTokenExpired {
		t.Fatalf("hook job should be paused for token expiry: %+v", h)
	}
}

func TestExecutor_OnDeadCountsFailure(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	addHookLog(t, db, "l1", `{}`)
	ex := newExecutor(t, db, testRegistry(&recorder{}), 1)

	job := &queue.Job{Key: "webhook-l1", Payload: []byte(`{"hook_log_id":"l1","area_action_id":"aa1"}`)}
	ex.OnDead(context.Background(), job, errors.New("db down"))

	h, _ := repo.GetHookJob(context.Background(), db, "h1")
	if h.Status != domain.HookStatusPaused || h.PausedReason != domain.PauseReasonFailures {
		t.Fatalf("dead job should pause at threshold 1: %+v", h)
	}
}

type fakeRefresher struct {
	db    *gorm.DB
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, us *domain.UserService) (*domain.UserService, error) {
	f.calls++
	exp := time.Now().Add(time.Hour)
	if err := repo.UpdateUserServiceTokens(ctx, f.db, us.ID, "fresh", "", &exp); err != nil {
		return nil, err
	}
	return repo.GetUserService(ctx, f.db, us.ID)
}

func TestCredentialStore_Load(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	past := time.Now().Add(-time.Minute)
	mustCreate(t, db,
		&domain.UserService{ID: "ok", UserID: "u1", ServiceID: "svc", AccessToken: "tok"},
		&domain.UserService{ID: "exp", UserID: "u1", ServiceID: "svc", AccessToken: "old", RefreshToken: "r", TokenExpiresAt: &past},
		&domain.UserService{ID: "empty", UserID: "u1", ServiceID: "svc"},
	)
	ctx := context.Background()
	store := &CredentialStore{DB: db}

	c, err := store.Load(ctx, "ok")
	if err != nil || c.AccessToken != "tok" {
		t.Fatalf("Load ok: %+v %v", c, err)
	}
	if _, err := store.Load(ctx, "nope"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("unknown account: %v", err)
	}
	if _, err := store.Load(ctx, "empty"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("empty token: %v", err)
	}
	if _, err := store.Load(ctx, "exp"); !errors.Is(err, capability.ErrCredentialsExpired) {
		t.Fatalf("expired without refresher: %v", err)
	}

	ref := &fakeRefresher{db: db}
	store.Refresher = ref
	c, err = store.Load(ctx, "exp")
	if err != nil || c.AccessToken != "fresh" || ref.calls != 1 {
		t.Fatalf("refresh path: %+v %v calls=%d", c, err, ref.calls)
	}
}
