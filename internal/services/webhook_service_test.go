package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/engine"
	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
)

func newWebhookService(t *testing.T) (*WebhookService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	seed(t, db)
	jobs := []domain.HookJob{
		{ID: "wh-active", AreaActionID: "aa1", Type: domain.HookTypeWebhook, Status: domain.HookStatusActive},
		{ID: "wh-off", AreaActionID: "aa1", Type: domain.HookTypeWebhook, Status: domain.HookStatusInactive},
		{ID: "poller", AreaActionID: "aa1", Type: domain.HookTypePolling, Status: domain.HookStatusActive, PollingIntervalSeconds: 60},
	}
	for i := range jobs {
		if err := repo.CreateHookJob(context.Background(), db, &jobs[i]); err != nil {
			t.Fatalf("seed hook job: %v", err)
		}
	}
	q := queue.NewDBQueue(db, "area_execution", time.Minute, queue.Retention{Completed: time.Hour, Failed: time.Hour})
	return &WebhookService{DB: db, Queue: q, Log: zerolog.Nop()}, db
}

func TestWebhookService_RejectsWithoutLogging(t *testing.T) {
	s, db := newWebhookService(t)
	ctx := context.Background()

	cases := []struct {
		service, hook string
		expect        error
	}{
		{"hooks", "missing", ErrHookJobNotFound},
		{"other", "wh-active", ErrServiceMismatch},
		{"hooks", "poller", ErrHookNotWebhook},
		{"hooks", "wh-off", ErrHookNotActive},
	}
	for _, tc := range cases {
		if _, err := s.Receive(ctx, tc.service, tc.hook, []byte(`{"a":1}`)); !errors.Is(err, tc.expect) {
			t.Fatalf("%s/%s: want %v got %v", tc.service, tc.hook, tc.expect, err)
		}
	}

	var logs, jobs int64
	db.Model(&domain.HookLog{}).Count(&logs)
	db.Model(&domain.QueueJob{}).Count(&jobs)
	if logs != 0 || jobs != 0 {
		t.Fatalf("rejections must not record anything: logs=%d jobs=%d", logs, jobs)
	}
}

func TestWebhookService_StoresStructuredPayload(t *testing.T) {
	s, db := newWebhookService(t)
	ctx := context.Background()

	cases := []struct {
		body, want string
	}{
		{"", `{}`},
		{"   \n", `{}`},
		{`{"user":{"name":"ada"}}`, `{"user":{"name":"ada"}}`},
		{"plain text", `{"raw":"plain text"}`},
	}
	for _, tc := range cases {
		hl, err := s.Receive(ctx, "HOOKS", "wh-active", []byte(tc.body))
		if err != nil {
			t.Fatalf("Receive(%q): %v", tc.body, err)
		}
		if string(hl.EventPayload) != tc.want {
			t.Fatalf("payload for %q: want %s got %s", tc.body, tc.want, hl.EventPayload)
		}
		if hl.Source != domain.HookSourceWebhook || hl.HookJobID != "wh-active" {
			t.Fatalf("unexpected hook log: %+v", hl)
		}

		qj, err := repo.GetQueueJobByKey(ctx, db, queue.Key(queue.SourceWebhook, hl.ID))
		if err != nil {
			t.Fatalf("queue job for %s: %v", hl.ID, err)
		}
		exec, err := queue.DecodeExecution(qj.Payload)
		if err != nil || exec.HookLogID != hl.ID || exec.AreaActionID != "aa1" {
			t.Fatalf("unexpected job payload %+v err=%v", exec, err)
		}
	}
}

func TestWebhookService_DuplicateDeliveriesAreSeparateEvents(t *testing.T) {
	s, db := newWebhookService(t)
	ctx := context.Background()

	first, err := s.Receive(ctx, "hooks", "wh-active", []byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := s.Receive(ctx, "hooks", "wh-active", []byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("each delivery must create its own hook log")
	}

	// Re-enqueueing the first hook log is a no-op.
	payload, _ := queue.Execution{HookLogID: first.ID, AreaActionID: "aa1"}.Encode()
	added, err := s.Queue.Enqueue(ctx, queue.Key(queue.SourceWebhook, first.ID), payload)
	if err != nil || added {
		t.Fatalf("duplicate enqueue: added=%v err=%v", added, err)
	}

	var jobs int64
	db.Model(&domain.QueueJob{}).Count(&jobs)
	if jobs != 2 {
		t.Fatalf("expected 2 queue jobs, got %d", jobs)
	}
}

// downQueue rejects every enqueue.
type downQueue struct{ queue.Queue }

func (downQueue) Enqueue(context.Context, string, []byte) (bool, error) {
	return false, errors.New("queue unavailable")
}

func TestWebhookService_QueueOutageKeepsEventForRedelivery(t *testing.T) {
	s, db := newWebhookService(t)
	ctx := context.Background()
	live := s.Queue
	s.Queue = downQueue{live}

	hl, err := s.Receive(ctx, "hooks", "wh-active", []byte(`{"id":7}`))
	if err != nil {
		t.Fatalf("Receive during outage: %v", err)
	}
	stored, err := repo.GetHookLog(ctx, db, hl.ID)
	if err != nil {
		t.Fatalf("hook log: %v", err)
	}
	if stored.EnqueuedAt != nil {
		t.Fatalf("hook log marked enqueued while the queue was down")
	}
	if _, err := repo.GetQueueJobByKey(ctx, db, queue.Key(queue.SourceWebhook, hl.ID)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no queue job yet, err=%v", err)
	}

	r := engine.Redeliverer{DB: db, Queue: live, Log: zerolog.Nop(), After: time.Second}
	n, err := r.RunOnce(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("redeliver: n=%d err=%v", n, err)
	}
	qj, err := repo.GetQueueJobByKey(ctx, db, queue.Key(queue.SourceWebhook, hl.ID))
	if err != nil {
		t.Fatalf("queue job after redelivery: %v", err)
	}
	exec, err := queue.DecodeExecution(qj.Payload)
	if err != nil || exec.HookLogID != hl.ID || exec.AreaActionID != "aa1" {
		t.Fatalf("unexpected job payload %+v err=%v", exec, err)
	}

	// A second sweep finds nothing left to hand over.
	if n, err := r.RunOnce(ctx, time.Now().Add(time.Minute)); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}
