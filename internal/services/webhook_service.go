package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/engine"
	"github.com/tbourn/go-area-backend/internal/observability"
	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// WebhookService turns inbound webhook deliveries into HookLogs and queues
// their execution.
//
// Every accepted delivery creates a new HookLog. The execution job is keyed
// by that HookLog, so enqueueing it twice is a no-op. A delivery whose job
// cannot be enqueued is still accepted once its HookLog is stored.
type WebhookService struct {
	DB    *gorm.DB
	Queue queue.Queue
	Log   zerolog.Logger
	Now   func() time.Time
}

// Receive validates the target hook job and records body as a HookLog.
//
// Rejections are client errors: ErrHookJobNotFound and ErrServiceMismatch
// for unknown targets, ErrHookNotWebhook and ErrHookNotActive for jobs that
// cannot take deliveries. None of them create a HookLog.
func (s *WebhookService) Receive(ctx context.Context, service, hookJobID string, body []byte) (*domain.HookLog, error) {
	ctx, span := otel.Tracer("services/WebhookService").Start(ctx, "Receive",
		trace.WithAttributes(
			attribute.String("hook.id", hookJobID),
			attribute.String("service", service),
			attribute.Int("body.size", len(body)),
		),
	)
	defer span.End()

	log := s.Log.With().Str("hook_job_id", hookJobID).Str("service", service).Logger()

	h, err := repo.GetHookJobWithAction(ctx, s.DB, hookJobID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Debug().Msg("webhook for unknown hook job")
		return nil, ErrHookJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if name := h.AreaAction.ServiceAction.Service.Name; name != "" && !strings.EqualFold(strings.TrimSpace(service), name) {
		log.Debug().Str("expected", name).Msg("webhook service mismatch")
		return nil, ErrServiceMismatch
	}
	if h.Type != domain.HookTypeWebhook {
		log.Warn().Str("type", string(h.Type)).Msg("webhook for non-webhook hook job")
		return nil, ErrHookNotWebhook
	}
	if h.Status != domain.HookStatusActive {
		log.Debug().Str("status", string(h.Status)).Msg("webhook for inactive hook job")
		return nil, ErrHookNotActive
	}

	hl := &domain.HookLog{
		HookJobID:    h.ID,
		Source:       domain.HookSourceWebhook,
		EventPayload: structuredPayload(body),
		DetectedAt:   s.now().UTC(),
	}
	if err := repo.CreateHookLog(ctx, s.DB, hl); err != nil {
		return nil, fmt.Errorf("create hook log: %w", err)
	}
	observability.HookLogs.WithLabelValues(domain.HookSourceWebhook).Inc()
	span.SetAttributes(attribute.String("hook_log.id", hl.ID))

	// The HookLog is the accepted event; a failed enqueue is retried by the
	// scheduler's redelivery sweep under the same key.
	if err := engine.Dispatch(ctx, s.DB, s.Queue, hl.ID, hl.Source, h.AreaActionID, s.now()); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("hook_log_id", hl.ID).Msg("enqueue failed, left for redelivery")
		return hl, nil
	}
	log.Info().
		Str("hook_log_id", hl.ID).
		Str("job_key", queue.Key(hl.Source, hl.ID)).
		Msg("webhook received")
	return hl, nil
}

func (s *WebhookService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// structuredPayload keeps JSON bodies verbatim, maps an empty body to {}
// and wraps anything else as {"raw": "<text>"}.
func structuredPayload(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []byte(`{}`)
	}
	if json.Valid(trimmed) {
		return trimmed
	}
	b, _ := json.Marshal(map[string]string{"raw": string(body)})
	return b
}
