// Package services – HookService
//
// HookService manages the hook jobs attached to an Area's action: creation,
// listing, status changes through the hook job state machine, polling
// interval updates, and the captured hook log history. Every call first
// proves that the Area exists and belongs to the requesting user.
//
// Activating a job (inactive|paused -> active) requires the connected
// account of its action to hold a usable token; an expired token is
// refreshed when the credential loader can do so.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/engine"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// Hook log listing bounds.
const (
	DefaultHookLogLimit = 50
	MaxHookLogLimit     = 500
)

// HookRepo defines the repository contract required by HookService.
type HookRepo interface {
	// GetArea fetches an Area by id.
	GetArea(ctx context.Context, db *gorm.DB, id string) (*domain.Area, error)

	// GetAreaAction loads an AreaAction with its catalog action and service.
	GetAreaAction(ctx context.Context, db *gorm.DB, id string) (*domain.AreaAction, error)

	// GetHookJob fetches a HookJob by id.
	GetHookJob(ctx context.Context, db *gorm.DB, id string) (*domain.HookJob, error)

	// CreateHookJob inserts a HookJob.
	CreateHookJob(ctx context.Context, db *gorm.DB, h *domain.HookJob) error

	// ListHookJobsByArea returns the hook jobs of an Area, newest first.
	ListHookJobsByArea(ctx context.Context, db *gorm.DB, areaID string) ([]domain.HookJob, error)

	// TransitionHookJob changes status only if the job is still in from.
	TransitionHookJob(ctx context.Context, db *gorm.DB, id string, from, to domain.HookStatus, reason string) (bool, error)

	// UpdatePollingInterval sets a new polling interval.
	UpdatePollingInterval(ctx context.Context, db *gorm.DB, id string, seconds int) error

	// ListHookLogs returns the latest hook logs of a job, newest first.
	ListHookLogs(ctx context.Context, db *gorm.DB, hookJobID string, limit int) ([]domain.HookLog, error)
}

// CredentialLoader resolves the tokens of a connected account.
type CredentialLoader interface {
	Load(ctx context.Context, userServiceID string) (capability.Credentials, error)
}

// CreateHookInput is the request to attach a hook job to an area action.
// A nil interval means the default for polling jobs; an empty status means
// inactive.
type CreateHookInput struct {
	AreaActionID           string
	Type                   domain.HookType
	PollingIntervalSeconds *int
	Status                 domain.HookStatus
}

// UpdateHookInput carries the optional fields of a hook job update.
type UpdateHookInput struct {
	Status                 *domain.HookStatus
	PollingIntervalSeconds *int
}

// HookService provides hook job management for area owners.
type HookService struct {
	DB   *gorm.DB
	Repo HookRepo

	// Credentials validates tokens on activation. When nil, a
	// CredentialStore without refresh is used.
	Credentials CredentialLoader

	// PublicBaseURL prefixes the webhook endpoints handed out to clients.
	PublicBaseURL string
}

// NewHookService constructs a HookService.
func NewHookService(db *gorm.DB, r HookRepo, creds CredentialLoader, publicBaseURL string) *HookService {
	return &HookService{
		DB:            db,
		Repo:          r,
		Credentials:   creds,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// List returns the hook jobs of an owned Area.
func (s *HookService) List(ctx context.Context, userID, areaID string) ([]domain.HookJob, error) {
	ctx, span := otel.Tracer("services/HookService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("area.id", areaID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.ownedArea(ctx, userID, areaID); err != nil {
		return nil, err
	}
	jobs, err := s.Repo.ListHookJobsByArea(ctx, s.DB, areaID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []domain.HookJob{}
	}
	return jobs, nil
}

// ETag returns a weak validator for the hook jobs of an owned Area. It
// changes when a job is added or updated.
func (s *HookService) ETag(ctx context.Context, userID, areaID string) (string, error) {
	if _, err := s.ownedArea(ctx, userID, areaID); err != nil {
		return "", err
	}
	count, latest, err := repo.HookJobsStats(ctx, s.DB, areaID)
	if err != nil {
		return "", err
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	return fmt.Sprintf(`W/"hooks:%s:%d:%d"`, areaID, count, ts), nil
}

// Get returns one hook job of an owned Area.
func (s *HookService) Get(ctx context.Context, userID, areaID, hookID string) (*domain.HookJob, error) {
	if _, err := s.ownedArea(ctx, userID, areaID); err != nil {
		return nil, err
	}
	h, _, err := s.hookInArea(ctx, areaID, hookID)
	return h, err
}

// Create validates in against the catalog action and stores a new hook job.
// Webhook jobs receive their public endpoint here.
func (s *HookService) Create(ctx context.Context, userID, areaID string, in CreateHookInput) (*domain.HookJob, error) {
	ctx, span := otel.Tracer("services/HookService").Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("area.id", areaID),
			attribute.String("user.id", userID),
			attribute.String("hook.type", string(in.Type)),
		),
	)
	defer span.End()

	if _, err := s.ownedArea(ctx, userID, areaID); err != nil {
		return nil, err
	}
	aa, err := s.Repo.GetAreaAction(ctx, s.DB, in.AreaActionID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && aa.AreaID != areaID) {
		return nil, ErrAreaActionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := supports(aa.ServiceAction, in.Type); err != nil {
		return nil, err
	}

	interval := 0
	switch in.Type {
	case domain.HookTypePolling:
		interval = domain.DefaultPollingInterval
		if in.PollingIntervalSeconds != nil {
			interval = *in.PollingIntervalSeconds
		}
		if interval < 1 {
			return nil, ErrInvalidInterval
		}
	case domain.HookTypeWebhook:
		if in.PollingIntervalSeconds != nil {
			return nil, fmt.Errorf("%w: webhook jobs are not polled", ErrInvalidInterval)
		}
	}

	status := in.Status
	if status == "" {
		status = domain.HookStatusInactive
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if !domain.CanTransition(domain.HookStatusInactive, status) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition,
			&domain.TransitionError{From: domain.HookStatusInactive, To: status})
	}
	if status == domain.HookStatusActive {
		if err := s.checkCredentials(ctx, aa); err != nil {
			return nil, err
		}
	}

	h := &domain.HookJob{
		ID:                     uuid.NewString(),
		AreaActionID:           aa.ID,
		Type:                   in.Type,
		Status:                 status,
		PollingIntervalSeconds: interval,
	}
	if in.Type == domain.HookTypeWebhook {
		h.WebhookEndpoint = s.endpoint(aa.ServiceAction.Service.Name, h.ID)
	}
	if err := s.Repo.CreateHookJob(ctx, s.DB, h); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("hook.id", h.ID))
	return h, nil
}

// Update applies a status change and/or a new polling interval. Every
// field is validated before anything is written, and both changes are
// written in one transaction.
func (s *HookService) Update(ctx context.Context, userID, areaID, hookID string, in UpdateHookInput) (*domain.HookJob, error) {
	ctx, span := otel.Tracer("services/HookService").Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("area.id", areaID),
			attribute.String("hook.id", hookID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.ownedArea(ctx, userID, areaID); err != nil {
		return nil, err
	}
	h, aa, err := s.hookInArea(ctx, areaID, hookID)
	if err != nil {
		return nil, err
	}

	if in.PollingIntervalSeconds != nil {
		if h.Type != domain.HookTypePolling {
			return nil, fmt.Errorf("%w: webhook jobs are not polled", ErrInvalidInterval)
		}
		if *in.PollingIntervalSeconds < 1 {
			return nil, ErrInvalidInterval
		}
	}

	var to domain.HookStatus
	if in.Status != nil && *in.Status != h.Status {
		to = *in.Status
		if !to.Valid() {
			return nil, ErrInvalidStatus
		}
		if !domain.CanTransition(h.Status, to) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, &domain.TransitionError{From: h.Status, To: to})
		}
		if to == domain.HookStatusActive {
			if err := s.checkCredentials(ctx, aa); err != nil {
				return nil, err
			}
		}
	}

	// The conditional transition goes first so a lost race rolls back the
	// whole update.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if to != "" {
			reason := ""
			if to == domain.HookStatusPaused {
				reason = domain.PauseReasonManual
			}
			changed, err := s.Repo.TransitionHookJob(ctx, tx, h.ID, h.Status, to, reason)
			if err != nil {
				return err
			}
			if !changed {
				return ErrConflict
			}
		}
		if in.PollingIntervalSeconds != nil && *in.PollingIntervalSeconds != h.PollingIntervalSeconds {
			return s.Repo.UpdatePollingInterval(ctx, tx, h.ID, *in.PollingIntervalSeconds)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.GetHookJob(ctx, s.DB, h.ID)
}

// Logs returns the latest captured events of a hook job, newest first.
// limit falls back to DefaultHookLogLimit and is capped at MaxHookLogLimit.
func (s *HookService) Logs(ctx context.Context, userID, areaID, hookID string, limit int) ([]domain.HookLog, error) {
	ctx, span := otel.Tracer("services/HookService").Start(ctx, "Logs",
		trace.WithAttributes(
			attribute.String("area.id", areaID),
			attribute.String("hook.id", hookID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if _, err := s.ownedArea(ctx, userID, areaID); err != nil {
		return nil, err
	}
	h, _, err := s.hookInArea(ctx, areaID, hookID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHookLogLimit
	}
	limit = min(limit, MaxHookLogLimit)

	logs, err := s.Repo.ListHookLogs(ctx, s.DB, h.ID, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []domain.HookLog{}
	}
	return logs, nil
}

func (s *HookService) ownedArea(ctx context.Context, userID, areaID string) (*domain.Area, error) {
	a, err := s.Repo.GetArea(ctx, s.DB, areaID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAreaNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrForbidden
	}
	return a, nil
}

// hookInArea loads a hook job and its action, reporting ErrHookJobNotFound
// when the job hangs off another Area.
func (s *HookService) hookInArea(ctx context.Context, areaID, hookID string) (*domain.HookJob, *domain.AreaAction, error) {
	h, err := s.Repo.GetHookJob(ctx, s.DB, hookID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrHookJobNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	aa, err := s.Repo.GetAreaAction(ctx, s.DB, h.AreaActionID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && aa.AreaID != areaID) {
		return nil, nil, ErrHookJobNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return h, aa, nil
}

// checkCredentials verifies the connected account of aa. Actions without a
// connected account (timer, webhook receivers) need no token.
func (s *HookService) checkCredentials(ctx context.Context, aa *domain.AreaAction) error {
	if aa.UserServiceID == "" {
		return nil
	}
	loader := s.Credentials
	if loader == nil {
		loader = &engine.CredentialStore{DB: s.DB}
	}
	if _, err := loader.Load(ctx, aa.UserServiceID); err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialsInvalid, err)
	}
	return nil
}

func (s *HookService) endpoint(service, hookID string) string {
	return s.PublicBaseURL + "/webhooks/" + url.PathEscape(service) + "/" + hookID
}

func supports(a domain.ServiceAction, t domain.HookType) error {
	switch {
	case !t.Valid():
		return ErrInvalidType
	case t == domain.HookTypePolling && !a.PollingSupported,
		t == domain.HookTypeWebhook && !a.WebhookSupported:
		return fmt.Errorf("%w: action %s does not support %s", ErrInvalidType, a.Name, t)
	}
	return nil
}
