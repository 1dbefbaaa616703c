package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/binding"
	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/observability"
	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// catalogReaction is the cached part of a catalog reaction.
type catalogReaction struct {
	service string
	name    string
	params  []domain.ServiceReactionParam
}

// Executor runs the reactions of an Area for one HookLog.
//
// Reactions run in position order and are isolated: each writes its own
// ExecutionLog row and a failing reaction never stops the next one. Only a
// missing HookLog or AreaAction (permanent) or an infrastructure error
// (retried by the queue) is returned.
type Executor struct {
	db       *gorm.DB
	registry *capability.Registry
	creds    *CredentialStore
	failures *FailureTracker
	log      zerolog.Logger
	timeout  time.Duration
	catalog  *expirable.LRU[string, catalogReaction]
	now      func() time.Time
}

// ExecutorOptions configures NewExecutor.
type ExecutorOptions struct {
	Credentials *CredentialStore
	Failures    *FailureTracker
	Log         zerolog.Logger
	Timeout     time.Duration // per reaction call
	CacheSize   int           // catalog reactions kept in memory
	CacheTTL    time.Duration // how long a cached catalog reaction is trusted
}

// NewExecutor builds an Executor.
func NewExecutor(db *gorm.DB, reg *capability.Registry, opts ExecutorOptions) (*Executor, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 256
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Executor{
		db:       db,
		registry: reg,
		creds:    opts.Credentials,
		failures: opts.Failures,
		log:      opts.Log,
		timeout:  opts.Timeout,
		catalog:  expirable.NewLRU[string, catalogReaction](size, nil, ttl),
		now:      time.Now,
	}, nil
}

// Handle is the queue.Handler of execution jobs.
func (e *Executor) Handle(ctx context.Context, job *queue.Job) error {
	ex, err := queue.DecodeExecution(job.Payload)
	if err != nil {
		return err
	}
	return e.Execute(ctx, ex.HookLogID, ex.AreaActionID)
}

// OnDead counts a job that exhausted its retries as a failure of its hook
// job.
func (e *Executor) OnDead(ctx context.Context, job *queue.Job, cause error) {
	ex, err := queue.DecodeExecution(job.Payload)
	if err != nil {
		return
	}
	hl, err := repo.GetHookLog(ctx, e.db, ex.HookLogID)
	if err != nil {
		return
	}
	e.failures.Fail(ctx, hl.HookJobID, fmt.Errorf("execution job %s dead: %w", job.Key, cause))
}

// Execute runs every enabled reaction of the Area owning areaActionID
// against the payload of hookLogID. Reactions that already succeeded for
// this HookLog on an earlier delivery are not run again.
func (e *Executor) Execute(ctx context.Context, hookLogID, areaActionID string) error {
	ctx, span := otel.Tracer("engine/Executor").Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("hook_log.id", hookLogID),
			attribute.String("area_action.id", areaActionID),
		),
	)
	defer span.End()

	log := e.log.With().Str("hook_log_id", hookLogID).Str("area_action_id", areaActionID).Logger()

	hl, err := repo.GetHookLog(ctx, e.db, hookLogID)
	if err != nil {
		return e.loadErr(span, "hook log", hookLogID, err)
	}
	aa, err := repo.GetAreaAction(ctx, e.db, areaActionID)
	if err != nil {
		return e.loadErr(span, "area action", areaActionID, err)
	}
	log = log.With().Str("area_id", aa.AreaID).Str("hook_job_id", hl.HookJobID).Logger()

	if !aa.Area.Enabled || !aa.Enabled {
		log.Info().Msg("area disabled, skipping execution")
		return nil
	}

	payload, err := binding.ParsePayload(hl.EventPayload)
	if err != nil {
		return queue.Permanent(fmt.Errorf("hook log %s: %w", hookLogID, err))
	}

	reactions, err := repo.ListEnabledReactions(ctx, e.db, aa.AreaID)
	if err != nil {
		return fmt.Errorf("list reactions: %w", err)
	}
	done, err := repo.SucceededReactionIDs(ctx, e.db, hookLogID)
	if err != nil {
		return fmt.Errorf("list executed reactions: %w", err)
	}

	var credErr error
	ran, failed := 0, 0
	for i := range reactions {
		r := &reactions[i]
		if done[r.ID] {
			continue
		}
		ran++
		res := e.react(ctx, aa, hl, r, payload)
		if res.infra != nil {
			span.RecordError(res.infra)
			return res.infra
		}
		if res.err != nil {
			failed++
			if credErr == nil && isCredentialErr(res.err) {
				credErr = res.err
			}
		}
	}

	// One execution counts as one failure of the hook job when a credential
	// is unusable or when every reaction it ran failed. Partial failures
	// leave the counter alone.
	switch {
	case credErr != nil:
		e.failures.Fail(ctx, hl.HookJobID, credErr)
	case ran > 0 && failed == ran:
		e.failures.Fail(ctx, hl.HookJobID, fmt.Errorf("all %d reactions failed", failed))
	case failed == 0:
		e.failures.Succeed(ctx, hl.HookJobID)
	}
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d reactions failed", failed))
	}
	log.Info().Int("reactions", len(reactions)).Int("failed", failed).Msg("execution finished")
	return nil
}

type reactResult struct {
	err   error // reaction failure, recorded in the ExecutionLog
	infra error // the ExecutionLog itself could not be handled
}

func (e *Executor) react(ctx context.Context, aa *domain.AreaAction, hl *domain.HookLog, r *domain.AreaReaction, payload binding.Payload) reactResult {
	started := e.now().UTC()
	entry := &domain.ExecutionLog{
		AreaID:         aa.AreaID,
		AreaActionID:   aa.ID,
		AreaReactionID: r.ID,
		HookLogID:      hl.ID,
		StartedAt:      started,
	}
	log := e.log.With().Str("hook_log_id", hl.ID).Str("area_reaction_id", r.ID).Logger()

	outcome, err := e.invoke(ctx, r, payload, entry)
	entry.FinishedAt = e.now().UTC()
	if err != nil {
		entry.Status = domain.ExecutionFailure
		entry.ErrorText = err.Error()
		log.Warn().Err(err).Msg("reaction failed")
	} else {
		entry.Status = domain.ExecutionSuccess
		if b, merr := json.Marshal(outcome); merr == nil && outcome != nil {
			entry.ResponsePayload = b
		}
	}
	observability.ReactionExecutions.WithLabelValues(string(entry.Status)).Inc()
	observability.ReactionDuration.Observe(entry.FinishedAt.Sub(started).Seconds())

	if werr := repo.CreateExecutionLog(ctx, e.db, entry); werr != nil {
		return reactResult{err: err, infra: fmt.Errorf("write execution log: %w", werr)}
	}
	return reactResult{err: err}
}

// invoke resolves the reaction's parameters and credentials and calls the
// capability. The resolved parameters are stored on entry.
func (e *Executor) invoke(ctx context.Context, r *domain.AreaReaction, payload binding.Payload, entry *domain.ExecutionLog) (capability.Outcome, error) {
	cat, err := e.lookup(ctx, r.ServiceReactionID)
	if err != nil {
		return nil, err
	}
	params, err := binding.Resolve(reactionParams(cat.params, r.ParamValues), payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capability.ErrInvalidParams, err)
	}
	if b, merr := json.Marshal(params); merr == nil {
		entry.RequestPayload = b
	}

	var creds capability.Credentials
	if r.UserServiceID != "" {
		if e.creds == nil {
			return nil, ErrMissingCredentials
		}
		if creds, err = e.creds.Load(ctx, r.UserServiceID); err != nil {
			return nil, err
		}
	}

	ctx, span := otel.Tracer("engine/Executor").Start(ctx, "Invoke",
		trace.WithAttributes(attribute.String("capability", domain.CapabilityKey(cat.service, cat.name))),
	)
	defer span.End()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	out, err := e.registry.Invoke(ctx, cat.service, cat.name, creds, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// PurgeCatalog drops every cached catalog reaction, so the next execution
// reads parameter definitions from the database again.
func (e *Executor) PurgeCatalog() {
	e.catalog.Purge()
}

// lookup returns the catalog reaction, caching it by id for the cache TTL.
func (e *Executor) lookup(ctx context.Context, serviceReactionID string) (catalogReaction, error) {
	if c, ok := e.catalog.Get(serviceReactionID); ok {
		return c, nil
	}
	sr, err := repo.GetServiceReaction(ctx, e.db, serviceReactionID)
	if err != nil {
		return catalogReaction{}, fmt.Errorf("catalog reaction %s: %w", serviceReactionID, err)
	}
	c := catalogReaction{service: sr.Service.Name, name: sr.Name, params: sr.Params}
	e.catalog.Add(serviceReactionID, c)
	return c, nil
}

// loadErr classifies a failure to load a core entity: a missing row can
// never succeed on retry.
func (e *Executor) loadErr(span trace.Span, what, id string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, repo.ErrNotFound) {
		e.log.Error().Str("id", id).Msgf("%s not found, discarding job", what)
		return queue.Permanent(fmt.Errorf("%s %s: %w", what, id, err))
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func isCredentialErr(err error) bool {
	return errors.Is(err, ErrMissingCredentials) || errors.Is(err, capability.ErrCredentialsExpired)
}
