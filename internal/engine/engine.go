// Package engine runs the automation engine: the polling Detector that
// turns upstream changes into HookLogs, and the Executor that runs the
// reactions of an Area for one HookLog. Both report failures to a
// FailureTracker that pauses hook jobs which keep failing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/binding"
	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/observability"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// ErrMissingCredentials is a configuration error: the connected account a
// capability needs does not exist or holds no token.
var ErrMissingCredentials = errors.New("missing credentials")

// Refresher renews the tokens of a connected account.
type Refresher interface {
	Refresh(ctx context.Context, us *domain.UserService) (*domain.UserService, error)
}

// CredentialStore loads connected-account tokens for capability calls.
type CredentialStore struct {
	DB        *gorm.DB
	Refresher Refresher // optional
	Now       func() time.Time
}

// Load returns the credentials of userServiceID. An expired token is
// refreshed first when a Refresher is configured; if it cannot be, the
// error wraps capability.ErrCredentialsExpired.
func (s *CredentialStore) Load(ctx context.Context, userServiceID string) (capability.Credentials, error) {
	if userServiceID == "" {
		return capability.Credentials{}, ErrMissingCredentials
	}
	us, err := repo.GetUserService(ctx, s.DB, userServiceID)
	if errors.Is(err, repo.ErrNotFound) {
		return capability.Credentials{}, fmt.Errorf("%w: user service %s", ErrMissingCredentials, userServiceID)
	}
	if err != nil {
		return capability.Credentials{}, err
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	if !us.Usable(now) {
		if us.AccessToken == "" && us.RefreshToken == "" {
			return capability.Credentials{}, fmt.Errorf("%w: user service %s has no token", ErrMissingCredentials, userServiceID)
		}
		if s.Refresher == nil || us.RefreshToken == "" {
			return capability.Credentials{}, fmt.Errorf("%w: user service %s", capability.ErrCredentialsExpired, userServiceID)
		}
		fresh, rerr := s.Refresher.Refresh(ctx, us)
		if rerr != nil {
			return capability.Credentials{}, fmt.Errorf("%w: refresh: %v", capability.ErrCredentialsExpired, rerr)
		}
		us = fresh
	}
	return capability.Credentials{
		UserServiceID: us.ID,
		AccessToken:   us.AccessToken,
		RefreshToken:  us.RefreshToken,
		ExpiresAt:     us.TokenExpiresAt,
	}, nil
}

// FailureTracker counts consecutive failures of hook jobs and pauses them.
//
// A job is paused with reason token_expired as soon as a failure wraps
// capability.ErrCredentialsExpired, and with reason consecutive_failures once
// the counter reaches Threshold.
type FailureTracker struct {
	DB        *gorm.DB
	Threshold int
	Log       zerolog.Logger
}

// Fail records one failure of hookJobID. A nil tracker ignores it.
func (f *FailureTracker) Fail(ctx context.Context, hookJobID string, cause error) {
	if f == nil {
		return
	}
	log := f.Log.With().Str("hook_job_id", hookJobID).Logger()

	n, err := repo.RecordHookFailure(ctx, f.DB, hookJobID, errText(cause))
	if err != nil {
		log.Error().Err(err).Msg("record hook failure")
		return
	}
	switch {
	case errors.Is(cause, capability.ErrCredentialsExpired):
		f.pause(ctx, log, hookJobID, domain.PauseReasonTokenExpired)
	case f.Threshold > 0 && n >= f.Threshold:
		f.pause(ctx, log, hookJobID, domain.PauseReasonFailures)
	default:
		log.Debug().Int("consecutive_failures", n).Msg("hook failure recorded")
	}
}

// Succeed clears the failure counter of hookJobID.
func (f *FailureTracker) Succeed(ctx context.Context, hookJobID string) {
	if f == nil {
		return
	}
	if err := repo.ResetHookFailures(ctx, f.DB, hookJobID); err != nil {
		f.Log.Error().Err(err).Str("hook_job_id", hookJobID).Msg("reset hook failures")
	}
}

func (f *FailureTracker) pause(ctx context.Context, log zerolog.Logger, id, reason string) {
	changed, err := repo.TransitionHookJob(ctx, f.DB, id, domain.HookStatusActive, domain.HookStatusPaused, reason)
	if err != nil {
		log.Error().Err(err).Msg("pause hook job")
		return
	}
	if changed {
		observability.HookJobsPaused.WithLabelValues(reason).Inc()
		log.Warn().Str("reason", reason).Msg("hook job paused")
	}
}

// boundValue is one user-bound parameter value, independent of whether it
// belongs to an action or a reaction.
type boundValue struct {
	paramID string
	def     binding.Param
	text    *string
	json    []byte
}

// mergeParams overlays bound values on the catalog definitions. Definitions
// with no bound value keep their default.
func mergeParams(defs []binding.Param, defIDs []string, values []boundValue) []binding.Param {
	out := append([]binding.Param(nil), defs...)
	index := make(map[string]int, len(defIDs))
	for i, id := range defIDs {
		index[id] = i
	}
	for _, v := range values {
		p := v.def
		p.Text, p.JSON = v.text, v.json
		if i, ok := index[v.paramID]; ok {
			if p.Name == "" {
				p.Name, p.DataType = out[i].Name, out[i].DataType
			}
			if len(p.Default) == 0 {
				p.Default = out[i].Default
			}
			out[i] = p
			continue
		}
		if p.Name != "" {
			out = append(out, p)
		}
	}
	return out
}

// actionParams builds the binding inputs of an AreaAction.
func actionParams(defs []domain.ServiceActionParam, values []domain.AreaActionParamValue) []binding.Param {
	ps, ids := make([]binding.Param, len(defs)), make([]string, len(defs))
	for i, d := range defs {
		ps[i], ids[i] = binding.Param{Name: d.Name, DataType: d.DataType, Default: d.DefaultValue}, d.ID
	}
	bound := make([]boundValue, len(values))
	for i, v := range values {
		bound[i] = boundValue{
			paramID: v.ServiceActionParamID,
			def:     binding.Param{Name: v.Param.Name, DataType: v.Param.DataType, Default: v.Param.DefaultValue},
			text:    v.ValueText,
			json:    v.ValueJSON,
		}
	}
	return mergeParams(ps, ids, bound)
}

// reactionParams builds the binding inputs of an AreaReaction.
func reactionParams(defs []domain.ServiceReactionParam, values []domain.AreaReactionParamValue) []binding.Param {
	ps, ids := make([]binding.Param, len(defs)), make([]string, len(defs))
	for i, d := range defs {
		ps[i], ids[i] = binding.Param{Name: d.Name, DataType: d.DataType, Default: d.DefaultValue}, d.ID
	}
	bound := make([]boundValue, len(values))
	for i, v := range values {
		bound[i] = boundValue{
			paramID: v.ServiceReactionParamID,
			def:     binding.Param{Name: v.Param.Name, DataType: v.Param.DataType, Default: v.Param.DefaultValue},
			text:    v.ValueText,
			json:    v.ValueJSON,
		}
	}
	return mergeParams(ps, ids, bound)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
