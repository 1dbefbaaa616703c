package builtin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tbourn/go-area-backend/internal/capability"
)

type timer struct {
	now func() time.Time
}

// cron reports the most recent tick of a cron expression. The comparison key
// is the tick time, so the detector records one event per tick no matter how
// often it polls.
func (t timer) cron(_ context.Context, req capability.PollRequest) (capability.PollResult, error) {
	expr, err := capability.RequireString(req.Params, "expression")
	if err != nil {
		return capability.PollResult{}, err
	}
	if !gronx.New().IsValid(expr) {
		return capability.PollResult{}, fmt.Errorf("%w: invalid cron expression %q", capability.ErrInvalidParams, expr)
	}
	now := req.Now
	if now.IsZero() {
		now = t.now()
	}
	tick, err := gronx.PrevTickBefore(expr, now.UTC(), true)
	if err != nil {
		return capability.PollResult{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	key := tick.UTC().Format(time.RFC3339)
	return capability.PollResult{
		Key: key,
		Payload: map[string]any{
			"expression":   expr,
			"scheduled_at": key,
			"fired_at":     now.UTC().Format(time.RFC3339),
		},
	}, nil
}

// interval fires on every poll; the hook job's polling interval is the period.
func (t timer) interval(_ context.Context, req capability.PollRequest) (capability.PollResult, error) {
	now := req.Now
	if now.IsZero() {
		now = t.now()
	}
	now = now.UTC()
	return capability.PollResult{
		Key: strconv.FormatInt(now.UnixNano(), 10),
		Payload: map[string]any{
			"fired_at": now.Format(time.RFC3339),
			"unix":     now.Unix(),
		},
	}, nil
}
