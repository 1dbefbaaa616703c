package builtin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-area-backend/internal/capability"
)

type logger struct {
	out zerolog.Logger
}

func (l logger) log(_ context.Context, creds capability.Credentials, params map[string]any) (capability.Outcome, error) {
	msg := capability.String(params, "message")
	level, err := zerolog.ParseLevel(capability.String(params, "level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	l.out.WithLevel(level).
		Str("user_service_id", creds.UserServiceID).
		Interface("params", params).
		Msg(msg)
	return capability.Outcome{"logged": true, "message": msg}, nil
}
