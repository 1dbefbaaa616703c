// Package builtin registers the connectors that ship with the engine.
package builtin

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-area-backend/internal/capability"
)

// Deps carries what the built-in connectors need from the process.
//
// Fields:
//   - Logger: destination of the logger.log reaction.
//   - DiscordToken: bot token; when empty the account's access token is used.
//   - SlackToken: fallback token when the account has none.
//   - SlackAPIURL: override of the Slack Web API base URL (tests).
//   - HTTPClient: client used by the Discord and Slack connectors.
//   - Now: clock; defaults to time.Now.
type Deps struct {
	Logger       zerolog.Logger
	DiscordToken string
	SlackToken   string
	SlackAPIURL  string
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Register installs every built-in connector into reg.
func Register(reg *capability.Registry, deps Deps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}

	t := timer{now: deps.Now}
	reg.RegisterPoller("timer", "cron", t.cron)
	reg.RegisterPoller("timer", "interval", t.interval)

	l := logger{out: deps.Logger}
	reg.RegisterReactor("logger", "log", l.log)

	d := discord{botToken: deps.DiscordToken, client: deps.HTTPClient}
	reg.RegisterPoller("discord", "new_message", d.newMessage)
	reg.RegisterReactor("discord", "send_message", d.sendMessage)

	s := slackConn{fallbackToken: deps.SlackToken, apiURL: deps.SlackAPIURL, client: deps.HTTPClient}
	reg.RegisterPoller("slack", "new_message", s.newMessage)
	reg.RegisterReactor("slack", "post_message", s.postMessage)
}
