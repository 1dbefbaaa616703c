package builtin

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/tbourn/go-area-backend/internal/capability"
)

type slackConn struct {
	fallbackToken string
	apiURL        string
	client        *http.Client
}

func (s slackConn) api(creds capability.Credentials) (*slack.Client, error) {
	token := creds.AccessToken
	if token == "" {
		token = s.fallbackToken
	}
	if token == "" {
		return nil, fmt.Errorf("%w: slack token missing", capability.ErrCredentialsExpired)
	}
	opts := []slack.Option{slack.OptionHTTPClient(s.client)}
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	return slack.New(token, opts...), nil
}

// postMessage posts text to channel.
func (s slackConn) postMessage(ctx context.Context, creds capability.Credentials, params map[string]any) (capability.Outcome, error) {
	channel, err := capability.RequireString(params, "channel")
	if err != nil {
		return nil, err
	}
	text, err := capability.RequireString(params, "text")
	if err != nil {
		return nil, err
	}
	api, err := s.api(creds)
	if err != nil {
		return nil, err
	}
	ch, ts, err := api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return nil, slackErr(err)
	}
	return capability.Outcome{"channel": ch, "ts": ts}, nil
}

// newMessage reports the latest message of channel; its timestamp is the key.
func (s slackConn) newMessage(ctx context.Context, req capability.PollRequest) (capability.PollResult, error) {
	channel, err := capability.RequireString(req.Params, "channel")
	if err != nil {
		return capability.PollResult{}, err
	}
	api, err := s.api(req.Credentials)
	if err != nil {
		return capability.PollResult{}, err
	}
	resp, err := api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Limit:     1,
	})
	if err != nil {
		return capability.PollResult{}, slackErr(err)
	}
	if len(resp.Messages) == 0 {
		return capability.PollResult{}, nil
	}
	m := resp.Messages[0]
	return capability.PollResult{
		Key: m.Timestamp,
		Payload: map[string]any{
			"channel": channel,
			"ts":      m.Timestamp,
			"user":    m.User,
			"text":    m.Text,
		},
	}, nil
}

func slackErr(err error) error {
	msg := err.Error()
	for _, code := range []string{"invalid_auth", "token_expired", "token_revoked", "not_authed"} {
		if strings.Contains(msg, code) {
			return fmt.Errorf("%w: %v", capability.ErrCredentialsExpired, err)
		}
	}
	return fmt.Errorf("slack: %w", err)
}
