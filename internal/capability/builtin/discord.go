package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/go-area-backend/internal/capability"
)

type discord struct {
	botToken string
	client   *http.Client
}

func (d discord) session(creds capability.Credentials) (*discordgo.Session, error) {
	token := "Bot " + d.botToken
	if d.botToken == "" {
		if creds.AccessToken == "" {
			return nil, fmt.Errorf("%w: discord token missing", capability.ErrCredentialsExpired)
		}
		token = "Bearer " + creds.AccessToken
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	s.Client = d.client
	return s, nil
}

// sendMessage posts content to channel_id.
func (d discord) sendMessage(ctx context.Context, creds capability.Credentials, params map[string]any) (capability.Outcome, error) {
	channelID, err := capability.RequireString(params, "channel_id")
	if err != nil {
		return nil, err
	}
	content := capability.String(params, "content")
	if content == "" {
		content = capability.String(params, "message")
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", capability.ErrInvalidParams)
	}

	s, err := d.session(creds)
	if err != nil {
		return nil, err
	}
	msg, err := s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, discordErr(err)
	}
	return capability.Outcome{"message_id": msg.ID, "channel_id": msg.ChannelID}, nil
}

// newMessage reports the latest message of channel_id; its id is the key.
func (d discord) newMessage(ctx context.Context, req capability.PollRequest) (capability.PollResult, error) {
	channelID, err := capability.RequireString(req.Params, "channel_id")
	if err != nil {
		return capability.PollResult{}, err
	}
	s, err := d.session(req.Credentials)
	if err != nil {
		return capability.PollResult{}, err
	}
	msgs, err := s.ChannelMessages(channelID, 1, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return capability.PollResult{}, discordErr(err)
	}
	if len(msgs) == 0 {
		return capability.PollResult{}, nil
	}
	m := msgs[0]
	author := ""
	if m.Author != nil {
		author = m.Author.Username
	}
	return capability.PollResult{
		Key: m.ID,
		Payload: map[string]any{
			"id":         m.ID,
			"channel_id": m.ChannelID,
			"content":    m.Content,
			"author":     author,
			"timestamp":  m.Timestamp.UTC().Format(time.RFC3339),
		},
	}, nil
}

func discordErr(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", capability.ErrCredentialsExpired, err)
	}
	return fmt.Errorf("discord: %w", err)
}
