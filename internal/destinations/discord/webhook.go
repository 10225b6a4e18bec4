package discord

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Webhook is the slice of the Discord REST API the adapter uses.
type Webhook interface {
	Name(ctx context.Context, id, token string) (string, error)
	Execute(ctx context.Context, id, token string, p *discordgo.WebhookParams) (*discordgo.Message, error)
}

// SessionWebhook drives webhooks through a token-less discordgo session.
// Rate limits are returned to the caller instead of being retried inside
// discordgo, so the gateway sees them.
type SessionWebhook struct {
	s *discordgo.Session
}

func NewSessionWebhook() (*SessionWebhook, error) {
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	s.ShouldRetryOnRateLimit = false
	s.MaxRestRetries = 0
	return &SessionWebhook{s: s}, nil
}

func (w *SessionWebhook) Name(ctx context.Context, id, token string) (string, error) {
	wh, err := w.s.WebhookWithToken(id, token, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return wh.Name, nil
}

func (w *SessionWebhook) Execute(ctx context.Context, id, token string, p *discordgo.WebhookParams) (*discordgo.Message, error) {
	return w.s.WebhookExecute(id, token, true, p, discordgo.WithContext(ctx))
}

// ParseWebhookURL splits https://discord.com/api/webhooks/{id}/{token}.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q: missing id/token", raw)
}

// ClassifyRateLimit reports the retry delay of a discordgo rate limit error.
func ClassifyRateLimit(err error) (time.Duration, bool) {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return rl.RetryAfter, true
	}
	return 0, false
}
