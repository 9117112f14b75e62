// Package slack posts notifications through the Slack Web API using slack-go.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/retry"
)

// Config keys.
const (
	KeyToken   = "token"
	KeyChannel = "channel"
)

// Connector implements integrations.Connector and integrations.Notifier.
// A slack.Client is built per call from the integration's bot token.
type Connector struct {
	httpClient *http.Client
	apiURL     string
	policy     retry.Policy
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Connector) { s.httpClient = c }
}

// WithAPIURL points the client at a different Slack API base (must end in "/").
func WithAPIURL(u string) Option {
	return func(s *Connector) { s.apiURL = u }
}

// WithRetryPolicy overrides the retry budget for idempotent reads.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Connector) { s.policy = p }
}

// New creates a Slack connector.
func New(opts ...Option) *Connector {
	s := &Connector{
		httpClient: integrations.NewHTTPClient(0),
		policy:     retry.DefaultPolicy(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Connector) Provider() string { return integrations.ProviderSlack }

func (s *Connector) client(cfg integrations.Config) *slack.Client {
	opts := []slack.Option{slack.OptionHTTPClient(s.httpClient)}
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	return slack.New(cfg[KeyToken], opts...)
}

// Test validates the bot token with auth.test.
func (s *Connector) Test(ctx context.Context, cfg integrations.Config) error {
	if err := cfg.Require(KeyToken); err != nil {
		return err
	}
	api := s.client(cfg)
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		if _, err := api.AuthTestContext(ctx); err != nil {
			var apiErr slack.SlackErrorResponse
			if errors.As(err, &apiErr) {
				return retry.Permanent(fmt.Errorf("slack auth test: %w", err))
			}
			return fmt.Errorf("slack auth test: %w", err)
		}
		return nil
	})
}

// Notify posts msg.Text to msg.Channel, falling back to the configured channel.
// Posting is not retried.
func (s *Connector) Notify(ctx context.Context, cfg integrations.Config, msg integrations.Message) (string, error) {
	if err := cfg.Require(KeyToken); err != nil {
		return "", err
	}
	channel := msg.Channel
	if channel == "" {
		channel = cfg[KeyChannel]
	}
	if channel == "" {
		return "", fmt.Errorf("%w: %s", integrations.ErrMissingConfig, KeyChannel)
	}

	_, ts, err := s.client(cfg).PostMessageContext(ctx, channel, slack.MsgOptionText(msg.Text, false))
	if err != nil {
		return "", fmt.Errorf("posting slack message: %w", err)
	}
	return ts, nil
}

var (
	_ integrations.Connector = (*Connector)(nil)
	_ integrations.Notifier  = (*Connector)(nil)
)
