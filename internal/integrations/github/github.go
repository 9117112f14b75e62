// Package github reads repository security alerts from the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/retry"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	perPage        = 100
	maxPages       = 10
)

// Config keys.
const (
	KeyToken   = "token"
	KeyOwner   = "owner"
	KeyRepo    = "repo"
	KeyBaseURL = "base_url"
)

// Connector implements integrations.Connector and integrations.AlertSource.
type Connector struct {
	httpClient *http.Client
	policy     retry.Policy
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Connector) { g.httpClient = c }
}

// WithRetryPolicy overrides the retry budget for idempotent reads.
func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Connector) { g.policy = p }
}

// New creates a GitHub connector.
func New(opts ...Option) *Connector {
	g := &Connector{
		httpClient: integrations.NewHTTPClient(0),
		policy:     retry.DefaultPolicy(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Connector) Provider() string { return integrations.ProviderGitHub }

// Test checks that the token can read the configured repository.
func (g *Connector) Test(ctx context.Context, cfg integrations.Config) error {
	if err := cfg.Require(KeyToken, KeyOwner, KeyRepo); err != nil {
		return err
	}
	return retry.Do(ctx, g.policy, func(ctx context.Context) error {
		resp, err := g.get(ctx, cfg, repoPath(cfg), nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return integrations.CheckResponse("github", resp)
	})
}

type dependabotAlert struct {
	Number           int    `json:"number"`
	State            string `json:"state"`
	HTMLURL          string `json:"html_url"`
	SecurityAdvisory struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
	} `json:"security_advisory"`
	Dependency struct {
		Package struct {
			Name      string `json:"name"`
			Ecosystem string `json:"ecosystem"`
		} `json:"package"`
	} `json:"dependency"`
}

// ListOpenAlerts returns every open Dependabot alert of the configured repository.
func (g *Connector) ListOpenAlerts(ctx context.Context, cfg integrations.Config) ([]integrations.Alert, error) {
	if err := cfg.Require(KeyToken, KeyOwner, KeyRepo); err != nil {
		return nil, err
	}

	var out []integrations.Alert
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("state", "open")
		q.Set("per_page", fmt.Sprint(perPage))
		q.Set("page", fmt.Sprint(page))

		batch, err := retry.DoValue(ctx, g.policy, func(ctx context.Context) ([]dependabotAlert, error) {
			resp, err := g.get(ctx, cfg, repoPath(cfg)+"/dependabot/alerts", q)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if err := integrations.CheckResponse("github", resp); err != nil {
				return nil, err
			}
			var alerts []dependabotAlert
			if err := json.NewDecoder(resp.Body).Decode(&alerts); err != nil {
				return nil, retry.Permanent(fmt.Errorf("decoding dependabot alerts: %w", err))
			}
			return alerts, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing github alerts: %w", err)
		}

		for _, a := range batch {
			out = append(out, integrations.Alert{
				Number:      a.Number,
				Severity:    a.SecurityAdvisory.Severity,
				Summary:     a.SecurityAdvisory.Summary,
				Description: a.SecurityAdvisory.Description,
				Package:     a.Dependency.Package.Name,
				URL:         a.HTMLURL,
			})
		}
		if len(batch) < perPage {
			break
		}
	}
	return out, nil
}

func (g *Connector) get(ctx context.Context, cfg integrations.Config, path string, q url.Values) (*http.Response, error) {
	u := strings.TrimRight(cfg.Get(KeyBaseURL, defaultBaseURL), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+cfg[KeyToken])
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

func repoPath(cfg integrations.Config) string {
	return "/repos/" + url.PathEscape(cfg[KeyOwner]) + "/" + url.PathEscape(cfg[KeyRepo])
}

var (
	_ integrations.Connector   = (*Connector)(nil)
	_ integrations.AlertSource = (*Connector)(nil)
)
