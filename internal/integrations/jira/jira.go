// Package jira opens issues through the Jira REST API v2.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/retry"
)

// Config keys.
const (
	KeyBaseURL    = "base_url"
	KeyEmail      = "email"
	KeyAPIToken   = "api_token"
	KeyProjectKey = "project_key"
)

const defaultIssueType = "Task"

// Connector implements integrations.Connector and integrations.IssueTracker.
type Connector struct {
	httpClient *http.Client
	policy     retry.Policy
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(j *Connector) { j.httpClient = c }
}

// WithRetryPolicy overrides the retry budget for idempotent reads.
func WithRetryPolicy(p retry.Policy) Option {
	return func(j *Connector) { j.policy = p }
}

// New creates a Jira connector.
func New(opts ...Option) *Connector {
	j := &Connector{
		httpClient: integrations.NewHTTPClient(0),
		policy:     retry.DefaultPolicy(),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Connector) Provider() string { return integrations.ProviderJira }

// Test resolves the authenticated user.
func (j *Connector) Test(ctx context.Context, cfg integrations.Config) error {
	if err := cfg.Require(KeyBaseURL, KeyEmail, KeyAPIToken); err != nil {
		return err
	}
	return retry.Do(ctx, j.policy, func(ctx context.Context) error {
		resp, err := j.do(ctx, cfg, http.MethodGet, "/rest/api/2/myself", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return integrations.CheckResponse("jira", resp)
	})
}

type createIssueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     keyRef  `json:"project"`
	Summary     string  `json:"summary"`
	Description string  `json:"description,omitempty"`
	IssueType   nameRef `json:"issuetype"`
}

type keyRef struct {
	Key string `json:"key"`
}

type nameRef struct {
	Name string `json:"name"`
}

// CreateIssue opens an issue. It is not retried.
func (j *Connector) CreateIssue(ctx context.Context, cfg integrations.Config, issue integrations.Issue) (integrations.IssueRef, error) {
	if err := cfg.Require(KeyBaseURL, KeyEmail, KeyAPIToken); err != nil {
		return integrations.IssueRef{}, err
	}
	project := issue.ProjectKey
	if project == "" {
		project = cfg[KeyProjectKey]
	}
	if project == "" {
		return integrations.IssueRef{}, fmt.Errorf("%w: %s", integrations.ErrMissingConfig, KeyProjectKey)
	}
	issueType := issue.IssueType
	if issueType == "" {
		issueType = defaultIssueType
	}

	body, err := json.Marshal(createIssueRequest{Fields: issueFields{
		Project:     keyRef{Key: project},
		Summary:     issue.Summary,
		Description: issue.Description,
		IssueType:   nameRef{Name: issueType},
	}})
	if err != nil {
		return integrations.IssueRef{}, fmt.Errorf("marshaling issue: %w", err)
	}

	resp, err := j.do(ctx, cfg, http.MethodPost, "/rest/api/2/issue", body)
	if err != nil {
		return integrations.IssueRef{}, err
	}
	defer resp.Body.Close()
	if err := integrations.CheckResponse("jira", resp); err != nil {
		return integrations.IssueRef{}, err
	}

	var created struct {
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return integrations.IssueRef{}, fmt.Errorf("decoding jira response: %w", err)
	}
	return integrations.IssueRef{
		Key: created.Key,
		URL: strings.TrimRight(cfg[KeyBaseURL], "/") + "/browse/" + created.Key,
	}, nil
}

func (j *Connector) do(ctx context.Context, cfg integrations.Config, method, path string, body []byte) (*http.Response, error) {
	u := strings.TrimRight(cfg[KeyBaseURL], "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.SetBasicAuth(cfg[KeyEmail], cfg[KeyAPIToken])
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

var (
	_ integrations.Connector    = (*Connector)(nil)
	_ integrations.IssueTracker = (*Connector)(nil)
)
