package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/security"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// Risk metadata keys written by integration handlers.
const (
	MetaSource            = "source"
	MetaGitHubAlertNumber = "github_alert_number"
	MetaSeverity          = "severity"
	MetaPackage           = "package"
	MetaURL               = "url"
	MetaSlackTS           = "slack_ts"
)

// Sync statuses recorded on the integration.
const (
	SyncSuccess = "success"
)

// IntegrationResult never echoes the integration config, which holds credentials.
type IntegrationResult struct {
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

func connectIntegration(ctx context.Context, env Env, in tools.ConnectIntegrationInput) (Outcome, error) {
	if err := env.RBAC.Check(ctx, env.UserID, env.Role, security.PermManageIntegrations); err != nil {
		return Outcome{}, err
	}

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	conn, err := env.Integrations.Connector(provider)
	if err != nil {
		return Outcome{}, wrapInvalid(err.Error())
	}

	cfg := integrations.Config(maps.Clone(in.Config))
	if cfg == nil {
		cfg = integrations.Config{}
	}

	tctx, cancel := env.external(ctx)
	testErr := conn.Test(tctx, cfg)
	cancel()

	i := &domain.Integration{
		TenantID: env.TenantID,
		Provider: provider,
		Config:   cfg,
		Status:   domain.IntegrationActive,
	}
	if testErr != nil {
		i.Status = domain.IntegrationInactive
		i.LastError = testErr.Error()
	}
	if err := env.Store.Integrations().Upsert(ctx, i); err != nil {
		return Outcome{}, storeErr(err, "saving integration")
	}

	res := IntegrationResult{Provider: i.Provider, Status: string(i.Status), LastError: i.LastError}
	if testErr != nil {
		env.Logger.WarnContext(ctx, "integration connectivity test failed",
			slog.String("tenant_id", env.TenantID.String()),
			slog.String("provider", provider),
			slog.String("error", testErr.Error()),
		)
		return Outcome{Success: false, Result: res, Error: "connection test failed: " + testErr.Error()}, nil
	}
	return ok(res), nil
}

// requireActive returns the tenant's integration for provider, or
// ErrPrerequisiteMissing when it is absent or not active.
func requireActive(ctx context.Context, env Env, provider string) (*domain.Integration, error) {
	i, err := env.Store.Integrations().Get(ctx, env.TenantID, provider)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s integration is not connected", ErrPrerequisiteMissing, provider)
	}
	if err != nil {
		return nil, storeErr(err, "loading "+provider+" integration")
	}
	if i.Status != domain.IntegrationActive {
		return nil, fmt.Errorf("%w: %s integration is %s", ErrPrerequisiteMissing, provider, i.Status)
	}
	return i, nil
}

// externalErr keeps misconfiguration distinguishable from outages.
func externalErr(err error, what string) error {
	if errors.Is(err, integrations.ErrMissingConfig) {
		return fmt.Errorf("%w: %s: %v", ErrPrerequisiteMissing, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Refs    []string `json:"refs,omitempty"`
}

func importGitHubAlerts(ctx context.Context, env Env, _ tools.ImportGitHubAlertsInput) (Outcome, error) {
	integ, err := requireActive(ctx, env, integrations.ProviderGitHub)
	if err != nil {
		return Outcome{}, err
	}
	source := env.Integrations.Alerts()
	if source == nil {
		return Outcome{}, errors.New("no alert source registered")
	}

	xctx, cancel := env.external(ctx)
	alerts, err := source.ListOpenAlerts(xctx, integrations.Config(integ.Config))
	cancel()
	if err != nil {
		return Outcome{}, externalErr(err, "listing github alerts")
	}

	existing, err := env.Store.Risks().ListBySource(ctx, env.TenantID, integrations.ProviderGitHub)
	if err != nil {
		return Outcome{}, storeErr(err, "loading imported risks")
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		if key, ok := alertKey(r.Metadata[MetaGitHubAlertNumber]); ok {
			seen[key] = true
		}
	}

	var res ImportResult
	for _, a := range alerts {
		key := strconv.Itoa(a.Number)
		if seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true

		l, i := domain.SeverityRating(a.Severity)
		r := newRisk(env, alertTitle(a), a.Description, "security", l, i, map[string]any{
			MetaSource:            integrations.ProviderGitHub,
			MetaGitHubAlertNumber: a.Number,
			MetaSeverity:          a.Severity,
			MetaPackage:           a.Package,
			MetaURL:               a.URL,
		})
		r.ExternalRef = a.URL
		if err := env.Store.Risks().Create(ctx, r); err != nil {
			return Outcome{}, storeErr(err, "creating risk for alert "+key)
		}
		res.Created++
		res.Refs = append(res.Refs, r.Ref)
	}

	if err := env.Store.Integrations().RecordSync(ctx, integ.ID, SyncSuccess, env.now()); err != nil {
		return Outcome{}, storeErr(err, "recording sync")
	}
	env.Logger.InfoContext(ctx, "github alerts imported",
		slog.String("tenant_id", env.TenantID.String()),
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
	)
	return ok(res), nil
}

// alertKey normalizes a stored alert number. Metadata read back from JSON
// holds float64, which fmt prints in exponent form from 1e6 up.
func alertKey(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case float64:
		return strconv.FormatInt(int64(n), 10), true
	case json.Number:
		return n.String(), true
	case string:
		return n, n != ""
	default:
		return "", false
	}
}

func alertTitle(a integrations.Alert) string {
	title := strings.TrimSpace(a.Summary)
	if title == "" {
		title = fmt.Sprintf("Dependabot alert #%d", a.Number)
	}
	if a.Package != "" {
		title += " (" + a.Package + ")"
	}
	return title
}

type JiraIssueResult struct {
	Key     string `json:"key"`
	URL     string `json:"url,omitempty"`
	RiskRef string `json:"risk_ref,omitempty"`
}

func createJiraIssue(ctx context.Context, env Env, in tools.CreateJiraIssueInput) (Outcome, error) {
	integ, err := requireActive(ctx, env, integrations.ProviderJira)
	if err != nil {
		return Outcome{}, err
	}
	tracker := env.Integrations.Issues()
	if tracker == nil {
		return Outcome{}, errors.New("no issue tracker registered")
	}

	// Resolve before the external call so a bad ref creates no orphan issue.
	var risk *domain.Risk
	if in.RiskID != "" {
		if risk, err = env.Store.Risks().Resolve(ctx, env.TenantID, in.RiskID); err != nil {
			return Outcome{}, storeErr(err, "risk "+in.RiskID)
		}
	}

	xctx, cancel := env.external(ctx)
	ref, err := tracker.CreateIssue(xctx, integrations.Config(integ.Config), integrations.Issue{
		ProjectKey:  in.ProjectKey,
		Summary:     in.Summary,
		Description: in.Description,
		IssueType:   in.IssueType,
	})
	cancel()
	if err != nil {
		return Outcome{}, externalErr(err, "creating jira issue")
	}

	res := JiraIssueResult{Key: ref.Key, URL: ref.URL}
	if risk != nil {
		risk.ExternalRef = ref.Key
		if err := env.Store.Risks().Update(ctx, risk); err != nil {
			return Outcome{}, storeErr(err, "linking issue to risk")
		}
		res.RiskRef = risk.Ref
	}
	if err := env.Store.Integrations().RecordSync(ctx, integ.ID, SyncSuccess, env.now()); err != nil {
		return Outcome{}, storeErr(err, "recording sync")
	}
	return ok(res), nil
}

type SlackResult struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts"`
	RiskRef   string `json:"risk_ref,omitempty"`
}

func sendSlackNotification(ctx context.Context, env Env, in tools.SendSlackNotificationInput) (Outcome, error) {
	integ, err := requireActive(ctx, env, integrations.ProviderSlack)
	if err != nil {
		return Outcome{}, err
	}
	notifier := env.Integrations.Notifier()
	if notifier == nil {
		return Outcome{}, errors.New("no notifier registered")
	}

	var risk *domain.Risk
	if in.RiskID != "" {
		if risk, err = env.Store.Risks().Resolve(ctx, env.TenantID, in.RiskID); err != nil {
			return Outcome{}, storeErr(err, "risk "+in.RiskID)
		}
	}

	cfg := integrations.Config(integ.Config)
	channel := orDefault(in.Channel, cfg["channel"])

	xctx, cancel := env.external(ctx)
	ts, err := notifier.Notify(xctx, cfg, integrations.Message{Channel: channel, Text: in.Text})
	cancel()
	if err != nil {
		return Outcome{}, externalErr(err, "posting slack message")
	}

	res := SlackResult{Channel: channel, Timestamp: ts}
	if risk != nil {
		if risk.Metadata == nil {
			risk.Metadata = map[string]any{}
		}
		risk.Metadata[MetaSlackTS] = ts
		if err := env.Store.Risks().Update(ctx, risk); err != nil {
			return Outcome{}, storeErr(err, "recording slack message on risk")
		}
		res.RiskRef = risk.Ref
	}
	if err := env.Store.Integrations().RecordSync(ctx, integ.ID, SyncSuccess, env.now()); err != nil {
		return Outcome{}, storeErr(err, "recording sync")
	}
	return ok(res), nil
}
