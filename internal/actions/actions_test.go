package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/security"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/storage/storetest"
	"github.com/jkaninda/grcpilot/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConnector struct {
	provider string
	testErr  error
	alerts   []integrations.Alert
	issues   []integrations.Issue
	messages []integrations.Message
}

func (f *fakeConnector) Provider() string { return f.provider }

func (f *fakeConnector) Test(context.Context, integrations.Config) error { return f.testErr }

func (f *fakeConnector) ListOpenAlerts(context.Context, integrations.Config) ([]integrations.Alert, error) {
	return f.alerts, nil
}

func (f *fakeConnector) CreateIssue(_ context.Context, _ integrations.Config, issue integrations.Issue) (integrations.IssueRef, error) {
	f.issues = append(f.issues, issue)
	return integrations.IssueRef{Key: "GRC-1", URL: "https://jira.example/browse/GRC-1"}, nil
}

func (f *fakeConnector) Notify(_ context.Context, _ integrations.Config, msg integrations.Message) (string, error) {
	f.messages = append(f.messages, msg)
	return "1712345678.000100", nil
}

type fixture struct {
	store  storage.Store
	tenant uuid.UUID
	github *fakeConnector
	jira   *fakeConnector
	slack  *fakeConnector
	reg    *integrations.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	m := storetest.Tenant(t, s, "alice", 100)
	f := &fixture{
		store:  s,
		tenant: m.TenantID,
		github: &fakeConnector{provider: integrations.ProviderGitHub},
		jira:   &fakeConnector{provider: integrations.ProviderJira},
		slack:  &fakeConnector{provider: integrations.ProviderSlack},
	}
	f.reg = integrations.NewRegistry(f.github, f.jira, f.slack)
	return f
}

func (f *fixture) env(role domain.Role) Env {
	return Env{
		Store:        f.store,
		Integrations: f.reg,
		RBAC:         security.NewRBAC(security.RBACConfig{}, discardLogger()),
		TenantID:     f.tenant,
		UserID:       "alice",
		Role:         role,
		Logger:       discardLogger(),
	}
}

func (f *fixture) connect(t *testing.T, provider string, cfg map[string]string) Outcome {
	t.Helper()
	out, err := Dispatch(context.Background(), f.env(domain.RoleOwner), tools.ConnectIntegrationInput{Provider: provider, Config: cfg})
	if err != nil {
		t.Fatalf("connect %s: %v", provider, err)
	}
	return out
}

func TestCreateRisk_Defaults(t *testing.T) {
	f := newFixture(t)
	out, err := Dispatch(context.Background(), f.env(domain.RoleMember), tools.CreateRiskInput{Title: "Laptop theft", Likelihood: 9})
	if err != nil {
		t.Fatalf("create_risk: %v", err)
	}
	r := out.Result.(RiskResult)
	if r.Ref != "RISK-0001" || r.Status != string(domain.RiskIdentified) {
		t.Errorf("result = %+v", r)
	}
	if r.Likelihood != 5 || r.Impact != 3 || r.InherentScore != 15 || r.ResidualScore != 15 {
		t.Errorf("scores = %+v, want clamped likelihood 5, default impact 3", r)
	}

	stored, err := f.store.Risks().Resolve(context.Background(), f.tenant, "RISK-0001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if stored.Owner != "alice" {
		t.Errorf("owner = %q, want approving caller", stored.Owner)
	}
}

func TestLinkRiskToControl_NoDuplicateAndResidual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	if _, err := Dispatch(ctx, env, tools.CreateRiskInput{Title: "Phishing", Likelihood: 4, Impact: 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := Dispatch(ctx, env, tools.CreateControlInput{Name: "MFA", Effectiveness: 5}); err != nil {
		t.Fatal(err)
	}

	for i := range 2 {
		out, err := Dispatch(ctx, env, tools.LinkRiskToControlInput{RiskID: "risk-0001", ControlID: "ctl-0001"})
		if err != nil {
			t.Fatalf("link #%d: %v", i+1, err)
		}
		res := out.Result.(LinkResult)
		if res.Created != (i == 0) {
			t.Errorf("link #%d created = %v", i+1, res.Created)
		}
		if res.Risk.ResidualLikelihood != 1 || res.Risk.ResidualImpact != 1 || res.Risk.Status != string(domain.RiskAssessed) {
			t.Errorf("link #%d risk = %+v", i+1, res.Risk)
		}
	}

	risk, _ := f.store.Risks().Resolve(ctx, f.tenant, "RISK-0001")
	n, err := f.store.Controls().CountLinks(ctx, f.tenant, risk.ID)
	if err != nil {
		t.Fatalf("CountLinks: %v", err)
	}
	if n != 1 {
		t.Errorf("links = %d, want 1", n)
	}
}

func TestLinkRiskToControl_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := Dispatch(context.Background(), f.env(domain.RoleMember), tools.LinkRiskToControlInput{RiskID: "RISK-0404", ControlID: "CTL-0001"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateFramework_NormalizesAndConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	out, err := Dispatch(ctx, env, tools.CreateFrameworkInput{Code: "iso 27001!", Name: "ISO"})
	if err != nil {
		t.Fatalf("create_framework: %v", err)
	}
	if got := out.Result.(FrameworkResult); got.Code != "ISO-27001" || !got.Active {
		t.Errorf("result = %+v", got)
	}
	if _, err := Dispatch(ctx, env, tools.CreateFrameworkInput{Code: "ISO-27001", Name: "again"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate err = %v, want ErrConflict", err)
	}
	if _, err := Dispatch(ctx, env, tools.CreateFrameworkInput{Code: "***", Name: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty code err = %v, want ErrInvalidInput", err)
	}
}

func TestRequirementLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	if _, err := Dispatch(ctx, env, tools.CreateRequirementInput{FrameworkCode: "SOC2", Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing framework err = %v, want ErrNotFound", err)
	}
	if _, err := Dispatch(ctx, env, tools.CreateFrameworkInput{Code: "soc2", Name: "SOC 2"}); err != nil {
		t.Fatal(err)
	}
	out, err := Dispatch(ctx, env, tools.CreateRequirementInput{FrameworkCode: "soc2", Title: "Access reviews"})
	if err != nil {
		t.Fatalf("create_requirement: %v", err)
	}
	req := out.Result.(RequirementResult)
	if req.Code != "SOC2-1" || req.Domain != "General" {
		t.Errorf("requirement = %+v", req)
	}

	if _, err := Dispatch(ctx, env, tools.UpdateRequirementStatusInput{FrameworkCode: "SOC2", RequirementCode: "SOC2-1", Status: "done"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad status err = %v, want ErrInvalidInput", err)
	}
	for _, st := range []string{"in_progress", "implemented"} {
		if _, err := Dispatch(ctx, env, tools.UpdateRequirementStatusInput{FrameworkCode: "SOC2", RequirementCode: "SOC2-1", Status: st}); err != nil {
			t.Fatalf("update status %s: %v", st, err)
		}
	}
	statuses, _ := f.store.Frameworks().ListStatuses(ctx, f.tenant, "SOC2")
	if len(statuses) != 1 || statuses[0].Status != domain.RequirementImplemented {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestCreateEvidence_RequiresControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	if _, err := Dispatch(ctx, env, tools.CreateEvidenceInput{Title: "Policy", ControlCode: "CTL-0009"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	out, err := Dispatch(ctx, env, tools.CreateEvidenceInput{Title: "Policy"})
	if err != nil {
		t.Fatalf("create_evidence: %v", err)
	}
	if got := out.Result.(EvidenceResult); got.SourceType != "manual" {
		t.Errorf("source type = %q, want manual", got.SourceType)
	}
}

func TestConnectIntegration_ForbiddenForMember(t *testing.T) {
	f := newFixture(t)
	_, err := Dispatch(context.Background(), f.env(domain.RoleMember), tools.ConnectIntegrationInput{Provider: "github", Config: map[string]string{"token": "t"}})
	if !errors.Is(err, security.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := f.store.Integrations().Get(context.Background(), f.tenant, "github"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("integration persisted despite Forbidden: %v", err)
	}
}

func TestConnectIntegration_FailedTestIsInactive(t *testing.T) {
	f := newFixture(t)
	f.github.testErr = errors.New("401 bad credentials")

	out := f.connect(t, "github", map[string]string{"token": "bad"})
	if out.Success {
		t.Fatal("failed connectivity test reported success")
	}
	res := out.Result.(IntegrationResult)
	if res.Status != string(domain.IntegrationInactive) || res.LastError == "" {
		t.Errorf("result = %+v", res)
	}

	stored, err := f.store.Integrations().Get(context.Background(), f.tenant, "github")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.IntegrationInactive {
		t.Errorf("stored status = %s", stored.Status)
	}

	f.github.testErr = nil
	if out := f.connect(t, "github", map[string]string{"token": "good"}); !out.Success {
		t.Errorf("reconnect failed: %+v", out)
	}
}

func TestImportGitHubAlerts_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	if _, err := Dispatch(ctx, env, tools.ImportGitHubAlertsInput{}); !errors.Is(err, ErrPrerequisiteMissing) {
		t.Fatalf("err without integration = %v, want ErrPrerequisiteMissing", err)
	}

	f.connect(t, "github", map[string]string{"token": "t", "owner": "o", "repo": "r"})
	f.github.alerts = []integrations.Alert{
		{Number: 1, Severity: "critical", Summary: "RCE in parser", Package: "yaml"},
		{Number: 2, Severity: "low", Summary: "ReDoS", Package: "minimatch"},
		{Number: 3, Severity: "weird", Summary: "Unknown"},
	}

	first, err := Dispatch(ctx, env, tools.ImportGitHubAlertsInput{})
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if got := first.Result.(ImportResult); got.Created != 3 || got.Skipped != 0 {
		t.Errorf("first import = %+v, want 3/0", got)
	}

	second, err := Dispatch(ctx, env, tools.ImportGitHubAlertsInput{})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if got := second.Result.(ImportResult); got.Created != 0 || got.Skipped != 3 {
		t.Errorf("second import = %+v, want 0/3", got)
	}

	risks, _ := f.store.Risks().ListBySource(ctx, f.tenant, "github")
	byNumber := map[string]domain.Risk{}
	for _, r := range risks {
		key, _ := alertKey(r.Metadata[MetaGitHubAlertNumber])
		byNumber[key] = r
	}
	if r := byNumber["1"]; r.Likelihood != 5 || r.Impact != 5 {
		t.Errorf("critical alert scored %d/%d", r.Likelihood, r.Impact)
	}
	if r := byNumber["3"]; r.Likelihood != 2 || r.Impact != 3 {
		t.Errorf("unknown severity scored %d/%d", r.Likelihood, r.Impact)
	}

	integ, _ := f.store.Integrations().Get(ctx, f.tenant, "github")
	if integ.LastSyncAt == nil || integ.LastSyncStatus != SyncSuccess {
		t.Errorf("sync bookkeeping not updated: %+v", integ)
	}
}

func TestImportGitHubAlerts_LargeNumbersStayDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)
	f.connect(t, "github", map[string]string{"token": "t", "owner": "o", "repo": "r"})
	f.github.alerts = []integrations.Alert{{Number: 1_000_000, Severity: "high", Summary: "Prototype pollution"}}
	// Only the github connector may serve alerts.
	f.slack.alerts = []integrations.Alert{{Number: 7, Severity: "low", Summary: "wrong source"}}

	for i, want := range []ImportResult{{Created: 1}, {Skipped: 1}} {
		out, err := Dispatch(ctx, env, tools.ImportGitHubAlertsInput{})
		if err != nil {
			t.Fatalf("import %d: %v", i, err)
		}
		got := out.Result.(ImportResult)
		if got.Created != want.Created || got.Skipped != want.Skipped {
			t.Errorf("import %d = %+v, want %d/%d", i, got, want.Created, want.Skipped)
		}
	}
	if n, _ := f.store.Risks().Count(ctx, f.tenant); n != 1 {
		t.Errorf("risks = %d, want 1", n)
	}
}

func TestAlertKey(t *testing.T) {
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{1_000_000, "1000000", true},
		{float64(1_000_000), "1000000", true},
		{int64(42), "42", true},
		{json.Number("17"), "17", true},
		{"9", "9", true},
		{nil, "", false},
	}
	for _, tt := range tests {
		got, ok := alertKey(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("alertKey(%#v) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestJiraAndSlack_PrerequisiteMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	if _, err := Dispatch(ctx, env, tools.CreateJiraIssueInput{Summary: "x"}); !errors.Is(err, ErrPrerequisiteMissing) {
		t.Errorf("jira err = %v, want ErrPrerequisiteMissing", err)
	}
	if _, err := Dispatch(ctx, env, tools.SendSlackNotificationInput{Text: "x"}); !errors.Is(err, ErrPrerequisiteMissing) {
		t.Errorf("slack err = %v, want ErrPrerequisiteMissing", err)
	}

	f.slack.testErr = errors.New("invalid_auth")
	f.connect(t, "slack", map[string]string{"token": "x"})
	if _, err := Dispatch(ctx, env, tools.SendSlackNotificationInput{Text: "x"}); !errors.Is(err, ErrPrerequisiteMissing) {
		t.Errorf("inactive slack err = %v, want ErrPrerequisiteMissing", err)
	}
	if len(f.jira.issues) != 0 || len(f.slack.messages) != 0 {
		t.Error("external system called without an active integration")
	}
}

func TestCreateJiraIssue_WritesBackKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	f.connect(t, "jira", map[string]string{"base_url": "https://jira.example", "email": "a@b", "api_token": "t", "project_key": "GRC"})
	if _, err := Dispatch(ctx, env, tools.CreateRiskInput{Title: "Shadow IT"}); err != nil {
		t.Fatal(err)
	}

	out, err := Dispatch(ctx, env, tools.CreateJiraIssueInput{Summary: "Review SaaS inventory", RiskID: "RISK-0001"})
	if err != nil {
		t.Fatalf("create_jira_issue: %v", err)
	}
	if got := out.Result.(JiraIssueResult); got.Key != "GRC-1" || got.RiskRef != "RISK-0001" {
		t.Errorf("result = %+v", got)
	}
	risk, _ := f.store.Risks().Resolve(ctx, f.tenant, "RISK-0001")
	if risk.ExternalRef != "GRC-1" {
		t.Errorf("external_ref = %q, want GRC-1", risk.ExternalRef)
	}
}

func TestSendSlackNotification_RecordsTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := f.env(domain.RoleMember)

	f.connect(t, "slack", map[string]string{"token": "xoxb", "channel": "C123"})
	if _, err := Dispatch(ctx, env, tools.CreateRiskInput{Title: "Expired cert"}); err != nil {
		t.Fatal(err)
	}

	out, err := Dispatch(ctx, env, tools.SendSlackNotificationInput{Text: "heads up", RiskID: "RISK-0001"})
	if err != nil {
		t.Fatalf("send_slack_notification: %v", err)
	}
	if got := out.Result.(SlackResult); got.Channel != "C123" {
		t.Errorf("channel = %q, want integration default", got.Channel)
	}
	risk, _ := f.store.Risks().Resolve(ctx, f.tenant, "RISK-0001")
	if risk.Metadata[MetaSlackTS] != "1712345678.000100" {
		t.Errorf("metadata = %v", risk.Metadata)
	}
}

func TestDispatch_Unsupported(t *testing.T) {
	_, err := Dispatch(context.Background(), Env{}, tools.SearchRisksInput{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}
