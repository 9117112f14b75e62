package approval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/identity"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/metering"
	"github.com/jkaninda/grcpilot/internal/observability"
	"github.com/jkaninda/grcpilot/internal/security"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/storage/storetest"
	"github.com/jkaninda/grcpilot/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingConnector struct{ provider string }

func (f failingConnector) Provider() string { return f.provider }

func (f failingConnector) Test(context.Context, integrations.Config) error {
	return errors.New("401 bad credentials")
}

type harness struct {
	store   storage.Store
	engine  *Engine
	metrics *observability.MetricsCollector
}

func newHarness(t *testing.T, freeTier int) *harness {
	t.Helper()
	s := storetest.New(t)
	logger := discardLogger()
	metrics := observability.NewMetricsCollector()
	reg := integrations.NewRegistry(failingConnector{provider: integrations.ProviderGitHub})
	engine := NewEngine(s,
		metering.New(s, logger),
		NewTenancy(s, domain.RoleOwner, freeTier, logger),
		reg,
		security.NewRBAC(security.RBACConfig{}, logger),
		logger,
		WithMetrics(metrics),
	)
	return &harness{store: s, engine: engine, metrics: metrics}
}

// queue stores a pending action the way the agent does.
func (h *harness) queue(t *testing.T, userID, toolCallID, name string, input any, tenantID *uuid.UUID) {
	t.Helper()
	raw, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	err = h.store.PendingActions().Create(context.Background(), &domain.PendingAction{
		ToolCallID: toolCallID,
		UserID:     userID,
		TenantID:   tenantID,
		Name:       name,
		Input:      raw,
	})
	if err != nil {
		t.Fatalf("queueing %s: %v", toolCallID, err)
	}
}

func request(userID, toolCallID, name string, input any) Request {
	raw, _ := json.Marshal(input)
	return Request{
		Identity:      identity.Identity{UserID: userID},
		ToolCallID:    toolCallID,
		Name:          name,
		Input:         raw,
		CorrelationID: "corr-" + toolCallID,
	}
}

func (h *harness) usage(t *testing.T, tenantID uuid.UUID) domain.Usage {
	t.Helper()
	u, err := h.store.Usage().Get(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	return u
}

func (h *harness) status(t *testing.T, userID, toolCallID string) domain.ActionStatus {
	t.Helper()
	a, err := h.store.PendingActions().Get(context.Background(), userID, toolCallID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	return a.Status
}

func wantKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *approval.Error of kind %s", err, kind)
	}
	if ae.Kind != kind {
		t.Fatalf("kind = %s (%v), want %s", ae.Kind, err, kind)
	}
	return ae
}

var riskInput = map[string]any{"title": "Phishing", "likelihood": 4, "impact": 4}

func TestExecute_MetersExactlyOnePerSuccess(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	h.queue(t, "alice", "tc1", tools.CreateRisk, riskInput, &m.TenantID)

	res, err := h.engine.Execute(context.Background(), request("alice", "tc1", tools.CreateRisk, riskInput))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("success = false: %s", res.Error)
	}
	if res.Usage.Count != 1 || res.Usage.Limit != 5 {
		t.Errorf("usage = %+v, want 1/5", res.Usage)
	}
	if got := h.usage(t, m.TenantID).WriteCount; got != 1 {
		t.Errorf("write_count = %d, want 1", got)
	}
	if n, _ := h.store.Risks().Count(context.Background(), m.TenantID); n != 1 {
		t.Errorf("risks = %d, want 1", n)
	}
	if got := h.status(t, "alice", "tc1"); got != domain.ActionExecuted {
		t.Errorf("status = %s, want executed", got)
	}

	events, err := h.store.Audit().List(context.Background(), m.TenantID, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(events) != 1 || events[0].Outcome != OutcomeExecuted || events[0].CorrelationID != "corr-tc1" {
		t.Errorf("audit = %+v, want one executed event", events)
	}
}

func TestExecute_NonPendingIsConflict(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	h.queue(t, "alice", "tc1", tools.CreateRisk, riskInput, &m.TenantID)

	req := request("alice", "tc1", tools.CreateRisk, riskInput)
	if _, err := h.engine.Execute(context.Background(), req); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := h.engine.Execute(context.Background(), req)
	wantKind(t, err, KindConflict)

	if got := h.usage(t, m.TenantID).WriteCount; got != 1 {
		t.Errorf("write_count = %d after replay, want 1", got)
	}
	if n, _ := h.store.Risks().Count(context.Background(), m.TenantID); n != 1 {
		t.Errorf("risks = %d after replay, want 1", n)
	}
}

func TestExecute_ConcurrentApprovalsRunOnce(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	h.queue(t, "alice", "tc1", tools.CreateRisk, riskInput, &m.TenantID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Execute(context.Background(), request("alice", "tc1", tools.CreateRisk, riskInput)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if n, _ := h.store.Risks().Count(context.Background(), m.TenantID); n != 1 {
		t.Errorf("risks = %d, want 1", n)
	}
}

func TestExecute_UnsupportedAction(t *testing.T) {
	h := newHarness(t, 5)
	storetest.Tenant(t, h.store, "alice", 5)

	_, err := h.engine.Execute(context.Background(), request("alice", "tc1", "drop_database", map[string]any{}))
	wantKind(t, err, KindUnsupportedAction)

	_, err = h.engine.Execute(context.Background(), request("alice", "tc2", tools.SearchRisks, map[string]any{}))
	wantKind(t, err, KindUnsupportedAction)
}

func TestExecute_InvalidInputAndNotFound(t *testing.T) {
	h := newHarness(t, 5)
	storetest.Tenant(t, h.store, "alice", 5)

	_, err := h.engine.Execute(context.Background(), request("alice", "tc1", tools.CreateRisk, map[string]any{"likelihood": 2}))
	wantKind(t, err, KindInvalidInput)

	_, err = h.engine.Execute(context.Background(), request("alice", "missing", tools.CreateRisk, riskInput))
	wantKind(t, err, KindNotFound)
}

func TestExecute_NameMismatchIsConflict(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	h.queue(t, "alice", "tc1", tools.CreateFramework, map[string]any{"code": "soc2"}, &m.TenantID)

	_, err := h.engine.Execute(context.Background(), request("alice", "tc1", tools.CreateRisk, riskInput))
	wantKind(t, err, KindConflict)
	if got := h.status(t, "alice", "tc1"); got != domain.ActionPending {
		t.Errorf("status = %s, want pending", got)
	}
}

func TestExecute_Unauthenticated(t *testing.T) {
	h := newHarness(t, 5)
	_, err := h.engine.Execute(context.Background(), request("", "tc1", tools.CreateRisk, riskInput))
	wantKind(t, err, KindUnauthenticated)
}

func TestExecute_QuotaExceededMutatesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	m := storetest.Tenant(t, h.store, "alice", 0)
	h.queue(t, "alice", "tc1", tools.CreateRisk, riskInput, &m.TenantID)
	h.queue(t, "alice", "tc2", tools.CreateRisk, riskInput, nil)

	before := map[string]*domain.PendingAction{}
	for _, id := range []string{"tc1", "tc2"} {
		a, err := h.store.PendingActions().Get(ctx, "alice", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		before[id] = a
	}

	for _, id := range []string{"tc1", "tc2"} {
		_, err := h.engine.Execute(ctx, request("alice", id, tools.CreateRisk, riskInput))
		ae := wantKind(t, err, KindQuotaExceeded)
		if ae.Count != 0 || ae.Limit != 0 {
			t.Errorf("%s: count/limit = %d/%d, want 0/0", id, ae.Count, ae.Limit)
		}
	}

	if n, _ := h.store.Risks().Count(ctx, m.TenantID); n != 0 {
		t.Errorf("risks = %d, want 0", n)
	}
	if got := h.usage(t, m.TenantID).WriteCount; got != 0 {
		t.Errorf("write_count = %d, want 0", got)
	}
	events, err := h.store.Audit().List(ctx, m.TenantID, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("audit = %+v, want no rows", events)
	}
	for id, want := range before {
		got, err := h.store.PendingActions().Get(ctx, "alice", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != domain.ActionPending || got.ResolvedAt != nil || got.Error != "" {
			t.Errorf("%s = %s/%v/%q, want untouched pending", id, got.Status, got.ResolvedAt, got.Error)
		}
		if (got.TenantID == nil) != (want.TenantID == nil) {
			t.Errorf("%s tenant_id = %v, want %v", id, got.TenantID, want.TenantID)
		}
	}
	var metric dto.Metric
	if err := h.metrics.QuotaRefusals.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Errorf("quota refusals = %v, want 2", got)
	}
}

func TestExecute_CredentialBypassesQuota(t *testing.T) {
	h := newHarness(t, 0)
	m := storetest.Tenant(t, h.store, "alice", 0)
	err := h.store.Tenants().SetCredential(context.Background(), &domain.Credential{TenantID: m.TenantID, APIKey: "sk-tenant"})
	if err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	h.queue(t, "alice", "tc1", tools.CreateRisk, riskInput, &m.TenantID)

	res, err := h.engine.Execute(context.Background(), request("alice", "tc1", tools.CreateRisk, riskInput))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Usage.Bypassed {
		t.Error("usage should report the bypass")
	}
	if got := h.usage(t, m.TenantID).WriteCount; got != 0 {
		t.Errorf("write_count = %d, want 0", got)
	}
}

func TestExecute_HandlerErrorRollsBack(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	input := map[string]any{"risk_id": "RISK-0099", "control_id": "CTL-0001"}
	h.queue(t, "alice", "tc1", tools.LinkRiskToControl, input, &m.TenantID)

	_, err := h.engine.Execute(context.Background(), request("alice", "tc1", tools.LinkRiskToControl, input))
	wantKind(t, err, KindNotFound)

	if got := h.status(t, "alice", "tc1"); got != domain.ActionRejected {
		t.Errorf("status = %s, want rejected", got)
	}
	if got := h.usage(t, m.TenantID).WriteCount; got != 0 {
		t.Errorf("write_count = %d, want 0 after rollback", got)
	}
}

func TestExecute_FailedOutcomeIsNotMetered(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	input := map[string]any{"provider": "github", "config": map[string]any{"token": "bad", "owner": "acme", "repo": "app"}}
	h.queue(t, "alice", "tc1", tools.ConnectIntegration, input, &m.TenantID)

	res, err := h.engine.Execute(context.Background(), request("alice", "tc1", tools.ConnectIntegration, input))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Errorf("result = %+v, want recorded failure", res)
	}
	if got := h.usage(t, m.TenantID).WriteCount; got != 0 {
		t.Errorf("write_count = %d, want 0", got)
	}
	i, err := h.store.Integrations().Get(context.Background(), m.TenantID, "github")
	if err != nil {
		t.Fatalf("integration not persisted: %v", err)
	}
	if i.Status != domain.IntegrationInactive {
		t.Errorf("integration status = %s, want inactive", i.Status)
	}
	if got := h.status(t, "alice", "tc1"); got != domain.ActionExecuted {
		t.Errorf("status = %s, want executed", got)
	}
}

func TestExecute_ViewerIsForbidden(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	if _, err := h.store.Tenants().AddMember(context.Background(), m.TenantID, "victor", domain.RoleViewer); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	h.queue(t, "victor", "tc1", tools.CreateRisk, riskInput, &m.TenantID)

	_, err := h.engine.Execute(context.Background(), request("victor", "tc1", tools.CreateRisk, riskInput))
	wantKind(t, err, KindForbidden)
	if got := h.status(t, "victor", "tc1"); got != domain.ActionPending {
		t.Errorf("status = %s, want pending", got)
	}
}

func TestExecute_ProvisionsTenantOnFirstApproval(t *testing.T) {
	h := newHarness(t, 3)
	h.queue(t, "bob", "tc1", tools.CreateRisk, riskInput, nil)

	res, err := h.engine.Execute(context.Background(), request("bob", "tc1", tools.CreateRisk, riskInput))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Usage.Limit != 3 || res.Usage.Count != 1 {
		t.Errorf("usage = %+v, want 1/3", res.Usage)
	}

	m, err := h.store.Tenants().FindMembership(context.Background(), "bob")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if m.Role != domain.RoleOwner {
		t.Errorf("role = %s, want owner", m.Role)
	}
	a, _ := h.store.PendingActions().Get(context.Background(), "bob", "tc1")
	if a.TenantID == nil || *a.TenantID != m.TenantID {
		t.Errorf("action tenant = %v, want %s", a.TenantID, m.TenantID)
	}
}

func TestTenancy_EnsureIsIdempotent(t *testing.T) {
	s := storetest.New(t)
	tenancy := NewTenancy(s, domain.RoleOwner, 25, discardLogger())
	id := identity.Identity{UserID: "carol", Name: "Carol"}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]bool{}
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, _, err := tenancy.Ensure(context.Background(), id)
			if err != nil {
				t.Errorf("Ensure: %v", err)
				return
			}
			mu.Lock()
			ids[m.TenantID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != 1 {
		t.Fatalf("tenants created = %d, want 1", len(ids))
	}

	_, created, err := tenancy.Ensure(context.Background(), id)
	if err != nil || created {
		t.Errorf("second Ensure created=%v err=%v, want existing tenant", created, err)
	}
	m, err := tenancy.Lookup(context.Background(), "nobody")
	if err != nil || m != nil {
		t.Errorf("Lookup(nobody) = %v, %v; want nil, nil", m, err)
	}
}

func TestReject(t *testing.T) {
	h := newHarness(t, 5)
	m := storetest.Tenant(t, h.store, "alice", 5)
	h.queue(t, "alice", "tc1", tools.CreateRisk, riskInput, &m.TenantID)
	alice := identity.Identity{UserID: "alice"}

	a, err := h.engine.Reject(context.Background(), alice, "tc1")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if a.Status != domain.ActionRejected {
		t.Errorf("status = %s, want rejected", a.Status)
	}

	_, err = h.engine.Reject(context.Background(), alice, "tc1")
	wantKind(t, err, KindConflict)
	_, err = h.engine.Execute(context.Background(), request("alice", "tc1", tools.CreateRisk, riskInput))
	wantKind(t, err, KindConflict)
	_, err = h.engine.Reject(context.Background(), alice, "nope")
	wantKind(t, err, KindNotFound)

	list, err := h.engine.List(context.Background(), alice, domain.ActionRejected)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %d, %v; want 1 rejected action", len(list), err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{metering.ErrQuotaExceeded, KindQuotaExceeded},
		{security.ErrForbidden, KindForbidden},
		{storage.ErrNotFound, KindNotFound},
		{storage.ErrConflict, KindConflict},
		{tools.ErrUnknownTool, KindUnsupportedAction},
		{tools.ErrInvalidInput, KindInvalidInput},
		{identity.ErrUnauthenticated, KindUnauthenticated},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, tt := range tests {
		if got := classify(tt.err).Kind; got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if msg := classify(errors.New("dsn=postgres://secret")).Message; msg != "internal error" {
		t.Errorf("internal message leaked: %q", msg)
	}
}
