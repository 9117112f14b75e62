package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/observability"
	"github.com/jkaninda/grcpilot/internal/storage/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConnector struct {
	provider string
	err      error
	calls    atomic.Int32
}

func (c *fakeConnector) Provider() string { return c.provider }

func (c *fakeConnector) Test(ctx context.Context, cfg integrations.Config) error {
	c.calls.Add(1)
	return c.err
}

func TestHealthSweep(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	m := storetest.Tenant(t, s, "alice", 5)

	for _, in := range []domain.Integration{
		{TenantID: m.TenantID, Provider: integrations.ProviderGitHub, Config: map[string]string{"token": "t"}, Status: domain.IntegrationActive},
		{TenantID: m.TenantID, Provider: integrations.ProviderSlack, Config: map[string]string{"token": "x"}, Status: domain.IntegrationActive},
		{TenantID: m.TenantID, Provider: integrations.ProviderJira, Config: map[string]string{}, Status: domain.IntegrationInactive},
	} {
		in := in
		if err := s.Integrations().Upsert(ctx, &in); err != nil {
			t.Fatalf("Upsert %s: %v", in.Provider, err)
		}
	}

	github := &fakeConnector{provider: integrations.ProviderGitHub}
	slack := &fakeConnector{provider: integrations.ProviderSlack, err: errors.New("invalid_auth")}
	jira := &fakeConnector{provider: integrations.ProviderJira}
	reg := integrations.NewRegistry(github, slack, jira)

	promReg := prometheus.NewRegistry()
	sweep := NewHealthSweep(s.Integrations(), reg, time.Second, NewMetrics(promReg), observability.NewMetricsCollector(), discardLogger())

	res := sweep.Sweep(ctx)
	if res.Tested != 2 || res.Deactivated != 1 {
		t.Errorf("result = %+v, want 2 tested, 1 deactivated", res)
	}
	if jira.calls.Load() != 0 {
		t.Error("inactive integrations should not be tested")
	}

	got, err := s.Integrations().Get(ctx, m.TenantID, integrations.ProviderSlack)
	if err != nil {
		t.Fatalf("Get slack: %v", err)
	}
	if got.Status != domain.IntegrationInactive || got.LastError != "invalid_auth" {
		t.Errorf("slack = %s %q, want inactive with error", got.Status, got.LastError)
	}
	got, err = s.Integrations().Get(ctx, m.TenantID, integrations.ProviderGitHub)
	if err != nil {
		t.Fatalf("Get github: %v", err)
	}
	if got.Status != domain.IntegrationActive {
		t.Errorf("github status = %s, want active", got.Status)
	}

	// A second sweep only sees the healthy integration.
	if res := sweep.Sweep(ctx); res.Tested != 1 || res.Deactivated != 0 {
		t.Errorf("second sweep = %+v", res)
	}

	// The sweep never touches usage.
	u, err := s.Usage().Get(ctx, m.TenantID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.WriteCount != 0 {
		t.Errorf("write_count = %d, want 0", u.WriteCount)
	}
}

func TestHealthSweep_UnknownProviderSkipped(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	m := storetest.Tenant(t, s, "alice", 5)
	if err := s.Integrations().Upsert(ctx, &domain.Integration{TenantID: m.TenantID, Provider: "pagerduty", Status: domain.IntegrationActive}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sweep := NewHealthSweep(s.Integrations(), integrations.NewRegistry(), 0, nil, nil, discardLogger())
	if res := sweep.Sweep(ctx); res.Skipped != 1 || res.Tested != 0 {
		t.Errorf("result = %+v, want 1 skipped", res)
	}
}

func TestScheduler_AddValidatesSpec(t *testing.T) {
	s := New(nil, discardLogger())
	if err := s.Add("bad", "every now and then", func(context.Context) {}); err == nil {
		t.Error("expected error for invalid spec")
	}
	if err := s.Add("sweep", "@every 30m", func(context.Context) {}); err != nil {
		t.Errorf("Add: %v", err)
	}
	stop := s.Start()
	stop()
}

func TestScheduler_RunsJob(t *testing.T) {
	s := New(NewMetrics(prometheus.NewRegistry()), discardLogger())
	done := make(chan struct{}, 1)
	if err := s.Add("tick", "@every 1s", func(ctx context.Context) {
		select {
		case done <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	stop := s.Start()
	defer stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestValidateSpec(t *testing.T) {
	if err := ValidateSpec("@every 30m"); err != nil {
		t.Errorf("@every 30m: %v", err)
	}
	if err := ValidateSpec("*/5 * * * *"); err != nil {
		t.Errorf("*/5: %v", err)
	}
	if err := ValidateSpec("nope"); err == nil {
		t.Error("expected error")
	}
}
