package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/observability"
	"github.com/jkaninda/grcpilot/internal/storage"
)

const sweepConcurrency = 4

// HealthSweep re-tests every active integration and flips the ones that fail
// to inactive with the error recorded.
type HealthSweep struct {
	store    storage.IntegrationStore
	registry *integrations.Registry
	timeout  time.Duration
	metrics  *Metrics
	obs      *observability.MetricsCollector
	logger   *slog.Logger
}

// NewHealthSweep creates a sweep. timeout bounds each connectivity test.
func NewHealthSweep(store storage.IntegrationStore, registry *integrations.Registry, timeout time.Duration, metrics *Metrics, obs *observability.MetricsCollector, logger *slog.Logger) *HealthSweep {
	if timeout <= 0 {
		timeout = integrations.DefaultTimeout
	}
	return &HealthSweep{
		store:    store,
		registry: registry,
		timeout:  timeout,
		metrics:  metrics,
		obs:      obs,
		logger:   logger,
	}
}

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Tested      int
	Deactivated int
	Skipped     int
}

// Run performs one sweep. It is the Job registered with the scheduler.
func (h *HealthSweep) Run(ctx context.Context) {
	_ = h.Sweep(ctx)
}

// Sweep tests all active integrations with bounded concurrency.
func (h *HealthSweep) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	active, err := h.store.ListActive(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "listing active integrations", slog.String("error", err.Error()))
		return res
	}
	if len(active) == 0 {
		return res
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, sweepConcurrency)
	for i := range active {
		in := active[i]
		conn, err := h.registry.Connector(in.Provider)
		if err != nil {
			h.logger.WarnContext(ctx, "no connector for integration",
				slog.String("provider", in.Provider),
				slog.String("tenant_id", in.TenantID.String()),
			)
			res.Skipped++
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(in domain.Integration, conn integrations.Connector) {
			defer wg.Done()
			defer func() { <-sem }()
			failed := h.test(ctx, in, conn)

			mu.Lock()
			res.Tested++
			if failed {
				res.Deactivated++
			}
			mu.Unlock()
		}(in, conn)
	}
	wg.Wait()

	h.logger.InfoContext(ctx, "integration health sweep finished",
		slog.Int("tested", res.Tested),
		slog.Int("deactivated", res.Deactivated),
		slog.Int("skipped", res.Skipped),
	)
	return res
}

// test runs one connectivity test and reports whether the integration was
// deactivated.
func (h *HealthSweep) test(ctx context.Context, in domain.Integration, conn integrations.Connector) bool {
	testCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := conn.Test(testCtx, integrations.Config(in.Config))
	if err == nil {
		h.obs.RecordIntegrationTest(in.Provider, "ok")
		return false
	}
	if ctx.Err() != nil {
		// Shutting down; the failure says nothing about the integration.
		return false
	}
	h.obs.RecordIntegrationTest(in.Provider, "fail")

	if serr := h.store.SetStatus(ctx, in.ID, domain.IntegrationInactive, err.Error()); serr != nil {
		h.logger.ErrorContext(ctx, "marking integration inactive",
			slog.String("provider", in.Provider),
			slog.String("tenant_id", in.TenantID.String()),
			slog.String("error", serr.Error()),
		)
		return false
	}
	h.metrics.deactivated(in.Provider)
	h.logger.WarnContext(ctx, "integration deactivated",
		slog.String("provider", in.Provider),
		slog.String("tenant_id", in.TenantID.String()),
		slog.String("error", err.Error()),
	)
	return true
}
