package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jkaninda/grcpilot/internal/agent"
	"github.com/jkaninda/grcpilot/internal/approval"
	"github.com/jkaninda/grcpilot/internal/config"
	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/gateway"
	"github.com/jkaninda/grcpilot/internal/gateway/httpapi"
	"github.com/jkaninda/grcpilot/internal/identity"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/integrations/github"
	"github.com/jkaninda/grcpilot/internal/integrations/jira"
	slackconn "github.com/jkaninda/grcpilot/internal/integrations/slack"
	"github.com/jkaninda/grcpilot/internal/llm"
	"github.com/jkaninda/grcpilot/internal/llm/anthropic"
	"github.com/jkaninda/grcpilot/internal/metering"
	"github.com/jkaninda/grcpilot/internal/observability"
	"github.com/jkaninda/grcpilot/internal/ratelimit"
	"github.com/jkaninda/grcpilot/internal/scheduler"
	"github.com/jkaninda/grcpilot/internal/security"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools/reader"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, WebSocket transport and scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
}

// runServe starts the HTTP API and the integration health sweep.
func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, logger, store, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	if servePort != "" {
		cfg.HTTP.ListenAddr = servePort
	}
	logger.Info("starting grcpilot",
		slog.String("version", version),
		slog.String("storage", store.Driver()),
	)

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()
	if includeDBHealth(cfg) {
		obs.Health.AddPinger("database", store)
	}
	var registry *prometheus.Registry
	if m := obs.MetricsOrNil(); m != nil {
		registry = m.Registry
	}
	tracer := obs.TracerOrNil().Tracer()

	if cfg.Security.JWTSecret == "" && len(cfg.Security.APIKeys) == 0 {
		logger.Warn("no jwt_secret or api_keys configured; every request will be rejected")
	}
	auth := identity.NewAuthenticator(cfg.Security.JWTSecret,
		identity.WithAPIKeys(cfg.Security.APIKeys),
		identity.WithLeeway(cfg.Security.Leeway()),
	)

	rbac := security.NewRBAC(buildRBACConfig(cfg.Security), logger)
	reg := buildIntegrations(cfg)
	meter := metering.New(store, logger)
	tenancy := approval.NewTenancy(store, domain.Role(cfg.Security.CreatorRole()), cfg.Metering.FreeTierLimit(), logger)
	engine := approval.NewEngine(store, meter, tenancy, reg, rbac, logger,
		approval.WithMetrics(obs.MetricsOrNil()),
		approval.WithTracer(tracer),
		approval.WithExternalTimeout(cfg.Integrations.Timeout()),
	)

	orch := newOrchestrator(cfg, store, obs, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.HTTP.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.HTTP.RateLimit.BurstSize,
	})

	metricsPath := ""
	if cfg.Observability != nil {
		metricsPath = cfg.Observability.Metrics.MetricsPath()
	}
	gw := httpapi.NewGateway(httpapi.Config{
		ListenAddr:      cfg.HTTP.Addr(),
		EnableDocs:      cfg.HTTP.EnableDocs,
		EnableWebSocket: cfg.HTTP.WebSocket,
		MaxRequestSize:  cfg.HTTP.MaxBodyBytes(),
		Version:         version,
		FreeTierLimit:   cfg.Metering.FreeTierLimit(),
		MetricsRegistry: registry,
		MetricsPath:     metricsPath,
		HealthChecker:   obs.Health,
		Metrics:         obs.MetricsOrNil(),
		Tracer:          tracer,
	}, auth, orch, engine, tenancy, meter, limiter, logger)

	schedMetrics := scheduler.NewMetrics(registry)
	sched := scheduler.New(schedMetrics, logger)
	if cfg.Scheduler.SweepEnabled() {
		sweep := scheduler.NewHealthSweep(store.Integrations(), reg, cfg.Integrations.Timeout(),
			schedMetrics, obs.MetricsOrNil(), logger)
		if err := sched.Add("integration-health", cfg.Scheduler.SweepSpec(), sweep.Run); err != nil {
			return err
		}
	}
	if limiter.Enabled() {
		if err := sched.Add("ratelimit-prune", "@every 10m", func(context.Context) {
			if n := limiter.Prune(); n > 0 {
				logger.Debug("rate limit buckets pruned", slog.Int("count", n))
			}
		}); err != nil {
			return err
		}
	}
	stopScheduler := sched.Start()
	defer stopScheduler()

	runGateways(ctx, logger, gw)
	return nil
}

// runGateways starts every gateway and blocks until a signal arrives or one
// of them fails, then stops them in reverse order.
func runGateways(ctx context.Context, logger *slog.Logger, gateways ...gateway.Gateway) {
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
}

// newOrchestrator builds the conversation loop. Tenants with their own model
// credential use it; everyone else shares the configured key.
func newOrchestrator(cfg *config.Config, store storage.Store, obs *observability.Observability, logger *slog.Logger) *agent.Orchestrator {
	ac := cfg.Providers.Anthropic
	var opts []anthropic.Option
	if ac.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(ac.BaseURL))
	}
	build := func(apiKey string) llm.Provider {
		return anthropic.NewClient(apiKey, ac.ModelName(), logger, opts...)
	}

	var fallback llm.Provider
	if ac.APIKey != "" {
		fallback = build(ac.APIKey)
	} else {
		logger.Warn("no shared anthropic api key configured; only tenants with their own credential can converse")
	}

	exec := reader.NewExecutor(reader.FromStore(store), logger, reader.WithTimeout(cfg.Agent.ReadTimeout()))
	orch := agent.NewOrchestrator(
		agent.NewCredentialProviders(store.Tenants(), fallback, build, logger),
		store.PendingActions(), exec, logger,
	).
		WithObservability(obs).
		WithMaxIterations(cfg.Agent.MaxIterations()).
		WithMaxHistoryMessages(cfg.Agent.MaxHistoryMessages()).
		WithLLMTimeout(cfg.Agent.LLMTimeout())
	if ac.MaxTokens > 0 {
		orch = orch.WithMaxTokens(ac.MaxTokens)
	}
	return orch
}

// buildIntegrations registers the GitHub, Jira and Slack connectors on one
// bounded HTTP client.
func buildIntegrations(cfg *config.Config) *integrations.Registry {
	hc := integrations.NewHTTPClient(cfg.Integrations.Timeout())
	return integrations.NewRegistry(
		github.New(github.WithHTTPClient(hc)),
		jira.New(jira.WithHTTPClient(hc)),
		slackconn.New(slackconn.WithHTTPClient(hc)),
	)
}

func buildRBACConfig(sc config.SecurityConfig) security.RBACConfig {
	roles := make(map[string]security.Role, len(sc.Roles))
	for name, rc := range sc.Roles {
		roles[name] = security.Role{Name: name, Permissions: rc.Permissions}
	}
	return security.RBACConfig{Roles: roles}
}

func includeDBHealth(cfg *config.Config) bool {
	o := cfg.Observability
	return o == nil || o.Health == nil || o.Health.IncludeDB
}
