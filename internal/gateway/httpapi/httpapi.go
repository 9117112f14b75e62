// Package httpapi implements the HTTP API of grcpilot.
//
// Security:
//   - Bearer authentication on every /v1 request (JWT or static API key)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket on converse and approve
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/grcpilot/internal/agent"
	"github.com/jkaninda/grcpilot/internal/approval"
	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/identity"
	"github.com/jkaninda/grcpilot/internal/metering"
	"github.com/jkaninda/grcpilot/internal/observability"
	"github.com/jkaninda/grcpilot/internal/ratelimit"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr      string // e.g., ":8080"
	EnableDocs      bool
	EnableWebSocket bool
	MaxRequestSize  int64 // 0 = 1 MB default.
	Version         string

	// FreeTierLimit is reported as the limit for callers without a tenant.
	FreeTierLimit int

	MetricsRegistry *prometheus.Registry            // Registry served on /metrics.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Checks behind /readyz.
	Metrics         *observability.MetricsCollector // HTTP request metrics.
	Tracer          trace.Tracer
}

// Authenticator resolves bearer credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (identity.Identity, error)
}

// Conversation runs one conversation turn.
type Conversation interface {
	Converse(ctx context.Context, in *agent.Input, emit agent.Emitter) (*agent.Turn, error)
}

// Approver executes, declines and lists pending actions.
type Approver interface {
	Execute(ctx context.Context, req approval.Request) (*approval.Result, error)
	Reject(ctx context.Context, id identity.Identity, toolCallID string) (*domain.PendingAction, error)
	List(ctx context.Context, id identity.Identity, status domain.ActionStatus) ([]domain.PendingAction, error)
}

// Tenants looks up the caller's tenant without provisioning one.
type Tenants interface {
	Lookup(ctx context.Context, userID string) (*domain.Membership, error)
}

// UsageReader reports tenant usage.
type UsageReader interface {
	Usage(ctx context.Context, tenantID uuid.UUID) (metering.Usage, error)
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	auth     Authenticator
	conv     Conversation
	approver Approver
	tenants  Tenants
	usage    UsageReader
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
	group    *okapi.Group
}

// NewGateway creates an HTTP API gateway. limiter may be nil.
func NewGateway(cfg Config, auth Authenticator, conv Conversation, approver Approver, tenants Tenants, usage UsageReader, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	g := &Gateway{
		config:   cfg,
		auth:     auth,
		conv:     conv,
		approver: approver,
		tenants:  tenants,
		usage:    usage,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
	g.routes()
	return g
}

// WithOpenAPIDocs serves the generated OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "grcpilot",
			Version: g.config.Version,
		},
	)
	return g
}

func (g *Gateway) routes() {
	g.okapi.UseMiddleware(g.limitBody)

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1",
		observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		g.authenticate,
	)

	g.group.Post("/converse", g.rateLimited(g.handleConverse),
		okapi.DocSummary("Send a message to the assistant and stream the reply (SSE)"),
		okapi.DocTags("Conversation"),
		okapi.DocRequestBody(ConverseRequest{}),
		okapi.DocResponse(DoneEvent{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/actions/approve", g.rateLimited(g.handleApprove),
		okapi.DocSummary("Approve and execute a pending action"),
		okapi.DocTags("Actions"),
		okapi.DocRequestBody(ApproveRequest{}),
		okapi.DocResponse(ApproveResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusPaymentRequired, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusPreconditionFailed, ErrorBody{}),
	)
	g.group.Post("/actions/{id}/reject", g.handleReject,
		okapi.DocSummary("Decline a pending action"),
		okapi.DocTags("Actions"),
		okapi.DocPathParam("id", "string", "Tool call ID of the pending action"),
		okapi.DocResponse(ActionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Get("/actions", g.handleListActions,
		okapi.DocSummary("List the caller's actions (default: pending)"),
		okapi.DocTags("Actions"),
		okapi.DocResponse([]ActionResponse{}),
	)
	g.group.Get("/usage", g.handleUsage,
		okapi.DocSummary("Current write usage of the caller's tenant"),
		okapi.DocTags("Usage"),
		okapi.DocResponse(UsageResponse{}),
	)

	if g.config.EnableWebSocket {
		g.okapi.HandleStd("GET", "/v1/converse/ws", g.handleConverseWS)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streaming replies can run as long as the model loop; no WriteTimeout.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.InfoContext(ctx, "http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// HealthResponse is the JSON response for /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if !status.OK() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Middleware ---

// limitBody caps request bodies at MaxRequestSize.
func (g *Gateway) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer credential and stores the caller identity
// on the request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		id, err := g.auth.Authenticate(c.Context(), bearerToken(c.Header("Authorization")))
		if err != nil {
			g.logger.DebugContext(c.Context(), "authentication failed", slog.String("error", err.Error()))
			return writeError(c, g.logger, "", &approval.Error{Kind: approval.KindUnauthenticated, Message: "authentication required", Err: err})
		}
		c.Set("userID", id.UserID)
		c.Set("email", id.Email)
		c.Set("name", id.Name)
		c.Set("authMethod", id.Method)
		return next(c)
	}
}

// rateLimited applies the per-user token bucket to h.
func (g *Gateway) rateLimited(h okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		wait, err := g.limiter.Allow(c.GetString("userID"))
		if err != nil {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			return c.JSON(http.StatusTooManyRequests, ErrorBody{Error: ErrorDetail{Kind: "RateLimited", Message: "rate limit exceeded"}})
		}
		return h(c)
	}
}

// --- Helpers ---

func identityFrom(c *okapi.Context) identity.Identity {
	return identity.Identity{
		UserID: c.GetString("userID"),
		Email:  c.GetString("email"),
		Name:   c.GetString("name"),
		Method: c.GetString("authMethod"),
	}
}

// bearerToken strips the "Bearer " scheme. A header without the scheme is
// returned as-is so API keys can be sent bare.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
