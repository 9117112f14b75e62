// Package approval executes write actions the agent queued, once a human
// approves them. Execution is claimed atomically so an action runs at most
// once, and the usage reservation, the handler's writes and the final status
// commit or roll back together.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/grcpilot/internal/actions"
	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/identity"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/metering"
	"github.com/jkaninda/grcpilot/internal/observability"
	"github.com/jkaninda/grcpilot/internal/security"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// Audit outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeDeclined = "declined"
)

// Request approves one queued tool call. Input is the caller's (possibly
// edited) arguments; it is schema-validated and otherwise trusted.
type Request struct {
	Identity      identity.Identity
	ToolCallID    string
	Name          string
	Input         json.RawMessage
	CorrelationID string
}

// Result is the outcome of an executed action. Success=false means the
// handler ran and recorded a failure (for example an integration that failed
// its connectivity test); such outcomes are not metered.
type Result struct {
	ActionID uuid.UUID      `json:"action_id"`
	Success  bool           `json:"success"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Usage    metering.Usage `json:"usage"`
}

// Engine runs approved actions.
type Engine struct {
	store           storage.Store
	meter           *metering.Meter
	tenancy         *Tenancy
	integrations    *integrations.Registry
	rbac            *security.RBAC
	logger          *slog.Logger
	metrics         *observability.MetricsCollector
	tracer          trace.Tracer
	externalTimeout time.Duration
	now             func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records approval outcomes.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer for approval.execute spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithExternalTimeout bounds each call handlers make to external systems.
func WithExternalTimeout(d time.Duration) Option {
	return func(e *Engine) { e.externalTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(store storage.Store, meter *metering.Meter, tenancy *Tenancy, reg *integrations.Registry, rbac *security.RBAC, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		meter:        meter,
		tenancy:      tenancy,
		integrations: reg,
		rbac:         rbac,
		logger:       logger,
		tracer:       noop.NewTracerProvider().Tracer(""),
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute approves and runs one pending action. Failures are *Error values.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "approval.execute",
		trace.WithAttributes(
			attribute.String("tool", req.Name),
			attribute.String("correlation_id", req.CorrelationID),
		))
	defer span.End()
	start := time.Now()

	res, err := e.execute(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		ae := classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ae.Kind))
		if ae.Kind == KindInternal {
			e.logger.ErrorContext(ctx, "approval failed",
				slog.String("user_id", req.Identity.UserID),
				slog.String("tool", req.Name),
				slog.String("correlation_id", req.CorrelationID),
				slog.String("error", err.Error()),
			)
		}
		e.metrics.RecordApproval(req.Name, string(ae.Kind), elapsed)
		return nil, ae
	}

	outcome := OutcomeExecuted
	if !res.Success {
		outcome = OutcomeFailed
	}
	e.metrics.RecordApproval(req.Name, outcome, elapsed)
	return res, nil
}

func (e *Engine) execute(ctx context.Context, req Request) (*Result, error) {
	userID := req.Identity.UserID
	if userID == "" {
		return nil, newError(KindUnauthenticated, "authentication required", identity.ErrUnauthenticated)
	}

	m, _, err := e.tenancy.Ensure(ctx, req.Identity)
	if err != nil {
		return nil, err
	}

	class, known := tools.Classify(req.Name)
	if !known {
		return nil, newError(KindUnsupportedAction, fmt.Sprintf("unknown tool %q", req.Name), tools.ErrUnknownTool)
	}
	if class != tools.ClassWrite {
		return nil, newError(KindUnsupportedAction, fmt.Sprintf("%s is a read tool and is never approved", req.Name), actions.ErrUnsupported)
	}
	in, err := tools.Decode(req.Name, req.Input)
	if err != nil {
		return nil, err
	}

	if err := e.rbac.Check(ctx, userID, m.Role, security.PermApproveActions); err != nil {
		return nil, err
	}

	// An exhausted tenant is refused before the claim.
	if usage, err := e.meter.Check(ctx, m.TenantID); err != nil {
		if errors.Is(err, metering.ErrQuotaExceeded) {
			return nil, e.quotaRefused(ctx, req, m, usage, err)
		}
		return nil, err
	}

	action, err := e.claim(ctx, userID, req, m.TenantID)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, req, action, m, in)
}

// claim moves the action pending→executing. Only one concurrent approver wins.
func (e *Engine) claim(ctx context.Context, userID string, req Request, tenantID uuid.UUID) (*domain.PendingAction, error) {
	pending := e.store.PendingActions()

	action, err := pending.Get(ctx, userID, req.ToolCallID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindNotFound, fmt.Sprintf("no pending action %q", req.ToolCallID), err)
	}
	if err != nil {
		return nil, err
	}
	if action.Name != req.Name {
		return nil, newError(KindConflict, fmt.Sprintf("action %s was queued as %s, not %s", req.ToolCallID, action.Name, req.Name), storage.ErrConflict)
	}
	if action.TenantID != nil && *action.TenantID != tenantID {
		return nil, newError(KindConflict, fmt.Sprintf("action %s belongs to another tenant", req.ToolCallID), storage.ErrConflict)
	}
	if action.TenantID == nil {
		if err := pending.BindTenant(ctx, action.ID, tenantID); err != nil {
			return nil, err
		}
		action.TenantID = &tenantID
	}

	ok, err := pending.Transition(ctx, userID, req.ToolCallID, domain.ActionPending, domain.ActionExecuting)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindConflict, fmt.Sprintf("action %s is no longer pending", req.ToolCallID), storage.ErrConflict)
	}
	action.Status = domain.ActionExecuting
	return action, nil
}

func (e *Engine) run(ctx context.Context, req Request, action *domain.PendingAction, m *domain.Membership, in tools.Input) (*Result, error) {
	var (
		outcome actions.Outcome
		usage   metering.Usage
	)
	txErr := e.store.WithTx(ctx, func(tx storage.Store) error {
		u, err := e.meter.Reserve(ctx, tx, m.TenantID)
		usage = u
		if err != nil {
			return err
		}

		env := actions.Env{
			Store:           tx,
			Integrations:    e.integrations,
			RBAC:            e.rbac,
			TenantID:        m.TenantID,
			UserID:          m.UserID,
			Role:            m.Role,
			Logger:          e.logger.With(slog.String("correlation_id", req.CorrelationID)),
			ExternalTimeout: e.externalTimeout,
			Now:             e.now,
		}
		out, err := actions.Dispatch(ctx, env, in)
		if err != nil {
			return err
		}
		if !out.Success {
			if err := e.meter.Release(ctx, tx, m.TenantID, u); err != nil {
				return err
			}
			if !u.Bypassed {
				usage.Count--
			}
		}

		result, err := json.Marshal(out.Result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		if err := tx.PendingActions().Finish(ctx, action.ID, domain.ActionExecuted, result, out.Error); err != nil {
			return err
		}
		outcome = out
		return nil
	})

	// Bookkeeping after a rollback must survive a cancelled request.
	cleanup := context.WithoutCancel(ctx)

	if errors.Is(txErr, metering.ErrQuotaExceeded) {
		if _, err := e.store.PendingActions().Transition(cleanup, m.UserID, action.ToolCallID, domain.ActionExecuting, domain.ActionPending); err != nil {
			e.logger.ErrorContext(ctx, "reverting claim after quota refusal",
				slog.String("action_id", action.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return nil, e.quotaRefused(ctx, req, m, usage, txErr)
	}

	if txErr != nil {
		ae := classify(txErr)
		if err := e.store.PendingActions().Finish(cleanup, action.ID, domain.ActionRejected, nil, ae.Message); err != nil {
			e.logger.ErrorContext(ctx, "marking action rejected",
				slog.String("action_id", action.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		e.audit(cleanup, req, action, m, OutcomeRejected, ae.Message)
		e.logger.WarnContext(ctx, "approved action failed",
			slog.String("tenant_id", m.TenantID.String()),
			slog.String("user_id", m.UserID),
			slog.String("tool", req.Name),
			slog.String("action_id", action.ID.String()),
			slog.String("kind", string(ae.Kind)),
			slog.String("error", txErr.Error()),
		)
		return nil, ae
	}

	auditOutcome := OutcomeExecuted
	if !outcome.Success {
		auditOutcome = OutcomeFailed
	}
	e.audit(cleanup, req, action, m, auditOutcome, outcome.Error)
	e.logger.InfoContext(ctx, "approved action executed",
		slog.String("tenant_id", m.TenantID.String()),
		slog.String("user_id", m.UserID),
		slog.String("tool", req.Name),
		slog.String("action_id", action.ID.String()),
		slog.Bool("success", outcome.Success),
		slog.String("correlation_id", req.CorrelationID),
	)

	return &Result{
		ActionID: action.ID,
		Success:  outcome.Success,
		Result:   outcome.Result,
		Error:    outcome.Error,
		Usage:    usage,
	}, nil
}

// quotaRefused counts and logs a refusal. Nothing is written for it.
func (e *Engine) quotaRefused(ctx context.Context, req Request, m *domain.Membership, usage metering.Usage, err error) *Error {
	e.metrics.RecordQuotaRefusal()
	e.logger.InfoContext(ctx, "approval refused for quota",
		slog.String("tenant_id", m.TenantID.String()),
		slog.String("user_id", m.UserID),
		slog.String("tool", req.Name),
		slog.Int("count", usage.Count),
		slog.Int("limit", usage.Limit),
		slog.String("correlation_id", req.CorrelationID),
	)
	return &Error{
		Kind:    KindQuotaExceeded,
		Message: fmt.Sprintf("write quota exceeded (%d of %d used)", usage.Count, usage.Limit),
		Count:   usage.Count,
		Limit:   usage.Limit,
		Err:     err,
	}
}

// Reject declines a pending action. It never runs afterwards.
func (e *Engine) Reject(ctx context.Context, id identity.Identity, toolCallID string) (*domain.PendingAction, error) {
	if id.UserID == "" {
		return nil, newError(KindUnauthenticated, "authentication required", identity.ErrUnauthenticated)
	}
	pending := e.store.PendingActions()

	ok, err := pending.Transition(ctx, id.UserID, toolCallID, domain.ActionPending, domain.ActionRejected)
	if err != nil {
		return nil, classify(err)
	}
	action, err := pending.Get(ctx, id.UserID, toolCallID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindNotFound, fmt.Sprintf("no pending action %q", toolCallID), err)
	}
	if err != nil {
		return nil, classify(err)
	}
	if !ok {
		return nil, newError(KindConflict, fmt.Sprintf("action %s is %s", toolCallID, action.Status), storage.ErrConflict)
	}

	if action.TenantID != nil {
		e.audit(ctx, Request{Identity: id, ToolCallID: toolCallID, Name: action.Name}, action,
			&domain.Membership{TenantID: *action.TenantID, UserID: id.UserID}, OutcomeDeclined, "")
	}
	e.logger.InfoContext(ctx, "pending action declined",
		slog.String("user_id", id.UserID),
		slog.String("tool", action.Name),
		slog.String("action_id", action.ID.String()),
	)
	return action, nil
}

// List returns the caller's actions, optionally filtered by status.
func (e *Engine) List(ctx context.Context, id identity.Identity, status domain.ActionStatus) ([]domain.PendingAction, error) {
	if id.UserID == "" {
		return nil, newError(KindUnauthenticated, "authentication required", identity.ErrUnauthenticated)
	}
	list, err := e.store.PendingActions().ListByUser(ctx, id.UserID, status)
	if err != nil {
		return nil, classify(err)
	}
	return list, nil
}

func (e *Engine) audit(ctx context.Context, req Request, action *domain.PendingAction, m *domain.Membership, outcome, errMsg string) {
	err := e.store.Audit().Record(ctx, &domain.AuditEvent{
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		ActionID:      action.ID,
		Tool:          req.Name,
		Outcome:       outcome,
		Error:         errMsg,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "recording audit event",
			slog.String("action_id", action.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
