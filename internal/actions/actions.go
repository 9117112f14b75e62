// Package actions holds one side-effect handler per write tool. Each handler
// is a single domain transition run inside the approval transaction: it sees
// only transaction-scoped stores, so a failure rolls back every write it made
// together with the usage reservation.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/integrations"
	"github.com/jkaninda/grcpilot/internal/security"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// Handler errors. The approval engine maps them onto error kinds.
var (
	ErrNotFound            = errors.New("not found")
	ErrPrerequisiteMissing = errors.New("prerequisite missing")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrUnsupported         = errors.New("unsupported action")
)

// Env is what a handler may touch.
type Env struct {
	Store        storage.Store // bound to the approval transaction
	Integrations *integrations.Registry
	RBAC         *security.RBAC
	TenantID     uuid.UUID
	UserID       string
	Role         domain.Role
	Logger       *slog.Logger
	// ExternalTimeout bounds each call to an external system.
	ExternalTimeout time.Duration
	Now             func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Env) external(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.ExternalTimeout
	if d <= 0 {
		d = integrations.DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// Outcome is a handler result. Success=false with a nil error is a failure
// that is still persisted (e.g. an integration saved as inactive); it is not
// metered.
type Outcome struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(result any) Outcome { return Outcome{Success: true, Result: result} }

// Handler performs one write tool.
type Handler func(ctx context.Context, env Env, in tools.Input) (Outcome, error)

var handlers = map[string]Handler{
	tools.CreateRisk:              typed(createRisk),
	tools.CreateControl:           typed(createControl),
	tools.CreateFramework:         typed(createFramework),
	tools.CreateRequirement:       typed(createRequirement),
	tools.UpdateRequirementStatus: typed(updateRequirementStatus),
	tools.LinkRiskToControl:       typed(linkRiskToControl),
	tools.CreateEvidence:          typed(createEvidence),
	tools.ConnectIntegration:      typed(connectIntegration),
	tools.ImportGitHubAlerts:      typed(importGitHubAlerts),
	tools.CreateJiraIssue:         typed(createJiraIssue),
	tools.SendSlackNotification:   typed(sendSlackNotification),
}

func typed[T tools.Input](fn func(context.Context, Env, T) (Outcome, error)) Handler {
	return func(ctx context.Context, env Env, in tools.Input) (Outcome, error) {
		v, ok := in.(T)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: %T for %s", ErrInvalidInput, in, in.ToolName())
		}
		return fn(ctx, env, v)
	}
}

// Lookup returns the handler for a write tool.
func Lookup(name string) (Handler, bool) {
	h, ok := handlers[name]
	return h, ok
}

// Dispatch runs the handler matching in.ToolName().
func Dispatch(ctx context.Context, env Env, in tools.Input) (Outcome, error) {
	h, ok := Lookup(in.ToolName())
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnsupported, in.ToolName())
	}
	return h(ctx, env, in)
}

// storeErr maps storage sentinels onto handler sentinels.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func wrapInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
