package httpapi

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/grcpilot/internal/approval"
	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/metering"
)

// ApproveRequest is the JSON body for POST /v1/actions/approve. Input may be
// edited by the user before approval; it is schema-checked again.
type ApproveRequest struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input"`
}

// ApproveResponse is the outcome of an executed action.
type ApproveResponse struct {
	ActionID      string         `json:"action_id"`
	Success       bool           `json:"success"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	Usage         metering.Usage `json:"usage"`
	CorrelationID string         `json:"correlation_id"`
}

// ActionResponse describes a pending action.
type ActionResponse struct {
	ID             string          `json:"id"`
	ToolCallID     string          `json:"tool_call_id"`
	Name           string          `json:"name"`
	Input          json.RawMessage `json:"input"`
	Status         string          `json:"status"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// UsageResponse reports the caller's write allowance.
type UsageResponse struct {
	metering.Usage
	Remaining   int  `json:"remaining"`
	Provisioned bool `json:"provisioned"`
}

func (g *Gateway) handleApprove(c *okapi.Context) error {
	correlationID := newCorrelationID()

	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, g.logger, correlationID, invalidInput("invalid request body"))
	}
	if req.ToolCallID == "" || req.Name == "" {
		return writeError(c, g.logger, correlationID, invalidInput("tool_call_id and name are required"))
	}

	id := identityFrom(c)
	g.logger.InfoContext(c.Context(), "approve action",
		slog.String("user_id", id.UserID),
		slog.String("tool", req.Name),
		slog.String("tool_call_id", req.ToolCallID),
		slog.String("correlation_id", correlationID),
	)

	res, err := g.approver.Execute(c.Context(), approval.Request{
		Identity:      id,
		ToolCallID:    req.ToolCallID,
		Name:          req.Name,
		Input:         req.Input,
		CorrelationID: correlationID,
	})
	if err != nil {
		return writeError(c, g.logger, correlationID, err)
	}
	return c.OK(ApproveResponse{
		ActionID:      res.ActionID.String(),
		Success:       res.Success,
		Result:        res.Result,
		Error:         res.Error,
		Usage:         res.Usage,
		CorrelationID: correlationID,
	})
}

func (g *Gateway) handleReject(c *okapi.Context) error {
	toolCallID := c.Param("id")
	if toolCallID == "" {
		return writeError(c, g.logger, "", invalidInput("action id is required"))
	}
	pa, err := g.approver.Reject(c.Context(), identityFrom(c), toolCallID)
	if err != nil {
		return writeError(c, g.logger, "", err)
	}
	return c.OK(toActionResponse(pa))
}

func (g *Gateway) handleListActions(c *okapi.Context) error {
	status := domain.ActionStatus(c.Request().URL.Query().Get("status"))
	switch status {
	case "":
		status = domain.ActionPending
	case "all":
		status = ""
	case domain.ActionPending, domain.ActionExecuting, domain.ActionExecuted, domain.ActionRejected:
	default:
		return writeError(c, g.logger, "", invalidInput("unknown status "+string(status)))
	}

	actions, err := g.approver.List(c.Context(), identityFrom(c), status)
	if err != nil {
		return writeError(c, g.logger, "", err)
	}
	out := make([]ActionResponse, len(actions))
	for i := range actions {
		out[i] = toActionResponse(&actions[i])
	}
	return c.OK(out)
}

func (g *Gateway) handleUsage(c *okapi.Context) error {
	id := identityFrom(c)
	m, err := g.tenants.Lookup(c.Context(), id.UserID)
	if err != nil {
		return writeError(c, g.logger, "", err)
	}
	if m == nil {
		u := metering.Usage{Limit: g.config.FreeTierLimit}
		return c.OK(UsageResponse{Usage: u, Remaining: u.Remaining()})
	}
	u, err := g.usage.Usage(c.Context(), m.TenantID)
	if err != nil {
		return writeError(c, g.logger, "", err)
	}
	return c.OK(UsageResponse{Usage: u, Remaining: u.Remaining(), Provisioned: true})
}

func toActionResponse(pa *domain.PendingAction) ActionResponse {
	return ActionResponse{
		ID:             pa.ID.String(),
		ToolCallID:     pa.ToolCallID,
		Name:           pa.Name,
		Input:          pa.Input,
		Status:         string(pa.Status),
		ConversationID: pa.ConversationID,
		Result:         pa.Result,
		Error:          pa.Error,
		CreatedAt:      pa.CreatedAt,
		ResolvedAt:     pa.ResolvedAt,
	}
}
