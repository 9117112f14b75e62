package httpapi

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/grcpilot/internal/agent"
	"github.com/jkaninda/grcpilot/internal/identity"
)

// Event types streamed to the client.
const (
	EventText  = "text"
	EventDone  = "done"
	EventError = "error"
)

// ConverseRequest is the JSON body of one conversation turn.
type ConverseRequest struct {
	Message        string                 `json:"message"`
	ConversationID string                 `json:"conversation_id,omitempty"` // Empty = new conversation.
	History        []agent.HistoryMessage `json:"history,omitempty"`
	Context        map[string]any         `json:"context,omitempty"`
}

// Event is a text chunk or a failure notice.
type Event struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// DoneEvent ends a turn and carries the actions queued during it.
type DoneEvent struct {
	Type           string                `json:"type"`
	PendingActions []agent.PendingAction `json:"pending_actions"`
	ConversationID string                `json:"conversation_id"`
	CorrelationID  string                `json:"correlation_id"`
}

const turnFailedMessage = "The assistant is unavailable right now. Please try again."

func (r *ConverseRequest) validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return invalidInput("message is required")
	}
	return nil
}

// handleConverse handles POST /v1/converse and streams the reply as
// server-sent events named "message".
func (g *Gateway) handleConverse(c *okapi.Context) error {
	var req ConverseRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, g.logger, "", invalidInput("invalid request body"))
	}
	if err := req.validate(); err != nil {
		return writeError(c, g.logger, "", err)
	}

	ctx := c.Context()
	send := func(v any) error {
		if err := c.SSEvent("message", v); err != nil {
			return err
		}
		return ctx.Err()
	}
	_ = g.runTurn(ctx, identityFrom(c), &req, send)
	return nil
}

// runTurn runs one conversation turn and streams its events through send.
// It is shared by the SSE and WebSocket transports.
func (g *Gateway) runTurn(ctx context.Context, id identity.Identity, req *ConverseRequest, send func(v any) error) error {
	correlationID := newCorrelationID()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	g.logger.InfoContext(ctx, "converse",
		slog.String("user_id", id.UserID),
		slog.String("correlation_id", correlationID),
		slog.String("conversation_id", conversationID),
	)

	in := &agent.Input{
		UserID:         id.UserID,
		ConversationID: conversationID,
		Message:        req.Message,
		History:        req.History,
		PageContext:    req.Context,
		CorrelationID:  correlationID,
	}
	m, err := g.tenants.Lookup(ctx, id.UserID)
	if err != nil {
		g.logger.ErrorContext(ctx, "tenant lookup failed",
			slog.String("user_id", id.UserID),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		_ = send(Event{Type: EventError, Message: turnFailedMessage, CorrelationID: correlationID})
		return err
	}
	if m != nil {
		tid := m.TenantID
		in.TenantID = &tid
	}

	emit := agent.EmitterFunc(func(_ context.Context, chunk string) error {
		return send(Event{Type: EventText, Text: chunk})
	})
	turn, err := g.conv.Converse(ctx, in, emit)
	if err != nil {
		if ctx.Err() != nil {
			g.logger.InfoContext(ctx, "converse cancelled by client",
				slog.String("correlation_id", correlationID),
			)
			return ctx.Err()
		}
		g.logger.ErrorContext(ctx, "converse failed",
			slog.String("user_id", id.UserID),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		_ = send(Event{Type: EventError, Message: turnFailedMessage, CorrelationID: correlationID})
		return err
	}

	pending := turn.PendingActions
	if pending == nil {
		pending = []agent.PendingAction{}
	}
	return send(DoneEvent{
		Type:           EventDone,
		PendingActions: pending,
		ConversationID: conversationID,
		CorrelationID:  correlationID,
	})
}
