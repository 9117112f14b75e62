// Package agent runs the bounded conversation loop between a user and the model.
// Read tools execute immediately; write tools are queued as pending actions
// and never executed here.
package agent

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrInference is returned when the model call fails. Callers should surface a
// generic message; the cause is logged.
var ErrInference = errors.New("agent: inference failed")

// DefaultMaxIterations bounds the number of model calls per turn.
const DefaultMaxIterations = 4

// DefaultMaxHistoryMessages caps the client-supplied history sent to the model.
const DefaultMaxHistoryMessages = 20

// DefaultMaxMessageBytes is the per-message content size limit (32 KB).
const DefaultMaxMessageBytes = 32768

// iterationLimitNotice is emitted when the loop runs out of iterations.
const iterationLimitNotice = "I've reached the maximum number of steps for this request. Please refine it or approve the pending actions to continue."

// Input is one user turn entering the agent.
type Input struct {
	UserID         string
	TenantID       *uuid.UUID // nil until the user's tenant is provisioned
	ConversationID string
	Message        string
	History        []HistoryMessage
	PageContext    map[string]any
	CorrelationID  string
}

// HistoryMessage is a prior turn as supplied by the client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is the result of one Converse call.
type Turn struct {
	Text           string
	PendingActions []PendingAction
	Iterations     int
}

// PendingAction summarizes a write queued during the turn. ID is the model's
// tool call id, which the client echoes back to approve it.
type PendingAction struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Emitter receives assistant text as it is produced. Returning an error
// aborts the turn.
type Emitter interface {
	Text(ctx context.Context, chunk string) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, chunk string) error

func (f EmitterFunc) Text(ctx context.Context, chunk string) error { return f(ctx, chunk) }

type discardEmitter struct{}

func (discardEmitter) Text(context.Context, string) error { return nil }
