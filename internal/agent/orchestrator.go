package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/llm"
	"github.com/jkaninda/grcpilot/internal/observability"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// DefaultMaxTokens is the completion budget of a single model call.
const DefaultMaxTokens = 4096

// ReadExecutor runs read tools against the caller's tenant.
type ReadExecutor interface {
	Execute(ctx context.Context, tenantID *uuid.UUID, in tools.Input) (any, error)
}

// Orchestrator drives the tool-calling loop for one conversation turn.
// It never executes write tools: those are persisted as pending actions and
// acknowledged to the model with a synthetic result.
type Orchestrator struct {
	providers ProviderFactory
	pending   storage.PendingActionStore
	reader    ReadExecutor
	logger    *slog.Logger
	obs       *observability.Observability // nil = observability disabled

	basePrompt         string
	maxIterations      int           // 0 = DefaultMaxIterations
	maxHistoryMessages int           // 0 = DefaultMaxHistoryMessages
	maxMessageBytes    int           // 0 = DefaultMaxMessageBytes
	maxTokens          int           // 0 = DefaultMaxTokens
	llmTimeout         time.Duration // 0 = no per-call timeout
}

// NewOrchestrator creates an orchestrator. pending receives queued writes and
// reader serves read tools.
func NewOrchestrator(providers ProviderFactory, pending storage.PendingActionStore, reader ReadExecutor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		providers:  providers,
		pending:    pending,
		reader:     reader,
		logger:     logger,
		basePrompt: DefaultSystemPrompt,
	}
}

// WithObservability attaches metrics and tracing.
func (o *Orchestrator) WithObservability(obs *observability.Observability) *Orchestrator {
	o.obs = obs
	return o
}

// WithSystemPrompt replaces the base system prompt.
func (o *Orchestrator) WithSystemPrompt(prompt string) *Orchestrator {
	if prompt != "" {
		o.basePrompt = prompt
	}
	return o
}

// WithMaxIterations sets the maximum number of model calls per turn.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// WithMaxHistoryMessages caps how much client history is forwarded.
func (o *Orchestrator) WithMaxHistoryMessages(n int) *Orchestrator {
	o.maxHistoryMessages = n
	return o
}

// WithMaxMessageBytes sets the per-message size limit.
func (o *Orchestrator) WithMaxMessageBytes(n int) *Orchestrator {
	o.maxMessageBytes = n
	return o
}

// WithMaxTokens sets the completion budget of each model call.
func (o *Orchestrator) WithMaxTokens(n int) *Orchestrator {
	o.maxTokens = n
	return o
}

// WithLLMTimeout bounds each model call.
func (o *Orchestrator) WithLLMTimeout(d time.Duration) *Orchestrator {
	o.llmTimeout = d
	return o
}

// Converse runs one user turn. Assistant text is forwarded to emit as it
// arrives. The loop makes at most maxIterations model calls; when the budget
// is exhausted a fixed notice is emitted and the turn ends normally.
//
// Model failures return ErrInference. Emit failures and cancellation of ctx
// abort the turn with that error.
func (o *Orchestrator) Converse(ctx context.Context, in *Input, emit Emitter) (*Turn, error) {
	if emit == nil {
		emit = discardEmitter{}
	}
	ctx, span := o.obs.TracerOrNil().Tracer().Start(ctx, "agent.converse",
		trace.WithAttributes(
			attribute.String("user_id", in.UserID),
			attribute.String("correlation_id", in.CorrelationID),
			attribute.Bool("provisioned", in.TenantID != nil),
		))
	defer span.End()

	provider, err := o.providers.Provider(ctx, in.TenantID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.logger.ErrorContext(ctx, "resolving model provider",
			slog.String("user_id", in.UserID),
			slog.String("correlation_id", in.CorrelationID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if metrics, tracer := o.obs.MetricsOrNil(), o.obs.TracerOrNil(); metrics != nil || tracer != nil {
		provider = observability.NewInstrumentedProvider(provider, metrics, tracer)
	}

	toolDefs := tools.Definitions()
	prompt := o.systemPrompt(in)
	message := o.truncateContent(in.Message)

	fixedTokens := estimateTokens(prompt) + estimateTokens(message)
	for _, td := range toolDefs {
		fixedTokens += estimateToolDefTokens(td)
	}
	history := trimHistoryToTokenBudget(o.buildHistory(in.History), fixedTokens, maxInputTokens)
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleUser {
		// A trailing user turn would break alternation with the new message.
		history[n-1].Content += "\n\n" + message
	} else {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: message})
	}

	maxIter := o.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	maxTokens := o.maxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	turn := &Turn{}
	cache := newReadCache()
	var text strings.Builder
	var emitErr error
	var iterStarted bool
	onText := func(delta string) error {
		if delta == "" {
			return nil
		}
		if !iterStarted && text.Len() > 0 {
			delta = "\n\n" + delta
		}
		iterStarted = true
		text.WriteString(delta)
		if err := emit.Text(ctx, delta); err != nil {
			emitErr = err
			return err
		}
		return nil
	}

	defer func() {
		o.obs.MetricsOrNil().RecordIterations(turn.Iterations)
		span.SetAttributes(
			attribute.Int("iterations", turn.Iterations),
			attribute.Int("pending_actions", len(turn.PendingActions)),
		)
	}()

	for turn.Iterations < maxIter {
		turn.Iterations++
		iterStarted = false

		resp, err := o.infer(ctx, provider, &llm.Request{
			SystemPrompt: prompt,
			Messages:     history,
			MaxTokens:    maxTokens,
			Tools:        toolDefs,
		}, onText)
		turn.Text = text.String()
		if err != nil {
			return turn, o.abort(ctx, span, in, err, emitErr)
		}

		calls := resp.ToolUseBlocks()
		if len(calls) == 0 {
			o.logTurn(ctx, in, turn)
			return turn, nil
		}

		history = append(history, resp.AssistantMessage())
		results := o.executeToolCalls(ctx, in, calls, turn, cache)
		history = append(history, llm.Message{Role: llm.RoleUser, ContentBlocks: results})
	}

	o.logger.WarnContext(ctx, "max iterations reached",
		slog.String("user_id", in.UserID),
		slog.String("correlation_id", in.CorrelationID),
		slog.Int("iterations", turn.Iterations),
	)
	iterStarted = false
	if err := onText(iterationLimitNotice); err != nil {
		turn.Text = text.String()
		return turn, fmt.Errorf("emitting text: %w", err)
	}
	turn.Text = text.String()
	o.logTurn(ctx, in, turn)
	return turn, nil
}

// infer performs one model call, bounded by llmTimeout when set.
func (o *Orchestrator) infer(ctx context.Context, provider llm.StreamingProvider, req *llm.Request, onText llm.TextHandler) (*llm.Response, error) {
	if o.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.llmTimeout)
		defer cancel()
	}
	resp, err := provider.StreamMessage(ctx, req, onText)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, llm.ErrEmptyResponse
	}
	return resp, nil
}

// abort maps a failed model call onto the error returned to the caller.
func (o *Orchestrator) abort(ctx context.Context, span trace.Span, in *Input, err, emitErr error) error {
	span.SetStatus(codes.Error, err.Error())
	switch {
	case emitErr != nil:
		return fmt.Errorf("emitting text: %w", emitErr)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	o.logger.ErrorContext(ctx, "inference failed",
		slog.String("user_id", in.UserID),
		slog.String("correlation_id", in.CorrelationID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %v", ErrInference, err)
}

// executeToolCalls handles every tool_use block of a model turn and returns
// the matching tool_result blocks in order.
func (o *Orchestrator) executeToolCalls(ctx context.Context, in *Input, calls []llm.ContentBlock, turn *Turn, cache *readCache) []llm.ContentBlock {
	results := make([]llm.ContentBlock, 0, len(calls))
	for _, call := range calls {
		class, known := tools.Classify(call.Name)

		toolCtx, span := o.obs.TracerOrNil().Tracer().Start(ctx, "agent.tool",
			trace.WithAttributes(
				attribute.String("tool", call.Name),
				attribute.String("class", string(class)),
			))

		var out toolOutput
		switch {
		case !known:
			out = toolOutput{content: fmt.Sprintf("Error: unknown tool %q", call.Name), isError: true}
			o.obs.MetricsOrNil().RecordToolCall(call.Name, "unknown", "error")
		case class == tools.ClassWrite:
			out = o.queueWrite(toolCtx, in, call, turn)
		default:
			out = o.runRead(toolCtx, in, call, cache)
		}

		if out.isError {
			span.SetStatus(codes.Error, out.content)
		}
		span.End()
		results = append(results, llm.ToolResultBlock(call.ID, out.content, out.isError))
	}
	return results
}

// queueWrite validates a write call and persists it as a pending action.
func (o *Orchestrator) queueWrite(ctx context.Context, in *Input, call llm.ContentBlock, turn *Turn) toolOutput {
	metrics := o.obs.MetricsOrNil()
	if _, err := tools.DecodeMap(call.Name, call.Input); err != nil {
		metrics.RecordToolCall(call.Name, string(tools.ClassWrite), "invalid")
		return toolOutput{content: fmt.Sprintf("Error: %s", err.Error()), isError: true}
	}

	args := call.Input
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		metrics.RecordToolCall(call.Name, string(tools.ClassWrite), "invalid")
		return toolOutput{content: fmt.Sprintf("Error: encoding input: %s", err.Error()), isError: true}
	}

	pa := &domain.PendingAction{
		ToolCallID:     call.ID,
		UserID:         in.UserID,
		TenantID:       in.TenantID,
		ConversationID: in.ConversationID,
		Name:           call.Name,
		Input:          raw,
		Status:         domain.ActionPending,
	}
	if err := o.pending.Create(ctx, pa); err != nil {
		metrics.RecordToolCall(call.Name, string(tools.ClassWrite), "error")
		o.logger.ErrorContext(ctx, "queueing pending action",
			slog.String("tool", call.Name),
			slog.String("user_id", in.UserID),
			slog.String("correlation_id", in.CorrelationID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, storage.ErrConflict) {
			return toolOutput{content: fmt.Sprintf("Error: action id %s is already queued", call.ID), isError: true}
		}
		return toolOutput{content: "Error: the action could not be queued", isError: true}
	}

	turn.PendingActions = append(turn.PendingActions, PendingAction{ID: call.ID, Name: call.Name, Input: args})
	metrics.RecordQueued(call.Name)
	metrics.RecordToolCall(call.Name, string(tools.ClassWrite), "queued")
	o.logger.InfoContext(ctx, "action queued for approval",
		slog.String("tool", call.Name),
		slog.String("action_id", pa.ID.String()),
		slog.String("tool_call_id", call.ID),
		slog.String("user_id", in.UserID),
		slog.String("correlation_id", in.CorrelationID),
	)
	return toolOutput{content: fmt.Sprintf("queued for approval (action id %s)", call.ID)}
}

// runRead executes a read tool. Errors and panics become error results so the
// turn can continue.
func (o *Orchestrator) runRead(ctx context.Context, in *Input, call llm.ContentBlock, cache *readCache) (out toolOutput) {
	metrics := o.obs.MetricsOrNil()
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "read tool panicked",
				slog.String("tool", call.Name),
				slog.String("correlation_id", in.CorrelationID),
				slog.Any("panic", r),
			)
			metrics.RecordToolCall(call.Name, string(tools.ClassRead), "error")
			out = toolOutput{content: "Error: the tool failed unexpectedly", isError: true}
		}
	}()

	if cached, ok := cache.get(call.Name, call.Input); ok {
		metrics.RecordToolCall(call.Name, string(tools.ClassRead), "cached")
		return cached
	}

	input, err := tools.DecodeMap(call.Name, call.Input)
	if err != nil {
		metrics.RecordToolCall(call.Name, string(tools.ClassRead), "invalid")
		return toolOutput{content: fmt.Sprintf("Error: %s", err.Error()), isError: true}
	}

	res, err := o.reader.Execute(ctx, in.TenantID, input)
	if err != nil {
		metrics.RecordToolCall(call.Name, string(tools.ClassRead), "error")
		return toolOutput{content: fmt.Sprintf("Error: %s", err.Error()), isError: true}
	}
	raw, err := json.Marshal(res)
	if err != nil {
		metrics.RecordToolCall(call.Name, string(tools.ClassRead), "error")
		return toolOutput{content: fmt.Sprintf("Error: encoding result: %s", err.Error()), isError: true}
	}

	metrics.RecordToolCall(call.Name, string(tools.ClassRead), "ok")
	out = toolOutput{content: tools.TruncateOutput(string(raw), tools.MaxOutputBytes)}
	cache.set(call.Name, call.Input, out)
	return out
}

func (o *Orchestrator) logTurn(ctx context.Context, in *Input, turn *Turn) {
	o.logger.InfoContext(ctx, "turn completed",
		slog.String("user_id", in.UserID),
		slog.String("conversation_id", in.ConversationID),
		slog.String("correlation_id", in.CorrelationID),
		slog.Int("iterations", turn.Iterations),
		slog.Int("pending_actions", len(turn.PendingActions)),
	)
}
