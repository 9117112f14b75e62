// Package anthropic implements the llm provider interfaces for the Anthropic Messages API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/grcpilot/internal/llm"
)

const (
	defaultBaseURL  = "https://api.anthropic.com"
	messagesPath    = "/v1/messages"
	apiVersion      = "2023-06-01"
	defaultMaxToken = 4096

	// maxLineSize bounds a single SSE line; tool inputs can be large.
	maxLineSize = 1 << 20
)

// APIError is a non-200 answer from the Messages API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic API error (status %d): %s", e.StatusCode, e.Body)
}

// Client implements llm.StreamingProvider using the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Anthropic client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an Anthropic provider.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "anthropic" }

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// SendMessage sends the conversation and waits for the complete response.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	httpResp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	resp := toResponse(&apiResp)
	c.logCompleted(ctx, resp)
	return resp, nil
}

// StreamMessage uses the streaming Messages API. Text deltas go to onText as
// they arrive; tool_use inputs are accumulated from input_json_delta fragments
// and decoded when their block stops.
func (c *Client) StreamMessage(ctx context.Context, req *llm.Request, onText llm.TextHandler) (*llm.Response, error) {
	httpResp, err := c.post(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	resp, err := readStream(httpResp.Body, onText)
	if err != nil {
		return nil, err
	}
	c.logCompleted(ctx, resp)
	return resp, nil
}

func (c *Client) post(ctx context.Context, apiReq apiRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	if apiReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}
	return httpResp, nil
}

func (c *Client) logCompleted(ctx context.Context, resp *llm.Response) {
	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", "anthropic"),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
}

func (c *Client) buildRequest(req *llm.Request, stream bool) apiRequest {
	messages := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		if len(m.ContentBlocks) > 0 {
			blocks := make([]apiContentBlock, len(m.ContentBlocks))
			for j, b := range m.ContentBlocks {
				blocks[j] = toAPIContentBlock(b)
			}
			messages[i] = apiMessage{Role: string(m.Role), Content: blocks}
		} else {
			messages[i] = apiMessage{Role: string(m.Role), Content: m.Content}
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxToken
	}

	apiReq := apiRequest{
		Model:     c.model,
		System:    req.SystemPrompt,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return apiReq
}

func toResponse(apiResp *apiResponse) *llm.Response {
	var text strings.Builder
	var blocks []llm.ContentBlock

	for _, block := range apiResp.Content {
		switch block.Type {
		case llm.BlockText:
			text.WriteString(block.Text)
			blocks = append(blocks, llm.TextBlock(block.Text))
		case llm.BlockToolUse:
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, llm.ToolUseBlock(block.ID, block.Name, input))
		}
	}

	return &llm.Response{
		Content:       text.String(),
		ContentBlocks: blocks,
		StopReason:    apiResp.StopReason,
		Usage: llm.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
}

// streamBlock is a content block being assembled from stream events.
type streamBlock struct {
	kind  string
	id    string
	name  string
	text  strings.Builder
	input strings.Builder
}

// readStream consumes an SSE body and assembles the final response.
func readStream(body io.Reader, onText llm.TextHandler) (*llm.Response, error) {
	var (
		resp   llm.Response
		blocks = map[int]*streamBlock{}
		order  []int
		text   strings.Builder
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev apiStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				resp.Usage.InputTokens = ev.Message.Usage.InputTokens
				resp.Usage.OutputTokens = ev.Message.Usage.OutputTokens
			}
		case "content_block_start":
			if ev.ContentBlock == nil {
				continue
			}
			b := &streamBlock{kind: ev.ContentBlock.Type, id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			if ev.ContentBlock.Text != "" {
				b.text.WriteString(ev.ContentBlock.Text)
			}
			blocks[ev.Index] = b
			order = append(order, ev.Index)
		case "content_block_delta":
			b, ok := blocks[ev.Index]
			if !ok || ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				b.text.WriteString(ev.Delta.Text)
				text.WriteString(ev.Delta.Text)
				if onText != nil && ev.Delta.Text != "" {
					if err := onText(ev.Delta.Text); err != nil {
						return nil, err
					}
				}
			case "input_json_delta":
				b.input.WriteString(ev.Delta.PartialJSON)
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				resp.StopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				resp.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			return finishStream(&resp, blocks, order, text.String())
		case "error":
			msg := data
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return nil, fmt.Errorf("stream error: %s", msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return finishStream(&resp, blocks, order, text.String())
}

func finishStream(resp *llm.Response, blocks map[int]*streamBlock, order []int, text string) (*llm.Response, error) {
	resp.Content = text
	for _, idx := range order {
		b := blocks[idx]
		switch b.kind {
		case llm.BlockText:
			resp.ContentBlocks = append(resp.ContentBlocks, llm.TextBlock(b.text.String()))
		case llm.BlockToolUse:
			input := map[string]any{}
			if raw := strings.TrimSpace(b.input.String()); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					return nil, fmt.Errorf("decoding input of tool %q: %w", b.name, err)
				}
			}
			resp.ContentBlocks = append(resp.ContentBlocks, llm.ToolUseBlock(b.id, b.name, input))
		}
	}
	if resp.Content == "" && len(resp.ContentBlocks) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	return resp, nil
}

// toAPIContentBlock converts an llm.ContentBlock to the Anthropic API format.
func toAPIContentBlock(b llm.ContentBlock) apiContentBlock {
	block := apiContentBlock{Type: b.Type}
	switch b.Type {
	case llm.BlockText:
		block.Text = b.Text
	case llm.BlockToolUse:
		block.ID = b.ID
		block.Name = b.Name
		block.Input = b.Input
		if block.Input == nil {
			block.Input = map[string]any{}
		}
	case llm.BlockToolResult:
		block.ToolUseID = b.ToolUseID
		block.Content = b.Text
		block.IsError = b.IsError
	}
	return block
}

// --- Anthropic API wire types ---

type apiRequest struct {
	Model     string       `json:"model"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens"`
	Tools     []apiTool    `json:"tools,omitempty"`
	Stream    bool         `json:"stream,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// apiMessage content is either a string or []apiContentBlock.
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type apiContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type apiResponse struct {
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      apiUsage          `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiStreamEvent struct {
	Type         string           `json:"type"`
	Index        int              `json:"index"`
	Message      *apiResponse     `json:"message,omitempty"`
	ContentBlock *apiContentBlock `json:"content_block,omitempty"`
	Delta        *apiStreamDelta  `json:"delta,omitempty"`
	Usage        *apiUsage        `json:"usage,omitempty"`
	Error        *apiStreamError  `json:"error,omitempty"`
}

type apiStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type apiStreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var _ llm.StreamingProvider = (*Client)(nil)
