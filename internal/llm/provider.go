// Package llm defines the model inference contract used by the agent loop.
// The model is a black box: it receives a system prompt, a fixed tool schema and
// the message history, and returns text and/or structured tool-call requests.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when the model replies with no content at all.
var ErrEmptyResponse = errors.New("llm: empty response")

// Provider is the inference collaborator.
type Provider interface {
	// SendMessage sends a conversation to the model and returns its full response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request is one inference call.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Tools        []ToolDefinition // nil = no tool use
}

// ToolDefinition describes a tool the model can request.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is a single turn in the conversation.
// Either Content (plain text) or ContentBlocks (structured) is set, not both.
type Message struct {
	Role          Role
	Content       string
	ContentBlocks []ContentBlock
}

// TextContent returns the concatenated text from all text blocks,
// or the plain Content field if no blocks are present.
func (m *Message) TextContent() string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, c := range m.ContentBlocks {
		if c.Type == BlockText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is a tagged union; Type selects which other fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Stop reasons reported by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Response is what the model returns for one call.
type Response struct {
	Content       string         // concatenated text
	ContentBlocks []ContentBlock // text and tool_use blocks in order
	Usage         Usage
	StopReason    string
}

// HasToolUse reports whether the model requested at least one tool call.
// Some models end the turn with tool_use blocks but a different stop reason,
// so the blocks themselves are checked too.
func (r *Response) HasToolUse() bool {
	return r.StopReason == StopToolUse || len(r.ToolUseBlocks()) > 0
}

// ToolUseBlocks returns only the tool_use content blocks from the response.
func (r *Response) ToolUseBlocks() []ContentBlock {
	var blocks []ContentBlock
	for _, b := range r.ContentBlocks {
		if b.Type == BlockToolUse {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// AssistantMessage converts the response into the assistant turn to append to history.
func (r *Response) AssistantMessage() Message {
	if len(r.ContentBlocks) == 0 {
		return Message{Role: RoleAssistant, Content: r.Content}
	}
	blocks := make([]ContentBlock, len(r.ContentBlocks))
	copy(blocks, r.ContentBlocks)
	return Message{Role: RoleAssistant, ContentBlocks: blocks}
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
