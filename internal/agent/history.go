package agent

import (
	"encoding/json"

	"github.com/jkaninda/grcpilot/internal/llm"
)

const maxInputTokens = 12000

// buildHistory converts client history into model messages. Unknown roles and
// empty messages are dropped and consecutive turns of the same role are merged,
// so the result always alternates and starts with a user turn.
func (o *Orchestrator) buildHistory(in []HistoryMessage) []llm.Message {
	var msgs []llm.Message
	for _, h := range in {
		role := llm.Role(h.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		if h.Content == "" {
			continue
		}
		content := o.truncateContent(h.Content)
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + content
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	return o.truncateHistory(msgs)
}

// truncateHistory keeps the last maxHistoryMessages messages and never starts
// with an assistant turn.
func (o *Orchestrator) truncateHistory(history []llm.Message) []llm.Message {
	max := o.maxHistoryMessages
	if max <= 0 {
		max = DefaultMaxHistoryMessages
	}
	if len(history) > max {
		history = history[len(history)-max:]
	}
	return dropLeadingAssistant(history)
}

func (o *Orchestrator) truncateContent(s string) string {
	max := o.maxMessageBytes
	if max <= 0 {
		max = DefaultMaxMessageBytes
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[message truncated]"
}

func dropLeadingAssistant(history []llm.Message) []llm.Message {
	for len(history) > 0 && history[0].Role == llm.RoleAssistant {
		history = history[1:]
	}
	return history
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func estimateToolDefTokens(td llm.ToolDefinition) int {
	tokens := estimateTokens(td.Name) + estimateTokens(td.Description)
	if td.InputSchema != nil {
		b, _ := json.Marshal(td.InputSchema)
		tokens += estimateTokens(string(b))
	}
	return tokens
}

func estimateMessageTokens(msg llm.Message) int {
	tokens := estimateTokens(string(msg.Role)) + 4
	tokens += estimateTokens(msg.Content)
	for _, b := range msg.ContentBlocks {
		tokens += estimateTokens(b.Text)
		if b.Input != nil {
			raw, _ := json.Marshal(b.Input)
			tokens += estimateTokens(string(raw))
		}
		tokens += estimateTokens(b.Name) + estimateTokens(b.ID) + estimateTokens(b.ToolUseID)
	}
	return tokens
}

// trimHistoryToTokenBudget drops the oldest messages until the estimated size
// fits what is left of maxTokens after the fixed prompt parts.
func trimHistoryToTokenBudget(history []llm.Message, fixedTokens, maxTokens int) []llm.Message {
	budget := maxTokens - fixedTokens
	if budget <= 0 {
		budget = 2000
	}

	total := 0
	for _, m := range history {
		total += estimateMessageTokens(m)
	}
	for len(history) > 1 && total > budget {
		total -= estimateMessageTokens(history[0])
		history = history[1:]
	}
	return dropLeadingAssistant(history)
}
