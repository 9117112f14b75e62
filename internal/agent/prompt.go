package agent

import (
	"encoding/json"
	"strings"
)

// DefaultSystemPrompt describes the assistant's role and the approval rule.
const DefaultSystemPrompt = `You are a governance, risk and compliance assistant.
You help the user maintain their risk register, controls, compliance frameworks, evidence and integrations.

Rules:
- Use the read tools to look things up before answering questions about the user's data.
- Tools that change data or contact external systems are never run directly. Calling one queues
  it for the user's approval; tell the user what you queued and why.
- Do not claim a queued action has happened. It only happens once the user approves it.
- Prefer one precise write over several speculative ones.
- Be concise.`

const maxPageContextBytes = 4096

// systemPrompt assembles the per-turn prompt from the base prompt, the
// tenant state and the optional page context.
func (o *Orchestrator) systemPrompt(in *Input) string {
	var b strings.Builder
	b.WriteString(o.basePrompt)

	b.WriteString("\n\n## Workspace\n")
	if in.TenantID != nil {
		b.WriteString("The user's workspace is provisioned. Read tools return their real records.\n")
	} else {
		b.WriteString("The user has no workspace yet. Read tools return sample data, marked \"sample\": true. ")
		b.WriteString("The workspace is created automatically when they approve their first action.\n")
	}

	if len(in.PageContext) > 0 {
		if raw, err := json.Marshal(in.PageContext); err == nil {
			ctx := string(raw)
			if len(ctx) > maxPageContextBytes {
				ctx = ctx[:maxPageContextBytes]
			}
			b.WriteString("\n## Current page\nThe user is looking at:\n")
			b.WriteString(ctx)
			b.WriteString("\n")
		}
	}
	return b.String()
}
