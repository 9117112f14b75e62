// Package tools declares the fixed tool set offered to the model.
// Each tool is classified read or write; write calls are never executed by the
// agent loop and must go through approval. Inputs are decoded into a typed
// union after validation against the tool's JSON Schema.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jkaninda/grcpilot/internal/llm"
)

var (
	// ErrUnknownTool is returned for a name outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidInput is returned when arguments fail schema validation.
	ErrInvalidInput = errors.New("invalid tool input")
)

// Class determines auto-execution vs. approval gating.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Definition is one catalog entry.
type Definition struct {
	Name        string
	Description string
	Class       Class
	Schema      map[string]any
}

// MaxOutputBytes caps a tool result fed back to the model.
const MaxOutputBytes = 64 << 10

type compiled struct {
	def    Definition
	schema *jsonschema.Schema
	decode func([]byte) (Input, error)
}

type registry struct {
	once    sync.Once
	initErr error
	byName  map[string]*compiled
}

var reg registry

var decoders = map[string]func([]byte) (Input, error){
	SearchRisks:          decodeAs[SearchRisksInput],
	SearchControls:       decodeAs[SearchControlsInput],
	GetRisk:              decodeAs[GetRiskInput],
	GetComplianceSummary: decodeAs[GetComplianceSummaryInput],
	ListFrameworks:       decodeAs[ListFrameworksInput],
	ListIntegrations:     decodeAs[ListIntegrationsInput],

	CreateRisk:              decodeAs[CreateRiskInput],
	CreateControl:           decodeAs[CreateControlInput],
	CreateFramework:         decodeAs[CreateFrameworkInput],
	CreateRequirement:       decodeAs[CreateRequirementInput],
	UpdateRequirementStatus: decodeAs[UpdateRequirementStatusInput],
	LinkRiskToControl:       decodeAs[LinkRiskToControlInput],
	CreateEvidence:          decodeAs[CreateEvidenceInput],
	ConnectIntegration:      decodeAs[ConnectIntegrationInput],
	ImportGitHubAlerts:      decodeAs[ImportGitHubAlertsInput],
	CreateJiraIssue:         decodeAs[CreateJiraIssueInput],
	SendSlackNotification:   decodeAs[SendSlackNotificationInput],
}

func decodeAs[T Input](raw []byte) (Input, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func initRegistry() error {
	reg.once.Do(func() {
		reg.byName = make(map[string]*compiled, len(catalog))
		for _, def := range catalog {
			raw, err := json.Marshal(def.Schema)
			if err != nil {
				reg.initErr = fmt.Errorf("marshaling schema %s: %w", def.Name, err)
				return
			}
			schema, err := jsonschema.CompileString(def.Name+".json", string(raw))
			if err != nil {
				reg.initErr = fmt.Errorf("compiling schema %s: %w", def.Name, err)
				return
			}
			dec, ok := decoders[def.Name]
			if !ok {
				reg.initErr = fmt.Errorf("no decoder for tool %s", def.Name)
				return
			}
			reg.byName[def.Name] = &compiled{def: def, schema: schema, decode: dec}
		}
	})
	return reg.initErr
}

func lookup(name string) (*compiled, error) {
	if err := initRegistry(); err != nil {
		return nil, err
	}
	c, ok := reg.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return c, nil
}

// Classify returns the class of a catalog tool.
func Classify(name string) (Class, bool) {
	for _, d := range catalog {
		if d.Name == name {
			return d.Class, true
		}
	}
	return "", false
}

// IsWrite reports whether name is on the write allowlist.
func IsWrite(name string) bool {
	c, ok := Classify(name)
	return ok && c == ClassWrite
}

// Get returns the definition of a catalog tool.
func Get(name string) (Definition, bool) {
	for _, d := range catalog {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// All returns the whole catalog in declaration order.
func All() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Definitions converts the catalog into model tool definitions.
func Definitions() []llm.ToolDefinition {
	return toLLM(catalog)
}

// ReadDefinitions returns only the read tools.
func ReadDefinitions() []llm.ToolDefinition {
	var reads []Definition
	for _, d := range catalog {
		if d.Class == ClassRead {
			reads = append(reads, d)
		}
	}
	return toLLM(reads)
}

func toLLM(defs []Definition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Schema,
		}
	}
	return out
}

// Decode validates raw against the tool's schema and returns the typed input.
// Empty input is treated as {}.
func Decode(name string, raw json.RawMessage) (Input, error) {
	c, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
	}
	if err := c.schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
	}
	in, err := c.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
	}
	return in, nil
}

// DecodeMap is Decode for arguments already parsed into a map, as produced by
// model tool_use blocks.
func DecodeMap(name string, args map[string]any) (Input, error) {
	if args == nil {
		return Decode(name, nil)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
	}
	return Decode(name, raw)
}

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}
