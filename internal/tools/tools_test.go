package tools

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		write bool
	}{
		{SearchRisks, false},
		{SearchControls, false},
		{GetRisk, false},
		{GetComplianceSummary, false},
		{ListFrameworks, false},
		{ListIntegrations, false},
		{CreateRisk, true},
		{CreateControl, true},
		{CreateFramework, true},
		{CreateRequirement, true},
		{UpdateRequirementStatus, true},
		{LinkRiskToControl, true},
		{CreateEvidence, true},
		{ConnectIntegration, true},
		{ImportGitHubAlerts, true},
		{CreateJiraIssue, true},
		{SendSlackNotification, true},
		{"delete_everything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWrite(tt.name); got != tt.write {
				t.Errorf("IsWrite(%q) = %v, want %v", tt.name, got, tt.write)
			}
		})
	}
}

func TestCatalogCompiles(t *testing.T) {
	if err := initRegistry(); err != nil {
		t.Fatalf("initRegistry: %v", err)
	}
	seen := map[string]bool{}
	for _, d := range All() {
		if seen[d.Name] {
			t.Errorf("duplicate tool %s", d.Name)
		}
		seen[d.Name] = true
		if _, ok := decoders[d.Name]; !ok {
			t.Errorf("tool %s has no decoder", d.Name)
		}
	}
	if len(Definitions()) != len(catalog) {
		t.Errorf("Definitions() = %d, want %d", len(Definitions()), len(catalog))
	}
	for _, d := range ReadDefinitions() {
		if IsWrite(d.Name) {
			t.Errorf("ReadDefinitions contains write tool %s", d.Name)
		}
	}
}

func TestDecodeTyped(t *testing.T) {
	in, err := Decode(CreateRisk, json.RawMessage(`{"title":"Vendor outage","likelihood":4}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	risk, ok := in.(CreateRiskInput)
	if !ok {
		t.Fatalf("type = %T, want CreateRiskInput", in)
	}
	if risk.Title != "Vendor outage" || risk.Likelihood != 4 || risk.Impact != 0 {
		t.Errorf("decoded = %+v", risk)
	}
	if risk.ToolName() != CreateRisk {
		t.Errorf("ToolName = %s", risk.ToolName())
	}
}

func TestDecodeMap(t *testing.T) {
	in, err := DecodeMap(ConnectIntegration, map[string]any{
		"provider": "github",
		"config":   map[string]any{"token": "t", "owner": "o", "repo": "r"},
	})
	if err != nil {
		t.Fatalf("DecodeMap: %v", err)
	}
	c := in.(ConnectIntegrationInput)
	if c.Provider != "github" || c.Config["repo"] != "r" {
		t.Errorf("decoded = %+v", c)
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage("{}")} {
		if _, err := Decode(ImportGitHubAlerts, raw); err != nil {
			t.Errorf("Decode(%q): %v", raw, err)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		tool string
		raw  string
		want error
	}{
		{"unknown tool", "drop_tables", `{}`, ErrUnknownTool},
		{"missing required", CreateRisk, `{"description":"no title"}`, ErrInvalidInput},
		{"wrong type", CreateRisk, `{"title":"x","likelihood":"high"}`, ErrInvalidInput},
		{"bad enum", UpdateRequirementStatus, `{"framework_code":"SOC2","requirement_code":"CC1","status":"done"}`, ErrInvalidInput},
		{"bad provider", ConnectIntegration, `{"provider":"gitlab","config":{}}`, ErrInvalidInput},
		{"non-string config", ConnectIntegration, `{"provider":"github","config":{"token":1}}`, ErrInvalidInput},
		{"not an object", GetRisk, `"RISK-0001"`, ErrInvalidInput},
		{"malformed json", GetRisk, `{"risk_id":`, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.tool, json.RawMessage(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTruncateOutput(t *testing.T) {
	s := strings.Repeat("x", 100)
	if got := TruncateOutput(s, 200); got != s {
		t.Error("short output changed")
	}
	got := TruncateOutput(s, 50)
	if len(got) != 50 || !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("truncated = %q", got)
	}
}
