package reader

import (
	"fmt"
	"time"

	"github.com/jkaninda/grcpilot/internal/tools"
)

type RiskSummary struct {
	Ref           string `json:"ref"`
	Title         string `json:"title"`
	Category      string `json:"category,omitempty"`
	Status        string `json:"status"`
	Likelihood    int    `json:"likelihood"`
	Impact        int    `json:"impact"`
	InherentScore int    `json:"inherent_score"`
	ResidualScore int    `json:"residual_score"`
	Owner         string `json:"owner,omitempty"`
	ExternalRef   string `json:"external_ref,omitempty"`
}

type RiskList struct {
	Risks  []RiskSummary `json:"risks"`
	Count  int           `json:"count"`
	Sample bool          `json:"sample,omitempty"`
}

type RiskDetail struct {
	RiskSummary
	Description        string         `json:"description,omitempty"`
	ResidualLikelihood int            `json:"residual_likelihood"`
	ResidualImpact     int            `json:"residual_impact"`
	LinkedControls     int            `json:"linked_controls"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Sample             bool           `json:"sample,omitempty"`
}

type ControlSummary struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Type          string `json:"type,omitempty"`
	Automation    string `json:"automation,omitempty"`
	Effectiveness int    `json:"effectiveness"`
	Status        string `json:"status"`
}

type ControlList struct {
	Controls []ControlSummary `json:"controls"`
	Count    int              `json:"count"`
	Sample   bool             `json:"sample,omitempty"`
}

// FrameworkCompletion is implemented plus not-applicable over total, in percent.
type FrameworkCompletion struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Total         int     `json:"total"`
	Implemented   int     `json:"implemented"`
	NotApplicable int     `json:"not_applicable"`
	InProgress    int     `json:"in_progress"`
	NotStarted    int     `json:"not_started"`
	CompletionPct float64 `json:"completion_pct"`
}

type ComplianceSummary struct {
	Frameworks []FrameworkCompletion `json:"frameworks"`
	Sample     bool                  `json:"sample,omitempty"`
}

type FrameworkSummary struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

type FrameworkList struct {
	Frameworks []FrameworkSummary `json:"frameworks"`
	Sample     bool               `json:"sample,omitempty"`
}

// IntegrationSummary never carries the integration config, which holds credentials.
type IntegrationSummary struct {
	Provider       string     `json:"provider"`
	Status         string     `json:"status"`
	LastError      string     `json:"last_error,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
}

type IntegrationList struct {
	Integrations []IntegrationSummary `json:"integrations"`
	Sample       bool                 `json:"sample,omitempty"`
}

var sampleRisks = []RiskSummary{
	{Ref: "RISK-0001", Title: "Phishing leads to credential theft", Category: "security", Status: "identified", Likelihood: 4, Impact: 4, InherentScore: 16, ResidualScore: 16},
	{Ref: "RISK-0002", Title: "Critical vendor outage", Category: "vendor", Status: "assessed", Likelihood: 3, Impact: 5, InherentScore: 15, ResidualScore: 8},
	{Ref: "RISK-0003", Title: "Unpatched dependency vulnerability", Category: "security", Status: "identified", Likelihood: 3, Impact: 3, InherentScore: 9, ResidualScore: 9},
}

var sampleControls = []ControlSummary{
	{Code: "CTL-0001", Name: "Multi-factor authentication", Type: "preventive", Automation: "automated", Effectiveness: 5, Status: "active"},
	{Code: "CTL-0002", Name: "Security awareness training", Type: "preventive", Automation: "manual", Effectiveness: 3, Status: "active"},
	{Code: "CTL-0003", Name: "Dependency scanning", Type: "detective", Automation: "automated", Effectiveness: 4, Status: "draft"},
}

// sample returns illustrative data for users without a tenant yet.
func sample(in tools.Input) (any, error) {
	switch v := in.(type) {
	case tools.SearchRisksInput:
		return RiskList{Risks: sampleRisks, Count: len(sampleRisks), Sample: true}, nil
	case tools.SearchControlsInput:
		return ControlList{Controls: sampleControls, Count: len(sampleControls), Sample: true}, nil
	case tools.GetRiskInput:
		return &RiskDetail{
			RiskSummary:        sampleRisks[0],
			Description:        "Example risk shown before any data has been recorded.",
			ResidualLikelihood: 4,
			ResidualImpact:     4,
			Sample:             true,
		}, nil
	case tools.GetComplianceSummaryInput:
		return ComplianceSummary{Sample: true, Frameworks: []FrameworkCompletion{
			{Code: "SOC2", Name: "SOC 2", Total: 10, Implemented: 3, NotApplicable: 1, InProgress: 2, NotStarted: 4, CompletionPct: 40},
		}}, nil
	case tools.ListFrameworksInput:
		return FrameworkList{Sample: true, Frameworks: []FrameworkSummary{
			{Code: "SOC2", Name: "SOC 2", Description: "Trust services criteria", Active: true},
			{Code: "ISO27001", Name: "ISO/IEC 27001", Description: "Information security management", Active: true},
		}}, nil
	case tools.ListIntegrationsInput:
		return IntegrationList{Integrations: []IntegrationSummary{}, Sample: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotReadTool, v.ToolName())
	}
}
