package tools

// Input is the decoded, schema-checked arguments of one tool call.
// The concrete type is selected by tool name.
type Input interface {
	ToolName() string
}

// --- read tools ---

type SearchRisksInput struct {
	Query  string `json:"query,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type SearchControlsInput struct {
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type GetRiskInput struct {
	RiskID string `json:"risk_id"`
}

type GetComplianceSummaryInput struct {
	FrameworkCode string `json:"framework_code,omitempty"`
}

type ListFrameworksInput struct{}

type ListIntegrationsInput struct{}

func (SearchRisksInput) ToolName() string          { return SearchRisks }
func (SearchControlsInput) ToolName() string       { return SearchControls }
func (GetRiskInput) ToolName() string              { return GetRisk }
func (GetComplianceSummaryInput) ToolName() string { return GetComplianceSummary }
func (ListFrameworksInput) ToolName() string       { return ListFrameworks }
func (ListIntegrationsInput) ToolName() string     { return ListIntegrations }

// --- write tools ---

type CreateRiskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Likelihood  int    `json:"likelihood,omitempty"`
	Impact      int    `json:"impact,omitempty"`
}

type CreateControlInput struct {
	Code          string `json:"code,omitempty"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Type          string `json:"type,omitempty"`
	Automation    string `json:"automation,omitempty"`
	Effectiveness int    `json:"effectiveness,omitempty"`
}

type CreateFrameworkInput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CreateRequirementInput struct {
	FrameworkCode string `json:"framework_code"`
	Domain        string `json:"domain,omitempty"`
	Code          string `json:"code,omitempty"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
}

type UpdateRequirementStatusInput struct {
	FrameworkCode   string `json:"framework_code"`
	RequirementCode string `json:"requirement_code"`
	Status          string `json:"status"`
}

type LinkRiskToControlInput struct {
	RiskID    string `json:"risk_id"`
	ControlID string `json:"control_id"`
}

type CreateEvidenceInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	URL         string `json:"url,omitempty"`
	ControlCode string `json:"control_code,omitempty"`
}

type ConnectIntegrationInput struct {
	Provider string            `json:"provider"`
	Config   map[string]string `json:"config"`
}

type ImportGitHubAlertsInput struct{}

type CreateJiraIssueInput struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	IssueType   string `json:"issue_type,omitempty"`
	ProjectKey  string `json:"project_key,omitempty"`
	RiskID      string `json:"risk_id,omitempty"`
}

type SendSlackNotificationInput struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
	RiskID  string `json:"risk_id,omitempty"`
}

func (CreateRiskInput) ToolName() string              { return CreateRisk }
func (CreateControlInput) ToolName() string           { return CreateControl }
func (CreateFrameworkInput) ToolName() string         { return CreateFramework }
func (CreateRequirementInput) ToolName() string       { return CreateRequirement }
func (UpdateRequirementStatusInput) ToolName() string { return UpdateRequirementStatus }
func (LinkRiskToControlInput) ToolName() string       { return LinkRiskToControl }
func (CreateEvidenceInput) ToolName() string          { return CreateEvidence }
func (ConnectIntegrationInput) ToolName() string      { return ConnectIntegration }
func (ImportGitHubAlertsInput) ToolName() string      { return ImportGitHubAlerts }
func (CreateJiraIssueInput) ToolName() string         { return CreateJiraIssue }
func (SendSlackNotificationInput) ToolName() string   { return SendSlackNotification }
