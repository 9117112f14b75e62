package tools

// Read tool names.
const (
	SearchRisks          = "search_risks"
	SearchControls       = "search_controls"
	GetRisk              = "get_risk"
	GetComplianceSummary = "get_compliance_summary"
	ListFrameworks       = "list_frameworks"
	ListIntegrations     = "list_integrations"
)

// Write tool names. Calls to these are never executed by the agent loop.
const (
	CreateRisk              = "create_risk"
	CreateControl           = "create_control"
	CreateFramework         = "create_framework"
	CreateRequirement       = "create_requirement"
	UpdateRequirementStatus = "update_requirement_status"
	LinkRiskToControl       = "link_risk_to_control"
	CreateEvidence          = "create_evidence"
	ConnectIntegration      = "connect_integration"
	ImportGitHubAlerts      = "import_github_alerts"
	CreateJiraIssue         = "create_jira_issue"
	SendSlackNotification   = "send_slack_notification"
)

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": desc}
}

func rating(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var catalog = []Definition{
	// read
	{
		Name:        SearchRisks,
		Class:       ClassRead,
		Description: "Search the risk register by free text and optional status. Results are ordered by residual score, highest first.",
		Schema: object(map[string]any{
			"query":  str("Text matched against ref, title and description"),
			"status": enum("Only return risks in this status", "identified", "assessed", "mitigated", "accepted", "closed"),
			"limit":  map[string]any{"type": "integer", "description": "Maximum results (default 20, max 100)"},
		}),
	},
	{
		Name:        SearchControls,
		Class:       ClassRead,
		Description: "Search controls by code, name or description.",
		Schema: object(map[string]any{
			"query": str("Text matched against code, name and description"),
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 20, max 100)"},
		}),
	},
	{
		Name:        GetRisk,
		Class:       ClassRead,
		Description: "Fetch one risk with its scores and the number of linked controls.",
		Schema: object(map[string]any{
			"risk_id": str("Risk ref such as RISK-0003, or its id"),
		}, "risk_id"),
	},
	{
		Name:        GetComplianceSummary,
		Class:       ClassRead,
		Description: "Compute completion per compliance framework from requirement statuses.",
		Schema: object(map[string]any{
			"framework_code": str("Restrict the summary to one framework"),
		}),
	},
	{
		Name:        ListFrameworks,
		Class:       ClassRead,
		Description: "List the tenant's compliance frameworks.",
		Schema:      object(map[string]any{}),
	},
	{
		Name:        ListIntegrations,
		Class:       ClassRead,
		Description: "List connected external systems and their sync status.",
		Schema:      object(map[string]any{}),
	},

	// write
	{
		Name:        CreateRisk,
		Class:       ClassWrite,
		Description: "Add a risk to the register. Likelihood and impact are rated 1-5 and default to 3. Requires user approval.",
		Schema: object(map[string]any{
			"title":       str("Short risk title"),
			"description": str("What could happen and why"),
			"category":    str("Category such as security, vendor, operational"),
			"likelihood":  rating("Likelihood 1 (rare) to 5 (almost certain)"),
			"impact":      rating("Impact 1 (negligible) to 5 (severe)"),
		}, "title"),
	},
	{
		Name:        CreateControl,
		Class:       ClassWrite,
		Description: "Create a control. A CTL-NNNN code is generated when none is given. Requires user approval.",
		Schema: object(map[string]any{
			"code":          str("Control code; generated when omitted"),
			"name":          str("Control name"),
			"description":   str("What the control does"),
			"type":          enum("Control type", "preventive", "detective", "corrective"),
			"automation":    enum("Automation level", "manual", "semi_automated", "automated"),
			"effectiveness": rating("Effectiveness 1 (weak) to 5 (strong), default 3"),
		}, "name"),
	},
	{
		Name:        CreateFramework,
		Class:       ClassWrite,
		Description: "Create a compliance framework such as SOC2 or ISO27001. Requires user approval.",
		Schema: object(map[string]any{
			"code":        str("Short framework code, normalized to upper case"),
			"name":        str("Framework name"),
			"description": str("Framework description"),
		}, "code", "name"),
	},
	{
		Name:        CreateRequirement,
		Class:       ClassWrite,
		Description: "Add a requirement to an existing framework. Requires user approval.",
		Schema: object(map[string]any{
			"framework_code": str("Code of the owning framework"),
			"domain":         str("Grouping such as Access Control (default General)"),
			"code":           str("Requirement code; generated when omitted"),
			"title":          str("Requirement title"),
			"description":    str("Requirement text"),
		}, "framework_code", "title"),
	},
	{
		Name:        UpdateRequirementStatus,
		Class:       ClassWrite,
		Description: "Set the implementation status of a requirement. Requires user approval.",
		Schema: object(map[string]any{
			"framework_code":   str("Framework code"),
			"requirement_code": str("Requirement code"),
			"status":           enum("New status", "not_started", "in_progress", "implemented", "not_applicable"),
		}, "framework_code", "requirement_code", "status"),
	},
	{
		Name:        LinkRiskToControl,
		Class:       ClassWrite,
		Description: "Map a control to a risk it mitigates and recompute the risk's residual score. Requires user approval.",
		Schema: object(map[string]any{
			"risk_id":    str("Risk ref or id"),
			"control_id": str("Control code or id"),
		}, "risk_id", "control_id"),
	},
	{
		Name:        CreateEvidence,
		Class:       ClassWrite,
		Description: "Record evidence that a control operates. Requires user approval.",
		Schema: object(map[string]any{
			"title":        str("Evidence title"),
			"description":  str("What the evidence shows"),
			"source_type":  enum("Where the evidence came from", "manual", "document", "screenshot", "automated", "integration"),
			"url":          str("Link to the artifact"),
			"control_code": str("Control this evidence supports"),
		}, "title"),
	},
	{
		Name:        ConnectIntegration,
		Class:       ClassWrite,
		Description: "Connect an external system and test the connection. Admins only. Requires user approval.",
		Schema: object(map[string]any{
			"provider": enum("External system", "github", "jira", "slack"),
			"config": map[string]any{
				"type":                 "object",
				"description":          "Provider settings, e.g. token/owner/repo for github; base_url/email/api_token/project_key for jira; token/channel for slack",
				"additionalProperties": map[string]any{"type": "string"},
			},
		}, "provider", "config"),
	},
	{
		Name:        ImportGitHubAlerts,
		Class:       ClassWrite,
		Description: "Import open Dependabot alerts from the connected GitHub repository as risks. Already imported alerts are skipped. Requires user approval.",
		Schema:      object(map[string]any{}),
	},
	{
		Name:        CreateJiraIssue,
		Class:       ClassWrite,
		Description: "Open a Jira issue, optionally tied to a risk. Requires user approval.",
		Schema: object(map[string]any{
			"summary":     str("Issue summary"),
			"description": str("Issue body"),
			"issue_type":  str("Issue type (default Task)"),
			"project_key": str("Project key; defaults to the integration's project"),
			"risk_id":     str("Risk ref or id that receives the issue key"),
		}, "summary"),
	},
	{
		Name:        SendSlackNotification,
		Class:       ClassWrite,
		Description: "Post a message to Slack, optionally about a risk. Requires user approval.",
		Schema: object(map[string]any{
			"text":    str("Message text"),
			"channel": str("Channel id or name; defaults to the integration's channel"),
			"risk_id": str("Risk ref or id the message is about"),
		}, "text"),
	},
}
