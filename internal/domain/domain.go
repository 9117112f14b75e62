// Package domain defines the GRC entity types shared across the system.
// Types here are ORM-free; persistence mapping lives in internal/storage/postgres.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated account owning all domain records.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Role names a membership role. Elevated roles may manage integrations.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Membership binds a user to exactly one tenant.
type Membership struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    string
	Role      Role
	CreatedAt time.Time
}

// Usage is the metered count of approved mutating actions for a tenant.
type Usage struct {
	TenantID   uuid.UUID
	WriteCount int
	WriteLimit int
	// Bypassed is true when the tenant supplies its own model credential.
	Bypassed bool
}

// Credential is a tenant-supplied model API key.
type Credential struct {
	TenantID  uuid.UUID
	Provider  string
	APIKey    string
	CreatedAt time.Time
}

// RiskStatus is the lifecycle state of a Risk.
type RiskStatus string

const (
	RiskIdentified RiskStatus = "identified"
	RiskAssessed   RiskStatus = "assessed"
	RiskMitigated  RiskStatus = "mitigated"
	RiskAccepted   RiskStatus = "accepted"
	RiskClosed     RiskStatus = "closed"
)

// Risk is a scored risk register entry.
// Ref is the human-readable identifier (e.g. RISK-0007).
type Risk struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	Ref                string
	Title              string
	Description        string
	Category           string
	Likelihood         int
	Impact             int
	InherentScore      int
	ResidualLikelihood int
	ResidualImpact     int
	ResidualScore      int
	Status             RiskStatus
	Owner              string
	ExternalRef        string
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ControlStatus is the lifecycle state of a Control.
type ControlStatus string

const (
	ControlDraft   ControlStatus = "draft"
	ControlActive  ControlStatus = "active"
	ControlRetired ControlStatus = "retired"
)

// Control is a mitigating measure. Effectiveness is rated 1 (weak) to 5 (strong).
type Control struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Code          string
	Name          string
	Description   string
	Type          string
	Automation    string
	Effectiveness int
	Status        ControlStatus
	Owner         string
	CreatedAt     time.Time
}

// RiskControlLink maps a risk to a mitigating control. Unique per pair.
type RiskControlLink struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	RiskID    uuid.UUID
	ControlID uuid.UUID
	CreatedAt time.Time
}

// Framework is a compliance framework such as SOC2 or ISO27001.
type Framework struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Code        string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// Requirement belongs to a framework and is grouped by domain.
type Requirement struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	FrameworkCode string
	Domain        string
	Code          string
	Title         string
	Description   string
	CreatedAt     time.Time
}

// RequirementState is the implementation status of a requirement.
type RequirementState string

const (
	RequirementNotStarted    RequirementState = "not_started"
	RequirementInProgress    RequirementState = "in_progress"
	RequirementImplemented   RequirementState = "implemented"
	RequirementNotApplicable RequirementState = "not_applicable"
)

// Valid reports whether s is a known requirement state.
func (s RequirementState) Valid() bool {
	switch s {
	case RequirementNotStarted, RequirementInProgress, RequirementImplemented, RequirementNotApplicable:
		return true
	}
	return false
}

// RequirementStatus records the state of one requirement, keyed by framework and requirement code.
type RequirementStatus struct {
	TenantID        uuid.UUID
	FrameworkCode   string
	RequirementCode string
	Status          RequirementState
	UpdatedAt       time.Time
}

// Evidence is an artifact proving a control operates, with its provenance.
type Evidence struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Title       string
	Description string
	SourceType  string
	URL         string
	ControlCode string
	CollectedBy string
	CreatedAt   time.Time
}

// IntegrationStatus is active only after a successful connectivity test.
type IntegrationStatus string

const (
	IntegrationActive   IntegrationStatus = "active"
	IntegrationInactive IntegrationStatus = "inactive"
)

// Integration is a tenant's connection to an external system.
type Integration struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Provider       string
	Config         map[string]string
	Status         IntegrationStatus
	LastError      string
	LastSyncAt     *time.Time
	LastSyncStatus string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActionStatus is the lifecycle state of a PendingAction.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionExecuting ActionStatus = "executing"
	ActionExecuted  ActionStatus = "executed"
	ActionRejected  ActionStatus = "rejected"
)

// PendingAction is a write-intent produced by the agent and held for human approval.
// TenantID is nil when the user had no tenant at conversation time.
type PendingAction struct {
	ID             uuid.UUID
	ToolCallID     string
	UserID         string
	TenantID       *uuid.UUID
	ConversationID string
	Name           string
	Input          json.RawMessage
	Status         ActionStatus
	Result         json.RawMessage
	Error          string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// AuditEvent records the outcome of an approval decision.
type AuditEvent struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	UserID        string
	ActionID      uuid.UUID
	Tool          string
	Outcome       string
	Error         string
	CorrelationID string
	CreatedAt     time.Time
}
