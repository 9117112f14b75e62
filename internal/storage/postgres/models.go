package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TenantModel maps to the "tenants" table.
type TenantModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TenantModel) TableName() string { return "tenants" }

// MembershipModel maps to the "memberships" table.
// The unique index on user_id makes tenant provisioning idempotent.
type MembershipModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_memberships_user"`
	Role      string    `gorm:"not null;default:'member'"`
	CreatedAt time.Time
}

func (MembershipModel) TableName() string { return "memberships" }

// UsageModel maps to the "tenant_usage" table.
type UsageModel struct {
	TenantID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	WriteCount int       `gorm:"not null;default:0"`
	WriteLimit int       `gorm:"not null"`
	UpdatedAt  time.Time
}

func (UsageModel) TableName() string { return "tenant_usage" }

// CredentialModel maps to the "tenant_credentials" table.
type CredentialModel struct {
	TenantID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Provider  string    `gorm:"not null;default:'anthropic'"`
	APIKey    string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CredentialModel) TableName() string { return "tenant_credentials" }

// RiskModel maps to the "risks" table.
type RiskModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_risks_tenant_ref"`
	Ref                string    `gorm:"not null;uniqueIndex:idx_risks_tenant_ref"`
	Title              string    `gorm:"not null"`
	Description        string
	Category           string
	Likelihood         int    `gorm:"not null;default:3"`
	Impact             int    `gorm:"not null;default:3"`
	InherentScore      int    `gorm:"not null"`
	ResidualLikelihood int    `gorm:"not null"`
	ResidualImpact     int    `gorm:"not null"`
	ResidualScore      int    `gorm:"not null"`
	Status             string `gorm:"not null;default:'identified';index"`
	Owner              string
	ExternalRef        string
	Source             string `gorm:"index"`
	Metadata           JSONB  `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (RiskModel) TableName() string { return "risks" }

// ControlModel maps to the "controls" table.
type ControlModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_controls_tenant_code"`
	Code          string    `gorm:"not null;uniqueIndex:idx_controls_tenant_code"`
	Name          string    `gorm:"not null"`
	Description   string
	Type          string `gorm:"not null;default:'preventive'"`
	Automation    string `gorm:"not null;default:'manual'"`
	Effectiveness int    `gorm:"not null;default:3"`
	Status        string `gorm:"not null;default:'draft'"`
	Owner         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ControlModel) TableName() string { return "controls" }

// RiskControlLinkModel maps to the "risk_control_links" table.
type RiskControlLinkModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	RiskID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_risk_control_pair"`
	ControlID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_risk_control_pair"`
	CreatedAt time.Time
}

func (RiskControlLinkModel) TableName() string { return "risk_control_links" }

// FrameworkModel maps to the "frameworks" table.
type FrameworkModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_frameworks_tenant_code"`
	Code        string    `gorm:"not null;uniqueIndex:idx_frameworks_tenant_code"`
	Name        string    `gorm:"not null"`
	Description string
	Active      bool `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (FrameworkModel) TableName() string { return "frameworks" }

// RequirementModel maps to the "requirements" table.
type RequirementModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_requirements_key"`
	FrameworkCode string    `gorm:"not null;uniqueIndex:idx_requirements_key"`
	Code          string    `gorm:"not null;uniqueIndex:idx_requirements_key"`
	Domain        string    `gorm:"not null;default:'General'"`
	Title         string    `gorm:"not null"`
	Description   string
	CreatedAt     time.Time
}

func (RequirementModel) TableName() string { return "requirements" }

// RequirementStatusModel maps to the "requirement_statuses" table.
type RequirementStatusModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_requirement_status_key"`
	FrameworkCode   string    `gorm:"not null;uniqueIndex:idx_requirement_status_key"`
	RequirementCode string    `gorm:"not null;uniqueIndex:idx_requirement_status_key"`
	Status          string    `gorm:"not null"`
	UpdatedAt       time.Time
}

func (RequirementStatusModel) TableName() string { return "requirement_statuses" }

// EvidenceModel maps to the "evidence" table.
type EvidenceModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Title       string    `gorm:"not null"`
	Description string
	SourceType  string `gorm:"not null;default:'manual'"`
	URL         string
	ControlCode string `gorm:"index"`
	CollectedBy string
	CreatedAt   time.Time
}

func (EvidenceModel) TableName() string { return "evidence" }

// IntegrationModel maps to the "integrations" table.
type IntegrationModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_integrations_tenant_provider"`
	Provider       string    `gorm:"not null;uniqueIndex:idx_integrations_tenant_provider"`
	Config         JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	Status         string    `gorm:"not null;default:'inactive';index"`
	LastError      string
	LastSyncAt     *time.Time
	LastSyncStatus string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (IntegrationModel) TableName() string { return "integrations" }

// PendingActionModel maps to the "pending_actions" table.
type PendingActionModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ToolCallID     string     `gorm:"not null;uniqueIndex:idx_pending_actions_call"`
	UserID         string     `gorm:"not null;uniqueIndex:idx_pending_actions_call"`
	TenantID       *uuid.UUID `gorm:"type:uuid;index"`
	ConversationID string
	Name           string `gorm:"not null"`
	Input          JSONB  `gorm:"type:jsonb;not null;default:'{}'"`
	Status         string `gorm:"not null;default:'pending';index"`
	Result         JSONB  `gorm:"type:jsonb"`
	Error          string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

func (PendingActionModel) TableName() string { return "pending_actions" }

// AuditEventModel maps to the "audit_events" table.
type AuditEventModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;not null;index"`
	UserID        string    `gorm:"not null"`
	ActionID      uuid.UUID `gorm:"type:uuid"`
	Tool          string    `gorm:"not null"`
	Outcome       string    `gorm:"not null"`
	Error         string
	CorrelationID string
	CreatedAt     time.Time `gorm:"index"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// allModels lists every model in FK-dependency order for AutoMigrate.
func allModels() []any {
	return []any{
		&TenantModel{},
		&MembershipModel{},
		&UsageModel{},
		&CredentialModel{},
		&RiskModel{},
		&ControlModel{},
		&RiskControlLinkModel{},
		&FrameworkModel{},
		&RequirementModel{},
		&RequirementStatusModel{},
		&EvidenceModel{},
		&IntegrationModel{},
		&PendingActionModel{},
		&AuditEventModel{},
	}
}

// JSONB is a json.RawMessage that implements the driver.Valuer and sql.Scanner interfaces
// for GORM JSONB columns. SQLite stores it as TEXT.
type JSONB json.RawMessage

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("scanning JSONB: unsupported type %T", src)
	}
	return nil
}
