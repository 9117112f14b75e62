// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
// Both share the GORM repositories in internal/storage/postgres.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/grcpilot/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row in the caller's tenant.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Store is the unified persistence interface.
// Sub-store accessors returned by a Store share its connection or transaction scope.
type Store interface {
	Tenants() TenantStore
	Usage() UsageStore
	Risks() RiskStore
	Controls() ControlStore
	Frameworks() FrameworkStore
	Evidence() EvidenceStore
	Integrations() IntegrationStore
	PendingActions() PendingActionStore
	Audit() AuditStore

	// WithTx runs fn inside one database transaction. The Store passed to fn
	// is bound to that transaction; returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// TenantStore manages tenants, memberships and tenant-supplied credentials.
type TenantStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error)
	FindMembership(ctx context.Context, userID string) (*domain.Membership, error)
	// Provision creates a tenant, its usage row and the caller's membership in one
	// transaction. It is idempotent: when the user already belongs to a tenant
	// (including one created concurrently) that membership is returned with created=false.
	Provision(ctx context.Context, req ProvisionRequest) (m *domain.Membership, created bool, err error)
	AddMember(ctx context.Context, tenantID uuid.UUID, userID string, role domain.Role) (*domain.Membership, error)
	SetCredential(ctx context.Context, cred *domain.Credential) error
	Credential(ctx context.Context, tenantID uuid.UUID) (*domain.Credential, error)
}

// ProvisionRequest describes a tenant to create for a first-time user.
type ProvisionRequest struct {
	UserID     string
	TenantName string
	Role       domain.Role
	// WriteLimit of zero is a real limit; negative selects DefaultWriteLimit.
	WriteLimit int
}

// UsageStore holds per-tenant write counters.
type UsageStore interface {
	// Get returns the counter and whether a custom credential bypasses it.
	Get(ctx context.Context, tenantID uuid.UUID) (domain.Usage, error)
	// Increment atomically adds one when write_count < write_limit.
	// It reports false, without writing, when the limit is already reached.
	Increment(ctx context.Context, tenantID uuid.UUID) (bool, error)
	// Decrement removes one, never going below zero.
	Decrement(ctx context.Context, tenantID uuid.UUID) error
	SetLimit(ctx context.Context, tenantID uuid.UUID, limit int) error
}

// RiskFilter narrows a risk search.
type RiskFilter struct {
	Query  string
	Status string
	Source string
	Limit  int
}

// RiskStore persists the risk register.
type RiskStore interface {
	Create(ctx context.Context, r *domain.Risk) error
	Update(ctx context.Context, r *domain.Risk) error
	Count(ctx context.Context, tenantID uuid.UUID) (int64, error)
	// Resolve finds a risk by ref (case-insensitive) first, then by exact id.
	Resolve(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Risk, error)
	Search(ctx context.Context, tenantID uuid.UUID, f RiskFilter) ([]domain.Risk, error)
	// ListBySource returns every risk whose metadata source matches, unpaginated.
	ListBySource(ctx context.Context, tenantID uuid.UUID, source string) ([]domain.Risk, error)
}

// ControlStore persists controls and risk-control links.
type ControlStore interface {
	Create(ctx context.Context, c *domain.Control) error
	Count(ctx context.Context, tenantID uuid.UUID) (int64, error)
	// Resolve finds a control by code (case-insensitive) first, then by exact id.
	Resolve(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Control, error)
	Search(ctx context.Context, tenantID uuid.UUID, query string, limit int) ([]domain.Control, error)
	// Link inserts the (risk, control) mapping unless it exists. created reports a new row.
	Link(ctx context.Context, link *domain.RiskControlLink) (created bool, err error)
	// LinkedEffectiveness returns the effectiveness of every control linked to the risk.
	LinkedEffectiveness(ctx context.Context, tenantID, riskID uuid.UUID) ([]int, error)
	CountLinks(ctx context.Context, tenantID, riskID uuid.UUID) (int64, error)
}

// FrameworkStore persists frameworks, their requirements and requirement statuses.
type FrameworkStore interface {
	Create(ctx context.Context, f *domain.Framework) error
	Get(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Framework, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]domain.Framework, error)

	CreateRequirement(ctx context.Context, r *domain.Requirement) error
	CountRequirements(ctx context.Context, tenantID uuid.UUID, frameworkCode string) (int64, error)
	ListRequirements(ctx context.Context, tenantID uuid.UUID, frameworkCode string) ([]domain.Requirement, error)

	// UpsertStatus sets the status keyed by (framework_code, requirement_code).
	UpsertStatus(ctx context.Context, s *domain.RequirementStatus) error
	ListStatuses(ctx context.Context, tenantID uuid.UUID, frameworkCode string) ([]domain.RequirementStatus, error)
}

// EvidenceStore persists collected evidence.
type EvidenceStore interface {
	Create(ctx context.Context, e *domain.Evidence) error
	ListByControl(ctx context.Context, tenantID uuid.UUID, controlCode string) ([]domain.Evidence, error)
}

// IntegrationStore persists external-system connections.
type IntegrationStore interface {
	// Upsert inserts or replaces the integration keyed by (tenant, provider).
	Upsert(ctx context.Context, i *domain.Integration) error
	Get(ctx context.Context, tenantID uuid.UUID, provider string) (*domain.Integration, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]domain.Integration, error)
	// ListActive returns active integrations across all tenants.
	ListActive(ctx context.Context) ([]domain.Integration, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.IntegrationStatus, lastError string) error
	RecordSync(ctx context.Context, id uuid.UUID, status string, at time.Time) error
}

// PendingActionStore persists agent write-intents awaiting approval.
type PendingActionStore interface {
	Create(ctx context.Context, a *domain.PendingAction) error
	Get(ctx context.Context, userID, toolCallID string) (*domain.PendingAction, error)
	// Transition moves the action from one status to another with a single
	// conditional update. It reports false when the action was not in from.
	Transition(ctx context.Context, userID, toolCallID string, from, to domain.ActionStatus) (bool, error)
	// Finish records the terminal status of an executing action.
	Finish(ctx context.Context, id uuid.UUID, status domain.ActionStatus, result json.RawMessage, errMsg string) error
	// BindTenant sets the tenant for actions queued before the user was provisioned.
	BindTenant(ctx context.Context, id, tenantID uuid.UUID) error
	ListByUser(ctx context.Context, userID string, status domain.ActionStatus) ([]domain.PendingAction, error)
}

// AuditStore records approval outcomes.
type AuditStore interface {
	Record(ctx context.Context, e *domain.AuditEvent) error
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.AuditEvent, error)
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// DefaultWriteLimit is the number of approved writes a new tenant may execute
// without supplying its own model credential.
const DefaultWriteLimit = 25
