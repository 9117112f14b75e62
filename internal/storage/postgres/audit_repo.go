package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/grcpilot/internal/domain"
)

// AuditRepository implements storage.AuditStore.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, e *domain.AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m := AuditEventModel{
		ID:            e.ID,
		TenantID:      e.TenantID,
		UserID:        e.UserID,
		ActionID:      e.ActionID,
		Tool:          e.Tool,
		Outcome:       e.Outcome,
		Error:         e.Error,
		CorrelationID: e.CorrelationID,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	e.CreatedAt = m.CreatedAt
	return nil
}

// List returns audit events for a tenant, newest first. Limit defaults to 100.
func (r *AuditRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []AuditEventModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	events := make([]domain.AuditEvent, len(models))
	for i := range models {
		events[i] = toAuditDomain(&models[i])
	}
	return events, nil
}
