package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/grcpilot/internal/domain"
)

// EvidenceRepository implements storage.EvidenceStore.
// Evidence is append-only.
type EvidenceRepository struct {
	db *gorm.DB
}

// NewEvidenceRepository creates an EvidenceRepository.
func NewEvidenceRepository(db *gorm.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

func (r *EvidenceRepository) Create(ctx context.Context, e *domain.Evidence) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m := EvidenceModel{
		ID:          e.ID,
		TenantID:    e.TenantID,
		Title:       e.Title,
		Description: e.Description,
		SourceType:  e.SourceType,
		URL:         e.URL,
		ControlCode: e.ControlCode,
		CollectedBy: e.CollectedBy,
	}
	if m.SourceType == "" {
		m.SourceType = "manual"
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("creating evidence: %w", err)
	}
	e.SourceType = m.SourceType
	e.CreatedAt = m.CreatedAt
	return nil
}

func (r *EvidenceRepository) ListByControl(ctx context.Context, tenantID uuid.UUID, controlCode string) ([]domain.Evidence, error) {
	var models []EvidenceModel
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Where("control_code = ?", controlCode).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing evidence: %w", err)
	}
	out := make([]domain.Evidence, len(models))
	for i := range models {
		out[i] = toEvidenceDomain(&models[i])
	}
	return out, nil
}
