package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/grcpilot/internal/domain"
)

// FrameworkRepository implements storage.FrameworkStore.
type FrameworkRepository struct {
	db *gorm.DB
}

// NewFrameworkRepository creates a FrameworkRepository.
func NewFrameworkRepository(db *gorm.DB) *FrameworkRepository {
	return &FrameworkRepository{db: db}
}

func (r *FrameworkRepository) Create(ctx context.Context, f *domain.Framework) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	m := FrameworkModel{
		ID:          f.ID,
		TenantID:    f.TenantID,
		Code:        f.Code,
		Name:        f.Name,
		Description: f.Description,
		Active:      f.Active,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translate(err, fmt.Sprintf("creating framework %s", f.Code))
	}
	f.CreatedAt = m.CreatedAt
	return nil
}

func (r *FrameworkRepository) Get(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Framework, error) {
	var m FrameworkModel
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		First(&m, "code = ?", code).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("getting framework %s", code))
	}
	d := toFrameworkDomain(&m)
	return &d, nil
}

func (r *FrameworkRepository) List(ctx context.Context, tenantID uuid.UUID) ([]domain.Framework, error) {
	var models []FrameworkModel
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Order("code ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing frameworks: %w", err)
	}
	out := make([]domain.Framework, len(models))
	for i := range models {
		out[i] = toFrameworkDomain(&models[i])
	}
	return out, nil
}

func (r *FrameworkRepository) CreateRequirement(ctx context.Context, req *domain.Requirement) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	m := RequirementModel{
		ID:            req.ID,
		TenantID:      req.TenantID,
		FrameworkCode: req.FrameworkCode,
		Code:          req.Code,
		Domain:        req.Domain,
		Title:         req.Title,
		Description:   req.Description,
	}
	if m.Domain == "" {
		m.Domain = "General"
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translate(err, fmt.Sprintf("creating requirement %s/%s", req.FrameworkCode, req.Code))
	}
	req.Domain = m.Domain
	req.CreatedAt = m.CreatedAt
	return nil
}

func (r *FrameworkRepository) CountRequirements(ctx context.Context, tenantID uuid.UUID, frameworkCode string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&RequirementModel{}).
		Scopes(TenantScope(tenantID)).
		Where("framework_code = ?", frameworkCode).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting requirements: %w", err)
	}
	return n, nil
}

func (r *FrameworkRepository) ListRequirements(ctx context.Context, tenantID uuid.UUID, frameworkCode string) ([]domain.Requirement, error) {
	var models []RequirementModel
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Where("framework_code = ?", frameworkCode).
		Order("domain ASC, code ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing requirements: %w", err)
	}
	out := make([]domain.Requirement, len(models))
	for i := range models {
		out[i] = toRequirementDomain(&models[i])
	}
	return out, nil
}

func (r *FrameworkRepository) UpsertStatus(ctx context.Context, s *domain.RequirementStatus) error {
	m := RequirementStatusModel{
		ID:              uuid.New(),
		TenantID:        s.TenantID,
		FrameworkCode:   s.FrameworkCode,
		RequirementCode: s.RequirementCode,
		Status:          string(s.Status),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "framework_code"}, {Name: "requirement_code"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upserting requirement status: %w", err)
	}
	s.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *FrameworkRepository) ListStatuses(ctx context.Context, tenantID uuid.UUID, frameworkCode string) ([]domain.RequirementStatus, error) {
	var models []RequirementStatusModel
	q := r.db.WithContext(ctx).Scopes(TenantScope(tenantID))
	if frameworkCode != "" {
		q = q.Where("framework_code = ?", frameworkCode)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing requirement statuses: %w", err)
	}
	out := make([]domain.RequirementStatus, len(models))
	for i, m := range models {
		out[i] = domain.RequirementStatus{
			TenantID:        m.TenantID,
			FrameworkCode:   m.FrameworkCode,
			RequirementCode: m.RequirementCode,
			Status:          domain.RequirementState(m.Status),
			UpdatedAt:       m.UpdatedAt,
		}
	}
	return out, nil
}
