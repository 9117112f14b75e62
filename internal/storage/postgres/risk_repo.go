package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100

	// refAttempts bounds retries when two writers race for the same sequential ref.
	refAttempts = 3
)

// RiskRepository implements storage.RiskStore.
type RiskRepository struct {
	db *gorm.DB
}

// NewRiskRepository creates a RiskRepository.
func NewRiskRepository(db *gorm.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// Create inserts r. When r.Ref is empty the next RISK-NNNN for the tenant is assigned.
func (r *RiskRepository) Create(ctx context.Context, risk *domain.Risk) error {
	if risk.ID == uuid.Nil {
		risk.ID = uuid.New()
	}
	assignRef := risk.Ref == ""

	var lastErr error
	for range refAttempts {
		if assignRef {
			n, err := r.Count(ctx, risk.TenantID)
			if err != nil {
				return err
			}
			risk.Ref = domain.FormatRef("RISK", int(n)+1)
		}
		m := toRiskModel(risk)
		// A nested transaction becomes a savepoint, so a lost race does not
		// abort an enclosing PostgreSQL transaction.
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(&m).Error
		})
		if err == nil {
			risk.CreatedAt, risk.UpdatedAt = m.CreatedAt, m.UpdatedAt
			return nil
		}
		lastErr = err
		if !assignRef || !isUniqueViolation(err) {
			break
		}
	}
	return translate(lastErr, "creating risk")
}

func (r *RiskRepository) Update(ctx context.Context, risk *domain.Risk) error {
	m := toRiskModel(risk)
	res := r.db.WithContext(ctx).Model(&RiskModel{}).
		Scopes(TenantScope(risk.TenantID)).
		Where("id = ?", risk.ID).
		Updates(map[string]any{
			"title":               m.Title,
			"description":         m.Description,
			"category":            m.Category,
			"likelihood":          m.Likelihood,
			"impact":              m.Impact,
			"inherent_score":      m.InherentScore,
			"residual_likelihood": m.ResidualLikelihood,
			"residual_impact":     m.ResidualImpact,
			"residual_score":      m.ResidualScore,
			"status":              m.Status,
			"owner":               m.Owner,
			"external_ref":        m.ExternalRef,
			"source":              m.Source,
			"metadata":            m.Metadata,
		})
	if res.Error != nil {
		return fmt.Errorf("updating risk: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("updating risk %s: %w", risk.ID, storage.ErrNotFound)
	}
	return nil
}

func (r *RiskRepository) Count(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&RiskModel{}).
		Scopes(TenantScope(tenantID)).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting risks: %w", err)
	}
	return n, nil
}

func (r *RiskRepository) Resolve(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Risk, error) {
	key = strings.TrimSpace(key)
	var m RiskModel
	err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Where("LOWER(ref) = ?", strings.ToLower(key)).
		First(&m).Error
	if err == nil {
		d := toRiskDomain(&m)
		return &d, nil
	}
	id, perr := uuid.Parse(key)
	if perr != nil {
		return nil, translate(err, fmt.Sprintf("resolving risk %q", key))
	}
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("resolving risk %q", key))
	}
	d := toRiskDomain(&m)
	return &d, nil
}

func (r *RiskRepository) Search(ctx context.Context, tenantID uuid.UUID, f storage.RiskFilter) ([]domain.Risk, error) {
	q := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Order("residual_score DESC, created_at DESC").
		Limit(clampLimit(f.Limit))
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(ref) LIKE ?)", like, like, like)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}

	var models []RiskModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("searching risks: %w", err)
	}
	return toRiskDomains(models), nil
}

func (r *RiskRepository) ListBySource(ctx context.Context, tenantID uuid.UUID, source string) ([]domain.Risk, error) {
	var models []RiskModel
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Where("source = ?", source).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing risks by source: %w", err)
	}
	return toRiskDomains(models), nil
}

func toRiskDomains(models []RiskModel) []domain.Risk {
	out := make([]domain.Risk, len(models))
	for i := range models {
		out[i] = toRiskDomain(&models[i])
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	return min(limit, maxSearchLimit)
}
