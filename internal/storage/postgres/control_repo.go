package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/grcpilot/internal/domain"
)

// ControlRepository implements storage.ControlStore.
type ControlRepository struct {
	db *gorm.DB
}

// NewControlRepository creates a ControlRepository.
func NewControlRepository(db *gorm.DB) *ControlRepository {
	return &ControlRepository{db: db}
}

// Create inserts c. When c.Code is empty the next CTL-NNNN for the tenant is assigned.
func (r *ControlRepository) Create(ctx context.Context, c *domain.Control) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	assignCode := c.Code == ""

	var lastErr error
	for range refAttempts {
		if assignCode {
			n, err := r.Count(ctx, c.TenantID)
			if err != nil {
				return err
			}
			c.Code = domain.FormatRef("CTL", int(n)+1)
		}
		m := toControlModel(c)
		// A nested transaction becomes a savepoint, so a lost race does not
		// abort an enclosing PostgreSQL transaction.
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(&m).Error
		})
		if err == nil {
			c.CreatedAt = m.CreatedAt
			return nil
		}
		lastErr = err
		if !assignCode || !isUniqueViolation(err) {
			break
		}
	}
	return translate(lastErr, "creating control")
}

func (r *ControlRepository) Count(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&ControlModel{}).
		Scopes(TenantScope(tenantID)).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting controls: %w", err)
	}
	return n, nil
}

func (r *ControlRepository) Resolve(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Control, error) {
	key = strings.TrimSpace(key)
	var m ControlModel
	err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Where("LOWER(code) = ?", strings.ToLower(key)).
		First(&m).Error
	if err == nil {
		d := toControlDomain(&m)
		return &d, nil
	}
	id, perr := uuid.Parse(key)
	if perr != nil {
		return nil, translate(err, fmt.Sprintf("resolving control %q", key))
	}
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("resolving control %q", key))
	}
	d := toControlDomain(&m)
	return &d, nil
}

func (r *ControlRepository) Search(ctx context.Context, tenantID uuid.UUID, query string, limit int) ([]domain.Control, error) {
	q := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Order("code ASC").
		Limit(clampLimit(limit))
	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(code) LIKE ?)", like, like, like)
	}

	var models []ControlModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("searching controls: %w", err)
	}
	out := make([]domain.Control, len(models))
	for i := range models {
		out[i] = toControlDomain(&models[i])
	}
	return out, nil
}

// Link relies on idx_risk_control_pair; ON CONFLICT DO NOTHING turns a
// duplicate into a zero-row insert instead of an error.
func (r *ControlRepository) Link(ctx context.Context, link *domain.RiskControlLink) (bool, error) {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	m := RiskControlLinkModel{
		ID:        link.ID,
		TenantID:  link.TenantID,
		RiskID:    link.RiskID,
		ControlID: link.ControlID,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "risk_id"}, {Name: "control_id"}},
		DoNothing: true,
	}).Create(&m)
	if res.Error != nil {
		return false, fmt.Errorf("linking risk to control: %w", res.Error)
	}
	link.CreatedAt = m.CreatedAt
	return res.RowsAffected == 1, nil
}

func (r *ControlRepository) LinkedEffectiveness(ctx context.Context, tenantID, riskID uuid.UUID) ([]int, error) {
	var eff []int
	err := r.db.WithContext(ctx).Table("risk_control_links AS l").
		Joins("JOIN controls c ON c.id = l.control_id").
		Where("l.tenant_id = ? AND l.risk_id = ?", tenantID, riskID).
		Pluck("c.effectiveness", &eff).Error
	if err != nil {
		return nil, fmt.Errorf("loading linked effectiveness: %w", err)
	}
	return eff, nil
}

func (r *ControlRepository) CountLinks(ctx context.Context, tenantID, riskID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&RiskControlLinkModel{}).
		Scopes(TenantScope(tenantID)).
		Where("risk_id = ?", riskID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting links: %w", err)
	}
	return n, nil
}
