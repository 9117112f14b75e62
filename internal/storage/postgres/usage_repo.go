package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
)

// UsageRepository implements storage.UsageStore.
// Counter changes are single conditional UPDATEs so concurrent approvals
// cannot push write_count past write_limit.
type UsageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a UsageRepository.
func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Get(ctx context.Context, tenantID uuid.UUID) (domain.Usage, error) {
	var m UsageModel
	err := r.db.WithContext(ctx).First(&m, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = UsageModel{TenantID: tenantID, WriteLimit: storage.DefaultWriteLimit}
		if err := r.db.WithContext(ctx).Create(&m).Error; err != nil && !isUniqueViolation(err) {
			return domain.Usage{}, fmt.Errorf("creating usage: %w", err)
		}
	} else if err != nil {
		return domain.Usage{}, fmt.Errorf("getting usage: %w", err)
	}

	var creds int64
	if err := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("tenant_id = ?", tenantID).
		Count(&creds).Error; err != nil {
		return domain.Usage{}, fmt.Errorf("checking credential: %w", err)
	}

	return domain.Usage{
		TenantID:   m.TenantID,
		WriteCount: m.WriteCount,
		WriteLimit: m.WriteLimit,
		Bypassed:   creds > 0,
	}, nil
}

func (r *UsageRepository) Increment(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&UsageModel{}).
		Where("tenant_id = ? AND write_count < write_limit", tenantID).
		Updates(map[string]any{"write_count": gorm.Expr("write_count + 1")})
	if res.Error != nil {
		return false, fmt.Errorf("incrementing usage: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *UsageRepository) Decrement(ctx context.Context, tenantID uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&UsageModel{}).
		Where("tenant_id = ? AND write_count > 0", tenantID).
		Updates(map[string]any{"write_count": gorm.Expr("write_count - 1")}).Error
	if err != nil {
		return fmt.Errorf("decrementing usage: %w", err)
	}
	return nil
}

func (r *UsageRepository) SetLimit(ctx context.Context, tenantID uuid.UUID, limit int) error {
	res := r.db.WithContext(ctx).Model(&UsageModel{}).
		Where("tenant_id = ?", tenantID).
		Update("write_limit", limit)
	if res.Error != nil {
		return fmt.Errorf("setting write limit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("setting write limit: %w", storage.ErrNotFound)
	}
	return nil
}
