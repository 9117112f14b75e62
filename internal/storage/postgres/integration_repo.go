package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
)

// IntegrationRepository implements storage.IntegrationStore.
type IntegrationRepository struct {
	db *gorm.DB
}

// NewIntegrationRepository creates an IntegrationRepository.
func NewIntegrationRepository(db *gorm.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// Upsert keeps a single row per (tenant, provider); reconnecting replaces config and status.
func (r *IntegrationRepository) Upsert(ctx context.Context, i *domain.Integration) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Status == "" {
		i.Status = domain.IntegrationInactive
	}
	m := IntegrationModel{
		ID:        i.ID,
		TenantID:  i.TenantID,
		Provider:  i.Provider,
		Config:    marshalJSONB(i.Config),
		Status:    string(i.Status),
		LastError: i.LastError,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "status", "last_error", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upserting integration %s: %w", i.Provider, err)
	}

	// On conflict the stored row keeps its original id.
	stored, err := r.Get(ctx, i.TenantID, i.Provider)
	if err != nil {
		return err
	}
	*i = *stored
	return nil
}

func (r *IntegrationRepository) Get(ctx context.Context, tenantID uuid.UUID, provider string) (*domain.Integration, error) {
	var m IntegrationModel
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		First(&m, "provider = ?", provider).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("getting %s integration", provider))
	}
	d := toIntegrationDomain(&m)
	return &d, nil
}

func (r *IntegrationRepository) List(ctx context.Context, tenantID uuid.UUID) ([]domain.Integration, error) {
	var models []IntegrationModel
	if err := r.db.WithContext(ctx).Scopes(TenantScope(tenantID)).
		Order("provider ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	return toIntegrationDomains(models), nil
}

func (r *IntegrationRepository) ListActive(ctx context.Context) ([]domain.Integration, error) {
	var models []IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.IntegrationActive)).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing active integrations: %w", err)
	}
	return toIntegrationDomains(models), nil
}

func (r *IntegrationRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.IntegrationStatus, lastError string) error {
	res := r.db.WithContext(ctx).Model(&IntegrationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "last_error": lastError})
	if res.Error != nil {
		return fmt.Errorf("setting integration status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("setting integration status: %w", storage.ErrNotFound)
	}
	return nil
}

func (r *IntegrationRepository) RecordSync(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&IntegrationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_sync_at": at.UTC(), "last_sync_status": status}).Error
	if err != nil {
		return fmt.Errorf("recording integration sync: %w", err)
	}
	return nil
}

func toIntegrationDomains(models []IntegrationModel) []domain.Integration {
	out := make([]domain.Integration, len(models))
	for i := range models {
		out[i] = toIntegrationDomain(&models[i])
	}
	return out
}
