package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
)

// TenantRepository implements storage.TenantStore.
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a TenantRepository.
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Get(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	var m TenantModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", tenantID).Error; err != nil {
		return nil, translate(err, "getting tenant")
	}
	return toTenantDomain(&m), nil
}

func (r *TenantRepository) FindMembership(ctx context.Context, userID string) (*domain.Membership, error) {
	var m MembershipModel
	if err := r.db.WithContext(ctx).First(&m, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err, "finding membership")
	}
	return toMembershipDomain(&m), nil
}

// Provision creates tenant, usage row and membership atomically.
// A concurrent provision for the same user loses on idx_memberships_user,
// rolls back its tenant, and returns the winner's membership.
func (r *TenantRepository) Provision(ctx context.Context, req storage.ProvisionRequest) (*domain.Membership, bool, error) {
	if existing, err := r.FindMembership(ctx, req.UserID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	role := req.Role
	if role == "" {
		role = domain.RoleOwner
	}
	name := req.TenantName
	if name == "" {
		name = req.UserID
	}

	tenant := TenantModel{ID: uuid.New(), Name: name}
	membership := MembershipModel{
		ID:       uuid.New(),
		TenantID: tenant.ID,
		UserID:   req.UserID,
		Role:     string(role),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tenant).Error; err != nil {
			return fmt.Errorf("creating tenant: %w", err)
		}
		usage := UsageModel{TenantID: tenant.ID, WriteLimit: req.WriteLimit}
		if usage.WriteLimit < 0 {
			usage.WriteLimit = storage.DefaultWriteLimit
		}
		if err := tx.Create(&usage).Error; err != nil {
			return fmt.Errorf("creating usage: %w", err)
		}
		if err := tx.Create(&membership).Error; err != nil {
			return fmt.Errorf("creating membership: %w", err)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			winner, ferr := r.FindMembership(ctx, req.UserID)
			if ferr != nil {
				return nil, false, ferr
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("provisioning tenant: %w", err)
	}
	return toMembershipDomain(&membership), true, nil
}

func (r *TenantRepository) AddMember(ctx context.Context, tenantID uuid.UUID, userID string, role domain.Role) (*domain.Membership, error) {
	if role == "" {
		role = domain.RoleMember
	}
	m := MembershipModel{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   userID,
		Role:     string(role),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, translate(err, "adding member")
	}
	return toMembershipDomain(&m), nil
}

func (r *TenantRepository) SetCredential(ctx context.Context, cred *domain.Credential) error {
	m := CredentialModel{
		TenantID: cred.TenantID,
		Provider: cred.Provider,
		APIKey:   cred.APIKey,
	}
	if m.Provider == "" {
		m.Provider = "anthropic"
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "api_key", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("setting credential: %w", err)
	}
	return nil
}

func (r *TenantRepository) Credential(ctx context.Context, tenantID uuid.UUID) (*domain.Credential, error) {
	var m CredentialModel
	if err := r.db.WithContext(ctx).First(&m, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, translate(err, "getting credential")
	}
	return &domain.Credential{
		TenantID:  m.TenantID,
		Provider:  m.Provider,
		APIKey:    m.APIKey,
		CreatedAt: m.CreatedAt,
	}, nil
}
