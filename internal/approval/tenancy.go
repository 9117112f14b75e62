package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/identity"
	"github.com/jkaninda/grcpilot/internal/storage"
)

// Tenancy resolves and provisions the tenant of a caller.
type Tenancy struct {
	store      storage.Store
	role       domain.Role
	writeLimit int
	logger     *slog.Logger
}

// NewTenancy creates a Tenancy. New tenants get writeLimit approved writes and
// their creator gets role.
func NewTenancy(store storage.Store, role domain.Role, writeLimit int, logger *slog.Logger) *Tenancy {
	if role == "" {
		role = domain.RoleOwner
	}
	return &Tenancy{store: store, role: role, writeLimit: writeLimit, logger: logger}
}

// Lookup returns the caller's membership, or nil when the caller has no tenant yet.
func (t *Tenancy) Lookup(ctx context.Context, userID string) (*domain.Membership, error) {
	m, err := t.store.Tenants().FindMembership(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up membership: %w", err)
	}
	return m, nil
}

// Ensure returns the caller's membership, provisioning a tenant on first use.
// It is idempotent under concurrency: the unique membership index picks one
// winner and every other caller reads the winner's tenant.
func (t *Tenancy) Ensure(ctx context.Context, id identity.Identity) (*domain.Membership, bool, error) {
	m, created, err := t.store.Tenants().Provision(ctx, storage.ProvisionRequest{
		UserID:     id.UserID,
		TenantName: tenantName(id),
		Role:       t.role,
		WriteLimit: t.writeLimit,
	})
	if err != nil {
		return nil, false, fmt.Errorf("provisioning tenant: %w", err)
	}
	if created {
		t.logger.InfoContext(ctx, "tenant provisioned",
			slog.String("tenant_id", m.TenantID.String()),
			slog.String("user_id", id.UserID),
			slog.Int("write_limit", t.writeLimit),
		)
	}
	return m, created, nil
}

func tenantName(id identity.Identity) string {
	switch {
	case id.Name != "":
		return id.Name + "'s workspace"
	case id.Email != "":
		return id.Email
	default:
		return id.UserID
	}
}
