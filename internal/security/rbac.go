package security

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jkaninda/grcpilot/internal/domain"
)

// RBACConfig is the full role-based access control configuration.
type RBACConfig struct {
	Roles map[string]Role // role name → definition
}

// RBAC enforces role-based access control with default-deny semantics.
// Safe for concurrent use.
type RBAC struct {
	mu     sync.RWMutex
	roles  map[string]Role
	logger *slog.Logger
}

// NewRBAC creates an RBAC enforcer. An empty role table falls back to DefaultRoles.
func NewRBAC(cfg RBACConfig, logger *slog.Logger) *RBAC {
	roles := cfg.Roles
	if len(roles) == 0 {
		roles = DefaultRoles()
	}
	return &RBAC{roles: roles, logger: logger}
}

// Check returns nil if role explicitly includes permission.
// Default-deny: an unknown role or missing permission is ErrForbidden.
func (r *RBAC) Check(ctx context.Context, userID string, role domain.Role, permission string) error {
	r.mu.RLock()
	def, ok := r.roles[string(role)]
	r.mu.RUnlock()

	if !ok {
		r.logger.WarnContext(ctx, "permission denied: unknown role",
			slog.String("user_id", userID),
			slog.String("role", string(role)),
			slog.String("permission", permission),
		)
		return fmt.Errorf("%w: role %q is not defined", ErrForbidden, role)
	}
	if !slices.Contains(def.Permissions, permission) {
		r.logger.WarnContext(ctx, "permission denied: permission not in role",
			slog.String("user_id", userID),
			slog.String("role", def.Name),
			slog.String("permission", permission),
		)
		return fmt.Errorf("%w: role %q does not include %q", ErrForbidden, def.Name, permission)
	}
	return nil
}

// SetRole creates or replaces a role definition.
func (r *RBAC) SetRole(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}
