// Package security implements default-deny role-based access control for
// approved actions. Roles come from tenant memberships.
package security

import (
	"errors"
)

// Sentinel errors for security enforcement.
var (
	ErrForbidden = errors.New("forbidden")
)

// Permissions checked before an approved action runs.
const (
	PermApproveActions     = "actions:approve"
	PermManageIntegrations = "integrations:manage"
	PermManageMembers      = "members:manage"
	PermRead               = "records:read"
)

// Role defines a named set of permissions.
type Role struct {
	Name        string   `json:"name" yaml:"name"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// DefaultRoles returns the built-in role table. Owners and admins may manage
// integrations; members may approve ordinary writes; viewers only read.
func DefaultRoles() map[string]Role {
	return map[string]Role{
		"owner": {Name: "owner", Permissions: []string{
			PermRead, PermApproveActions, PermManageIntegrations, PermManageMembers,
		}},
		"admin": {Name: "admin", Permissions: []string{
			PermRead, PermApproveActions, PermManageIntegrations,
		}},
		"member": {Name: "member", Permissions: []string{
			PermRead, PermApproveActions,
		}},
		"viewer": {Name: "viewer", Permissions: []string{PermRead}},
	}
}
