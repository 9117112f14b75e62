package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/grcpilot/internal/approval"
	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/identity"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, logger, store, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore(store, logger)
		logger.Info("schema migrated", slog.String("storage", store.Driver()))
		return nil
	},
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var (
	provisionUser string
	provisionName string
)

var tenantProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create a tenant for a user (no-op when the user already has one)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, store, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore(store, logger)

		tenancy := approval.NewTenancy(store, domain.Role(cfg.Security.CreatorRole()), cfg.Metering.FreeTierLimit(), logger)
		m, created, err := tenancy.Ensure(cmd.Context(), identity.Identity{UserID: provisionUser, Name: provisionName})
		if err != nil {
			return err
		}
		state := "existing"
		if created {
			state = "created"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s tenant %s (user %s, role %s)\n", state, m.TenantID, m.UserID, m.Role)
		return nil
	},
}

var (
	credTenant   string
	credProvider string
	credAPIKey   string
)

var tenantSetCredentialCmd = &cobra.Command{
	Use:   "set-credential",
	Short: "Store a tenant's own model API key (its writes are then not metered)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, err := uuid.Parse(credTenant)
		if err != nil {
			return fmt.Errorf("invalid --tenant: %w", err)
		}
		key := credAPIKey
		if key == "" {
			key = os.Getenv("GRCPILOT_TENANT_API_KEY")
		}
		if key == "" {
			return fmt.Errorf("--api-key or GRCPILOT_TENANT_API_KEY is required")
		}

		_, logger, store, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore(store, logger)

		if _, err := store.Tenants().Get(cmd.Context(), tenantID); err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		if err := store.Tenants().SetCredential(cmd.Context(), &domain.Credential{
			TenantID: tenantID,
			Provider: credProvider,
			APIKey:   key,
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "credential stored for tenant %s (%s)\n", tenantID, credProvider)
		return nil
	},
}

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage tenant members",
}

var (
	memberTenant string
	memberUser   string
	memberRole   string
)

var memberAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user to an existing tenant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, err := uuid.Parse(memberTenant)
		if err != nil {
			return fmt.Errorf("invalid --tenant: %w", err)
		}
		role, err := parseRole(memberRole)
		if err != nil {
			return err
		}

		_, logger, store, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore(store, logger)

		m, err := store.Tenants().AddMember(cmd.Context(), tenantID, memberUser, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s to tenant %s as %s\n", m.UserID, m.TenantID, m.Role)
		return nil
	},
}

func parseRole(s string) (domain.Role, error) {
	switch r := domain.Role(strings.ToLower(s)); r {
	case domain.RoleOwner, domain.RoleAdmin, domain.RoleMember, domain.RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q (use owner, admin, member or viewer)", s)
	}
}

func init() {
	tenantProvisionCmd.Flags().StringVar(&provisionUser, "user", "", "user ID")
	tenantProvisionCmd.Flags().StringVar(&provisionName, "name", "", "tenant display name")
	_ = tenantProvisionCmd.MarkFlagRequired("user")

	tenantSetCredentialCmd.Flags().StringVar(&credTenant, "tenant", "", "tenant ID")
	tenantSetCredentialCmd.Flags().StringVar(&credProvider, "provider", "anthropic", "model provider")
	tenantSetCredentialCmd.Flags().StringVar(&credAPIKey, "api-key", "", "API key (default: $GRCPILOT_TENANT_API_KEY)")
	_ = tenantSetCredentialCmd.MarkFlagRequired("tenant")

	tenantCmd.AddCommand(tenantProvisionCmd, tenantSetCredentialCmd)

	memberAddCmd.Flags().StringVar(&memberTenant, "tenant", "", "tenant ID")
	memberAddCmd.Flags().StringVar(&memberUser, "user", "", "user ID")
	memberAddCmd.Flags().StringVar(&memberRole, "role", string(domain.RoleMember), "owner, admin, member or viewer")
	_ = memberAddCmd.MarkFlagRequired("tenant")
	_ = memberAddCmd.MarkFlagRequired("user")

	memberCmd.AddCommand(memberAddCmd)
}
