package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/grcpilot/internal/approval"
	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/mcpserver"
	"github.com/jkaninda/grcpilot/internal/tools/reader"
)

var mcpUser string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the read-only tools over MCP on stdio",
	Long: `Serves the read-only tools to an MCP client over stdin/stdout, scoped to
the tenant of --user. Users without a tenant see sample data. Write tools are
never exposed here; they are only proposed through the conversation API.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, logger, store, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeStore(store, logger)

		tenancy := approval.NewTenancy(store, domain.Role(cfg.Security.CreatorRole()), cfg.Metering.FreeTierLimit(), logger)
		var tenantID *uuid.UUID
		if mcpUser != "" {
			m, err := tenancy.Lookup(ctx, mcpUser)
			if err != nil {
				return err
			}
			if m != nil {
				tid := m.TenantID
				tenantID = &tid
			}
		}

		exec := reader.NewExecutor(reader.FromStore(store), logger, reader.WithTimeout(cfg.Agent.ReadTimeout()))
		srv, err := mcpserver.New(exec, tenantID, version, logger)
		if err != nil {
			return err
		}
		return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpUser, "user", "", "user whose tenant data is served")
}
