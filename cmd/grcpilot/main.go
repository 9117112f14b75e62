// grcpilot is a governance, risk and compliance assistant whose mutations
// only happen after a person approves them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "grcpilot",
	Short: "grcpilot is a GRC assistant with approval-gated writes.",
	Long: `grcpilot answers questions about a tenant's risks, controls, frameworks and
integrations, and proposes changes to them. Proposed changes are stored as
pending actions and run only when a user approves them.`,
	RunE:          runServe, // Default to serve.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $GRCPILOT_CONFIG or ~/.grcpilot/config.yaml)")
	rootCmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	rootCmd.AddCommand(serveCmd, migrateCmd, tenantCmd, memberCmd, mcpCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
