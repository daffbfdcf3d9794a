// Package cli defines the cobra command tree for fieldsales-server.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command. Configuration comes from the
// environment (and .env, loaded by main).
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldsales-server",
		Short:         "Field sales backend",
		Long:          "REST backend for field sales representatives: visits, companies, calls and activity reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newCreateAdminCmd(),
		newJobsCmd(),
	)

	return root
}
