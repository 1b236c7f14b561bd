package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scs-server",
	Short: "Shared context server — MCP coordination and memory engine for agent fleets",
}

// Execute runs the root command, dispatching to whichever subcommand the
// operator invoked.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(migrateCmd)
}
