// Package commands implements the agentloom CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "agentloom",
		Short:         "Deploy automation agents from plain language descriptions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("config", "./agentloom.yaml", "path to the config file")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newConnectCmd())

	return root.Execute()
}
