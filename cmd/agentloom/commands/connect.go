// Package commands – connect.go marks a capability as connected for a
// principal. OAuth token exchange happens outside this tool; connecting
// here records the result so the pipeline's capability check passes.
package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/agentloom/agentloom/pkg/agentloom/capability"
	"github.com/agentloom/agentloom/pkg/agentloom/config"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
)

// newConnectCmd creates the `agentloom connect` command.
func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <principal> <capability>",
		Short: "Mark a capability as connected for a principal",
		Args:  cobra.ExactArgs(2),
		RunE:  runConnect,
	}
	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	principal, capName := args[0], args[1]

	if !slices.Contains(capability.Vocabulary, capName) {
		return fmt.Errorf("unknown capability %q (known: %v)", capName, capability.Vocabulary)
	}

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db, cfg.Database.Driver)
	if err := st.Connect(cmd.Context(), principal, capName); err != nil {
		return err
	}

	fmt.Printf("connected %s for %s\n", capName, principal)
	return nil
}
