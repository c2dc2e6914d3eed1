package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Starhold CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "starhold",
		Short: "Starhold - data-access layer for a multiplayer game platform",
		Long: `Starhold manages persistent accounts, auth sessions, distributed id
counters and secondary-index views over a document store.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
