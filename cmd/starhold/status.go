// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/starhold/starhold/internal/config"
	"github.com/starhold/starhold/internal/docstore/postgres"
)

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the store schema status",
		Long:  `Show the configured store engine and, for postgres, the applied migration version.`,
		RunE:  runStatus,
	}

	cmd.Flags().String("store.database_url", "", "store connection URL")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	cmd.Printf("Engine:        %s\n", cfg.Store.Engine)
	cmd.Printf("Admin bucket:  %s\n", cfg.Store.AdminBucket)
	cmd.Printf("Game bucket:   %s\n", cfg.Store.GameBucket)

	if cfg.Store.Engine != "postgres" {
		cmd.Println("Schema:        none (embedded engine)")
		return nil
	}

	migrator, err := postgres.NewMigrator(cfg.PostgresURL())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			cmd.PrintErrln("warning: failed to close migrator:", closeErr)
		}
	}()

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		cmd.Println("Schema:        no migrations applied")
		return nil
	}
	cmd.Printf("Schema:        version %d (dirty: %t)\n", version, dirty)
	return nil
}
