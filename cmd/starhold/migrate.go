// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/starhold/starhold/internal/config"
	"github.com/starhold/starhold/internal/docstore/postgres"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Run all pending schema migrations against the PostgreSQL document store.`,
		RunE:  runMigrate,
	}

	cmd.Flags().String("store.database_url", "", "store connection URL")
	cmd.Flags().Bool("down", false, "roll back all migrations instead of applying them")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Store.Engine != "postgres" {
		return oops.Code("CONFIG_INVALID").
			Errorf("migrations only apply to the postgres engine, store.engine is %q", cfg.Store.Engine)
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

	down, err := cmd.Flags().GetBool("down")
	if err != nil {
		return oops.Wrap(err)
	}

	if down {
		cmd.Println("Rolling back migrations...")
		if err := migrator.Down(); err != nil {
			return err
		}
		cmd.Println("Rollback completed successfully")
		return nil
	}

	cmd.Println("Running migrations...")
	if err := migrator.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
