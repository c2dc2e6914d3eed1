// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/starhold/starhold/internal/config"
	"github.com/starhold/starhold/internal/connector"
	"github.com/starhold/starhold/internal/docstore"
	"github.com/starhold/starhold/internal/docstore/memory"
	"github.com/starhold/starhold/internal/docstore/postgres"
	"github.com/starhold/starhold/internal/logging"
	"github.com/starhold/starhold/internal/observability"
	"github.com/starhold/starhold/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the data service",
		Long: `Start the data service: connect to the document store, establish the
secondary-index views, seed the id counters and expose health and metrics
endpoints. Startup fails hard if the views cannot be established.`,
		RunE: runServe,
	}

	// Flag names mirror configuration keys; explicitly set flags override
	// the config file.
	cmd.Flags().String("store.engine", "memory", "store engine (memory or postgres)")
	cmd.Flags().String("store.database_url", "", "store connection URL for the postgres engine")
	cmd.Flags().String("metrics.addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log.format", "json", "log format (json or text)")
	cmd.Flags().String("log.level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("starhold", version, cfg.Log.Format, cfg.Log.Level)
	logger := slog.Default().With("run_id", ulid.Make().String())

	logger.Info("starting data service",
		"engine", cfg.Store.Engine,
		"admin_bucket", cfg.Store.AdminBucket,
		"game_bucket", cfg.Store.GameBucket,
	)

	views := connector.ViewConfig{
		DesignDoc:          cfg.Store.DesignDoc,
		UsernameView:       cfg.Store.UsernameView,
		AuthTokenView:      cfg.Store.AuthTokenView,
		CharacterNamesView: cfg.Store.CharacterNamesView,
	}
	mappers := connector.Mappers(views)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var admin, game docstore.Bucket
	switch cfg.Store.Engine {
	case "postgres":
		engine, err := postgres.New(ctx, cfg.PostgresURL(), mappers)
		if err != nil {
			return err
		}
		defer engine.Close()
		admin = engine.Bucket(cfg.Store.AdminBucket)
		game = engine.Bucket(cfg.Store.GameBucket)
		logger.Info("connected to store", "url", cfg.PostgresURL())
	default:
		admin = memory.NewBucket(cfg.Store.AdminBucket, mappers)
		game = memory.NewBucket(cfg.Store.GameBucket, nil)
	}

	conn := connector.New(admin, game, nil, views, logger)
	if err := conn.Start(ctx); err != nil {
		// The service cannot serve correct authentication without its
		// views; there is no degraded-mode startup.
		errutil.LogError(logger, "failed to establish index views", err)
		return err
	}
	logger.Info("index views established, counters seeded")

	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, conn.Ready)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Data service started")
	logger.Info("data service ready")

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels the context when the server reports an error,
// so a dead endpoint takes the process down for a clean restart. It exits
// when an error arrives, the channel closes, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
