package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rywrouter/config"
	"rywrouter/pkg/api"
	"rywrouter/pkg/app"
	"rywrouter/pkg/database"
	"rywrouter/pkg/logging"
	"rywrouter/pkg/metrics"
	"rywrouter/pkg/router"
	"rywrouter/pkg/server"
)

// exitConfig is returned to the shell when configuration is rejected.
const exitConfig = 2

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "rywd",
		Short:         "rywd - read-your-writes routing server",
		Long:          `rywd serves the profile and catalog API, sending each caller's reads to the leader for a short window after their own writes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")

	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, config.ErrInvalidConfig) {
			os.Exit(exitConfig)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stderr)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	routing, err := app.OpenRouting(cfg, nil, logger, m)
	if err != nil {
		return err
	}
	defer routing.Close()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	checks := map[string]api.Pinger{
		"cache":    routing.Tracker,
		"database": db,
	}
	dispatcher := router.NewDispatcher[api.Querier](routing.Router, api.PoolProvider(db))
	handler := api.NewHandler(dispatcher, routing.Tracker, checks, logger)

	srv, err := server.New(cfg, server.Deps{
		Handler: handler.Routes(),
		Checks:  checks,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting rywd",
		"window", cfg.Consistency.Window,
		"retention", cfg.Consistency.Retention,
		"cache_backend", cfg.Cache.Backend)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("rywd stopped")
	return nil
}
