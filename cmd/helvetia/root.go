package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/app/migrate"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/config"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "helvetia",
		Short:         "Helvetia control plane",
		Long:          "Runs the deployment control plane API, database migrations and operator tasks.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCredentialsCmd())
	return cmd
}

// env bundles what every subcommand needs.
type env struct {
	cfg config.APIConfig
	log *slog.Logger
}

func loadEnv(component string) env {
	cfg := config.LoadAPIConfig()
	return env{cfg: cfg, log: logger.New(component, logger.ParseLevel(cfg.LogLevel))}
}

func openDatabase(ctx context.Context, e env) (*pgxpool.Pool, migrate.Runner, error) {
	pool, err := pgxpool.New(ctx, e.cfg.DatabaseURL)
	if err != nil {
		return nil, migrate.Runner{}, fmt.Errorf("connect to database: %w", err)
	}
	runner, err := migrate.New(pool, e.cfg.DatabaseURL, e.log)
	if err != nil {
		pool.Close()
		return nil, migrate.Runner{}, fmt.Errorf("configure migrations: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := runner.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, migrate.Runner{}, fmt.Errorf("database ping: %w", err)
	}
	return pool, runner, nil
}
