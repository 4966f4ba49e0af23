package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/splax/teambuilder/internal/app/migrate"
	"github.com/splax/teambuilder/internal/cache"
	"github.com/splax/teambuilder/internal/repository/postgres"
	"github.com/splax/teambuilder/internal/service/pokemon"
	"github.com/splax/teambuilder/pkg/config"
	"github.com/splax/teambuilder/pkg/logger"
)

type options struct {
	timeout time.Duration
	dsn     string
	dir     string
	target  int64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the team builder database schema and catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "command timeout")
	root.PersistentFlags().StringVar(&opts.dsn, "database-url", "", "database URL (default: DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "migrations directory (default: DB_MIGRATIONS_DIR, then the embedded set)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration, or down to --target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, opts, func(ctx context.Context, r migrate.Runner, _ *pgxpool.Pool, _ *slog.Logger) error {
				return r.Down(ctx, opts.target)
			})
		},
	}
	down.Flags().Int64Var(&opts.target, "target", 0, "target version (0 rolls back one step)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, opts, func(ctx context.Context, r migrate.Runner, _ *pgxpool.Pool, _ *slog.Logger) error {
					return r.Ensure(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print applied and pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, opts, func(ctx context.Context, r migrate.Runner, _ *pgxpool.Pool, _ *slog.Logger) error {
					return r.Status(ctx)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "seed",
			Short: "Insert the Gen-1 Pokémon catalog entries that are missing",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, opts, seedCatalog)
			},
		},
	)
	return root
}

func seedCatalog(ctx context.Context, _ migrate.Runner, pool *pgxpool.Pool, log *slog.Logger) error {
	layer := cache.NewLayer(cache.NewLRU[any](cache.Config{}), nil, log)
	inserted, err := pokemon.New(postgres.New(pool), layer, log, 0).SeedGen1(ctx)
	if err != nil {
		return err
	}
	log.Info("catalog seeded", "inserted", inserted)
	return nil
}

// withRunner connects to the database, builds a migration runner and runs fn.
func withRunner(cmd *cobra.Command, opts *options, fn func(context.Context, migrate.Runner, *pgxpool.Pool, *slog.Logger) error) error {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		return err
	}
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))
	dsn := cfg.DatabaseURL
	if opts.dsn != "" {
		dsn = opts.dsn
	}
	dir := cfg.MigrationsDir
	if opts.dir != "" {
		dir = opts.dir
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return err
	}
	defer pool.Close()

	runner, err := migrate.New(pool, dsn, dir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		return err
	}
	if err := fn(ctx, runner, pool, log); err != nil {
		log.Error("migration command failed", "command", cmd.Name(), "error", err)
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	log.Info("migration command completed", "command", cmd.Name())
	return nil
}
