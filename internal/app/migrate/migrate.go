package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/splax/teambuilder/db"
)

const embeddedDir = "migrations"

// Runner wraps database migration capabilities.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	dir  string
	fsys fs.FS
	log  *slog.Logger
}

// New returns a migration runner backed by goose. Migrations are read from
// migrationsDir when it exists and from the copy embedded in the binary
// otherwise.
func New(pool *pgxpool.Pool, dsn, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if log == nil {
		log = slog.Default()
	}

	fsys, dir, err := source(migrationsDir)
	if err != nil {
		return Runner{}, err
	}
	log.Debug("migration source", "dir", dir, "embedded", fsys != nil)
	return Runner{pool: pool, dsn: dsn, dir: dir, fsys: fsys, log: log}, nil
}

// source picks the migration location. A nil fs.FS means the OS filesystem.
func source(migrationsDir string) (fs.FS, string, error) {
	if migrationsDir != "" {
		info, err := os.Stat(migrationsDir)
		if err == nil && info.IsDir() {
			return nil, migrationsDir, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("locate migrations dir: %w", err)
		}
	}
	if _, err := fs.Stat(db.Migrations, embeddedDir); err != nil {
		return nil, "", fmt.Errorf("locate embedded migrations: %w", err)
	}
	return db.Migrations, embeddedDir, nil
}

func (r Runner) configure() error {
	goose.SetBaseFS(r.fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withDB(func(conn *sql.DB) error {
		if err := r.configure(); err != nil {
			return err
		}

		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		r.log.Info("applying migrations", "dir", r.dir)
		if err := goose.UpContext(runCtx, conn, r.dir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		r.log.Info("migrations applied")
		return nil
	})
}

// Status reports applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.withDB(func(conn *sql.DB) error {
		if err := r.configure(); err != nil {
			return err
		}

		r.log.Info("migration status", "dir", r.dir)
		if err := goose.StatusContext(ctx, conn, r.dir); err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		return nil
	})
}

// Down rolls back migrations either to the previous version or a specific target version.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withDB(func(conn *sql.DB) error {
		if err := r.configure(); err != nil {
			return err
		}

		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if err := goose.DownToContext(runCtx, conn, r.dir, targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
		} else {
			r.log.Info("rolling back latest migration")
			if err := goose.DownContext(runCtx, conn, r.dir); err != nil {
				return fmt.Errorf("rollback latest migration: %w", err)
			}
		}

		r.log.Info("rollback complete")
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r Runner) withDB(fn func(*sql.DB) error) error {
	conn, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}

	return fn(conn)
}
