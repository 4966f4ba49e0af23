package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teambuilder/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProfileRepository = (*Repository)(nil)
	_ repository.PokemonRepository = (*Repository)(nil)
	_ repository.TeamRepository    = (*Repository)(nil)
	_ repository.Store             = (*Repository)(nil)
)

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// mapError translates constraint violations into repository errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505":
			return repository.ErrConflict
		case "23514", "22P02", "23502":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

// validID reports whether id can be bound to a uuid column. Ids that cannot
// are treated as absent rather than as malformed queries.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// execAffected runs an update and reports ErrNotFound when no row matched.
func (r *Repository) execAffected(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// IncrementProfileSelection bumps the selection counter.
func (r *Repository) IncrementProfileSelection(ctx context.Context, id string) error {
	if !validID(id) {
		return repository.ErrNotFound
	}
	return r.execAffected(ctx, `UPDATE profiles SET selected_count = selected_count + 1 WHERE id = $1`, id)
}

// IncrementPokemonSelection bumps the selection counter.
func (r *Repository) IncrementPokemonSelection(ctx context.Context, id string) error {
	if !validID(id) {
		return repository.ErrNotFound
	}
	return r.execAffected(ctx, `UPDATE pokemon SET selected_count = selected_count + 1 WHERE id = $1`, id)
}

// IncrementTeamSelection bumps the selection counter.
func (r *Repository) IncrementTeamSelection(ctx context.Context, id string) error {
	if !validID(id) {
		return repository.ErrNotFound
	}
	return r.execAffected(ctx, `UPDATE teams SET selected_count = selected_count + 1 WHERE id = $1`, id)
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func wrapQuery(op string, err error) error {
	if err == nil {
		return nil
	}
	mapped := mapError(err)
	if mapped != err {
		return mapped
	}
	return fmt.Errorf("%s: %w", op, err)
}
