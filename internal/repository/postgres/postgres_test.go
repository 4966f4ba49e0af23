package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
)

func TestMapError(t *testing.T) {
	plain := errors.New("connection reset")
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, repository.ErrNotFound},
		{"foreign key", &pgconn.PgError{Code: "23503"}, repository.ErrNotFound},
		{"unique", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"}), repository.ErrConflict},
		{"check", &pgconn.PgError{Code: "23514"}, repository.ErrInvalidArgument},
		{"bad text", &pgconn.PgError{Code: "22P02"}, repository.ErrInvalidArgument},
		{"other", plain, plain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, mapError(tc.in), tc.want)
		})
	}
	require.NoError(t, mapError(nil))
}

func TestValidID(t *testing.T) {
	require.True(t, validID("8f14e45f-ceea-4e2b-9c1a-1f0b1c2d3e4f"))
	require.False(t, validID("pikachu"))
	require.False(t, validID(""))
}

// TestRepositoryAgainstDatabase runs when TEST_DATABASE_URL points at a
// migrated, disposable database.
func TestRepositoryAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	repo := New(pool)

	profile := domain.Profile{Name: "Integration"}
	require.NoError(t, repo.CreateProfile(ctx, &profile))
	defer func() { _, _ = repo.DeleteProfile(ctx, profile.ID) }()

	_, err = repo.InsertMissingPokemon(ctx, []domain.Pokemon{{Name: "pikachu", PokedexNumber: 25}})
	require.NoError(t, err)
	catalog, err := repo.ListPokemon(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, catalog)

	team := domain.Team{Name: "Squad", ProfileID: profile.ID}
	require.NoError(t, repo.CreateTeamWithMembers(ctx, &team, []domain.TeamMember{{PokemonID: catalog[0].ID}}))

	dup := domain.Team{Name: " squad ", ProfileID: profile.ID}
	require.ErrorIs(t, repo.CreateTeam(ctx, &dup), repository.ErrConflict)

	got, err := repo.GetTeamByID(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)

	found, err := repo.FindTeamsByNormalizedName(ctx, profile.ID, "squad")
	require.NoError(t, err)
	require.Len(t, found, 1)
}
