package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
)

func seeded(t *testing.T) (*Repository, domain.Profile, []domain.Pokemon) {
	t.Helper()
	ctx := context.Background()
	repo := New()
	profile := domain.Profile{Name: "Ash"}
	require.NoError(t, repo.CreateProfile(ctx, &profile))
	n, err := repo.InsertMissingPokemon(ctx, []domain.Pokemon{
		{Name: "charmander", PokedexNumber: 4},
		{Name: "pikachu", PokedexNumber: 25},
		{Name: "bulbasaur", PokedexNumber: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	catalog, err := repo.ListPokemon(ctx)
	require.NoError(t, err)
	return repo, profile, catalog
}

func TestInsertMissingPokemonIsIdempotent(t *testing.T) {
	repo, _, catalog := seeded(t)
	require.Equal(t, []int{1, 4, 25}, []int{catalog[0].PokedexNumber, catalog[1].PokedexNumber, catalog[2].PokedexNumber})

	n, err := repo.InsertMissingPokemon(context.Background(), []domain.Pokemon{
		{Name: "pikachu", PokedexNumber: 25},
		{Name: "squirtle", PokedexNumber: 7},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	all, err := repo.ListPokemon(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestCreateTeamEnforcesConstraints(t *testing.T) {
	ctx := context.Background()
	repo, profile, catalog := seeded(t)

	team := domain.Team{Name: "Team A", ProfileID: profile.ID}
	require.NoError(t, repo.CreateTeam(ctx, &team))
	require.NotEmpty(t, team.ID)

	dup := domain.Team{Name: "  team a ", ProfileID: profile.ID}
	require.ErrorIs(t, repo.CreateTeam(ctx, &dup), repository.ErrConflict)

	orphan := domain.Team{Name: "x", ProfileID: "missing"}
	require.ErrorIs(t, repo.CreateTeam(ctx, &orphan), repository.ErrNotFound)

	member := domain.TeamMember{TeamID: team.ID, PokemonID: catalog[0].ID}
	require.NoError(t, repo.AddMember(ctx, &member))
	again := domain.TeamMember{TeamID: team.ID, PokemonID: catalog[0].ID}
	require.ErrorIs(t, repo.AddMember(ctx, &again), repository.ErrConflict)
	unknown := domain.TeamMember{TeamID: team.ID, PokemonID: "nope"}
	require.ErrorIs(t, repo.AddMember(ctx, &unknown), repository.ErrNotFound)
}

func TestCreateTeamWithMembersRollsBack(t *testing.T) {
	ctx := context.Background()
	repo, profile, catalog := seeded(t)

	team := domain.Team{Name: "Atomic", ProfileID: profile.ID}
	members := []domain.TeamMember{{PokemonID: catalog[0].ID}, {PokemonID: "missing"}}
	require.ErrorIs(t, repo.CreateTeamWithMembers(ctx, &team, members), repository.ErrNotFound)

	teams, err := repo.ListTeamsByProfile(ctx, profile.ID)
	require.NoError(t, err)
	require.Empty(t, teams)

	team = domain.Team{Name: "Atomic", ProfileID: profile.ID}
	members = []domain.TeamMember{{PokemonID: catalog[2].ID}, {PokemonID: catalog[0].ID}}
	require.NoError(t, repo.CreateTeamWithMembers(ctx, &team, members))

	got, err := repo.GetTeamByID(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, got.Members, 2)
	require.Equal(t, "bulbasaur", got.Members[0].Pokemon.Name)
	require.Equal(t, "pikachu", got.Members[1].Pokemon.Name)
}

func TestDeleteProfileCascades(t *testing.T) {
	ctx := context.Background()
	repo, profile, catalog := seeded(t)

	team := domain.Team{Name: "Gone", ProfileID: profile.ID}
	require.NoError(t, repo.CreateTeamWithMembers(ctx, &team, []domain.TeamMember{{PokemonID: catalog[1].ID}}))
	other := domain.Team{Name: "Also Gone", ProfileID: profile.ID}
	require.NoError(t, repo.CreateTeamWithMembers(ctx, &other, []domain.TeamMember{{PokemonID: catalog[2].ID}}))
	removed, err := repo.DeleteProfile(ctx, profile.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{team.ID, other.ID}, removed)

	_, err = repo.GetTeamByID(ctx, team.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.CountMembers(ctx, team.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.DeleteProfile(ctx, profile.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListTopTeamsOrdering(t *testing.T) {
	ctx := context.Background()
	repo, profile, _ := seeded(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"old", "mid", "new"} {
		team := domain.Team{Name: name, ProfileID: profile.ID, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, repo.CreateTeam(ctx, &team))
		if name == "old" {
			require.NoError(t, repo.IncrementTeamSelection(ctx, team.ID))
		}
	}

	top, err := repo.ListTopTeams(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "old", top[0].Name)
	require.Equal(t, 1, top[0].SelectedCount)
	require.Equal(t, "Ash", top[0].ProfileName)
	require.Equal(t, "new", top[1].Name)
}

func TestRenameAndRemoveMember(t *testing.T) {
	ctx := context.Background()
	repo, profile, catalog := seeded(t)

	a := domain.Team{Name: "A", ProfileID: profile.ID}
	b := domain.Team{Name: "B", ProfileID: profile.ID}
	require.NoError(t, repo.CreateTeamWithMembers(ctx, &a, []domain.TeamMember{{PokemonID: catalog[0].ID}, {PokemonID: catalog[1].ID}}))
	require.NoError(t, repo.CreateTeam(ctx, &b))

	require.ErrorIs(t, repo.RenameTeam(ctx, b.ID, " a"), repository.ErrConflict)
	require.NoError(t, repo.RenameTeam(ctx, a.ID, "a"))
	require.ErrorIs(t, repo.RenameTeam(ctx, "missing", "z"), repository.ErrNotFound)

	require.NoError(t, repo.RemoveMember(ctx, a.ID, catalog[0].ID))
	require.ErrorIs(t, repo.RemoveMember(ctx, a.ID, catalog[0].ID), repository.ErrNotFound)
	n, err := repo.CountMembers(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReturnedValuesAreDetached(t *testing.T) {
	ctx := context.Background()
	repo, profile, catalog := seeded(t)

	team := domain.Team{Name: "Snapshot", ProfileID: profile.ID}
	require.NoError(t, repo.CreateTeamWithMembers(ctx, &team, []domain.TeamMember{{PokemonID: catalog[0].ID}}))

	got, err := repo.GetTeamByID(ctx, team.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	got.Members[0].Pokemon.Name = "mutated"

	again, err := repo.GetTeamByID(ctx, team.ID)
	require.NoError(t, err)
	require.Equal(t, "Snapshot", again.Name)
	require.Equal(t, "bulbasaur", again.Members[0].Pokemon.Name)
}

func TestSelectionCounters(t *testing.T) {
	ctx := context.Background()
	repo, profile, catalog := seeded(t)

	require.NoError(t, repo.IncrementProfileSelection(ctx, profile.ID))
	require.NoError(t, repo.IncrementPokemonSelection(ctx, catalog[0].ID))
	require.ErrorIs(t, repo.IncrementProfileSelection(ctx, "missing"), repository.ErrNotFound)
	require.ErrorIs(t, repo.IncrementPokemonSelection(ctx, "missing"), repository.ErrNotFound)

	p, err := repo.GetProfileByID(ctx, profile.ID)
	require.NoError(t, err)
	require.Equal(t, 1, p.SelectedCount)

	found, err := repo.GetPokemonByIDs(ctx, []string{catalog[0].ID, catalog[0].ID, "missing"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, 1, found[0].SelectedCount)
}
