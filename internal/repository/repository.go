package repository

import (
	"context"

	"github.com/splax/teambuilder/internal/domain"
)

// ProfileRepository persists profiles.
type ProfileRepository interface {
	CreateProfile(ctx context.Context, profile *domain.Profile) error
	GetProfileByID(ctx context.Context, id string) (*domain.Profile, error)
	// ListProfiles returns every profile with its teams and their members.
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	// DeleteProfile removes the profile with its teams and memberships and
	// returns the ids of the teams it removed.
	DeleteProfile(ctx context.Context, id string) ([]string, error)
	IncrementProfileSelection(ctx context.Context, id string) error
}

// PokemonRepository reads and seeds the reference catalog.
type PokemonRepository interface {
	ListPokemon(ctx context.Context) ([]domain.Pokemon, error)
	// GetPokemonByIDs returns the subset of ids that exist, in pokédex order.
	GetPokemonByIDs(ctx context.Context, ids []string) ([]domain.Pokemon, error)
	// InsertMissingPokemon stores entries whose pokédex number is not yet
	// present and reports how many were inserted.
	InsertMissingPokemon(ctx context.Context, entries []domain.Pokemon) (int, error)
	IncrementPokemonSelection(ctx context.Context, id string) error
}

// TeamRepository manages teams and their memberships.
type TeamRepository interface {
	// FindTeamsByNormalizedName returns the profile's teams whose trimmed,
	// lower-cased name equals normalized.
	FindTeamsByNormalizedName(ctx context.Context, profileID, normalized string) ([]domain.Team, error)
	CreateTeam(ctx context.Context, team *domain.Team) error
	AddMember(ctx context.Context, member *domain.TeamMember) error
	// CreateTeamWithMembers writes the team and every membership in one
	// transaction.
	CreateTeamWithMembers(ctx context.Context, team *domain.Team, members []domain.TeamMember) error
	// GetTeamByID returns the team with members and their Pokémon resolved.
	GetTeamByID(ctx context.Context, id string) (*domain.Team, error)
	ListTeamsByProfile(ctx context.Context, profileID string) ([]domain.Team, error)
	ListTopTeams(ctx context.Context, limit int) ([]domain.TeamSummary, error)
	RenameTeam(ctx context.Context, id, name string) error
	DeleteTeam(ctx context.Context, id string) error
	RemoveMember(ctx context.Context, teamID, pokemonID string) error
	CountMembers(ctx context.Context, teamID string) (int, error)
	IncrementTeamSelection(ctx context.Context, id string) error
}

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the full persistence surface used by the API process.
type Store interface {
	ProfileRepository
	PokemonRepository
	TeamRepository
	Pinger
}
