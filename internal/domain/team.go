package domain

import (
	"strings"
	"time"
)

// MaxTeamSize is the number of Pokémon a team may hold.
const MaxTeamSize = 6

// Team is a named group of Pokémon owned by one profile.
type Team struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ProfileID     string       `json:"profileId"`
	CreatedAt     time.Time    `json:"createdAt"`
	SelectedCount int          `json:"selectedCount"`
	Members       []TeamMember `json:"teamPokemons"`
}

// TeamMember links a team to one Pokémon. A Pokémon appears at most once per team.
type TeamMember struct {
	ID        string   `json:"id"`
	TeamID    string   `json:"teamId"`
	PokemonID string   `json:"pokemonId"`
	Pokemon   *Pokemon `json:"pokemon,omitempty"`
}

// TeamSummary is a team row joined with its owner, used for popularity listings.
type TeamSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SelectedCount int       `json:"selectedCount"`
	CreatedAt     time.Time `json:"createdAt"`
	ProfileID     string    `json:"profileId"`
	ProfileName   string    `json:"profileName"`
}

// NormalizeTeamName folds a team name for duplicate detection.
func NormalizeTeamName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PokemonIDs lists the member Pokémon identifiers in membership order.
func (t Team) PokemonIDs() []string {
	ids := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		ids = append(ids, m.PokemonID)
	}
	return ids
}
