// Package memory implements the repository ports in process memory. It
// enforces the same keys, uniqueness rules and cascades as the PostgreSQL
// schema so services behave identically against either store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
)

type teamRow struct {
	id            string
	name          string
	profileID     string
	createdAt     time.Time
	selectedCount int
}

// Repository is a mutex-guarded in-memory store.
type Repository struct {
	mu       sync.RWMutex
	now      func() time.Time
	profiles map[string]domain.Profile
	pokemon  map[string]domain.Pokemon
	byNumber map[int]string
	teams    map[string]teamRow
	members  map[string][]domain.TeamMember // team id -> memberships in insert order
}

var _ repository.Store = (*Repository)(nil)

// New returns an empty store.
func New() *Repository {
	return &Repository{
		now:      time.Now,
		profiles: make(map[string]domain.Profile),
		pokemon:  make(map[string]domain.Pokemon),
		byNumber: make(map[int]string),
		teams:    make(map[string]teamRow),
		members:  make(map[string][]domain.TeamMember),
	}
}

// Ping implements repository.Pinger.
func (r *Repository) Ping(context.Context) error { return nil }

// CreateProfile stores a profile. Missing id and timestamp are filled in.
func (r *Repository) CreateProfile(_ context.Context, profile *domain.Profile) error {
	if profile == nil || profile.Name == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if _, exists := r.profiles[profile.ID]; exists {
		return repository.ErrConflict
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = r.now().UTC()
	}
	stored := *profile
	stored.Teams = nil
	r.profiles[profile.ID] = stored
	return nil
}

// GetProfileByID returns the profile without its teams.
func (r *Repository) GetProfileByID(_ context.Context, id string) (*domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

// ListProfiles returns profiles oldest first with their teams.
func (r *Repository) ListProfiles(context.Context) ([]domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		p.Teams = r.teamsOfLocked(p.ID)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteProfile removes the profile with its teams and memberships and
// returns the removed team ids.
func (r *Repository) DeleteProfile(_ context.Context, id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[id]; !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.profiles, id)
	var removed []string
	for teamID, t := range r.teams {
		if t.profileID == id {
			delete(r.teams, teamID)
			delete(r.members, teamID)
			removed = append(removed, teamID)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// IncrementProfileSelection bumps the profile's selection counter.
func (r *Repository) IncrementProfileSelection(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.SelectedCount++
	r.profiles[id] = p
	return nil
}

// ListPokemon returns the catalog in pokédex order.
func (r *Repository) ListPokemon(context.Context) ([]domain.Pokemon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Pokemon, 0, len(r.pokemon))
	for _, p := range r.pokemon {
		out = append(out, p)
	}
	sortPokemon(out)
	return out, nil
}

// GetPokemonByIDs returns the catalog entries among ids that exist.
func (r *Repository) GetPokemonByIDs(_ context.Context, ids []string) ([]domain.Pokemon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	out := make([]domain.Pokemon, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.pokemon[id]; ok {
			out = append(out, p)
		}
	}
	sortPokemon(out)
	return out, nil
}

// InsertMissingPokemon adds entries whose pokédex number is not present.
func (r *Repository) InsertMissingPokemon(_ context.Context, entries []domain.Pokemon) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for _, e := range entries {
		if e.PokedexNumber <= 0 || e.Name == "" {
			return inserted, repository.ErrInvalidArgument
		}
		if _, exists := r.byNumber[e.PokedexNumber]; exists {
			continue
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		r.pokemon[e.ID] = e
		r.byNumber[e.PokedexNumber] = e.ID
		inserted++
	}
	return inserted, nil
}

// IncrementPokemonSelection bumps the Pokémon's selection counter.
func (r *Repository) IncrementPokemonSelection(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pokemon[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.SelectedCount++
	r.pokemon[id] = p
	return nil
}

// FindTeamsByNormalizedName matches the profile's teams by folded name.
func (r *Repository) FindTeamsByNormalizedName(_ context.Context, profileID, normalized string) ([]domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Team
	for _, t := range r.teams {
		if t.profileID == profileID && domain.NormalizeTeamName(t.name) == normalized {
			out = append(out, r.teamLocked(t))
		}
	}
	return out, nil
}

// CreateTeam stores a team without members.
func (r *Repository) CreateTeam(_ context.Context, team *domain.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertTeamLocked(team)
}

// AddMember stores one membership.
func (r *Repository) AddMember(_ context.Context, member *domain.TeamMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertMemberLocked(member)
}

// CreateTeamWithMembers stores the team and its memberships or nothing.
func (r *Repository) CreateTeamWithMembers(_ context.Context, team *domain.Team, members []domain.TeamMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insertTeamLocked(team); err != nil {
		return err
	}
	for i := range members {
		members[i].TeamID = team.ID
		if err := r.insertMemberLocked(&members[i]); err != nil {
			delete(r.teams, team.ID)
			delete(r.members, team.ID)
			return err
		}
	}
	return nil
}

// GetTeamByID returns the team with resolved members.
func (r *Repository) GetTeamByID(_ context.Context, id string) (*domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	team := r.teamLocked(t)
	return &team, nil
}

// ListTeamsByProfile returns the profile's teams oldest first.
func (r *Repository) ListTeamsByProfile(_ context.Context, profileID string) ([]domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.teamsOfLocked(profileID), nil
}

// ListTopTeams ranks teams by selection count, newest first on ties.
func (r *Repository) ListTopTeams(_ context.Context, limit int) ([]domain.TeamSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.TeamSummary, 0, len(r.teams))
	for _, t := range r.teams {
		out = append(out, domain.TeamSummary{
			ID:            t.id,
			Name:          t.name,
			SelectedCount: t.selectedCount,
			CreatedAt:     t.createdAt,
			ProfileID:     t.profileID,
			ProfileName:   r.profiles[t.profileID].Name,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SelectedCount != out[j].SelectedCount {
			return out[i].SelectedCount > out[j].SelectedCount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RenameTeam changes a team's name, keeping names unique per profile.
func (r *Repository) RenameTeam(_ context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[id]
	if !ok {
		return repository.ErrNotFound
	}
	if r.nameTakenLocked(t.profileID, name, id) {
		return repository.ErrConflict
	}
	t.name = name
	r.teams[id] = t
	return nil
}

// DeleteTeam removes the team and its memberships.
func (r *Repository) DeleteTeam(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.teams[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.teams, id)
	delete(r.members, id)
	return nil
}

// RemoveMember deletes one membership.
func (r *Repository) RemoveMember(_ context.Context, teamID, pokemonID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.members[teamID]
	for i, m := range members {
		if m.PokemonID == pokemonID {
			r.members[teamID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// CountMembers returns how many Pokémon the team holds.
func (r *Repository) CountMembers(_ context.Context, teamID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.teams[teamID]; !ok {
		return 0, repository.ErrNotFound
	}
	return len(r.members[teamID]), nil
}

// IncrementTeamSelection bumps the team's selection counter.
func (r *Repository) IncrementTeamSelection(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.selectedCount++
	r.teams[id] = t
	return nil
}

func (r *Repository) insertTeamLocked(team *domain.Team) error {
	if team == nil || team.Name == "" {
		return repository.ErrInvalidArgument
	}
	if _, ok := r.profiles[team.ProfileID]; !ok {
		return repository.ErrNotFound
	}
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	if _, exists := r.teams[team.ID]; exists {
		return repository.ErrConflict
	}
	if r.nameTakenLocked(team.ProfileID, team.Name, "") {
		return repository.ErrConflict
	}
	if team.CreatedAt.IsZero() {
		team.CreatedAt = r.now().UTC()
	}
	r.teams[team.ID] = teamRow{
		id:            team.ID,
		name:          team.Name,
		profileID:     team.ProfileID,
		createdAt:     team.CreatedAt,
		selectedCount: team.SelectedCount,
	}
	return nil
}

func (r *Repository) insertMemberLocked(member *domain.TeamMember) error {
	if member == nil {
		return repository.ErrInvalidArgument
	}
	if _, ok := r.teams[member.TeamID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.pokemon[member.PokemonID]; !ok {
		return repository.ErrNotFound
	}
	for _, m := range r.members[member.TeamID] {
		if m.PokemonID == member.PokemonID {
			return repository.ErrConflict
		}
	}
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	r.members[member.TeamID] = append(r.members[member.TeamID], domain.TeamMember{
		ID:        member.ID,
		TeamID:    member.TeamID,
		PokemonID: member.PokemonID,
	})
	return nil
}

func (r *Repository) nameTakenLocked(profileID, name, exceptID string) bool {
	normalized := domain.NormalizeTeamName(name)
	for _, t := range r.teams {
		if t.id != exceptID && t.profileID == profileID && domain.NormalizeTeamName(t.name) == normalized {
			return true
		}
	}
	return false
}

func (r *Repository) teamsOfLocked(profileID string) []domain.Team {
	out := []domain.Team{}
	for _, t := range r.teams {
		if t.profileID == profileID {
			out = append(out, r.teamLocked(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// teamLocked builds a detached copy of the team with members resolved.
func (r *Repository) teamLocked(t teamRow) domain.Team {
	team := domain.Team{
		ID:            t.id,
		Name:          t.name,
		ProfileID:     t.profileID,
		CreatedAt:     t.createdAt,
		SelectedCount: t.selectedCount,
		Members:       make([]domain.TeamMember, 0, len(r.members[t.id])),
	}
	for _, m := range r.members[t.id] {
		if p, ok := r.pokemon[m.PokemonID]; ok {
			m.Pokemon = &p
		}
		team.Members = append(team.Members, m)
	}
	sort.SliceStable(team.Members, func(i, j int) bool {
		return pokedexOf(team.Members[i]) < pokedexOf(team.Members[j])
	})
	return team
}

func pokedexOf(m domain.TeamMember) int {
	if m.Pokemon == nil {
		return 0
	}
	return m.Pokemon.PokedexNumber
}

func sortPokemon(list []domain.Pokemon) {
	sort.Slice(list, func(i, j int) bool { return list[i].PokedexNumber < list[j].PokedexNumber })
}
