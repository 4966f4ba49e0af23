package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/teambuilder/internal/cache"
	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
	"github.com/splax/teambuilder/internal/service/activity"
	"github.com/splax/teambuilder/pkg/logger"
)

// Business rule violations. Callers match them with errors.Is.
var (
	ErrCapacityExceeded   = errors.New("team capacity exceeded")
	ErrCompositionInvalid = errors.New("team composition invalid")
	ErrInvalidName        = errors.New("team name is required")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrPokemonNotFound    = errors.New("pokemon not found")
	ErrDuplicateName      = errors.New("team name already used by profile")
	ErrNotFound           = errors.New("team not found")
	ErrAlreadyMember      = errors.New("pokemon already in team")
	ErrNotMember          = errors.New("pokemon not in team")
)

const (
	// DefaultReadTTL is how long team reads stay cached.
	DefaultReadTTL = 2 * time.Hour
	// MaxTopN bounds popularity listings.
	MaxTopN = 100
	// MaxNameLength bounds team names.
	MaxNameLength = 100
)

// Store is the persistence the team workflows read and write.
type Store interface {
	repository.TeamRepository
	GetProfileByID(ctx context.Context, id string) (*domain.Profile, error)
	GetPokemonByIDs(ctx context.Context, ids []string) ([]domain.Pokemon, error)
}

// Options tunes the workflows.
type Options struct {
	// AtomicCreate writes a team and its members in one transaction. When
	// false, member writes are best effort: failures are logged and skipped.
	AtomicCreate bool
	ReadTTL      time.Duration
	TopDefault   int
}

// CreateRequest is the input of Create. A nil PokemonIDs means the field was
// absent.
type CreateRequest struct {
	Name       string   `json:"name"`
	ProfileID  string   `json:"profileId"`
	PokemonIDs []string `json:"pokemonIds"`
}

// Service handles team workflows.
type Service struct {
	repo   Store
	cache  *cache.Layer
	events activity.Publisher
	logger *slog.Logger
	opts   Options
}

// New constructs a Service.
func New(repo Store, layer *cache.Layer, events activity.Publisher, log *slog.Logger, opts Options) Service {
	if opts.ReadTTL <= 0 {
		opts.ReadTTL = DefaultReadTTL
	}
	if opts.TopDefault <= 0 {
		opts.TopDefault = 10
	}
	if events == nil {
		events = activity.Discard{}
	}
	return Service{repo: repo, cache: layer, events: events, logger: logger.OrDiscard(log), opts: opts}
}

// Create validates and stores a new team, then repairs the caches that
// depend on it. Validation order: field presence, capacity, composition,
// name, profile, duplicate name, Pokémon existence.
func (s Service) Create(ctx context.Context, req CreateRequest) (domain.Team, error) {
	if req.PokemonIDs == nil {
		return domain.Team{}, fmt.Errorf("%w: pokemonIds is required", ErrCompositionInvalid)
	}
	if len(req.PokemonIDs) > domain.MaxTeamSize {
		return domain.Team{}, fmt.Errorf("%w: at most %d pokemon, got %d", ErrCapacityExceeded, domain.MaxTeamSize, len(req.PokemonIDs))
	}
	if len(req.PokemonIDs) == 0 {
		return domain.Team{}, fmt.Errorf("%w: at least one pokemon is required", ErrCompositionInvalid)
	}
	if id, dup := firstRepeated(req.PokemonIDs); dup {
		return domain.Team{}, fmt.Errorf("%w: pokemon %s listed twice", ErrCompositionInvalid, id)
	}
	name, err := cleanName(req.Name)
	if err != nil {
		return domain.Team{}, err
	}

	if _, err := s.repo.GetProfileByID(ctx, req.ProfileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Team{}, fmt.Errorf("%w: %s", ErrProfileNotFound, req.ProfileID)
		}
		return domain.Team{}, fmt.Errorf("load profile: %w", err)
	}
	if err := s.ensureNameFree(ctx, req.ProfileID, name, ""); err != nil {
		return domain.Team{}, err
	}
	if err := s.ensurePokemonExist(ctx, req.PokemonIDs); err != nil {
		return domain.Team{}, err
	}

	team := domain.Team{
		ID:        uuid.NewString(),
		Name:      name,
		ProfileID: req.ProfileID,
		CreatedAt: time.Now().UTC(),
	}
	members := make([]domain.TeamMember, len(req.PokemonIDs))
	for i, pokemonID := range req.PokemonIDs {
		members[i] = domain.TeamMember{ID: uuid.NewString(), TeamID: team.ID, PokemonID: pokemonID}
	}

	attached, err := s.persist(ctx, &team, members)
	if err != nil {
		return domain.Team{}, err
	}

	s.invalidate(team.ID, team.ProfileID)

	created, err := s.repo.GetTeamByID(ctx, team.ID)
	if err != nil {
		s.logger.Warn("reload created team failed", "team_id", team.ID, "error", err)
		team.Members = attached
		created = &team
	} else {
		s.cache.Set(cache.TeamKey(team.ID), *created, s.opts.ReadTTL)
	}

	s.logger.Info("team created",
		"team_id", team.ID,
		"profile_id", team.ProfileID,
		"members", len(created.Members),
		"requested", len(req.PokemonIDs),
	)
	s.events.Publish(activity.Event{Type: activity.TeamCreated, ProfileID: team.ProfileID, TeamID: team.ID, Name: team.Name})
	return *created, nil
}

// persist writes the team and its members and returns the members stored.
func (s Service) persist(ctx context.Context, team *domain.Team, members []domain.TeamMember) ([]domain.TeamMember, error) {
	if s.opts.AtomicCreate {
		if err := s.repo.CreateTeamWithMembers(ctx, team, members); err != nil {
			return nil, s.teamWriteFailed(team, err)
		}
		return members, nil
	}

	if err := s.repo.CreateTeam(ctx, team); err != nil {
		return nil, s.teamWriteFailed(team, err)
	}
	attached := make([]domain.TeamMember, 0, len(members))
	for i := range members {
		if err := s.repo.AddMember(ctx, &members[i]); err != nil {
			s.logger.Error("team member persistence failed",
				"team_id", team.ID,
				"pokemon_id", members[i].PokemonID,
				"error", err,
			)
			continue
		}
		attached = append(attached, members[i])
	}
	return attached, nil
}

func (s Service) teamWriteFailed(team *domain.Team, err error) error {
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: %q", ErrDuplicateName, team.Name)
	}
	s.logger.Error("team persistence failed",
		"team_id", team.ID,
		"profile_id", team.ProfileID,
		"name", team.Name,
		"error", err,
	)
	return fmt.Errorf("create team: %w", err)
}

// Get returns a team with its members, served from cache when possible.
func (s Service) Get(ctx context.Context, teamID string) (domain.Team, error) {
	loaded := false
	team, err := cache.Fetch(ctx, s.cache, cache.TeamKey(teamID), s.opts.ReadTTL, func(ctx context.Context) (domain.Team, error) {
		loaded = true
		found, err := s.repo.GetTeamByID(ctx, teamID)
		if err != nil {
			return domain.Team{}, err
		}
		return *found, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Team{}, ErrNotFound
		}
		return domain.Team{}, err
	}
	s.logger.Info("team read", "team_id", teamID, "cache", cache.Outcome(loaded))
	return team, nil
}

// ListTop ranks teams by popularity. n <= 0 selects the configured default.
func (s Service) ListTop(ctx context.Context, n int) ([]domain.TeamSummary, error) {
	if n <= 0 {
		n = s.opts.TopDefault
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	return cache.Fetch(ctx, s.cache, cache.TopTeamsKey(n), 0, func(ctx context.Context) ([]domain.TeamSummary, error) {
		return s.repo.ListTopTeams(ctx, n)
	})
}

// Rename changes a team's name under the same per-profile uniqueness rule as Create.
func (s Service) Rename(ctx context.Context, teamID, name string) (domain.Team, error) {
	clean, err := cleanName(name)
	if err != nil {
		return domain.Team{}, err
	}
	current, err := s.load(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	if err := s.ensureNameFree(ctx, current.ProfileID, clean, teamID); err != nil {
		return domain.Team{}, err
	}
	if err := s.repo.RenameTeam(ctx, teamID, clean); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return domain.Team{}, fmt.Errorf("%w: %q", ErrDuplicateName, clean)
		case errors.Is(err, repository.ErrNotFound):
			return domain.Team{}, ErrNotFound
		}
		return domain.Team{}, fmt.Errorf("rename team: %w", err)
	}
	s.invalidate(teamID, current.ProfileID)
	s.logger.Info("team renamed", "team_id", teamID, "from", current.Name, "to", clean)
	s.events.Publish(activity.Event{Type: activity.TeamRenamed, ProfileID: current.ProfileID, TeamID: teamID, Name: clean})
	return s.Get(ctx, teamID)
}

// Delete removes a team and its memberships.
func (s Service) Delete(ctx context.Context, teamID string) error {
	current, err := s.load(ctx, teamID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTeam(ctx, teamID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete team: %w", err)
	}
	s.invalidate(teamID, current.ProfileID)
	s.logger.Info("team deleted", "team_id", teamID, "profile_id", current.ProfileID)
	s.events.Publish(activity.Event{Type: activity.TeamDeleted, ProfileID: current.ProfileID, TeamID: teamID, Name: current.Name})
	return nil
}

// RecordSelection bumps the team's popularity counter. Failures are logged
// and reported as false.
func (s Service) RecordSelection(ctx context.Context, teamID string) bool {
	if err := s.repo.IncrementTeamSelection(ctx, teamID); err != nil {
		s.logger.Error("record team selection failed", "team_id", teamID, "error", err)
		return false
	}
	s.cache.Delete(cache.TeamKey(teamID))
	return true
}

// Members lists a team's memberships with their Pokémon.
func (s Service) Members(ctx context.Context, teamID string) ([]domain.TeamMember, error) {
	team, err := s.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return team.Members, nil
}

// PokemonNames lists the names of a team's Pokémon in pokédex order.
func (s Service) PokemonNames(ctx context.Context, teamID string) ([]string, error) {
	team, err := s.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	members := append([]domain.TeamMember(nil), team.Members...)
	sortByPokedex(members)
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Pokemon != nil {
			names = append(names, m.Pokemon.Name)
		}
	}
	return names, nil
}

// AddMember attaches one Pokémon to an existing team.
func (s Service) AddMember(ctx context.Context, teamID, pokemonID string) (domain.TeamMember, error) {
	current, err := s.load(ctx, teamID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	for _, m := range current.Members {
		if m.PokemonID == pokemonID {
			return domain.TeamMember{}, fmt.Errorf("%w: %s", ErrAlreadyMember, pokemonID)
		}
	}
	found, err := s.repo.GetPokemonByIDs(ctx, []string{pokemonID})
	if err != nil {
		return domain.TeamMember{}, fmt.Errorf("load pokemon: %w", err)
	}
	if len(found) == 0 {
		return domain.TeamMember{}, fmt.Errorf("%w: %s", ErrPokemonNotFound, pokemonID)
	}
	// Count right before the insert; the members read above may be stale.
	held, err := s.repo.CountMembers(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TeamMember{}, ErrNotFound
		}
		return domain.TeamMember{}, fmt.Errorf("count team members: %w", err)
	}
	if held >= domain.MaxTeamSize {
		return domain.TeamMember{}, fmt.Errorf("%w: team already has %d pokemon", ErrCapacityExceeded, held)
	}

	member := domain.TeamMember{ID: uuid.NewString(), TeamID: teamID, PokemonID: pokemonID}
	if err := s.repo.AddMember(ctx, &member); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return domain.TeamMember{}, fmt.Errorf("%w: %s", ErrAlreadyMember, pokemonID)
		case errors.Is(err, repository.ErrNotFound):
			return domain.TeamMember{}, ErrNotFound
		}
		return domain.TeamMember{}, fmt.Errorf("add team member: %w", err)
	}
	member.Pokemon = &found[0]
	s.invalidate(teamID, current.ProfileID)
	s.logger.Info("team member added", "team_id", teamID, "pokemon_id", pokemonID)
	return member, nil
}

// RemoveMember detaches one Pokémon. A team keeps at least one member.
func (s Service) RemoveMember(ctx context.Context, teamID, pokemonID string) error {
	current, err := s.load(ctx, teamID)
	if err != nil {
		return err
	}
	present := false
	for _, m := range current.Members {
		if m.PokemonID == pokemonID {
			present = true
			break
		}
	}
	if !present {
		return fmt.Errorf("%w: %s", ErrNotMember, pokemonID)
	}
	if len(current.Members) <= 1 {
		return fmt.Errorf("%w: a team keeps at least one pokemon", ErrCompositionInvalid)
	}
	if err := s.repo.RemoveMember(ctx, teamID, pokemonID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotMember, pokemonID)
		}
		return fmt.Errorf("remove team member: %w", err)
	}
	s.invalidate(teamID, current.ProfileID)
	s.logger.Info("team member removed", "team_id", teamID, "pokemon_id", pokemonID)
	return nil
}

// load reads a team from the store, bypassing the cache, for write paths.
func (s Service) load(ctx context.Context, teamID string) (*domain.Team, error) {
	team, err := s.repo.GetTeamByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load team: %w", err)
	}
	return team, nil
}

func (s Service) ensureNameFree(ctx context.Context, profileID, name, exceptTeamID string) error {
	existing, err := s.repo.FindTeamsByNormalizedName(ctx, profileID, domain.NormalizeTeamName(name))
	if err != nil {
		return fmt.Errorf("check team name: %w", err)
	}
	for _, t := range existing {
		if t.ID != exceptTeamID {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	return nil
}

func (s Service) ensurePokemonExist(ctx context.Context, ids []string) error {
	found, err := s.repo.GetPokemonByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load pokemon: %w", err)
	}
	if len(found) == len(ids) {
		return nil
	}
	known := make(map[string]struct{}, len(found))
	for _, p := range found {
		known[p.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %s", ErrPokemonNotFound, id)
		}
	}
	return nil
}

// invalidate drops every cached read that embeds the team.
func (s Service) invalidate(teamID, profileID string) {
	s.cache.Delete(cache.TeamKey(teamID), cache.ProfileTeamsKey(profileID), cache.AllProfilesKey)
}

func cleanName(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", ErrInvalidName
	}
	if len([]rune(clean)) > MaxNameLength {
		return "", fmt.Errorf("%w: at most %d characters", ErrInvalidName, MaxNameLength)
	}
	return clean, nil
}

func firstRepeated(ids []string) (string, bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}

func sortByPokedex(members []domain.TeamMember) {
	number := func(m domain.TeamMember) int {
		if m.Pokemon == nil {
			return 0
		}
		return m.Pokemon.PokedexNumber
	}
	sort.SliceStable(members, func(i, j int) bool { return number(members[i]) < number(members[j]) })
}
