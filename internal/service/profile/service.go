package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/teambuilder/internal/cache"
	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
	"github.com/splax/teambuilder/internal/service/activity"
	"github.com/splax/teambuilder/pkg/logger"
)

// MaxNameLength bounds profile names.
const MaxNameLength = 100

var (
	// ErrInvalidName reports an empty or oversized profile name.
	ErrInvalidName = errors.New("profile name is required")
	// ErrNotFound reports an unknown profile.
	ErrNotFound = errors.New("profile not found")
)

// Store is the persistence used by profile workflows.
type Store interface {
	repository.ProfileRepository
	ListTeamsByProfile(ctx context.Context, profileID string) ([]domain.Team, error)
}

// Service orchestrates profile management.
type Service struct {
	repo    Store
	cache   *cache.Layer
	events  activity.Publisher
	logger  *slog.Logger
	readTTL time.Duration
}

// New returns a profile service. readTTL <= 0 uses the cache's default TTL.
func New(repo Store, layer *cache.Layer, events activity.Publisher, log *slog.Logger, readTTL time.Duration) Service {
	if events == nil {
		events = activity.Discard{}
	}
	return Service{repo: repo, cache: layer, events: events, logger: logger.OrDiscard(log), readTTL: readTTL}
}

// Create registers a new profile.
func (s Service) Create(ctx context.Context, name string) (domain.Profile, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return domain.Profile{}, ErrInvalidName
	}
	if len([]rune(clean)) > MaxNameLength {
		return domain.Profile{}, fmt.Errorf("%w: at most %d characters", ErrInvalidName, MaxNameLength)
	}
	profile := domain.Profile{ID: uuid.NewString(), Name: clean, CreatedAt: time.Now().UTC()}
	if err := s.repo.CreateProfile(ctx, &profile); err != nil {
		return domain.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	s.cache.Delete(cache.AllProfilesKey)
	s.logger.Info("profile created", "profile_id", profile.ID)
	s.events.Publish(activity.Event{Type: activity.ProfileCreated, ProfileID: profile.ID, Name: profile.Name})
	return profile, nil
}

// List returns every profile with its teams.
func (s Service) List(ctx context.Context) ([]domain.Profile, error) {
	loaded := false
	profiles, err := cache.Fetch(ctx, s.cache, cache.AllProfilesKey, s.readTTL, func(ctx context.Context) ([]domain.Profile, error) {
		loaded = true
		return s.repo.ListProfiles(ctx)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("profiles read", "cache", cache.Outcome(loaded), "count", len(profiles))
	return profiles, nil
}

// Teams lists the teams owned by a profile.
func (s Service) Teams(ctx context.Context, profileID string) ([]domain.Team, error) {
	loaded := false
	teams, err := cache.Fetch(ctx, s.cache, cache.ProfileTeamsKey(profileID), s.readTTL, func(ctx context.Context) ([]domain.Team, error) {
		loaded = true
		if _, err := s.repo.GetProfileByID(ctx, profileID); err != nil {
			return nil, err
		}
		return s.repo.ListTeamsByProfile(ctx, profileID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.logger.Info("profile teams read", "profile_id", profileID, "cache", cache.Outcome(loaded))
	return teams, nil
}

// RecordSelection bumps the profile's popularity counter.
func (s Service) RecordSelection(ctx context.Context, profileID string) bool {
	if err := s.repo.IncrementProfileSelection(ctx, profileID); err != nil {
		s.logger.Error("record profile selection failed", "profile_id", profileID, "error", err)
		return false
	}
	s.cache.Delete(cache.AllProfilesKey)
	return true
}

// Delete removes a profile together with its teams.
func (s Service) Delete(ctx context.Context, profileID string) error {
	teamIDs, err := s.repo.DeleteProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete profile: %w", err)
	}

	keys := make([]string, 0, len(teamIDs)+2)
	keys = append(keys, cache.AllProfilesKey, cache.ProfileTeamsKey(profileID))
	for _, id := range teamIDs {
		keys = append(keys, cache.TeamKey(id))
	}
	s.cache.Delete(keys...)

	s.logger.Info("profile deleted", "profile_id", profileID, "teams", len(teamIDs))
	s.events.Publish(activity.Event{Type: activity.ProfileDeleted, ProfileID: profileID})
	return nil
}
