package pokemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/teambuilder/internal/cache"
	"github.com/splax/teambuilder/internal/catalog"
	"github.com/splax/teambuilder/internal/domain"
	"github.com/splax/teambuilder/internal/repository"
	"github.com/splax/teambuilder/pkg/logger"
)

// Service exposes the Pokémon catalog.
type Service struct {
	repo    repository.PokemonRepository
	cache   *cache.Layer
	logger  *slog.Logger
	readTTL time.Duration
}

// New returns a catalog service. readTTL <= 0 uses the cache's default TTL.
func New(repo repository.PokemonRepository, layer *cache.Layer, log *slog.Logger, readTTL time.Duration) Service {
	return Service{repo: repo, cache: layer, logger: logger.OrDiscard(log), readTTL: readTTL}
}

// List returns the whole catalog ordered by pokédex number.
func (s Service) List(ctx context.Context) ([]domain.Pokemon, error) {
	loaded := false
	all, err := cache.Fetch(ctx, s.cache, cache.AllPokemonKey, s.readTTL, func(ctx context.Context) ([]domain.Pokemon, error) {
		loaded = true
		return s.repo.ListPokemon(ctx)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("pokemon read", "cache", cache.Outcome(loaded), "count", len(all))
	return all, nil
}

// RecordSelection bumps the Pokémon's popularity counter.
func (s Service) RecordSelection(ctx context.Context, pokemonID string) bool {
	if err := s.repo.IncrementPokemonSelection(ctx, pokemonID); err != nil {
		s.logger.Error("record pokemon selection failed", "pokemon_id", pokemonID, "error", err)
		return false
	}
	s.cache.Delete(cache.AllPokemonKey)
	return true
}

// Seed inserts catalog entries missing from storage. Existing pokédex numbers
// are left untouched, so repeated runs are no-ops.
func (s Service) Seed(ctx context.Context, entries []catalog.Entry) (int, error) {
	rows := make([]domain.Pokemon, len(entries))
	for i, e := range entries {
		rows[i] = domain.Pokemon{ID: uuid.NewString(), Name: e.Name, PokedexNumber: e.Number}
	}
	inserted, err := s.repo.InsertMissingPokemon(ctx, rows)
	if err != nil {
		return inserted, fmt.Errorf("seed pokemon: %w", err)
	}
	if inserted > 0 {
		s.cache.Delete(cache.AllPokemonKey)
	}
	s.logger.Info("pokemon catalog seeded", "inserted", inserted, "total", len(entries))
	return inserted, nil
}

// SeedGen1 seeds the embedded first-generation catalog.
func (s Service) SeedGen1(ctx context.Context) (int, error) {
	entries, err := catalog.Gen1()
	if err != nil {
		return 0, err
	}
	return s.Seed(ctx, entries)
}
