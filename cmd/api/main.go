package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teambuilder/internal/app/migrate"
	"github.com/splax/teambuilder/internal/cache"
	"github.com/splax/teambuilder/internal/domain"
	httpx "github.com/splax/teambuilder/internal/http"
	"github.com/splax/teambuilder/internal/repository"
	"github.com/splax/teambuilder/internal/repository/memory"
	"github.com/splax/teambuilder/internal/repository/postgres"
	"github.com/splax/teambuilder/internal/service/activity"
	"github.com/splax/teambuilder/internal/service/pokemon"
	"github.com/splax/teambuilder/internal/service/profile"
	"github.com/splax/teambuilder/internal/service/team"
	"github.com/splax/teambuilder/internal/ws"
	"github.com/splax/teambuilder/pkg/config"
	"github.com/splax/teambuilder/pkg/logger"
)

// seedProfiles mirrors the profiles created by the initial migration.
var seedProfiles = []string{"Ash", "Misty", "Professor Rowan"}

func main() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		logger.New("api", slog.LevelInfo).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	local := cache.NewLRU[any](cache.Config{
		MaxEntries:    cfg.CacheMaxEntries,
		DefaultTTL:    cfg.CacheDefaultTTL,
		SweepInterval: cfg.CacheSweepInterval,
	})
	defer local.Close()
	var remote cache.Remote
	if addr := strings.TrimSpace(cfg.CacheRedisAddr); addr != "" {
		redisRemote, err := cache.NewRedisRemote(addr, cfg.CacheRedisPass, cfg.CacheRedisDB)
		if err != nil {
			log.Warn("redis cache tier unavailable", "error", err)
		} else {
			defer redisRemote.Close()
			remote = redisRemote
		}
	}
	layer := cache.NewLayer(local, remote, log.With("component", "cache"))
	go func() {
		if err := layer.Listen(ctx); err != nil {
			log.Warn("cache invalidation listener stopped", "error", err)
		}
	}()

	hub := ws.NewHub()
	defer hub.Close()
	events := activity.New(hub, log)

	pokemonSvc := pokemon.New(store, layer, log, cfg.CacheReadTTL)
	profileSvc := profile.New(store, layer, events, log, cfg.CacheReadTTL)
	teamSvc := team.New(store, layer, events, log, team.Options{
		AtomicCreate: cfg.TeamAtomicCreate,
		ReadTTL:      cfg.CacheReadTTL,
		TopDefault:   cfg.TeamTopDefault,
	})

	if cfg.SeedCatalog {
		if _, err := pokemonSvc.SeedGen1(ctx); err != nil {
			log.Error("catalog seed failed", "error", err)
			os.Exit(1)
		}
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Teams:    teamSvc,
		Profiles: profileSvc,
		Pokemon:  pokemonSvc,
		Activity: events,
	}, httpx.Options{
		Prefix:          cfg.PathPrefix,
		Limiter:         limiter,
		WritesPerMinute: cfg.RateLimitWrites,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		Health:          store.Ping,
		Cache:           layer,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment, "memory_store", cfg.InMemoryStorage())
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openStore connects the configured storage and applies migrations.
func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, func(), error) {
	if cfg.InMemoryStorage() {
		repo := memory.New()
		for _, name := range seedProfiles {
			if err := repo.CreateProfile(ctx, &domain.Profile{Name: name}); err != nil {
				return nil, nil, fmt.Errorf("seed profile %q: %w", name, err)
			}
		}
		log.Warn("using in-memory storage; data is lost on restart")
		return repo, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}
	if cfg.AutoMigrate {
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return postgres.New(pool), pool.Close, nil
}
