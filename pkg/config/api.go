package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string `yaml:"environment"`
	Addr          string `yaml:"addr"`
	PathPrefix    string `yaml:"path_prefix"`
	LogLevel      string `yaml:"log_level"`
	DatabaseURL   string `yaml:"database_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
	SeedCatalog   bool   `yaml:"seed_catalog"`

	CacheMaxEntries    int           `yaml:"cache_max_entries"`
	CacheDefaultTTL    time.Duration `yaml:"cache_default_ttl"`
	CacheReadTTL       time.Duration `yaml:"cache_read_ttl"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval"`
	CacheRedisAddr     string        `yaml:"cache_redis_addr"`
	CacheRedisPass     string        `yaml:"cache_redis_password"`
	CacheRedisDB       int           `yaml:"cache_redis_db"`

	RateLimitRedisAddr string `yaml:"rate_limit_redis_addr"`
	RateLimitRedisPass string `yaml:"rate_limit_redis_password"`
	RateLimitRedisDB   int    `yaml:"rate_limit_redis_db"`
	RateLimitWrites    int    `yaml:"rate_limit_writes_per_minute"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	TeamAtomicCreate bool `yaml:"team_atomic_create"`
	TeamTopDefault   int  `yaml:"team_top_default"`
}

// DefaultAPIConfig returns the configuration used when nothing is set.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Environment:        "development",
		Addr:               ":3000",
		PathPrefix:         "/api",
		LogLevel:           "info",
		DatabaseURL:        "postgres://pokemon:pokemon@db:5432/pokemon?sslmode=disable",
		MigrationsDir:      "db/migrations",
		AutoMigrate:        true,
		SeedCatalog:        true,
		CacheMaxEntries:    500,
		CacheDefaultTTL:    60 * time.Second,
		CacheReadTTL:       2 * time.Hour,
		CacheSweepInterval: 30 * time.Second,
		RateLimitWrites:    60,
		CORSAllowedOrigins: []string{"http://localhost:4200"},
		TeamAtomicCreate:   true,
		TeamTopDefault:     10,
	}
}

// LoadAPIConfig builds an APIConfig from defaults, the optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func LoadAPIConfig() (APIConfig, error) {
	cfg := DefaultAPIConfig()
	if err := loadFile(GetString("CONFIG_FILE", ""), &cfg); err != nil {
		return APIConfig{}, err
	}
	return APIConfig{
		Environment:        GetString("APP_ENV", cfg.Environment),
		Addr:               GetString("API_ADDR", cfg.Addr),
		PathPrefix:         GetString("API_PREFIX", cfg.PathPrefix),
		LogLevel:           GetString("LOG_LEVEL", cfg.LogLevel),
		DatabaseURL:        GetString("DATABASE_URL", cfg.DatabaseURL),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", cfg.MigrationsDir),
		AutoMigrate:        GetBool("DB_AUTO_MIGRATE", cfg.AutoMigrate),
		SeedCatalog:        GetBool("DB_SEED_CATALOG", cfg.SeedCatalog),
		CacheMaxEntries:    GetInt("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries),
		CacheDefaultTTL:    GetDuration("CACHE_DEFAULT_TTL_SECONDS", cfg.CacheDefaultTTL, time.Second),
		CacheReadTTL:       GetDuration("CACHE_READ_TTL_MINUTES", cfg.CacheReadTTL, time.Minute),
		CacheSweepInterval: GetDuration("CACHE_SWEEP_SECONDS", cfg.CacheSweepInterval, time.Second),
		CacheRedisAddr:     GetString("CACHE_REDIS_ADDR", cfg.CacheRedisAddr),
		CacheRedisPass:     GetString("CACHE_REDIS_PASSWORD", cfg.CacheRedisPass),
		CacheRedisDB:       GetInt("CACHE_REDIS_DB", cfg.CacheRedisDB),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", cfg.RateLimitRedisAddr),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", cfg.RateLimitRedisPass),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", cfg.RateLimitRedisDB),
		RateLimitWrites:    GetInt("RATE_LIMIT_WRITES_PER_MINUTE", cfg.RateLimitWrites),
		CORSAllowedOrigins: GetList("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins),
		TeamAtomicCreate:   GetBool("TEAM_ATOMIC_CREATE", cfg.TeamAtomicCreate),
		TeamTopDefault:     GetInt("TEAM_TOP_DEFAULT", cfg.TeamTopDefault),
	}, nil
}

// InMemoryStorage reports whether the API should run without PostgreSQL.
func (c APIConfig) InMemoryStorage() bool {
	return c.DatabaseURL == "memory" || c.DatabaseURL == "memory://"
}
