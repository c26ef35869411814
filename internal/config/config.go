package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Workflow     WorkflowConfig
	Integrations IntegrationsConfig
	Reconcile    ReconcileConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables the shared cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret string
}

// WorkflowConfig tunes the lifecycle engine.
type WorkflowConfig struct {
	HomeProvider          string
	CacheTTLSeconds       int
	CacheMaxEntries       int
	SharedCacheTTLSeconds int
}

// IntegrationsConfig holds the external collaborators' endpoints.
type IntegrationsConfig struct {
	ODSEndpoint          string
	ObserverEndpoint     string
	ClientTimeoutSeconds int
	ObserverWorkers      int
	ObserverQueueSize    int
}

// ReconcileConfig controls the audit-gap scan. Zero interval disables it.
type ReconcileConfig struct {
	IntervalSeconds int
	BatchSize       int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "field-ticket-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
		},
		Workflow: WorkflowConfig{
			HomeProvider:          strings.TrimSpace(getEnv("WORKFLOW_HOME_PROVIDER", "STEFANINI")),
			CacheTTLSeconds:       getEnvAsInt("STATE_MACHINE_CACHE_TTL_SECONDS", 300),
			CacheMaxEntries:       getEnvAsInt("STATE_MACHINE_CACHE_MAX_ENTRIES", 256),
			SharedCacheTTLSeconds: getEnvAsInt("STATE_MACHINE_SHARED_CACHE_TTL_SECONDS", 900),
		},
		Integrations: IntegrationsConfig{
			ODSEndpoint:          strings.TrimRight(os.Getenv("ODS_ENDPOINT"), "/"),
			ObserverEndpoint:     strings.TrimRight(os.Getenv("OBSERVER_ENDPOINT"), "/"),
			ClientTimeoutSeconds: getEnvAsInt("HTTP_CLIENT_TIMEOUT_SECONDS", 10),
			ObserverWorkers:      getEnvAsInt("OBSERVER_WORKERS", 2),
			ObserverQueueSize:    getEnvAsInt("OBSERVER_QUEUE_SIZE", 256),
		},
		Reconcile: ReconcileConfig{
			IntervalSeconds: getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 0),
			BatchSize:       getEnvAsInt("RECONCILE_BATCH_SIZE", 100),
		},
	}

	if cfg.Workflow.HomeProvider == "" {
		return nil, fmt.Errorf("WORKFLOW_HOME_PROVIDER must not be empty")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	return seconds(a.RequestTimeoutSeconds)
}

// CacheTTL returns how long a loaded state machine is served from memory.
func (w WorkflowConfig) CacheTTL() time.Duration {
	return seconds(w.CacheTTLSeconds)
}

// SharedCacheTTL returns the Redis expiry for cached state machines.
func (w WorkflowConfig) SharedCacheTTL() time.Duration {
	return seconds(w.SharedCacheTTLSeconds)
}

// ClientTimeout returns the timeout applied to outbound HTTP calls.
func (i IntegrationsConfig) ClientTimeout() time.Duration {
	return seconds(i.ClientTimeoutSeconds)
}

// Interval returns the reconcile period.
func (r ReconcileConfig) Interval() time.Duration {
	return seconds(r.IntervalSeconds)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
