package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	defaultDBPath           = "./dev.db"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultMaxRecipeDepth   = 32
	defaultBatchConcurrency = 8
	defaultRedisAddr        = "localhost:6379"
)

// Snapshot history backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	AppEnv           string
	DBPath           string
	Port             string
	LogLevel         string
	LogPretty        bool
	MaxRecipeDepth   int
	BatchConcurrency int
	// SnapshotCron is a standard five-field cron expression; empty disables the job.
	SnapshotCron    string
	SnapshotBackend string
	RedisAddr       string
	CORSOrigins     []string
	SeedDemo        bool
}

// IsDev reports whether the app runs in development mode.
func (c Config) IsDev() bool {
	return c.AppEnv == "" || c.AppEnv == "dev" || c.AppEnv == "development"
}

// Load reads the optional .env file plus the environment and returns a populated Config.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. Variables already set in the
// environment win over the file; a missing file is not an error.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}

	cfg := Config{
		AppEnv:           getEnv("APP_ENV", "dev"),
		DBPath:           getEnv("DB_PATH", defaultDBPath),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogPretty:        getEnvAsBool("LOG_PRETTY", false),
		MaxRecipeDepth:   getEnvAsInt("MAX_RECIPE_DEPTH", defaultMaxRecipeDepth),
		BatchConcurrency: getEnvAsInt("BATCH_CONCURRENCY", defaultBatchConcurrency),
		SnapshotCron:     getEnv("SNAPSHOT_CRON", ""),
		SnapshotBackend:  strings.ToLower(getEnv("SNAPSHOT_BACKEND", BackendSQLite)),
		RedisAddr:        getEnv("REDIS_ADDR", defaultRedisAddr),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),
		SeedDemo:         getEnvAsBool("SEED_DEMO", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c Config) Validate() error {
	switch c.SnapshotBackend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("SNAPSHOT_BACKEND %q is not one of sqlite, redis, memory", c.SnapshotBackend)
	}
	if c.SnapshotCron != "" {
		if _, err := cron.ParseStandard(c.SnapshotCron); err != nil {
			return fmt.Errorf("SNAPSHOT_CRON %q: %w", c.SnapshotCron, err)
		}
	}
	if c.MaxRecipeDepth < 1 {
		return fmt.Errorf("MAX_RECIPE_DEPTH must be positive, got %d", c.MaxRecipeDepth)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive, got %d", c.BatchConcurrency)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
