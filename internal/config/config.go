package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string
	MigrationsDir  string

	// Redis (optional; realtime events are disabled without it)
	RedisURL     string
	EventWorkers int

	// JWT
	JWTSecret string

	// Rate limiting for session writes, per client IP
	RateLimitPerMinute int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		DatabaseDriver:     getEnvOrDefault("DATABASE_DRIVER", DriverPostgres),
		SQLitePath:         getEnvOrDefault("SQLITE_PATH", "examprep.db"),
		MigrationsDir:      getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:           getEnvOrDefault("REDIS_URL", ""),
		EventWorkers:       getEnvAsIntOrDefault("EVENT_WORKERS", 4),
		JWTSecret:          mustGetEnv("JWT_SECRET"),
		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 120),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres:
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	case DriverSQLite:
	default:
		panic(fmt.Sprintf("unsupported DATABASE_DRIVER %q (want %s or %s)", cfg.DatabaseDriver, DriverPostgres, DriverSQLite))
	}

	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
