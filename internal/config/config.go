// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for tunables the environment may override.
const (
	defaultWorkers        = 10
	defaultHTTPTimeout    = 10 * time.Second
	defaultPolygonRate    = 5  // requests per key
	defaultPolygonWindow  = 60 // seconds
	defaultEastmoneyDelay = 1500 * time.Millisecond
)

// Config holds application configuration
type Config struct {
	DatabaseURL     string        // SQLite database path (or file: URI)
	PolygonAPIKeys  []string      // key pool for the rate limiter
	PolygonBaseURL  string        // override for tests; empty = production endpoint
	PolygonRate     int           // admissions per key per window
	PolygonWindow   time.Duration // sliding window length
	EastmoneyBase   string        // override for tests; empty = production endpoint
	EastmoneyDelay  time.Duration // jittered inter-request delay ceiling
	HTTPTimeout     time.Duration // per-request timeout for vendor clients
	Workers         int           // default worker pool size
	LogLevel        string
	CronSpec        string // schedule command: when to fire the daily run
	DailyRunMarkets string // schedule command: market filter
}

// Load reads configuration from environment variables.
// A missing DATABASE_URL is a fatal initialization failure; Polygon keys are
// validated lazily by the commands that need them, so prices-only runs work
// without them.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		PolygonAPIKeys:  splitKeys(getEnv("POLYGON_API_KEYS", "")),
		PolygonBaseURL:  getEnv("POLYGON_BASE_URL", ""),
		PolygonRate:     getEnvAsInt("POLYGON_RATE_LIMIT", defaultPolygonRate),
		PolygonWindow:   time.Duration(getEnvAsInt("POLYGON_RATE_SECONDS", defaultPolygonWindow)) * time.Second,
		EastmoneyBase:   getEnv("EASTMONEY_BASE_URL", ""),
		EastmoneyDelay:  time.Duration(getEnvAsInt("EASTMONEY_DELAY_MS", int(defaultEastmoneyDelay/time.Millisecond))) * time.Millisecond,
		HTTPTimeout:     time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", int(defaultHTTPTimeout/time.Second))) * time.Second,
		Workers:         getEnvAsInt("WORKERS", defaultWorkers),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CronSpec:        getEnv("DAILY_RUN_CRON", "30 21 * * 1-5"),
		DailyRunMarkets: getEnv("DAILY_RUN_MARKET", "US"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	return nil
}

// RequirePolygonKeys returns an error unless at least one Polygon API key is
// configured. Commands that talk to Polygon call this before dispatch.
func (c *Config) RequirePolygonKeys() error {
	if len(c.PolygonAPIKeys) == 0 {
		return fmt.Errorf("POLYGON_API_KEYS is not set")
	}
	return nil
}

func splitKeys(s string) []string {
	var keys []string
	for _, part := range strings.Split(s, ",") {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
