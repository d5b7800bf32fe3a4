package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultPort              = "8080"
	defaultCacheTTL          = 5 * time.Second
	defaultPricePollInterval = 3 * time.Second
	defaultSnapshotSchedule  = "@every 10s"
	defaultMarketDataURL     = "https://query1.finance.yahoo.com"
	defaultLeagueNameMaxLen  = 30
	defaultStartingCash      = "10000"
	defaultAllowedOrigins    = "http://localhost:3000,http://localhost"
)

// Config holds the runtime configuration for the league engine.
type Config struct {
	Port     string
	LogLevel slog.Level

	// DatabaseURL selects PostgreSQL; empty means the in-memory store.
	DatabaseURL string
	// RedisURL enables the read-through cache in front of PostgreSQL.
	RedisURL string
	CacheTTL time.Duration

	MarketData MarketDataConfig
	League     LeagueConfig

	// SnapshotSchedule is a cron spec for the valuation snapshot job.
	SnapshotSchedule string

	// AllowedOrigins lists the origins the CORS layer accepts.
	AllowedOrigins []string
}

// MarketDataConfig controls the price feed.
type MarketDataConfig struct {
	BaseURL      string
	PollInterval time.Duration
}

// LeagueConfig holds league creation rules.
type LeagueConfig struct {
	NameMaxLen   int
	StartingCash decimal.Decimal
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cacheTTL, err := getDuration("CACHE_TTL", defaultCacheTTL)
	if err != nil {
		return nil, err
	}
	poll, err := getDuration("PRICE_POLL_INTERVAL", defaultPricePollInterval)
	if err != nil {
		return nil, err
	}
	nameMax, err := getInt("LEAGUE_NAME_MAX_LEN", defaultLeagueNameMaxLen)
	if err != nil {
		return nil, err
	}
	if nameMax < 1 {
		return nil, fmt.Errorf("LEAGUE_NAME_MAX_LEN must be positive, got %d", nameMax)
	}
	cash, err := decimal.NewFromString(getString("STARTING_CASH", defaultStartingCash))
	if err != nil {
		return nil, fmt.Errorf("parse STARTING_CASH: %w", err)
	}
	if !cash.IsPositive() {
		return nil, fmt.Errorf("STARTING_CASH must be positive, got %s", cash)
	}
	level, err := parseLevel(getString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:        getString("PORT", defaultPort),
		LogLevel:    level,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    cacheTTL,
		MarketData: MarketDataConfig{
			BaseURL:      getString("MARKETDATA_BASE_URL", defaultMarketDataURL),
			PollInterval: poll,
		},
		League: LeagueConfig{
			NameMaxLen:   nameMax,
			StartingCash: cash,
		},
		SnapshotSchedule: getString("SNAPSHOT_SCHEDULE", defaultSnapshotSchedule),
		AllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
	}, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

// getList splits a comma separated value, dropping blank entries.
func getList(key, fallback string) []string {
	var out []string
	for _, v := range strings.Split(getString(key, fallback), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to duration: %w", key, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return parsed, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	return level, nil
}
