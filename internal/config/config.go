// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DevJWTSecret is used when JWT_SECRET is unset. Never deploy with it.
const DevJWTSecret = "dev-secret-change-me"

// Config holds every runtime setting.
type Config struct {
	Port            string
	LogLevel        slog.Level
	DatabaseURL     string
	RedisURL        string
	JWTSecret       string
	JWTTTL          time.Duration
	InitialBalance  decimal.Decimal
	SimInterval     time.Duration
	HistoryLength   int
	CacheTTL        time.Duration
	CORSOrigin      string
	ShutdownTimeout time.Duration
	PyroscopeURL    string
}

// Load reads the environment, applies defaults, and validates the result.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	var errs []error
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	duration := func(key string, def time.Duration) time.Duration {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, raw))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid positive integer %q", key, raw))
			return def
		}
		return n
	}

	cfg := &Config{
		Port:            get("PORT", "8080"),
		DatabaseURL:     get("DATABASE_URL", ""),
		RedisURL:        get("REDIS_URL", ""),
		JWTSecret:       get("JWT_SECRET", DevJWTSecret),
		JWTTTL:          duration("JWT_TTL", 7*24*time.Hour),
		SimInterval:     duration("SIMULATION_INTERVAL", 2*time.Second),
		HistoryLength:   integer("HISTORY_LENGTH", 100),
		CacheTTL:        duration("CACHE_TTL", 60*time.Second),
		CORSOrigin:      get("CORS_ORIGIN", "*"),
		ShutdownTimeout: duration("SHUTDOWN_TIMEOUT", 5*time.Second),
		PyroscopeURL:    get("PYROSCOPE_URL", ""),
	}

	level, err := parseLevel(get("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LogLevel = level

	balance, err := decimal.NewFromString(get("INITIAL_BALANCE", "100000"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("INITIAL_BALANCE: %w", err))
	case balance.IsNegative():
		errs = append(errs, errors.New("INITIAL_BALANCE: must not be negative"))
	}
	cfg.InitialBalance = balance

	if p, err := strconv.Atoi(cfg.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT: invalid port %q", cfg.Port))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: unknown level %q", s)
}
