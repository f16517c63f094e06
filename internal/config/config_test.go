package config

import (
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func env(vals map[string]string) func(string) string {
	return func(key string) string { return vals[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if cfg.JWTSecret != DevJWTSecret {
		t.Errorf("jwt secret = %q", cfg.JWTSecret)
	}
	if cfg.JWTTTL != 7*24*time.Hour {
		t.Errorf("jwt ttl = %v", cfg.JWTTTL)
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("initial balance = %s", cfg.InitialBalance)
	}
	if cfg.SimInterval != 2*time.Second || cfg.HistoryLength != 100 || cfg.CacheTTL != time.Minute {
		t.Errorf("simulation defaults = %v/%d/%v", cfg.SimInterval, cfg.HistoryLength, cfg.CacheTTL)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Error("database and redis should be unset by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":                "9090",
		"LOG_LEVEL":           "DEBUG",
		"DATABASE_URL":        "postgres://localhost/paper",
		"REDIS_URL":           "redis://localhost:6379/0",
		"JWT_SECRET":          "s3cret",
		"JWT_TTL":             "1h",
		"INITIAL_BALANCE":     "2500.50",
		"SIMULATION_INTERVAL": "500ms",
		"HISTORY_LENGTH":      " 50 ",
		"CORS_ORIGIN":         "http://localhost:3000",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("port/level = %q/%v", cfg.Port, cfg.LogLevel)
	}
	if cfg.JWTSecret != "s3cret" || cfg.JWTTTL != time.Hour {
		t.Errorf("jwt = %q/%v", cfg.JWTSecret, cfg.JWTTTL)
	}
	if !cfg.InitialBalance.Equal(decimal.RequireFromString("2500.5")) {
		t.Errorf("initial balance = %s", cfg.InitialBalance)
	}
	if cfg.SimInterval != 500*time.Millisecond || cfg.HistoryLength != 50 {
		t.Errorf("simulation = %v/%d", cfg.SimInterval, cfg.HistoryLength)
	}
	if cfg.CORSOrigin != "http://localhost:3000" {
		t.Errorf("cors = %q", cfg.CORSOrigin)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"port", map[string]string{"PORT": "http"}, "PORT"},
		{"port range", map[string]string{"PORT": "70000"}, "PORT"},
		{"level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"duration", map[string]string{"SIMULATION_INTERVAL": "fast"}, "SIMULATION_INTERVAL"},
		{"zero duration", map[string]string{"JWT_TTL": "0s"}, "JWT_TTL"},
		{"history", map[string]string{"HISTORY_LENGTH": "-1"}, "HISTORY_LENGTH"},
		{"balance", map[string]string{"INITIAL_BALANCE": "lots"}, "INITIAL_BALANCE"},
		{"negative balance", map[string]string{"INITIAL_BALANCE": "-1"}, "INITIAL_BALANCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(env(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not name %s", err, tt.want)
			}
		})
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	_, err := load(env(map[string]string{"PORT": "x", "LOG_LEVEL": "y", "HISTORY_LENGTH": "z"}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"PORT", "LOG_LEVEL", "HISTORY_LENGTH"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q missing %s", err, key)
		}
	}
}

func TestLoad_ValidPortsAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		cfg, err := load(env(map[string]string{"PORT": " " + strconv.Itoa(port) + " "}))
		if err != nil {
			t.Fatalf("port %d rejected: %v", port, err)
		}
		if cfg.Port != strconv.Itoa(port) {
			t.Fatalf("port = %q, want %d", cfg.Port, port)
		}
	})
}
