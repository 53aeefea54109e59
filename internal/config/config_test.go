package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv removes every environment variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"PULSE_PORT", "PORT", "PULSE_ENV", "ENV", "GO_ENV",
		"PULSE_BATCH_DELAY_MS", "PULSE_DEDUPE_WINDOW_MS",
		"PULSE_SESSION_TTL_MINUTES", "PULSE_TRACKER_IDLE_MINUTES",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_MissingMandatory(t *testing.T) {
	clearEnv(t)

	_, errs := Load("")
	if len(errs) != 2 {
		t.Fatalf("Load() returned %d errors, want 2 (database, redis): %v", len(errs), errs)
	}

	found := map[error]bool{}
	for _, err := range errs {
		if errors.Is(err, ErrMissingDatabaseURL) {
			found[ErrMissingDatabaseURL] = true
		}
		if errors.Is(err, ErrMissingRedisAddr) {
			found[ErrMissingRedisAddr] = true
		}
	}
	if !found[ErrMissingDatabaseURL] || !found[ErrMissingRedisAddr] {
		t.Errorf("missing expected validation errors, got %v", errs)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/pulse")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("Load() returned errors: %v", errs)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("Env = %s, want %s", cfg.Env, DefaultEnv)
	}
	if cfg.BatchDelay != 300*time.Millisecond {
		t.Errorf("BatchDelay = %s, want 300ms", cfg.BatchDelay)
	}
	if cfg.DedupeWindow != 5*time.Second {
		t.Errorf("DedupeWindow = %s, want 5s", cfg.DedupeWindow)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %s, want 30m", cfg.SessionTTL)
	}
	if cfg.TrackerIdleTTL != 30*time.Minute {
		t.Errorf("TrackerIdleTTL = %s, want 30m", cfg.TrackerIdleTTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/pulse")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PULSE_PORT", "9090")
	t.Setenv("PULSE_ENV", "production")
	t.Setenv("PULSE_BATCH_DELAY_MS", "150")
	t.Setenv("PULSE_DEDUPE_WINDOW_MS", "2000")

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("Load() returned errors: %v", errs)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %s, want production", cfg.Env)
	}
	if cfg.BatchDelay != 150*time.Millisecond {
		t.Errorf("BatchDelay = %s, want 150ms", cfg.BatchDelay)
	}
	if cfg.DedupeWindow != 2*time.Second {
		t.Errorf("DedupeWindow = %s, want 2s", cfg.DedupeWindow)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/pulse")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PULSE_PORT", "not-a-port")

	_, errs := Load("")
	foundPortErr := false
	for _, err := range errs {
		if errors.Is(err, ErrInvalidPort) {
			foundPortErr = true
		}
	}
	if !foundPortErr {
		t.Errorf("expected ErrInvalidPort, got %v", errs)
	}
}

func TestLoad_FileWithEnvPrecedence(t *testing.T) {
	clearEnv(t)

	configFile := filepath.Join(t.TempDir(), "pulse.yaml")
	content := []byte("port: 7070\nenv: staging\ndatabase_url: postgres://file-host/pulse\nredis_addr: file-host:6379\nbatch_delay_ms: 500\n")
	if err := os.WriteFile(configFile, content, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	// Env var wins over the file for the database URL.
	t.Setenv("DATABASE_URL", "postgres://env-host/pulse")

	cfg, errs := Load(configFile)
	if len(errs) != 0 {
		t.Fatalf("Load() returned errors: %v", errs)
	}

	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070 from file", cfg.Port)
	}
	if cfg.Env != "staging" {
		t.Errorf("Env = %s, want staging from file", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://env-host/pulse" {
		t.Errorf("DatabaseURL = %s, want env value to win", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "file-host:6379" {
		t.Errorf("RedisAddr = %s, want file value", cfg.RedisAddr)
	}
	if cfg.BatchDelay != 500*time.Millisecond {
		t.Errorf("BatchDelay = %s, want 500ms from file", cfg.BatchDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, errs := Load("/nonexistent/pulse.yaml")
	if len(errs) != 1 {
		t.Fatalf("Load() returned %d errors, want 1", len(errs))
	}
}

func TestLogSummary_MasksSecrets(t *testing.T) {
	cfg := &Config{
		Port:           8080,
		Env:            "production",
		DatabaseURL:    "postgres://pulse:supersecret@db:5432/pulse",
		RedisAddr:      "redis:6379",
		RedisPassword:  "redis-password-1",
		BatchDelay:     300 * time.Millisecond,
		DedupeWindow:   5 * time.Second,
		SessionTTL:     30 * time.Minute,
		TrackerIdleTTL: 30 * time.Minute,
	}

	summary := cfg.LogSummary()
	if summary["database_url"] != "postgres://pulse:****@db:5432/pulse" {
		t.Errorf("database_url = %s, password not masked", summary["database_url"])
	}
	if summary["redis_password"] != "redi****" {
		t.Errorf("redis_password = %s, want masked", summary["redis_password"])
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "<not set>"},
		{"no credentials", "postgres://db:5432/pulse", "postgres://db:5432/pulse"},
		{"user only", "postgres://pulse@db:5432/pulse", "postgres://pulse@db:5432/pulse"},
		{"user and password", "postgres://pulse:pw@db/pulse", "postgres://pulse:****@db/pulse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskDatabaseURL(tt.in); got != tt.want {
				t.Errorf("maskDatabaseURL(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
