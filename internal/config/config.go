// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (session identity)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// Pipeline tuning (milliseconds in env/file, durations in code)
	BatchDelay   time.Duration `koanf:"-"`
	DedupeWindow time.Duration `koanf:"-"`

	// Session and tracker lifetimes (minutes in env/file)
	SessionTTL     time.Duration `koanf:"-"`
	TrackerIdleTTL time.Duration `koanf:"-"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingRedisAddr   = errors.New("REDIS_ADDR is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidDuration    = errors.New("duration settings must be positive integers")
)

// Default values for non-secret configuration.
const (
	DefaultPort           = 8080
	DefaultEnv            = "development"
	DefaultBatchDelayMS   = 300
	DefaultDedupeWindowMS = 5000
	DefaultSessionTTLMin  = 30
	DefaultTrackerIdleMin = 30
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be loaded,
// an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try PULSE_PORT first, then PORT for platform compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"PULSE_PORT", "PORT"}, k.Int("port"), DefaultPort, ErrInvalidPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	batchDelayMS, err := getEnvIntOrDefault("PULSE_BATCH_DELAY_MS", k.Int("batch_delay_ms"), DefaultBatchDelayMS)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	dedupeWindowMS, err := getEnvIntOrDefault("PULSE_DEDUPE_WINDOW_MS", k.Int("dedupe_window_ms"), DefaultDedupeWindowMS)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sessionTTLMin, err := getEnvIntOrDefault("PULSE_SESSION_TTL_MINUTES", k.Int("session_ttl_minutes"), DefaultSessionTTLMin)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	trackerIdleMin, err := getEnvIntOrDefault("PULSE_TRACKER_IDLE_MINUTES", k.Int("tracker_idle_minutes"), DefaultTrackerIdleMin)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:           port,
		Env:            getEnvOrDefaultMulti([]string{"PULSE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:    getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:      getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:  getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		BatchDelay:     time.Duration(batchDelayMS) * time.Millisecond,
		DedupeWindow:   time.Duration(dedupeWindowMS) * time.Millisecond,
		SessionTTL:     time.Duration(sessionTTLMin) * time.Minute,
		TrackerIdleTTL: time.Duration(trackerIdleMin) * time.Minute,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks that all required configuration values are present and
// that durations are positive. Returns a slice of validation errors (empty
// if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisAddr == "" {
		errs = append(errs, ErrMissingRedisAddr)
	}
	if c.BatchDelay <= 0 || c.DedupeWindow <= 0 || c.SessionTTL <= 0 || c.TrackerIdleTTL <= 0 {
		errs = append(errs, ErrInvalidDuration)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// Secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":             fmt.Sprintf("%d", c.Port),
		"env":              c.Env,
		"database_url":     maskDatabaseURL(c.DatabaseURL),
		"redis_addr":       c.RedisAddr,
		"redis_password":   maskSecret(c.RedisPassword),
		"batch_delay":      c.BatchDelay.String(),
		"dedupe_window":    c.DedupeWindow.String(),
		"session_ttl":      c.SessionTTL.String(),
		"tracker_idle_ttl": c.TrackerIdleTTL.String(),
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed as an integer.
// A zero value from a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidDuration)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or
// default. Returns an error if any environment variable is set but cannot
// be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int, parseErr error) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, parseErr)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// maskSecret masks a secret value, showing only the first 4 characters
// followed by ****. If the secret is shorter than 8 characters, it's fully
// masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
