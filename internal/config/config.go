// Package config provides environment-driven configuration for the queuecall server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret
	RedisURL    Secret
	SeedFile    string
	Port        string
	ListenHost  string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	HistorySize       int
	StaffReleaseGrace time.Duration
	FeedbackCooldown  time.Duration
	StaffTokenRefresh time.Duration
	CounterLeaseTTL   time.Duration

	WSMaxConnections int
	WSMaxPerIP       int
	CommandRate      float64
	CommandBurst     int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: Secret(envOrDefault("DATABASE_URL", "")),
		RedisURL:    Secret(envOrDefault("REDIS_URL", "")),
		SeedFile:    envOrDefault("SEED_FILE", ""),
		Port:        envOrDefault("PORT", "3040"),
		ListenHost:  envOrDefault("LISTEN_HOST", "127.0.0.1"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),
	}

	origins := envOrDefault("CORS_ORIGINS", "http://localhost:3000")
	cfg.CORSOrigins = strings.Split(origins, ",")

	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.loadTuning(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadTuning parses the numeric and duration settings.
func (c *Config) loadTuning() error {
	var err error

	if c.HistorySize, err = envInt("HISTORY_SIZE", 4); err != nil {
		return err
	}

	if c.StaffReleaseGrace, err = envDuration("STAFF_RELEASE_GRACE", 2*time.Minute); err != nil {
		return err
	}

	if c.FeedbackCooldown, err = envDuration("FEEDBACK_COOLDOWN", 10*time.Second); err != nil {
		return err
	}

	if c.StaffTokenRefresh, err = envDuration("STAFF_TOKEN_REFRESH", 15*time.Minute); err != nil {
		return err
	}

	if c.CounterLeaseTTL, err = envDuration("COUNTER_LEASE_TTL", 30*time.Second); err != nil {
		return err
	}

	if c.WSMaxConnections, err = envInt("WS_MAX_CONNECTIONS", 1000); err != nil {
		return err
	}

	if c.WSMaxPerIP, err = envInt("WS_MAX_PER_IP", 50); err != nil {
		return err
	}

	if c.CommandRate, err = envFloat("COMMAND_RATE", 5); err != nil {
		return err
	}

	if c.CommandBurst, err = envInt("COMMAND_BURST", 10); err != nil {
		return err
	}

	return nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

// UsesDatabase reports whether Postgres backs the store.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL.Value() != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}

	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}

	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 30s or 2m: %w", key, err)
	}

	return d, nil
}
