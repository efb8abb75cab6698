package config

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

func (c *Config) validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	if err := c.validateCORS(); err != nil {
		return err
	}

	if err := c.validateLogging(); err != nil {
		return err
	}

	return c.validateTuning()
}

// validateDatabase checks DATABASE_URL when set; without it the server
// runs on the in-memory store.
func (c *Config) validateDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return nil
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	if dbHost := dbURL.Hostname(); !isLoopback(dbHost) && dbURL.Query().Get("sslmode") == "disable" {
		return fmt.Errorf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", dbHost)
	}

	if c.SeedFile != "" {
		return fmt.Errorf("SEED_FILE only applies to the in-memory store; unset DATABASE_URL or SEED_FILE")
	}

	return nil
}

func (c *Config) validateRedis() error {
	if c.RedisURL.Value() == "" {
		return nil
	}

	u, err := url.Parse(c.RedisURL.Value())
	if err != nil {
		return fmt.Errorf("REDIS_URL is not a valid URL: %w", err)
	}

	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("REDIS_URL scheme must be redis:// or rediss://")
	}

	if !c.UsesDatabase() {
		return fmt.Errorf("REDIS_URL requires DATABASE_URL so instances share one store")
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	// Loopback for local deployments, wildcard for containers where the
	// network boundary is enforced outside the process.
	validHosts := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   true,
		"::":        true,
	}
	if !validHosts[c.ListenHost] {
		return fmt.Errorf("LISTEN_HOST must be a loopback address or 0.0.0.0/:: for containers (got %q)", c.ListenHost)
	}

	return nil
}

// validateCORS also guards the WebSocket origin patterns, which reuse
// these origins.
func (c *Config) validateCORS() error {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}
		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

func (c *Config) validateLogging() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	return nil
}

func (c *Config) validateTuning() error {
	if c.HistorySize < 1 || c.HistorySize > 50 {
		return fmt.Errorf("HISTORY_SIZE must be between 1 and 50")
	}

	if c.StaffReleaseGrace < 0 {
		return fmt.Errorf("STAFF_RELEASE_GRACE must not be negative")
	}

	if c.FeedbackCooldown < 0 {
		return fmt.Errorf("FEEDBACK_COOLDOWN must not be negative")
	}

	if c.StaffTokenRefresh <= 0 {
		return fmt.Errorf("STAFF_TOKEN_REFRESH must be positive")
	}

	if c.CounterLeaseTTL < 3*time.Second {
		return fmt.Errorf("COUNTER_LEASE_TTL must be at least 3s")
	}

	if c.WSMaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be at least 1")
	}

	if c.WSMaxPerIP < 1 || c.WSMaxPerIP > c.WSMaxConnections {
		return fmt.Errorf("WS_MAX_PER_IP must be between 1 and WS_MAX_CONNECTIONS")
	}

	if c.CommandRate <= 0 || math.IsInf(c.CommandRate, 0) || math.IsNaN(c.CommandRate) {
		return fmt.Errorf("COMMAND_RATE must be a positive number")
	}

	if c.CommandBurst < 1 {
		return fmt.Errorf("COMMAND_BURST must be at least 1")
	}

	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
