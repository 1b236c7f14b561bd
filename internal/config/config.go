// Package config loads the shared context server's process configuration
// from the environment, following an env-var-with-default idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every recognized process option. Missing required keys
// are a fatal startup error (Validate returns it).
type Config struct {
	DatabaseURL string

	JWTSigningKey    string // required; signs the inner JWT (HS256)
	JWTEncryptionKey string // required; wraps opaque tokens (AES-GCM)
	APIKey           string // required; machine-to-machine shared secret for authenticate_agent

	PoolMin int32
	PoolMax int32

	HTTPAddr string
	WSPort   string

	WSIdleTimeout             time.Duration
	MemorySweepInterval       time.Duration
	SubscriptionReapInterval  time.Duration
	WriteBatchSize            int
	WriteFlushInterval        time.Duration
	DefaultSearchRecencyHours int
	DefaultSearchMaxRows      int

	Env string // "dev" enables pretty console logging
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Load reads Config from the environment, applying documented defaults
// for every option left unset.
func Load() *Config {
	return &Config{
		DatabaseURL:      env("DATABASE_URL", ""),
		JWTSigningKey:    env("JWT_SECRET_KEY", ""),
		JWTEncryptionKey: env("JWT_ENCRYPTION_KEY", ""),
		APIKey:           env("API_KEY", ""),

		PoolMin: int32(envInt("POOL_MIN", 5)),
		PoolMax: int32(envInt("POOL_MAX", 50)),

		HTTPAddr: env("HTTP_ADDR", ":8080"),
		WSPort:   env("WS_PORT", ""),

		WSIdleTimeout:             time.Duration(envInt("WS_IDLE_TIMEOUT_S", 300)) * time.Second,
		MemorySweepInterval:       time.Duration(envInt("MEMORY_SWEEP_INTERVAL_S", 300)) * time.Second,
		SubscriptionReapInterval:  60 * time.Second,
		WriteBatchSize:            envInt("WRITE_BATCH_SIZE", 50),
		WriteFlushInterval:        time.Duration(envInt("WRITE_FLUSH_INTERVAL_S", 1)) * time.Second,
		DefaultSearchRecencyHours: envInt("DEFAULT_SEARCH_RECENCY_HOURS", 24),
		DefaultSearchMaxRows:      envInt("DEFAULT_SEARCH_MAX_ROWS", 1000),

		Env: env("ENV", ""),
	}
}

// Validate enforces the fatal-at-startup required keys. There is no
// development fallback for the JWT signing key or the machine-to-machine
// API key.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.JWTEncryptionKey == "" {
		return fmt.Errorf("JWT_ENCRYPTION_KEY is required")
	}
	if len(c.JWTEncryptionKey) < 32 {
		return fmt.Errorf("JWT_ENCRYPTION_KEY must be at least 32 bytes (used as an AES-256 key)")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	return nil
}

// IsDev reports whether pretty console logging should be used.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}
