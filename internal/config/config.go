// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	DBPath      string
	FrontendURL string

	// Backend is the resource orchestration API this engine drives.
	Backend BackendConfig

	// HistoryLimit bounds the per-session turn window used as conversation
	// context. Eviction is strict FIFO by turn count.
	HistoryLimit int

	// ConfidenceThreshold below which an intent forces a clarification turn.
	ConfidenceThreshold float64

	// CacheTTL bounds the age of resource snapshots used by disambiguation
	// and confirmation prompts.
	CacheTTL time.Duration

	// ConfirmWindow is how long a destructive operation may sit pending
	// before it expires unconfirmed.
	ConfirmWindow time.Duration

	// RetryBaseDelay and MaxRetries shape the executor backoff policy.
	RetryBaseDelay time.Duration
	MaxRetries     int

	// RatePerMinute / RateBurst throttle per-session operation submission.
	RatePerMinute int
	RateBurst     int

	// SessionInactivity is the archival threshold swept by the expiry worker.
	SessionInactivity time.Duration
	SweepInterval     time.Duration

	AuditLog AuditLogConfig
}

// BackendConfig holds the resource backend client configuration.
type BackendConfig struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
}

// AuditLogConfig controls the audit writer queue and its fallback sink.
type AuditLogConfig struct {
	QueueSize   int
	FallbackDir string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DBPath:      getEnv("DB_PATH", "./data/rhails.db"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Backend: BackendConfig{
			URL:            getEnv("BACKEND_URL", ""),
			Token:          getEnv("BACKEND_TOKEN", ""),
			RequestTimeout: getEnvDuration("BACKEND_TIMEOUT", 2*time.Second),
		},
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 20),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.7),
		CacheTTL:            getEnvDuration("CACHE_TTL", 30*time.Second),
		ConfirmWindow:       getEnvDuration("CONFIRM_WINDOW", 5*time.Minute),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", 200*time.Millisecond),
		MaxRetries:          getEnvInt("MAX_RETRIES", 3),
		RatePerMinute:       getEnvInt("RATE_PER_MINUTE", 10),
		RateBurst:           getEnvInt("RATE_BURST", 5),
		SessionInactivity:   getEnvDuration("SESSION_INACTIVITY", 30*24*time.Hour),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		AuditLog: AuditLogConfig{
			QueueSize:   getEnvInt("AUDIT_QUEUE_SIZE", 1000),
			FallbackDir: getEnv("AUDIT_FALLBACK_DIR", "./data/audit"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0, 1]")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0")
	}
	if c.RatePerMinute <= 0 {
		return fmt.Errorf("RATE_PER_MINUTE must be > 0")
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("RATE_BURST must be > 0")
	}
	if c.ConfirmWindow <= 0 {
		return fmt.Errorf("CONFIRM_WINDOW must be > 0")
	}
	if c.AuditLog.QueueSize <= 0 {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be > 0")
	}
	if c.AuditLog.FallbackDir == "" {
		return fmt.Errorf("AUDIT_FALLBACK_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
