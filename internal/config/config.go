package config

import (
	"os"
	"strconv"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
)

// Config is the immutable feature-flag and tuning surface for the pipeline.
// Built once at startup and passed to the orchestrator at construction; there
// are no global mutable flags.
type Config struct {
	Enabled    bool
	ShadowMode bool
	APIExposed bool

	MaxCalculationTime time.Duration
	CorrelationTimeout time.Duration
	CacheEnabled       bool
	CacheTTL           time.Duration
	CacheSize          int
	ResponseWindow     time.Duration

	PostgresConn string
	RedisAddr    string
	RedisDB      int
}

// Default returns the safe-rollout defaults: enabled pipelines start in
// shadow mode and stay off the API until explicitly exposed.
func Default() Config {
	return Config{
		Enabled:            false,
		ShadowMode:         true,
		APIExposed:         false,
		MaxCalculationTime: 5 * time.Second,
		CorrelationTimeout: 30 * time.Second,
		CacheEnabled:       true,
		CacheTTL:           time.Hour,
		CacheSize:          4096,
		ResponseWindow:     7 * 24 * time.Hour,
	}
}

// FromEnv loads configuration from the QUANTUM_* environment variables,
// falling back to Default for anything unset.
func FromEnv() Config {
	cfg := Default()
	cfg.Enabled = getEnvBool("QUANTUM_ENABLED", cfg.Enabled)
	cfg.ShadowMode = getEnvBool("QUANTUM_SHADOW_MODE", cfg.ShadowMode)
	cfg.APIExposed = getEnvBool("QUANTUM_API_EXPOSED", cfg.APIExposed)
	cfg.MaxCalculationTime = time.Duration(getEnvInt("QUANTUM_MAX_CALC_TIME_MS", int(cfg.MaxCalculationTime/time.Millisecond))) * time.Millisecond
	cfg.CorrelationTimeout = time.Duration(getEnvInt("QUANTUM_CORRELATION_TIMEOUT_MS", int(cfg.CorrelationTimeout/time.Millisecond))) * time.Millisecond
	cfg.CacheEnabled = getEnvBool("QUANTUM_CACHE_ENABLED", cfg.CacheEnabled)
	cfg.CacheTTL = time.Duration(getEnvInt("QUANTUM_CACHE_TTL_SECONDS", int(cfg.CacheTTL/time.Second))) * time.Second
	cfg.CacheSize = getEnvInt("QUANTUM_CACHE_SIZE", cfg.CacheSize)
	cfg.ResponseWindow = time.Duration(getEnvInt("QUANTUM_RESPONSE_WINDOW_HOURS", int(cfg.ResponseWindow/time.Hour))) * time.Hour
	cfg.PostgresConn = getEnv("POSTGRES_CONN", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	return cfg
}

// Validate returns a ConfigurationError for any setting the orchestrator
// cannot operate with. Only called at construction time; validation failures
// are the pipeline's single fatal error class.
func (c Config) Validate() error {
	if c.MaxCalculationTime <= 0 {
		return &api.ConfigurationError{Field: "MaxCalculationTime", Reason: "must be positive"}
	}
	if c.CorrelationTimeout <= 0 {
		return &api.ConfigurationError{Field: "CorrelationTimeout", Reason: "must be positive"}
	}
	if c.CacheEnabled {
		if c.CacheTTL <= 0 {
			return &api.ConfigurationError{Field: "CacheTTL", Reason: "must be positive when caching is enabled"}
		}
		if c.CacheSize <= 0 {
			return &api.ConfigurationError{Field: "CacheSize", Reason: "must be positive when caching is enabled"}
		}
	}
	if c.ResponseWindow <= 0 {
		return &api.ConfigurationError{Field: "ResponseWindow", Reason: "must be positive"}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
