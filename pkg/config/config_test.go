package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/3meam/ash/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ASH_STORE_BACKEND", "")
	t.Setenv("ASH_REDIS_ADDR", "")
	t.Setenv("ASH_DEFAULT_TTL_MS", "")
	t.Setenv("ASH_DEFAULT_MODE", "")
	t.Setenv("ASH_DEFAULT_PROTOCOL", "")
	t.Setenv("OBSERVABILITY_ENABLED", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Contains(t, cfg.RedisAddr, "localhost")
	assert.Equal(t, 5*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, "balanced", cfg.DefaultMode)
	assert.Equal(t, "v1", cfg.DefaultProtocol)
	assert.False(t, cfg.ObservabilityOn)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ASH_STORE_BACKEND", "redis")
	t.Setenv("ASH_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("ASH_DEFAULT_TTL_MS", "60000")
	t.Setenv("ASH_DEFAULT_MODE", "strict")
	t.Setenv("ASH_DEFAULT_PROTOCOL", "v2.1")
	t.Setenv("OBSERVABILITY_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, time.Minute, cfg.DefaultTTL)
	assert.Equal(t, "strict", cfg.DefaultMode)
	assert.Equal(t, "v2.1", cfg.DefaultProtocol)
	assert.True(t, cfg.ObservabilityOn)
}

func TestLoad_InvalidTTLFallsBackToDefault(t *testing.T) {
	t.Setenv("ASH_DEFAULT_TTL_MS", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, 5*time.Minute, cfg.DefaultTTL)
}
