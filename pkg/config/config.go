package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds ash-server configuration.
type Config struct {
	Port     string
	LogLevel string

	// StoreBackend selects the ContextStore implementation: "memory" or
	// "redis". "memory" is the safe default for local development; a
	// multi-replica deployment must set this to "redis".
	StoreBackend string
	RedisAddr    string

	DefaultTTL      time.Duration
	DefaultMode     string // "balanced" or "strict"
	DefaultProtocol string // "v1" or "v2.1"

	OTLPEndpoint    string
	ObservabilityOn bool
	ServiceName     string
	ServiceVersion  string
}

// Load loads configuration from environment variables, falling back to
// development-safe defaults for anything unset.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	storeBackend := os.Getenv("ASH_STORE_BACKEND")
	if storeBackend == "" {
		storeBackend = "memory"
	}

	redisAddr := os.Getenv("ASH_REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	defaultTTL := 5 * time.Minute
	if raw := os.Getenv("ASH_DEFAULT_TTL_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			defaultTTL = time.Duration(ms) * time.Millisecond
		}
	}

	defaultMode := os.Getenv("ASH_DEFAULT_MODE")
	if defaultMode == "" {
		defaultMode = "balanced"
	}

	defaultProtocol := os.Getenv("ASH_DEFAULT_PROTOCOL")
	if defaultProtocol == "" {
		defaultProtocol = "v1"
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	observabilityOn := os.Getenv("OBSERVABILITY_ENABLED") == "true"

	serviceName := os.Getenv("SERVICE_NAME")
	if serviceName == "" {
		serviceName = "ash-server"
	}

	serviceVersion := os.Getenv("SERVICE_VERSION")
	if serviceVersion == "" {
		serviceVersion = "1.0.0"
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		StoreBackend:    storeBackend,
		RedisAddr:       redisAddr,
		DefaultTTL:      defaultTTL,
		DefaultMode:     defaultMode,
		DefaultProtocol: defaultProtocol,
		OTLPEndpoint:    otlpEndpoint,
		ObservabilityOn: observabilityOn,
		ServiceName:     serviceName,
		ServiceVersion:  serviceVersion,
	}
}
