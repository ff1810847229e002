package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caremesh/ssocore/pkg/observability"
	"github.com/caremesh/ssocore/pkg/token"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Token configuration
	Token TokenConfig

	// State configuration for the handshake store
	State StateConfig

	// Audit trail configuration
	Audit AuditConfig

	// Providers configuration
	Providers ProvidersConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// TokenConfig holds session token settings.
type TokenConfig struct {
	// SigningSecret signs all session tokens. Required, at least
	// token.MinSecretLength bytes.
	SigningSecret string

	Issuer     string
	Audience   string
	SessionTTL time.Duration
}

// StateConfig selects and tunes the handshake state store.
type StateConfig struct {
	// Backend is "memory" or "redis".
	Backend string

	// Window is how long a pending handshake stays valid.
	Window time.Duration

	// Redis settings, used when Backend is "redis".
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// AuditConfig selects and tunes the audit sinks.
type AuditConfig struct {
	// Backend is "memory", "file", or "multi" (both).
	Backend string

	// MemoryCapacity bounds the in-memory ring; zero means the default.
	MemoryCapacity int

	// File sink settings, used when Backend is "file" or "multi".
	FilePath string
	Rotate   bool
	MaxSize  int64
	MaxFiles int
}

// ProvidersConfig locates the identity provider definitions.
type ProvidersConfig struct {
	// File is the YAML provider definitions file; empty means providers
	// are registered only through the admin API.
	File string

	// Watch reloads the provider file on change.
	Watch bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// SweepSchedule is the cron spec for the expiry sweep job.
	SweepSchedule string

	// OpenTelemetry
	OTel observability.OTelConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Token:         loadTokenConfig(),
		State:         loadStateConfig(),
		Audit:         loadAuditConfig(),
		Providers:     loadProvidersConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SSOCORE_HOST", "0.0.0.0"),
		Port:            getEnv("SSOCORE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SSOCORE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SSOCORE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SSOCORE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SSOCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SSOCORE_HEALTH_PORT", "9090"),
	}
}

// loadTokenConfig loads token configuration from environment
func loadTokenConfig() TokenConfig {
	return TokenConfig{
		SigningSecret: getEnv("SSOCORE_SIGNING_SECRET", ""),
		Issuer:        getEnv("SSOCORE_TOKEN_ISSUER", "ssocore"),
		Audience:      getEnv("SSOCORE_TOKEN_AUDIENCE", "ssocore-clients"),
		SessionTTL:    getEnvDuration("SSOCORE_SESSION_TTL", token.DefaultSessionTTL),
	}
}

// loadStateConfig loads handshake state configuration from environment
func loadStateConfig() StateConfig {
	return StateConfig{
		Backend:       getEnv("SSOCORE_STATE_BACKEND", "memory"),
		Window:        getEnvDuration("SSOCORE_STATE_WINDOW", 0),
		RedisURL:      getEnv("SSOCORE_REDIS_URL", ""),
		RedisPassword: getEnv("SSOCORE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SSOCORE_REDIS_DB", 0),
		RedisPoolSize: getEnvInt("SSOCORE_REDIS_POOL_SIZE", 0),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Backend:        getEnv("SSOCORE_AUDIT_BACKEND", "memory"),
		MemoryCapacity: getEnvInt("SSOCORE_AUDIT_MEMORY_CAPACITY", 0),
		FilePath:       getEnv("SSOCORE_AUDIT_FILE", "/var/log/ssocore/audit"),
		Rotate:         getEnvBool("SSOCORE_AUDIT_ROTATE", true),
		MaxSize:        getEnvInt64("SSOCORE_AUDIT_MAX_SIZE", 0),
		MaxFiles:       getEnvInt("SSOCORE_AUDIT_MAX_FILES", 0),
	}
}

// loadProvidersConfig loads provider file configuration from environment
func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		File:  getEnv("SSOCORE_PROVIDERS_FILE", ""),
		Watch: getEnvBool("SSOCORE_PROVIDERS_WATCH", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("SSOCORE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("SSOCORE_METRICS_ENABLED", true),
		SweepSchedule:  getEnv("SSOCORE_SWEEP_SCHEDULE", "@every 1m"),
		OTel: observability.OTelConfig{
			Enabled:        getEnvBool("SSOCORE_OTEL_ENABLED", false),
			Endpoint:       getEnv("SSOCORE_OTEL_ENDPOINT", "localhost:4317"),
			ServiceName:    getEnv("SSOCORE_OTEL_SERVICE_NAME", "ssocore"),
			ServiceVersion: getEnv("SSOCORE_OTEL_SERVICE_VERSION", "1.0.0"),
			Insecure:       getEnvBool("SSOCORE_OTEL_INSECURE", true),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if len(c.Token.SigningSecret) < token.MinSecretLength {
		return fmt.Errorf("signing secret must be at least %d bytes", token.MinSecretLength)
	}
	if c.Token.Issuer == "" {
		return fmt.Errorf("token issuer is required")
	}
	if c.Token.Audience == "" {
		return fmt.Errorf("token audience is required")
	}

	switch c.State.Backend {
	case "memory":
	case "redis":
		if c.State.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis state backend")
		}
	default:
		return fmt.Errorf("invalid state backend: %s (must be memory or redis)", c.State.Backend)
	}

	switch c.Audit.Backend {
	case "memory":
	case "file", "multi":
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path is required for %s audit backend", c.Audit.Backend)
		}
	default:
		return fmt.Errorf("invalid audit backend: %s (must be memory, file, or multi)", c.Audit.Backend)
	}

	if c.Providers.Watch && c.Providers.File == "" {
		return fmt.Errorf("provider watching requires a provider file")
	}

	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTel.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
