// Package config loads application configuration from the environment and
// watches an optional tuning file for runtime overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	domaincfg "flowsync/domain/config"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	Environment string `validate:"oneof=development staging production"`

	// Remote authority
	ChannelEndpoint  string `validate:"omitempty,url"`
	MaxReconnectWait time.Duration

	// Session identity
	GraphID string
	UserID  string

	// Authentication
	JWTSecret string
	JWTIssuer string
	SessionTTL time.Duration

	// Debug HTTP surface
	DebugAddress string
	EnableCORS   bool

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`

	// Optional tuning-file path watched for runtime overrides
	TuningPath string

	// Domain tuning
	Domain *domaincfg.DomainConfig
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	domain := domaincfg.DefaultDomainConfig()
	domain.EchoSuppressionTTL = getEnvDuration("ECHO_SUPPRESSION_TTL", domain.EchoSuppressionTTL)
	domain.DedupGuardTTL = getEnvDuration("DEDUP_GUARD_TTL", domain.DedupGuardTTL)
	domain.PasteMatchTolerance = getEnvFloat("PASTE_MATCH_TOLERANCE", domain.PasteMatchTolerance)
	domain.PasteStaggerDelay = getEnvDuration("PASTE_STAGGER_DELAY", domain.PasteStaggerDelay)
	domain.MaxPasteNodes = getEnvInt("MAX_PASTE_NODES", domain.MaxPasteNodes)
	domain.MaxHistoryDepth = getEnvInt("MAX_HISTORY_DEPTH", domain.MaxHistoryDepth)
	if err := domain.Validate(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		ChannelEndpoint:  getEnv("CHANNEL_ENDPOINT", ""),
		MaxReconnectWait: getEnvDuration("MAX_RECONNECT_WAIT", 30*time.Second),

		GraphID: getEnv("GRAPH_ID", ""),
		UserID:  getEnv("USER_ID", ""),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWTIssuer:  getEnv("JWT_ISSUER", "flowsync"),
		SessionTTL: getEnvDuration("SESSION_TTL", 12*time.Hour),

		DebugAddress: getEnv("DEBUG_ADDRESS", ":8080"),
		EnableCORS:   getEnvBool("ENABLE_CORS", true),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		TuningPath: getEnv("TUNING_PATH", ""),

		Domain: domain,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is an alias for LoadConfig.
func Load() (*Config, error) {
	return LoadConfig()
}

var validate = validator.New()

// Validate checks if all required configuration is present.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.ChannelEndpoint == "" {
			return fmt.Errorf("CHANNEL_ENDPOINT is required in production")
		}
	}
	return nil
}

// IsDevelopment checks if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
