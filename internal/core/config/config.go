package config

import (
	"fmt"
	"time"

	redisclient "github.com/oybaeko/HubSpotPipeline/internal/infra/redis"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration. It is constructed once
// per invocation and passed down explicitly; nothing reads environment
// selection ambiently after load.
type AppConfig struct {
	Environment string             `yaml:"environment"`
	Server      ServerConfig       `yaml:"server"`
	Database    postgres.Config    `yaml:"database"`
	Redis       redisclient.Config `yaml:"redis"`
	Logging     LoggingConfig      `yaml:"logging"`
	Ingest      IngestConfig       `yaml:"ingest"`
	Retry       RetryConfig        `yaml:"retry"`
	Retention   RetentionConfig    `yaml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// IngestConfig holds snapshot ingest settings.
type IngestConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	Deadline     time.Duration `yaml:"deadline"` // 0 = no deadline
}

// RetryConfig holds warehouse retry settings.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// RetentionConfig controls pruning of old snapshots. A zero period keeps
// everything forever.
type RetentionConfig struct {
	Period time.Duration `yaml:"period"`
}

// Environment is the deployment environment the pipeline targets.
type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "prod"
)

// ParseEnvironment resolves an environment string to the typed enum. This is
// the single resolution point; downstream logic is environment-agnostic.
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "", "dev", "development":
		return EnvDevelopment, nil
	case "staging":
		return EnvStaging, nil
	case "prod", "production":
		return EnvProduction, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}
