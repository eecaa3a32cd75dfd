// Package config provides deployment configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// ErrMissingVariable is returned when a required environment variable is unset.
var ErrMissingVariable = errors.New("required environment variable is not set")

// Config holds all deployment configuration.
// All fields are populated from environment variables.
type Config struct {
	// Registry namespace the image is pulled from. Required.
	DockerUsername string `env:"DOCKER_USERNAME"`

	// Image
	Image    string `env:"IMAGE" envDefault:"tangyuling-backend"`
	ImageTag string `env:"IMAGE_TAG" envDefault:"latest"`

	// Container runtime
	DockerBinary   string `env:"DOCKER_BINARY" envDefault:"docker"`
	ComposeCommand string `env:"COMPOSE_COMMAND" envDefault:"docker compose"`
	ComposeFile    string `env:"COMPOSE_FILE" envDefault:"docker-compose.yml"`
	ComposeProject string `env:"COMPOSE_PROJECT" envDefault:""`

	// Rollout timing
	StartupDelay time.Duration `env:"STARTUP_DELAY" envDefault:"10s"`

	// Health check
	HealthURL      string        `env:"HEALTH_URL" envDefault:"http://localhost:8000/health"`
	HealthDelay    time.Duration `env:"HEALTH_DELAY" envDefault:"5s"`
	HealthAttempts int           `env:"HEALTH_ATTEMPTS" envDefault:"1"`
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" envDefault:"5s"`

	// Log output shown to the operator
	LogTail        int `env:"LOG_TAIL" envDefault:"50"`
	FailureLogTail int `env:"FAILURE_LOG_TAIL" envDefault:"100"`

	// Application .env contract
	EnvFile   string `env:"ENV_FILE" envDefault:".env"`
	StrictEnv bool   `env:"STRICT_ENV" envDefault:"false"`

	// Deploy lock and history (Redis). Empty disables both.
	RedisURL     string        `env:"DEPLOY_REDIS_URL" envDefault:""`
	LockTTL      time.Duration `env:"LOCK_TTL" envDefault:"15m"`
	HistoryLimit int64         `env:"HISTORY_LIMIT" envDefault:"20"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// ImageRef returns the fully qualified image reference, e.g. "alice/tangyuling-backend:latest".
func (c *Config) ImageRef() string {
	return fmt.Sprintf("%s/%s:%s", c.DockerUsername, c.Image, c.ImageTag)
}

// ComposeArgs splits COMPOSE_COMMAND into the binary and its leading arguments.
func (c *Config) ComposeArgs() []string {
	return strings.Fields(c.ComposeCommand)
}

// Project returns the name used to scope the lock and history keys.
func (c *Config) Project() string {
	if c.ComposeProject != "" {
		return c.ComposeProject
	}
	return c.Image
}

// HistoryEnabled returns true if a Redis backend is configured.
func (c *Config) HistoryEnabled() bool {
	return c.RedisURL != ""
}

// Validate checks that required configuration is present and sane.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DockerUsername) == "" {
		return fmt.Errorf("%w: DOCKER_USERNAME", ErrMissingVariable)
	}
	if len(c.ComposeArgs()) == 0 {
		return fmt.Errorf("COMPOSE_COMMAND must not be empty")
	}
	if c.DockerBinary == "" {
		return fmt.Errorf("DOCKER_BINARY must not be empty")
	}
	if c.HealthAttempts < 1 {
		return fmt.Errorf("HEALTH_ATTEMPTS must be at least 1, got %d", c.HealthAttempts)
	}
	if c.StartupDelay < 0 || c.HealthDelay < 0 || c.HealthInterval < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.LogTail < 0 || c.FailureLogTail < 0 {
		return fmt.Errorf("log tail sizes must not be negative")
	}
	return nil
}

// Load parses environment variables and returns a validated Config.
// Returns an error wrapping ErrMissingVariable if DOCKER_USERNAME is absent.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
