package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_WithRequiredVars(t *testing.T) {
	t.Setenv("DOCKER_USERNAME", "jeju")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.DockerUsername != "jeju" {
		t.Errorf("expected DockerUsername to be set, got %s", cfg.DockerUsername)
	}

	if got := cfg.ImageRef(); got != "jeju/tangyuling-backend:latest" {
		t.Errorf("ImageRef() = %s, want jeju/tangyuling-backend:latest", got)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DOCKER_USERNAME", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing DOCKER_USERNAME, got nil")
	}
	if !errors.Is(err, ErrMissingVariable) {
		t.Errorf("expected ErrMissingVariable, got %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Setenv("DOCKER_USERNAME", "jeju")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.HealthURL != "http://localhost:8000/health" {
		t.Errorf("expected default HealthURL, got %s", cfg.HealthURL)
	}

	if cfg.StartupDelay != 10*time.Second {
		t.Errorf("expected default StartupDelay 10s, got %v", cfg.StartupDelay)
	}

	if cfg.HealthDelay != 5*time.Second {
		t.Errorf("expected default HealthDelay 5s, got %v", cfg.HealthDelay)
	}

	if cfg.HealthAttempts != 1 {
		t.Errorf("expected default HealthAttempts 1, got %d", cfg.HealthAttempts)
	}

	if cfg.LogTail != 50 || cfg.FailureLogTail != 100 {
		t.Errorf("expected log tails 50/100, got %d/%d", cfg.LogTail, cfg.FailureLogTail)
	}

	if cfg.LogFormat != "text" {
		t.Errorf("expected default LogFormat 'text', got %s", cfg.LogFormat)
	}

	if cfg.HistoryEnabled() {
		t.Error("expected history to be disabled without DEPLOY_REDIS_URL")
	}
}

func TestConfig_ComposeArgs(t *testing.T) {
	testCases := []struct {
		command string
		want    []string
	}{
		{"docker compose", []string{"docker", "compose"}},
		{"docker-compose", []string{"docker-compose"}},
		{"  podman   compose ", []string{"podman", "compose"}},
	}

	for _, tc := range testCases {
		cfg := &Config{ComposeCommand: tc.command}
		got := cfg.ComposeArgs()
		if len(got) != len(tc.want) {
			t.Fatalf("ComposeArgs(%q) = %v, want %v", tc.command, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ComposeArgs(%q)[%d] = %s, want %s", tc.command, i, got[i], tc.want[i])
			}
		}
	}
}

func TestConfig_Project(t *testing.T) {
	cfg := &Config{Image: "tangyuling-backend"}
	if cfg.Project() != "tangyuling-backend" {
		t.Errorf("expected image name as project, got %s", cfg.Project())
	}

	cfg.ComposeProject = "tangyuling"
	if cfg.Project() != "tangyuling" {
		t.Errorf("expected compose project, got %s", cfg.Project())
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DockerUsername: "jeju",
			DockerBinary:   "docker",
			ComposeCommand: "docker compose",
			HealthAttempts: 1,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"blank username", func(c *Config) { c.DockerUsername = "   " }, true},
		{"empty compose command", func(c *Config) { c.ComposeCommand = " " }, true},
		{"empty docker binary", func(c *Config) { c.DockerBinary = "" }, true},
		{"zero attempts", func(c *Config) { c.HealthAttempts = 0 }, true},
		{"negative delay", func(c *Config) { c.StartupDelay = -time.Second }, true},
		{"negative tail", func(c *Config) { c.LogTail = -1 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
