package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
environment: prod
server:
  port: 9090
database:
  url: postgres://localhost/crm
  max_conns: 20
redis:
  url: redis://localhost:6379
  stream: "crm:snapshot:events"
  group: scoring
logging:
  level: debug
ingest:
  default_limit: 500
  deadline: 2m
retry:
  max_attempts: 3
  initial_delay: 500ms
  max_delay: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != "prod" {
		t.Errorf("unexpected environment %q", cfg.Environment)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost/crm" || cfg.Database.MaxConns != 20 {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Redis.Stream != "crm:snapshot:events" || cfg.Redis.Group != "scoring" {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Ingest.DefaultLimit != 500 || cfg.Ingest.Deadline != 2*time.Minute {
		t.Errorf("unexpected ingest config %+v", cfg.Ingest)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelay != 500*time.Millisecond {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "environment: dev\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Ingest.DefaultLimit != 1000 {
		t.Errorf("expected default limit 1000, got %d", cfg.Ingest.DefaultLimit)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialDelay != time.Second || cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("unexpected retry defaults %+v", cfg.Retry)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DATABASE_URL", "postgres://db.internal/crm")
	cfg, err := Load(writeConfig(t, `
environment: dev
database:
  url: ${TEST_DATABASE_URL}
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.URL != "postgres://db.internal/crm" {
		t.Errorf("env var not expanded: %q", cfg.Database.URL)
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	if _, err := Load(writeConfig(t, "environment: qa\n")); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in      string
		want    Environment
		wantErr bool
	}{
		{"", EnvDevelopment, false},
		{"dev", EnvDevelopment, false},
		{"development", EnvDevelopment, false},
		{"staging", EnvStaging, false},
		{"prod", EnvProduction, false},
		{"production", EnvProduction, false},
		{"qa", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEnvironment(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEnvironment(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEnvironment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
