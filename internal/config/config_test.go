package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GRCPILOT_DB_DSN", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Agent.MaxIterations(); got != 4 {
		t.Errorf("MaxIterations = %d, want 4", got)
	}
	if got := cfg.Metering.FreeTierLimit(); got != DefaultFreeTierLimit {
		t.Errorf("FreeTierLimit = %d, want %d", got, DefaultFreeTierLimit)
	}
	if got := cfg.Integrations.Timeout(); got != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", got)
	}
	if got := cfg.StorageDriverName(); got != "sqlite" {
		t.Errorf("driver = %q, want sqlite", got)
	}
	if got := cfg.Scheduler.SweepSpec(); got != "@every 30m" {
		t.Errorf("SweepSpec = %q", got)
	}
	if !cfg.Scheduler.SweepEnabled() {
		t.Error("sweep should default to enabled")
	}
	if got := cfg.HTTP.Addr(); got != ":8080" {
		t.Errorf("Addr = %q", got)
	}
	if got := cfg.Security.CreatorRole(); got != "owner" {
		t.Errorf("CreatorRole = %q", got)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "grcpilot.yaml", `
log:
  level: debug
agent:
  max_iterations: 6
  read_timeout_seconds: 3
metering:
  free_tier_limit: 0
providers:
  anthropic:
    model: test-model
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Agent.MaxIterations(); got != 6 {
		t.Errorf("MaxIterations = %d, want 6", got)
	}
	if got := cfg.Agent.ReadTimeout(); got != 3*time.Second {
		t.Errorf("ReadTimeout = %v", got)
	}
	if got := cfg.Metering.FreeTierLimit(); got != 0 {
		t.Errorf("explicit zero limit = %d, want 0", got)
	}
	if got := cfg.Providers.Anthropic.ModelName(); got != "test-model" {
		t.Errorf("ModelName = %q", got)
	}
}

func TestLoad_JSONAndEnvOverrides(t *testing.T) {
	path := writeFile(t, "grcpilot.json", `{"providers":{"anthropic":{"api_key":"from-file"}}}`)
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	t.Setenv("GRCPILOT_JWT_SECRET", "s3cret")
	t.Setenv("GRCPILOT_DB_DSN", "postgres://grc@localhost/grc")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "from-env" {
		t.Errorf("api key = %q, want env value", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Security.JWTSecret != "s3cret" {
		t.Errorf("jwt secret not overridden")
	}
	if cfg.StorageDriverName() != "postgres" || cfg.Storage.Postgres.DSN != "postgres://grc@localhost/grc" {
		t.Errorf("storage = %+v, want postgres with env DSN", cfg.Storage)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("GRCPILOT_DB_DSN", "")
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad driver", "storage:\n  driver: mysql\n", "storage.driver"},
		{"postgres without dsn", "storage:\n  driver: postgres\n", "storage.postgres.dsn"},
		{"negative limit", "metering:\n  free_tier_limit: -1\n", "free_tier_limit"},
		{"unknown default role", "security:\n  default_role: boss\n  roles:\n    owner:\n      permissions: [records:read]\n", "default_role"},
		{"tracing without endpoint", "observability:\n  tracing:\n    enabled: true\n", "endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
