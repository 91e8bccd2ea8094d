package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoFileGiven(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.BindAddress != "0.0.0.0" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "dataRoot: /tmp/custom\nport: 9090\nallowedRepos:\n  - default\n  - staging\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "/tmp/custom" || cfg.Port != 9090 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if len(cfg.AllowedRepos) != 2 {
		t.Errorf("expected 2 allowed repos, got %+v", cfg.AllowedRepos)
	}
	// Fields the file did not specify should keep their default.
	if cfg.BindAddress != "0.0.0.0" {
		t.Errorf("expected unset field to retain default, got %q", cfg.BindAddress)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("POSITORY_PORT", "7777")
	t.Setenv("POSITORY_CORS_ORIGINS", "https://a.example,https://b.example")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7777 {
		t.Errorf("expected env override of port, got %d", cfg.Port)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("expected 2 CORS origins, got %+v", cfg.CORSOrigins)
	}
}
