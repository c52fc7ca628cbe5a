package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_explicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kura.yaml")
	content := []byte(`
vault:
  root_dir: ./vault
  key_path: ./vault.key
storage:
  database_path: ./kura.db
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q", resolved)
	}
	if cfg.Server.Port == 0 {
		t.Error("defaults not applied")
	}
	if !filepath.IsAbs(cfg.Vault.RootDir) {
		t.Errorf("root_dir not expanded: %q", cfg.Vault.RootDir)
	}
}

func TestLoadConfig_missingFile(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}
