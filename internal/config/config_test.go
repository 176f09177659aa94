package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesProvidersAndEngine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
database: "file:area.db"
engine:
  tick-interval-seconds: 10
  eval-concurrency: 4
providers:
  github:
    client-id: "abc"
    client-secret: "def"
  weather:
    api-key: "owm-key"
`)
	if errWrite := os.WriteFile(path, content, 0600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Database != "file:area.db" {
		t.Fatalf("database: got %q", cfg.Database)
	}
	if cfg.Engine.TickIntervalSeconds != 10 || cfg.Engine.EvalConcurrency != 4 {
		t.Fatalf("engine config: got %+v", cfg.Engine)
	}

	gh, ok := cfg.Provider("github")
	if !ok || gh.ClientID != "abc" || gh.ClientSecret != "def" {
		t.Fatalf("github provider: got %+v ok=%v", gh, ok)
	}
	weather, ok := cfg.Provider("Weather")
	if !ok || weather.APIKey != "owm-key" {
		t.Fatalf("weather provider: got %+v ok=%v", weather, ok)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if errWrite := os.WriteFile(path, []byte("providers: {}\n"), 0600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	if _, errLoad := Load(path); errLoad == nil {
		t.Fatal("expected error for missing database dsn")
	}
}
