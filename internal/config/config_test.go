package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Store.Driver)
	}
	if cfg.Catalogue.TTL != 5*time.Minute {
		t.Errorf("expected 5m catalogue TTL, got %s", cfg.Catalogue.TTL)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.HTTP.Addr)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[store]
driver = "postgres"
dsn = "postgres://localhost/taskgate"

[queue]
buffer_size = 256
`), 0644)

	cfg := Load(path)
	if cfg.Store.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Store.Driver)
	}
	if cfg.Store.DSN != "postgres://localhost/taskgate" {
		t.Errorf("expected postgres DSN, got %s", cfg.Store.DSN)
	}
	if cfg.Queue.BufferSize != 256 {
		t.Errorf("expected 256, got %d", cfg.Queue.BufferSize)
	}
	// Defaults preserved for untouched sections.
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("default should be preserved, got %s", cfg.HTTP.Addr)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TASKGATE_STORE_DRIVER", "postgres")
	t.Setenv("TASKGATE_STORE_DSN", "postgres://env/taskgate")
	t.Setenv("TASKGATE_OBSERVER_ENABLED", "true")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Store.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Store.Driver)
	}
	if cfg.Store.DSN != "postgres://env/taskgate" {
		t.Errorf("expected env DSN, got %s", cfg.Store.DSN)
	}
	if !cfg.Observer.Enabled {
		t.Errorf("expected observer enabled from env")
	}
}

func TestCatalogueTTLEnvOverride(t *testing.T) {
	t.Setenv("TASKGATE_CATALOGUE_TTL", "30s")
	cfg := Load("/nonexistent/path.toml")
	if cfg.Catalogue.TTL != 30*time.Second {
		t.Errorf("expected 30s, got %s", cfg.Catalogue.TTL)
	}
}
