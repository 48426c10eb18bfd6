package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is taskgate's top-level configuration: defaults -> TOML file ->
// env var overrides, in that order.
type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	Store     StoreConfig     `toml:"store"`
	Catalogue CatalogueConfig `toml:"catalogue"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Queue     QueueConfig     `toml:"queue"`
	Provider  ProviderConfig  `toml:"provider"`
	Observer  ObserverConfig  `toml:"observer"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// StoreConfig selects and configures the Task Store (C6). Driver is
// "sqlite" or "postgres"; DSN is the driver-specific connection string.
type StoreConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// CatalogueConfig configures the Model Catalogue Cache (C3).
type CatalogueConfig struct {
	TTL time.Duration `toml:"ttl"`
}

// ScoringConfig points at the external Scoring Service (C5's collaborator).
type ScoringConfig struct {
	BaseURL   string `toml:"base_url"`
	BatchSize int    `toml:"batch_size"`
}

// QueueConfig configures the Work Queue (C10).
type QueueConfig struct {
	BufferSize int `toml:"buffer_size"`
}

// ProviderConfig configures the default LLM adapter (C2, OpenRouter).
type ProviderConfig struct {
	BaseURL string `toml:"base_url"`
}

// ObserverConfig toggles OTEL instrumentation (§9/§10).
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with every field set to its zero-config value.
func Default() Config {
	return Config{
		HTTP:      HTTPConfig{Addr: ":8080"},
		Store:     StoreConfig{Driver: "sqlite", DSN: "taskgate.db"},
		Catalogue: CatalogueConfig{TTL: 5 * time.Minute},
		Scoring:   ScoringConfig{BaseURL: "http://localhost:9100", BatchSize: 0},
		Queue:     QueueConfig{BufferSize: 64},
		Provider:  ProviderConfig{BaseURL: "https://openrouter.ai/api/v1"},
	}
}

// Load reads config: defaults -> TOML file (if present) -> env var
// overrides. path defaults to "taskgate.toml" when empty; a missing file
// is not an error, matching the teacher's tolerant Load.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "taskgate.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("TASKGATE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TASKGATE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TASKGATE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("TASKGATE_SCORING_BASE_URL"); v != "" {
		cfg.Scoring.BaseURL = v
	}
	if v := os.Getenv("TASKGATE_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("TASKGATE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("TASKGATE_CATALOGUE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Catalogue.TTL = d
		}
	}

	return cfg
}
