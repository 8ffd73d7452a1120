package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Pipeline.NoResultsFloor != 0.4 {
		t.Errorf("NoResultsFloor = %v, want 0.4", cfg.Pipeline.NoResultsFloor)
	}
	if cfg.Scoring.MultiVectorWeight != 0.18 {
		t.Errorf("MultiVectorWeight = %v, want 0.18", cfg.Scoring.MultiVectorWeight)
	}
	if cfg.Graph.NeighborSimilarityFloor != 0.55 {
		t.Errorf("NeighborSimilarityFloor = %v, want 0.55", cfg.Graph.NeighborSimilarityFloor)
	}
	if cfg.Cache.L1TtlSeconds != 300 || cfg.Cache.L2TtlSeconds != 1800 {
		t.Errorf("tier TTLs = %d/%d, want 300/1800", cfg.Cache.L1TtlSeconds, cfg.Cache.L2TtlSeconds)
	}
	if cfg.Cache.EmbeddingCacheSize != 64 {
		t.Errorf("EmbeddingCacheSize = %d, want 64", cfg.Cache.EmbeddingCacheSize)
	}
	if cfg.Defeater.BatchSize != 10 {
		t.Errorf("Defeater.BatchSize = %d, want 10", cfg.Defeater.BatchSize)
	}
	if cfg.Pipeline.DeterministicMode {
		t.Error("deterministic mode should be off by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unsupported version", func(c *Config) { c.Version = 99 }, "version"},
		{"weights do not sum to one", func(c *Config) { c.Scoring.Semantic = 0.5 }, "scoring"},
		{"floor above one", func(c *Config) { c.Pipeline.NoResultsFloor = 1.5 }, "pipeline.noResultsFloor"},
		{"negative neighbor floor", func(c *Config) { c.Graph.NeighborSimilarityFloor = -0.1 }, "graph.neighborSimilarityFloor"},
		{"zero ttl", func(c *Config) { c.Cache.L1TtlSeconds = 0 }, "cache"},
		{"zero batch", func(c *Config) { c.Defeater.BatchSize = 0 }, "defeater.batchSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() returned unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() should return an error")
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() error type = %T, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantErr {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantErr)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "version", Message: "unsupported config version 99"}

	want := "config error in field 'version': unsupported config version 99"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLoadConfig_Default(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d (default)", cfg.Version, CurrentVersion)
	}
	if cfg.Cache.L2MaxEntries != 512 {
		t.Errorf("L2MaxEntries = %d, want 512", cfg.Cache.L2MaxEntries)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create %s dir: %v", DirName, err)
	}

	configContent := `{
		"version": 1,
		"pipeline": {"deterministicMode": true, "maxPacks": 4},
		"cache": {"l1TtlSeconds": 60}
	}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !cfg.Pipeline.DeterministicMode {
		t.Error("DeterministicMode should be enabled per config")
	}
	if cfg.Pipeline.MaxPacks != 4 {
		t.Errorf("MaxPacks = %d, want 4", cfg.Pipeline.MaxPacks)
	}
	if cfg.Cache.L1TtlSeconds != 60 {
		t.Errorf("L1TtlSeconds = %d, want 60", cfg.Cache.L1TtlSeconds)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Cache.L2TtlSeconds != 1800 {
		t.Errorf("L2TtlSeconds = %d, want default 1800", cfg.Cache.L2TtlSeconds)
	}
	if cfg.Scoring.Semantic != 0.35 {
		t.Errorf("Scoring.Semantic = %v, want default 0.35", cfg.Scoring.Semantic)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("CTXPACK_DETERMINISTIC", "true")
	t.Setenv("CTXPACK_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.Pipeline.DeterministicMode {
		t.Error("CTXPACK_DETERMINISTIC should enable deterministic mode")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfig_Save(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Pipeline.MaxPacks = 42
	cfg.Embeddings.APIKey = "sk-secret"

	if err := cfg.Save(tmpDir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, DirName, "config.json"))
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if string(data) == "" {
		t.Fatal("config file is empty")
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("API keys must not be persisted")
	}

	loaded, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig() after Save error = %v", err)
	}
	if loaded.Pipeline.MaxPacks != 42 {
		t.Errorf("MaxPacks = %d, want 42", loaded.Pipeline.MaxPacks)
	}
}
