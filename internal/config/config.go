package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// CurrentVersion is the only config schema version this build understands.
const CurrentVersion = 1

// DirName is the per-repository state directory holding config.json and the database.
const DirName = ".ctxpack"

// Config represents the complete ctxpack configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Pipeline   PipelineConfig   `json:"pipeline" mapstructure:"pipeline"`
	Scoring    ScoringConfig    `json:"scoring" mapstructure:"scoring"`
	Graph      GraphConfig      `json:"graph" mapstructure:"graph"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	Defeater   DefeaterConfig   `json:"defeater" mapstructure:"defeater"`
	Embeddings EmbeddingsConfig `json:"embeddings" mapstructure:"embeddings"`
	Synthesis  SynthesisConfig  `json:"synthesis" mapstructure:"synthesis"`
	Telemetry  TelemetryConfig  `json:"telemetry" mapstructure:"telemetry"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// PipelineConfig contains query pipeline behaviour switches and thresholds
type PipelineConfig struct {
	DeterministicMode     bool    `json:"deterministicMode" mapstructure:"deterministicMode"`
	RerankEnabled         bool    `json:"rerankEnabled" mapstructure:"rerankEnabled"`
	SynthesisEnabled      bool    `json:"synthesisEnabled" mapstructure:"synthesisEnabled"`
	WaitForIndexMs        int     `json:"waitForIndexMs" mapstructure:"waitForIndexMs"`
	MaxPacks              int     `json:"maxPacks" mapstructure:"maxPacks"`
	SemanticMinSimilarity float64 `json:"semanticMinSimilarity" mapstructure:"semanticMinSimilarity"`
	FallbackMinSimilarity float64 `json:"fallbackMinSimilarity" mapstructure:"fallbackMinSimilarity"`
	NoResultsFloor        float64 `json:"noResultsFloor" mapstructure:"noResultsFloor"`
	PackConfidenceFloor   float64 `json:"packConfidenceFloor" mapstructure:"packConfidenceFloor"`
	CalibrationWeight     float64 `json:"calibrationWeight" mapstructure:"calibrationWeight"`
}

// ScoringConfig contains the baseline signal weights; they must sum to 1.0
type ScoringConfig struct {
	Semantic          float64 `json:"semantic" mapstructure:"semantic"`
	PageRank          float64 `json:"pagerank" mapstructure:"pagerank"`
	Centrality        float64 `json:"centrality" mapstructure:"centrality"`
	Confidence        float64 `json:"confidence" mapstructure:"confidence"`
	Recency           float64 `json:"recency" mapstructure:"recency"`
	Cochange          float64 `json:"cochange" mapstructure:"cochange"`
	MultiVectorWeight float64 `json:"multiVectorWeight" mapstructure:"multiVectorWeight"`
}

// GraphConfig contains graph expansion configuration
type GraphConfig struct {
	SeedCount               int     `json:"seedCount" mapstructure:"seedCount"`
	NeighborSimilarityFloor float64 `json:"neighborSimilarityFloor" mapstructure:"neighborSimilarityFloor"`
}

// CacheConfig contains tiered query cache configuration
type CacheConfig struct {
	L1TtlSeconds            int  `json:"l1TtlSeconds" mapstructure:"l1TtlSeconds"`
	L1MaxEntries            int  `json:"l1MaxEntries" mapstructure:"l1MaxEntries"`
	L2TtlSeconds            int  `json:"l2TtlSeconds" mapstructure:"l2TtlSeconds"`
	L2MaxEntries            int  `json:"l2MaxEntries" mapstructure:"l2MaxEntries"`
	PersistentEnabled       bool `json:"persistentEnabled" mapstructure:"persistentEnabled"`
	PersistentMaxEntries    int  `json:"persistentMaxEntries" mapstructure:"persistentMaxEntries"`
	PersistentMaxAgeSeconds int  `json:"persistentMaxAgeSeconds" mapstructure:"persistentMaxAgeSeconds"`
	EmbeddingCacheSize      int  `json:"embeddingCacheSize" mapstructure:"embeddingCacheSize"`
	FeedbackCacheSize       int  `json:"feedbackCacheSize" mapstructure:"feedbackCacheSize"`
}

// DefeaterConfig contains defeater check configuration
type DefeaterConfig struct {
	BatchSize int `json:"batchSize" mapstructure:"batchSize"`
}

// EmbeddingsConfig contains embedding provider configuration
type EmbeddingsConfig struct {
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`
	BaseURL  string `json:"baseUrl,omitempty" mapstructure:"baseUrl"`
	APIKey   string `json:"-" mapstructure:"apiKey"`
}

// SynthesisConfig contains LLM synthesis configuration
type SynthesisConfig struct {
	Model     string `json:"model" mapstructure:"model"`
	MaxTokens int    `json:"maxTokens" mapstructure:"maxTokens"`
	BaseURL   string `json:"baseUrl,omitempty" mapstructure:"baseUrl"`
	APIKey    string `json:"-" mapstructure:"apiKey"`
}

// TelemetryConfig contains metrics and tracing switches
type TelemetryConfig struct {
	MetricsEnabled bool `json:"metricsEnabled" mapstructure:"metricsEnabled"`
	TracingEnabled bool `json:"tracingEnabled" mapstructure:"tracingEnabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		RepoRoot: ".",
		Pipeline: PipelineConfig{
			DeterministicMode:     false,
			RerankEnabled:         true,
			SynthesisEnabled:      true,
			WaitForIndexMs:        0,
			MaxPacks:              12,
			SemanticMinSimilarity: 0.35,
			FallbackMinSimilarity: 0.2,
			NoResultsFloor:        0.4,
			PackConfidenceFloor:   0.1,
			CalibrationWeight:     0.3,
		},
		Scoring: ScoringConfig{
			Semantic:          0.35,
			PageRank:          0.20,
			Centrality:        0.10,
			Confidence:        0.20,
			Recency:           0.10,
			Cochange:          0.05,
			MultiVectorWeight: 0.18,
		},
		Graph: GraphConfig{
			SeedCount:               5,
			NeighborSimilarityFloor: 0.55,
		},
		Cache: CacheConfig{
			L1TtlSeconds:            300,
			L1MaxEntries:            128,
			L2TtlSeconds:            1800,
			L2MaxEntries:            512,
			PersistentEnabled:       true,
			PersistentMaxEntries:    2000,
			PersistentMaxAgeSeconds: 86400,
			EmbeddingCacheSize:      64,
			FeedbackCacheSize:       256,
		},
		Defeater: DefeaterConfig{
			BatchSize: 10,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Synthesis: SynthesisConfig{
			Model:     "gpt-4o-mini",
			MaxTokens: 800,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			TracingEnabled: false,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .ctxpack/config.json, overlaying
// CTXPACK_* environment variables. Keys missing from the file keep their defaults.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, DirName))

	v.SetEnvPrefix("CTXPACK")
	_ = v.BindEnv("pipeline.deterministicMode", "CTXPACK_DETERMINISTIC")
	_ = v.BindEnv("logging.level", "CTXPACK_LOG_LEVEL")
	_ = v.BindEnv("embeddings.apiKey", "CTXPACK_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("synthesis.apiKey", "CTXPACK_OPENAI_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to .ctxpack/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}

	s := c.Scoring
	sum := s.Semantic + s.PageRank + s.Centrality + s.Confidence + s.Recency + s.Cochange
	if math.Abs(sum-1.0) > 1e-6 {
		return &ConfigError{Field: "scoring", Message: fmt.Sprintf("weights must sum to 1.0, got %.4f", sum)}
	}

	for field, val := range map[string]float64{
		"pipeline.noResultsFloor":        c.Pipeline.NoResultsFloor,
		"pipeline.packConfidenceFloor":   c.Pipeline.PackConfidenceFloor,
		"pipeline.semanticMinSimilarity": c.Pipeline.SemanticMinSimilarity,
		"pipeline.fallbackMinSimilarity": c.Pipeline.FallbackMinSimilarity,
		"pipeline.calibrationWeight":     c.Pipeline.CalibrationWeight,
		"graph.neighborSimilarityFloor":  c.Graph.NeighborSimilarityFloor,
	} {
		if val < 0 || val > 1 {
			return &ConfigError{Field: field, Message: "must be within [0, 1]"}
		}
	}

	if c.Cache.L1TtlSeconds <= 0 || c.Cache.L2TtlSeconds <= 0 {
		return &ConfigError{Field: "cache", Message: "tier TTLs must be positive"}
	}
	if c.Cache.L1MaxEntries <= 0 || c.Cache.L2MaxEntries <= 0 {
		return &ConfigError{Field: "cache", Message: "tier capacities must be positive"}
	}
	if c.Defeater.BatchSize <= 0 {
		return &ConfigError{Field: "defeater.batchSize", Message: "must be positive"}
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
