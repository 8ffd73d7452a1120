package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"ctxpack/internal/cache"
	"ctxpack/internal/config"
	"ctxpack/internal/embeddings"
	"ctxpack/internal/logging"
	"ctxpack/internal/query"
	"ctxpack/internal/storage"
	"ctxpack/internal/synthesis"
	"ctxpack/internal/telemetry"
)

// hashDimensions is the vector size of the offline hash embedder.
const hashDimensions = 256

// runtime bundles an engine with the resources it holds open.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *storage.Store
	cache  *cache.Tiered
	engine *query.Engine
}

// loadConfig loads the repository configuration, falling back to defaults.
func loadConfig(repoRoot string) *config.Config {
	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config, using defaults: %v\n", err)
		return config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid config, using defaults: %v\n", err)
		return config.DefaultConfig()
	}
	return cfg
}

// openRuntime opens storage and wires every pipeline collaborator.
func openRuntime(repoRoot string, cfg *config.Config, logger *logging.Logger) (*runtime, error) {
	store, err := storage.OpenStore(repoRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	metrics := telemetry.NewRecorder(telemetry.Config{
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})

	tiered := cache.New(cacheConfig(cfg.Cache),
		cache.WithStore(store),
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
	)

	deps := query.Deps{
		Storage:       store,
		Embeddings:    newEmbeddingService(cfg, logger),
		Synthesizer:   newSynthesizer(cfg),
		Cache:         tiered,
		Enrichers:     []query.Enricher{query.TestResultEnricher{Source: store}},
		ShortCircuits: []query.ShortCircuit{query.EntityShortCircuit(store)},
		Episodes:      store,
		Evidence:      store,
		Metrics:       metrics,
		Logger:        logger,
		Config:        cfg,
	}
	engine, err := query.NewEngine(deps)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		cache:  tiered,
		engine: engine,
	}, nil
}

// Close waits for background work and releases the store.
func (r *runtime) Close() {
	r.engine.Wait()
	r.cache.Wait()
	if err := r.store.Close(); err != nil {
		r.logger.Warn("Failed to close store", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func cacheConfig(c config.CacheConfig) cache.Config {
	return cache.Config{
		L1TTL:                time.Duration(c.L1TtlSeconds) * time.Second,
		L1Size:               c.L1MaxEntries,
		L2TTL:                time.Duration(c.L2TtlSeconds) * time.Second,
		L2Size:               c.L2MaxEntries,
		PersistentEnabled:    c.PersistentEnabled,
		PersistentMaxEntries: c.PersistentMaxEntries,
		PersistentMaxAge:     time.Duration(c.PersistentMaxAgeSeconds) * time.Second,
	}
}

// newEmbeddingService picks the configured provider. Without an API key the
// OpenAI provider falls back to the offline hash embedder.
func newEmbeddingService(cfg *config.Config, logger *logging.Logger) *embeddings.Service {
	var e embeddings.Embedder
	switch cfg.Embeddings.Provider {
	case "", "none":
		return nil
	case "hash":
		e = embeddings.NewHashEmbedder(hashDimensions)
	case "openai":
		if cfg.Embeddings.APIKey == "" {
			logger.Warn("No OpenAI API key; using hash embeddings", nil)
			e = embeddings.NewHashEmbedder(hashDimensions)
			break
		}
		e = embeddings.NewOpenAIEmbedder(cfg.Embeddings.APIKey, cfg.Embeddings.BaseURL,
			embeddings.OpenAIModel(cfg.Embeddings.Model))
	default:
		logger.Warn("Unknown embedding provider", map[string]interface{}{
			"provider": cfg.Embeddings.Provider,
		})
		return nil
	}
	return embeddings.NewService(e, cfg.Cache.EmbeddingCacheSize)
}

// newSynthesizer returns nil when no LLM credentials are configured.
func newSynthesizer(cfg *config.Config) synthesis.Synthesizer {
	if cfg.Synthesis.APIKey == "" {
		return nil
	}
	return synthesis.NewOpenAISynthesizer(cfg.Synthesis.APIKey, cfg.Synthesis.BaseURL,
		cfg.Synthesis.Model, cfg.Synthesis.MaxTokens)
}

// newContext returns a context cancelled on interrupt.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
