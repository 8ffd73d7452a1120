// Package query provides the central query engine that runs the context pack
// pipeline. It coordinates storage, embeddings, graph expansion, scoring,
// defeaters, synthesis, caching and response assembly.
package query

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ctxpack/internal/cache"
	"ctxpack/internal/config"
	"ctxpack/internal/coverage"
	"ctxpack/internal/defeater"
	"ctxpack/internal/embeddings"
	"ctxpack/internal/errors"
	"ctxpack/internal/knowledge"
	"ctxpack/internal/logging"
	"ctxpack/internal/rerank"
	"ctxpack/internal/scoring"
	"ctxpack/internal/stage"
	"ctxpack/internal/synthesis"
	"ctxpack/internal/telemetry"
)

// Deps are the collaborators of an Engine. Storage is required; everything
// else is optional and its stage degrades when missing.
type Deps struct {
	Storage     knowledge.Storage
	Embeddings  *embeddings.Service
	Synthesizer synthesis.Synthesizer
	Cache       *cache.Tiered

	MultiSignal scoring.MultiSignalScorer
	MultiVector scoring.MultiVectorScorer
	Reranker    rerank.Reranker
	Coherence   coverage.CoherenceAnalyzer
	// Defeater defaults to a rule checker created per query, so ingested
	// test results are reloaded for every run.
	Defeater    defeater.Checker
	Decay       *defeater.Profile

	Enrichers     []Enricher
	ShortCircuits []ShortCircuit

	Events   EventSink
	Episodes EpisodeRecorder
	Evidence EvidenceLedger

	// Feedback holds feedback contexts by token. A bounded LRU sized by
	// Cache.FeedbackCacheSize is created when nil.
	Feedback *lru.Cache[string, FeedbackContext]

	Metrics *telemetry.Recorder
	Logger  *logging.Logger
	Config  *config.Config
	Clock   func() time.Time
}

// Options tune a single Query call.
type Options struct {
	// Observer receives every stage report as it finishes.
	Observer stage.Observer
	// Deterministic forces deterministic mode for this call.
	Deterministic bool
	// NoCache bypasses the cache for reads and writes.
	NoCache bool
}

// Engine is the query pipeline coordinator.
type Engine struct {
	deps   Deps
	config *config.Config
	logger *logging.Logger
	now    func() time.Time

	feedback *lru.Cache[string, FeedbackContext]

	// Background side effects (events, episodes, evidence).
	pending sync.WaitGroup
}

// NewEngine creates a new query engine.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Storage == nil {
		return nil, errors.New(errors.InternalError, "query engine requires a storage backend", nil)
	}

	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	if deps.Decay == nil {
		deps.Decay = defeater.DefaultProfile()
	}

	feedback := deps.Feedback
	if feedback == nil {
		size := cfg.Cache.FeedbackCacheSize
		if size <= 0 {
			size = defaultFeedbackSize
		}
		// lru.New only fails for a non-positive size.
		feedback, _ = lru.New[string, FeedbackContext](size)
	}

	if deps.Embeddings == nil {
		logger.Warn("No embedding service configured; semantic retrieval will be skipped", nil)
	}

	return &Engine{
		deps:     deps,
		config:   cfg,
		logger:   logger,
		now:      now,
		feedback: feedback,
	}, nil
}

// Wait blocks until background side effects have finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Query runs the pipeline for q. Fatal conditions are returned as
// *errors.PackError; every other problem degrades the response and is
// reported through stage issues, coverage gaps and disclosures.
func (e *Engine) Query(ctx context.Context, q knowledge.Query, opts Options) (resp *knowledge.Response, err error) {
	q = q.Normalize()

	ctx, done := e.deps.Metrics.StartQuery(ctx, q.Intent, string(q.Depth))
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = errors.New(errors.InternalError, fmt.Sprintf("query pipeline panicked: %v", r), nil)
		}
		if err != nil {
			e.emitErrorTrace(ctx, q, err)
		}
		done(err)
	}()

	if err := validateObserver(opts.Observer); err != nil {
		return nil, err
	}
	if q.Intent == "" && len(q.AffectedFiles) == 0 {
		return nil, errors.New(errors.InvalidQuery, "query needs an intent or affected files", nil)
	}

	r := e.newRun(q, opts)
	if q.LLMRequirement == knowledge.LLMRequired && !r.synthesisPossible() {
		return nil, errors.New(errors.ProviderUnavailable, "LLM synthesis is required but no provider is available", nil)
	}

	e.emit(ctx, Event{Type: EventQueryStarted, Intent: q.Intent, Depth: q.Depth})
	resp, err = r.execute(ctx)
	if err != nil {
		return nil, err
	}
	e.afterResponse(ctx, r, resp)
	return resp, nil
}

// FeedbackContext returns what was returned for a feedback token. Tokens are
// kept in a bounded LRU, so old tokens expire.
func (e *Engine) FeedbackContext(token string) (FeedbackContext, bool) {
	return e.feedback.Get(token)
}

// validateObserver rejects observers that cannot be invoked, such as a nil
// function or a nil pointer wrapped in the interface.
func validateObserver(o stage.Observer) error {
	if o == nil {
		return nil
	}
	v := reflect.ValueOf(o)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Interface:
		if v.IsNil() {
			return errors.New(errors.InvalidObserver, fmt.Sprintf("stage observer %T is nil", o), nil)
		}
	}
	return nil
}
