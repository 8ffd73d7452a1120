package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"ctxpack/internal/cache"
	"ctxpack/internal/config"
	"ctxpack/internal/defeater"
	"ctxpack/internal/embeddings"
	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockStorage is an in-memory knowledge.Storage.
type mockStorage struct {
	mu sync.Mutex

	caps     knowledge.Capabilities
	state    knowledge.IndexState
	stateErr error

	entities map[string]knowledge.Entity
	packs    []knowledge.ContextPack
	matches  []knowledge.SimilarityMatch
	degraded string
	items    []knowledge.IngestionItem
	files    map[string]knowledge.FileState

	cached map[string]knowledge.CacheRecord

	searchCalls int
	packErr     map[string]error
}

func newMockStorage() *mockStorage {
	s := &mockStorage{
		caps: knowledge.Capabilities{Embeddings: true, PersistentCache: true},
		state: knowledge.IndexState{
			Phase:         knowledge.PhaseReady,
			Progress:      1,
			IndexedAt:     testNow.Add(-time.Hour),
			TotalEntities: 3,
			TotalPacks:    3,
		},
		entities: map[string]knowledge.Entity{},
		files:    map[string]knowledge.FileState{},
		cached:   map[string]knowledge.CacheRecord{},
		packErr:  map[string]error{},
	}

	s.addEntity("f1", knowledge.EntityFunction, "a.go", 0.8, 0.9, "p-f1")
	s.addEntity("f2", knowledge.EntityFunction, "b.go", 0.7, 0.6, "p-f2")
	s.addEntity("m1", knowledge.EntityModule, "pkg", 0.75, 0.5, "p-m1")
	return s
}

func (s *mockStorage) addEntity(id string, et knowledge.EntityType, path string, conf, sim float64, packID string) {
	s.entities[id] = knowledge.Entity{
		ID: id, Type: et, Name: id, Path: path, Confidence: conf, UpdatedAt: testNow.Add(-24 * time.Hour),
	}
	s.packs = append(s.packs, knowledge.ContextPack{
		PackID:       packID,
		PackType:     knowledge.PackTypeFor(et),
		TargetID:     id,
		Summary:      "summary of " + id,
		KeyFacts:     []string{id + " does things"},
		RelatedFiles: []string{path},
		Confidence:   conf,
		CreatedAt:    testNow,
		Version:      1,
	})
	s.matches = append(s.matches, knowledge.SimilarityMatch{
		EntityID: id, EntityType: et, Path: path, Similarity: sim,
	})
}

func (s *mockStorage) Capabilities() knowledge.Capabilities {
	return s.caps
}

func (s *mockStorage) GetIndexState(context.Context) (knowledge.IndexState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateErr
}

func (s *mockStorage) GetEntity(_ context.Context, id string) (*knowledge.Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *mockStorage) GetContextPacks(_ context.Context, targetID string, packType knowledge.PackType) ([]knowledge.ContextPack, error) {
	if err := s.packErr[targetID]; err != nil {
		return nil, err
	}
	var out []knowledge.ContextPack
	for _, p := range s.packs {
		if p.TargetID == targetID && (packType == "" || p.PackType == packType) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *mockStorage) SimilaritySearch(_ context.Context, _ []float32, opts knowledge.SimilarityOptions) (knowledge.SimilarityResponse, error) {
	s.mu.Lock()
	s.searchCalls++
	s.mu.Unlock()

	var out []knowledge.SimilarityMatch
	for _, m := range s.matches {
		if m.Similarity >= opts.MinSimilarity {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return knowledge.SimilarityResponse{Matches: out, Degraded: s.degraded != "", DegradedReason: s.degraded}, nil
}

func (s *mockStorage) GetGraphMetrics(context.Context, knowledge.EntityType) ([]knowledge.GraphMetrics, error) {
	return nil, nil
}

func (s *mockStorage) GetCochangeEdges(context.Context, string) ([]knowledge.CochangeEdge, error) {
	return nil, nil
}

func (s *mockStorage) GetIngestionItems(_ context.Context, kind string) ([]knowledge.IngestionItem, error) {
	var out []knowledge.IngestionItem
	for _, item := range s.items {
		if kind == "" || item.Kind == kind {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *mockStorage) GetFileState(_ context.Context, path string) (*knowledge.FileState, error) {
	fs, ok := s.files[path]
	if !ok {
		return nil, nil
	}
	return &fs, nil
}

func (s *mockStorage) GetCachedQuery(_ context.Context, key string) (*knowledge.CacheRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cached[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *mockStorage) UpsertCachedQuery(_ context.Context, rec knowledge.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[rec.Key] = rec
	return nil
}

func (s *mockStorage) PruneCachedQueries(context.Context, int, time.Duration) (int, error) {
	return 0, nil
}

// checkerFunc adapts a function to defeater.Checker.
type checkerFunc func(ctx context.Context, p knowledge.ContextPack) (defeater.Result, error)

func (f checkerFunc) Check(ctx context.Context, p knowledge.ContextPack) (defeater.Result, error) {
	return f(ctx, p)
}

func validChecker() defeater.Checker {
	return checkerFunc(func(context.Context, knowledge.ContextPack) (defeater.Result, error) {
		return defeater.Result{KnowledgeValid: true}, nil
	})
}

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), f.vec...)
	}
	return out, nil
}

func (f fixedEmbedder) Dimensions() int { return len(f.vec) }
func (f fixedEmbedder) Name() string    { return "fixed" }

type mockSynthesizer struct {
	err   error
	calls int
}

func (m *mockSynthesizer) Synthesize(_ context.Context, _ knowledge.Query, packs []knowledge.ContextPack) (knowledge.SynthesisResult, error) {
	m.calls++
	if m.err != nil {
		return knowledge.SynthesisResult{}, m.err
	}
	return knowledge.SynthesisResult{
		Available: true,
		Answer: &knowledge.Answer{
			Summary:    "answer",
			Citations:  knowledge.PackIDs(packs),
			Confidence: 0.7,
		},
	}, nil
}

type rerankFunc func(ctx context.Context, q knowledge.Query, packs []knowledge.ContextPack) ([]knowledge.ContextPack, error)

func (f rerankFunc) Rerank(ctx context.Context, q knowledge.Query, packs []knowledge.ContextPack) ([]knowledge.ContextPack, error) {
	return f(ctx, q, packs)
}

// recordingSink collects emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingEpisodes struct {
	mu       sync.Mutex
	episodes []knowledge.Episode
	err      error
}

func (r *recordingEpisodes) RecordEpisode(_ context.Context, ep knowledge.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.episodes = append(r.episodes, ep)
	return r.err
}

type recordingLedger struct {
	mu      sync.Mutex
	entries []knowledge.EvidenceEntry
}

func (l *recordingLedger) AppendEvidence(_ context.Context, e knowledge.EvidenceEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pipeline.WaitForIndexMs = 0
	return cfg
}

func testDeps(store *mockStorage) Deps {
	return Deps{
		Storage:    store,
		Embeddings: embeddings.NewService(embeddings.NewHashEmbedder(32), 8),
		Defeater:   validChecker(),
		Config:     testConfig(),
		Clock:      func() time.Time { return testNow },
	}
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	e, err := NewEngine(deps)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(e.Wait)
	return e
}

func newTestCache() *cache.Tiered {
	cfg := cache.DefaultConfig()
	cfg.PersistentEnabled = false
	return cache.New(cfg)
}

func stageNames(reports []stage.Report) []stage.Name {
	out := make([]stage.Name, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.Stage)
	}
	return out
}

func reportFor(t *testing.T, resp *knowledge.Response, name stage.Name) stage.Report {
	t.Helper()
	for _, r := range resp.StageReports {
		if r.Stage == name {
			return r
		}
	}
	t.Fatalf("no report for stage %s", name)
	return stage.Report{}
}

func assertDeclaredOrder(t *testing.T, resp *knowledge.Response) {
	t.Helper()
	got := stageNames(resp.StageReports)
	if len(got) != len(stage.Declared) {
		t.Fatalf("got %d stage reports %v, want %d", len(got), got, len(stage.Declared))
	}
	for i, name := range stage.Declared {
		if got[i] != name {
			t.Fatalf("stage %d = %s, want %s (all: %v)", i, got[i], name, got)
		}
	}
}

func hasGap(resp *knowledge.Response, name stage.Name, substr string) bool {
	for _, g := range resp.CoverageGaps {
		if g.Stage == name && strings.Contains(g.Message, substr) {
			return true
		}
	}
	return false
}

func packIDs(resp *knowledge.Response) string {
	return fmt.Sprint(knowledge.PackIDs(resp.Packs))
}
