package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"ctxpack/internal/knowledge"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", []float64{}, []float64{}},
		{"range", []float64{1, 3, 2}, []float64{0, 1, 0.5}},
		{"degenerate positive", []float64{0.4, 0.4}, []float64{1, 1}},
		{"degenerate zero", []float64{0, 0, 0}, []float64{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Normalize(tt.in)
			for i := range tt.want {
				if !approx(tt.in[i], tt.want[i]) {
					t.Errorf("Normalize()[%d] = %v, want %v", i, tt.in[i], tt.want[i])
				}
			}
		})
	}
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	if sum := DefaultWeights().Sum(); !approx(sum, 1.0) {
		t.Errorf("weights sum = %v, want 1.0", sum)
	}
}

func TestBaseline(t *testing.T) {
	strong := &Candidate{EntityID: "a", EntityType: knowledge.EntityFunction, SemanticSimilarity: 0.9, PageRank: 0.8, Centrality: 0.5, Confidence: 0.9, Recency: 0.9, Cochange: 0.3}
	weak := &Candidate{EntityID: "b", EntityType: knowledge.EntityFunction, SemanticSimilarity: 0.4, PageRank: 0.1, Centrality: 0.1, Confidence: 0.5, Recency: 0.2}

	Baseline([]*Candidate{strong, weak}, DefaultWeights())

	if !approx(strong.Score, 1.0) {
		t.Errorf("strong score = %v, want 1.0", strong.Score)
	}
	if !approx(weak.Score, 0.0) {
		t.Errorf("weak score = %v, want 0.0", weak.Score)
	}
	if !strong.Scored || !weak.Scored {
		t.Error("Baseline should mark candidates as scored")
	}
}

func TestBaseline_SingleCandidate(t *testing.T) {
	c := &Candidate{EntityID: "a", SemanticSimilarity: 0.7, Confidence: 0.6, Recency: 0.5}
	Baseline([]*Candidate{c}, DefaultWeights())

	// Degenerate ranges: positive signals normalize to 1, zero ones to 0.
	want := 0.35 + 0.20 + 0.10
	if !approx(c.Score, want) {
		t.Errorf("Score = %v, want %v", c.Score, want)
	}
}

func TestRecency(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if got := Recency(time.Time{}, now); got != DefaultRecency {
		t.Errorf("missing timestamp = %v, want %v", got, DefaultRecency)
	}
	if got := Recency(now, now); !approx(got, 1.0) {
		t.Errorf("fresh = %v, want 1.0", got)
	}
	if got := Recency(now.Add(-30*24*time.Hour), now); !approx(got, math.Exp(-1)) {
		t.Errorf("30 days = %v, want e^-1", got)
	}
	if got := Recency(now.Add(24*time.Hour), now); !approx(got, 1.0) {
		t.Errorf("future timestamp = %v, want 1.0", got)
	}
}

func TestSet_MergeTakesMaxAndFirstPath(t *testing.T) {
	s := NewSet()
	s.Add(Candidate{EntityID: "x", EntityType: knowledge.EntityFunction, Path: "a.go", SemanticSimilarity: 0.4, Confidence: 0.9})
	isNew := s.Add(Candidate{EntityID: "x", EntityType: knowledge.EntityFunction, Path: "b.go", SemanticSimilarity: 0.7, Confidence: 0.3, GraphSimilarity: 0.6})

	if isNew {
		t.Error("duplicate candidate reported as new")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	c := s.Get(Key(knowledge.EntityFunction, "x"))
	if c.Path != "a.go" {
		t.Errorf("Path = %q, want first path a.go", c.Path)
	}
	if c.SemanticSimilarity != 0.7 || c.Confidence != 0.9 || c.GraphSimilarity != 0.6 {
		t.Errorf("merge did not take maxima: %+v", c)
	}
}

func TestSet_KeyIncludesType(t *testing.T) {
	s := NewSet()
	s.Add(Candidate{EntityID: "x", EntityType: knowledge.EntityFunction})
	s.Add(Candidate{EntityID: "x", EntityType: knowledge.EntityModule})
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2 distinct candidates", s.Len())
	}
}

func TestRank_TiebreakByKey(t *testing.T) {
	b := &Candidate{EntityID: "b", EntityType: knowledge.EntityFunction, Score: 0.5}
	a := &Candidate{EntityID: "a", EntityType: knowledge.EntityFunction, Score: 0.5}
	c := &Candidate{EntityID: "c", EntityType: knowledge.EntityFunction, Score: 0.9}

	ranked := Rank([]*Candidate{b, a, c})
	if ranked[0] != c || ranked[1] != a || ranked[2] != b {
		t.Errorf("unexpected order: %s %s %s", ranked[0].EntityID, ranked[1].EntityID, ranked[2].EntityID)
	}
}

func TestClampBlendWeight(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.18, 0.18},
		{0.0, 0.05},
		{2.0, 0.9},
		{math.NaN(), NominalBlendWeight},
	}
	for _, tt := range tests {
		if got := ClampBlendWeight(tt.in); !approx(got, tt.want) {
			t.Errorf("ClampBlendWeight(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBlend(t *testing.T) {
	if got := Blend(0, false, 0.7, 0.18); got != 0.7 {
		t.Errorf("missing existing score should use secondary, got %v", got)
	}
	if got := Blend(1.0, true, 0.0, 0.18); !approx(got, 0.82) {
		t.Errorf("Blend = %v, want 0.82", got)
	}
}

type fakeMultiVector struct {
	scores map[string]float64
	err    error
	seen   []*Candidate
}

func (f *fakeMultiVector) ScoreModules(_ context.Context, _ knowledge.Query, _ QueryType, cands []*Candidate) (map[string]float64, error) {
	f.seen = cands
	return f.scores, f.err
}

func TestApplyMultiVector_ModulesOnly(t *testing.T) {
	mod := &Candidate{EntityID: "m", EntityType: knowledge.EntityModule, Score: 0.5, Scored: true}
	fn := &Candidate{EntityID: "f", EntityType: knowledge.EntityFunction, Score: 0.5, Scored: true}
	scorer := &fakeMultiVector{scores: map[string]float64{mod.Key(): 1.0, fn.Key(): 1.0}}

	n, err := ApplyMultiVector(context.Background(), scorer, knowledge.Query{TaskType: "debug"}, []*Candidate{mod, fn}, 0.18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || len(scorer.seen) != 1 {
		t.Errorf("blended %d candidates (scorer saw %d), want 1", n, len(scorer.seen))
	}
	if !approx(mod.Score, 0.82*0.5+0.18) {
		t.Errorf("module score = %v", mod.Score)
	}
	if fn.Score != 0.5 {
		t.Errorf("function candidate changed: %v", fn.Score)
	}
}

func TestApplyMultiVector_ErrorLeavesScores(t *testing.T) {
	mod := &Candidate{EntityID: "m", EntityType: knowledge.EntityModule, Score: 0.5, Scored: true}
	scorer := &fakeMultiVector{err: errors.New("model offline")}

	if _, err := ApplyMultiVector(context.Background(), scorer, knowledge.Query{}, []*Candidate{mod}, 0.18); err == nil {
		t.Error("expected scorer error")
	}
	if mod.Score != 0.5 {
		t.Errorf("score changed on error: %v", mod.Score)
	}
}

type fakeMultiSignal struct {
	scores map[string]float64
	err    error
}

func (f fakeMultiSignal) Score(context.Context, knowledge.Query, []*Candidate) (map[string]float64, error) {
	return f.scores, f.err
}

func TestApplyMultiSignal_FallsBackToBaseline(t *testing.T) {
	c := &Candidate{EntityID: "a", SemanticSimilarity: 0.8}

	external, err := ApplyMultiSignal(context.Background(), fakeMultiSignal{err: errors.New("boom")}, knowledge.Query{}, []*Candidate{c}, DefaultWeights())
	if err == nil || external {
		t.Errorf("expected baseline fallback with error, got external=%v err=%v", external, err)
	}
	if !c.Scored {
		t.Error("candidate should carry a baseline score after fallback")
	}

	external, err = ApplyMultiSignal(context.Background(), fakeMultiSignal{scores: map[string]float64{c.Key(): 0.42}}, knowledge.Query{}, []*Candidate{c}, DefaultWeights())
	if err != nil || !external {
		t.Fatalf("expected external scores, got external=%v err=%v", external, err)
	}
	if c.Score != 0.42 {
		t.Errorf("Score = %v, want 0.42", c.Score)
	}
}

type panicScorer struct{}

func (panicScorer) Score(context.Context, knowledge.Query, []*Candidate) (map[string]float64, error) {
	panic("scorer bug")
}

func (panicScorer) ScoreModules(context.Context, knowledge.Query, QueryType, []*Candidate) (map[string]float64, error) {
	panic("scorer bug")
}

func TestApplyMultiSignal_PanicFallsBackToBaseline(t *testing.T) {
	c := &Candidate{EntityID: "a", SemanticSimilarity: 0.8}

	external, err := ApplyMultiSignal(context.Background(), panicScorer{}, knowledge.Query{}, []*Candidate{c}, DefaultWeights())
	if err == nil || !strings.Contains(err.Error(), "scorer bug") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
	if external {
		t.Error("external should be false after a panic")
	}
	if !c.Scored {
		t.Error("candidate should carry a baseline score after a panic")
	}
}

func TestApplyMultiVector_PanicLeavesScores(t *testing.T) {
	mod := &Candidate{EntityID: "m", EntityType: knowledge.EntityModule, Score: 0.5, Scored: true}

	n, err := ApplyMultiVector(context.Background(), panicScorer{}, knowledge.Query{}, []*Candidate{mod}, 0.18)
	if err == nil || !strings.Contains(err.Error(), "scorer bug") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
	if n != 0 || mod.Score != 0.5 {
		t.Errorf("blended=%d score=%v, want 0 and 0.5", n, mod.Score)
	}
}

func TestQueryTypeFor(t *testing.T) {
	if QueryTypeFor("refactor") != QueryRefactor {
		t.Error("refactor should map to QueryRefactor")
	}
	if QueryTypeFor("explain") != QueryGeneral {
		t.Error("unknown task types should map to general")
	}
}
