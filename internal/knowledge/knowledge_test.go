package knowledge

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"ctxpack/internal/stage"
)

func TestQuery_Normalize(t *testing.T) {
	q := Query{
		Intent:        "  where is auth handled  ",
		Depth:         "L9",
		AffectedFiles: []string{"b.go", " a.go", "b.go", ""},
		TaskType:      " Debug ",
		MinConfidence: 1.7,
	}

	got := q.Normalize()
	if got.Intent != "where is auth handled" {
		t.Errorf("Intent = %q", got.Intent)
	}
	if got.Depth != DepthL1 {
		t.Errorf("Depth = %s, want L1", got.Depth)
	}
	if got.LLMRequirement != LLMOptional {
		t.Errorf("LLMRequirement = %s, want optional", got.LLMRequirement)
	}
	if got.TaskType != "debug" {
		t.Errorf("TaskType = %q, want debug", got.TaskType)
	}
	if got.MinConfidence != 1 {
		t.Errorf("MinConfidence = %v, want 1", got.MinConfidence)
	}
	if !reflect.DeepEqual(got.AffectedFiles, []string{"b.go", "a.go"}) {
		t.Errorf("AffectedFiles = %v", got.AffectedFiles)
	}
	if !reflect.DeepEqual(got.SortedFiles(), []string{"a.go", "b.go"}) {
		t.Errorf("SortedFiles = %v", got.SortedFiles())
	}
	if len(q.AffectedFiles) != 4 {
		t.Error("Normalize must not mutate the receiver")
	}
}

func TestContextPack_CloneIsDeep(t *testing.T) {
	p := ContextPack{PackID: "p1", KeyFacts: []string{"a"}, RelatedFiles: []string{"x.go"}}
	c := p.Clone()
	c.KeyFacts[0] = "changed"
	c.RelatedFiles[0] = "y.go"

	if p.KeyFacts[0] != "a" || p.RelatedFiles[0] != "x.go" {
		t.Error("Clone shares slices with the original")
	}
}

func TestResponse_CloneIsDeep(t *testing.T) {
	r := Response{
		Packs:        []ContextPack{{PackID: "p1", KeyFacts: []string{"a"}}},
		Disclosures:  []string{"d"},
		StageReports: []stage.Report{{Stage: stage.Synthesis, Issues: []stage.Issue{{Message: "m"}}}},
		Synthesis:    &SynthesisResult{Available: true, Answer: &Answer{Citations: []string{"c"}}},
	}
	c := r.Clone()
	c.Packs[0].KeyFacts[0] = "x"
	c.Disclosures[0] = "x"
	c.StageReports[0].Issues[0].Message = "x"
	c.Synthesis.Answer.Citations[0] = "x"

	if r.Packs[0].KeyFacts[0] != "a" || r.Disclosures[0] != "d" ||
		r.StageReports[0].Issues[0].Message != "m" || r.Synthesis.Answer.Citations[0] != "c" {
		t.Error("Response.Clone shares state with the original")
	}
}

func TestResponse_ClonePreservesEmptySlices(t *testing.T) {
	r := Response{
		Packs:           []ContextPack{},
		Disclosures:     []string{},
		DrillDownHints:  []string{},
		FollowUpQueries: []FollowUp{},
		Truncation:      &Truncation{Shown: 1, Total: 2, Reason: "max packs"},
	}
	c := r.Clone()

	if c.Disclosures == nil || c.DrillDownHints == nil || c.FollowUpQueries == nil || c.Packs == nil {
		t.Fatalf("empty slices became nil: %+v", c)
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, field := range []string{`"disclosures":[]`, `"drillDownHints":[]`, `"followUpQueries":[]`, `"packs":[]`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("encoded clone lacks %s: %s", field, data)
		}
	}

	c.Truncation.Shown = 9
	if r.Truncation.Shown != 1 {
		t.Error("Clone shares the truncation record")
	}
	if (Response{}).Clone().Disclosures != nil {
		t.Error("nil slices should stay nil")
	}
}

func TestGraphMetrics_Centrality(t *testing.T) {
	m := GraphMetrics{Betweenness: 0.3, Closeness: 0.6, Eigenvector: 0.9}
	if got := m.Centrality(); got < 0.5999 || got > 0.6001 {
		t.Errorf("Centrality = %v, want 0.6", got)
	}
}

func TestCochangeEdge_Other(t *testing.T) {
	e := CochangeEdge{FileA: "a.go", FileB: "b.go"}
	if e.Other("a.go") != "b.go" || e.Other("b.go") != "a.go" || e.Other("c.go") != "" {
		t.Error("Other returned the wrong endpoint")
	}
}

func TestIndexState(t *testing.T) {
	s := IndexState{Phase: PhaseIndexing, IndexedAt: time.Now()}
	if s.Ready() {
		t.Error("indexing state should not be ready")
	}
	if !s.Empty() {
		t.Error("state with no entities or packs should be empty")
	}
}
