package coverage

import (
	"math"
	"testing"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

func confs(vals ...float64) []knowledge.ContextPack {
	out := make([]knowledge.ContextPack, len(vals))
	for i, v := range vals {
		out[i] = knowledge.ContextPack{PackID: string(rune('a' + i)), Confidence: v}
	}
	return out
}

func TestGeometricMean(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{0.64}, 0.64},
		{"pair", []float64{0.9, 0.4}, 0.6},
		{"zero floored", []float64{0, 1}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GeometricMean(confs(tt.in...)); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("GeometricMean(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadinessCeiling(t *testing.T) {
	if got := ReadinessCeiling(knowledge.IndexState{Phase: knowledge.PhaseReady}); got != 1 {
		t.Errorf("ready ceiling = %v, want 1", got)
	}
	if got := ReadinessCeiling(knowledge.IndexState{Phase: knowledge.PhaseIndexing, Progress: 0.5}); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("half-indexed ceiling = %v, want 0.7", got)
	}
	if got := ReadinessCeiling(knowledge.IndexState{Phase: knowledge.PhaseIndexing, Progress: 3}); math.Abs(got-0.9) > 1e-9 {
		t.Errorf("progress should clamp, got %v", got)
	}

	overall := Overall(confs(0.95, 0.95), knowledge.IndexState{Phase: knowledge.PhaseIndexing})
	if overall != 0.5 {
		t.Errorf("Overall during indexing = %v, want ceiling 0.5", overall)
	}
}

func TestApplyCoherence_OnlyReduces(t *testing.T) {
	if got := ApplyCoherence(0.8, 0.2); got != 0.8 {
		t.Errorf("positive adjustment applied: %v", got)
	}
	if got := ApplyCoherence(0.8, -0.3); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("ApplyCoherence = %v, want 0.5", got)
	}
	if got := ApplyCoherence(0.2, -0.9); got != 0 {
		t.Errorf("ApplyCoherence should clamp at 0, got %v", got)
	}
}

func TestTier(t *testing.T) {
	tests := map[float64]string{0.9: "high", 0.85: "high", 0.7: "medium", 0.4: "low", 0.39: "speculative"}
	for in, want := range tests {
		if got := Tier(in); got != want {
			t.Errorf("Tier(%v) = %s, want %s", in, got, want)
		}
	}
}

func reports(statuses ...stage.Status) []stage.Report {
	out := make([]stage.Report, len(statuses))
	for i, s := range statuses {
		out[i] = stage.Report{Stage: stage.Declared[i], Status: s}
	}
	return out
}

func TestAssess_Formula(t *testing.T) {
	reps := reports(stage.StatusSuccess, stage.StatusSuccess, stage.StatusPartial, stage.StatusSkipped)
	packs := confs(0.8, 0.6, 0.7, 0.9)
	gaps := []knowledge.CoverageGap{{Message: "one"}}

	got := Assess(reps, packs, gaps, 4)

	// 0.35*0.5 + 0.25*0.75 + 0.40*(2.5/3) - 0.04
	want := 0.175 + 0.1875 + 0.4*(2.5/3) - 0.04
	if math.Abs(got.EstimatedCoverage-want) > 1e-9 {
		t.Errorf("EstimatedCoverage = %v, want %v", got.EstimatedCoverage, want)
	}
	if math.Abs(got.CoverageConfidence-0.75) > 1e-9 {
		t.Errorf("CoverageConfidence = %v, want 0.75", got.CoverageConfidence)
	}
	if len(got.Gaps) != 1 || got.Gaps[0] != "one" {
		t.Errorf("Gaps = %v", got.Gaps)
	}
}

func TestAssess_StaysWithinBounds(t *testing.T) {
	many := make([]knowledge.CoverageGap, 100)
	failed := reports(stage.StatusFailed, stage.StatusFailed, stage.StatusFailed, stage.StatusFailed,
		stage.StatusFailed, stage.StatusFailed, stage.StatusFailed, stage.StatusFailed)

	low := Assess(failed, nil, many, len(stage.Declared))
	if low.EstimatedCoverage != 0 || low.CoverageConfidence != 0 {
		t.Errorf("expected clamped zeros, got %+v", low)
	}

	high := Assess(reports(stage.StatusSuccess, stage.StatusSuccess), confs(1, 1, 1, 1, 1, 1, 1, 1, 1, 1), nil, 2)
	if high.EstimatedCoverage != 1 || high.CoverageConfidence != 1 {
		t.Errorf("expected full coverage, got %+v", high)
	}
}

func TestSuggestions(t *testing.T) {
	reps := []stage.Report{
		{Stage: stage.GraphExpansion, Status: stage.StatusSkipped, Issues: []stage.Issue{{Message: "no metrics"}}},
		{Stage: stage.Synthesis, Status: stage.StatusFailed},
	}
	got := Suggestions(reps, 1)
	if len(got) != 3 {
		t.Errorf("Suggestions = %v, want graph, synthesis and depth hints", got)
	}
}

func TestCheckNoResults(t *testing.T) {
	if nr := CheckNoResults(confs(0.5, 0.2), nil, nil, 0.4); nr != nil {
		t.Errorf("best pack above floor should not be no-results: %+v", nr)
	}

	nr := CheckNoResults(confs(0.39, 0.2), nil, nil, 0.4)
	if nr == nil || len(nr.Reasons) == 0 || len(nr.Suggestions) == 0 {
		t.Fatalf("expected diagnosis, got %+v", nr)
	}

	gaps := []knowledge.CoverageGap{{Message: "defeater checks failed for 2 packs", Severity: stage.SeveritySignificant}}
	nr = CheckNoResults(nil, reports(stage.StatusFailed), gaps, 0.4)
	if nr == nil || len(nr.Reasons) != 3 {
		t.Errorf("Reasons = %v, want empty, failed-stage and significant-gap reasons", nr)
	}
}
