package main

import (
	"testing"

	"ctxpack/internal/envelope"
	"ctxpack/internal/knowledge"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		depth   string
		llm     string
		files   []string
		want    knowledge.Query
		wantErr bool
	}{
		{
			name:  "intent and defaults",
			args:  []string{"how does auth work"},
			depth: "L1",
			llm:   "optional",
			want:  knowledge.Query{Intent: "how does auth work", Depth: knowledge.DepthL1, LLMRequirement: knowledge.LLMOptional},
		},
		{
			name:  "lowercase depth and files only",
			depth: "l2",
			llm:   "Disabled",
			files: []string{"a.go"},
			want:  knowledge.Query{Depth: knowledge.DepthL2, AffectedFiles: []string{"a.go"}, LLMRequirement: knowledge.LLMDisabled},
		},
		{name: "bad depth", args: []string{"x"}, depth: "L9", llm: "optional", wantErr: true},
		{name: "bad llm", args: []string{"x"}, depth: "L1", llm: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queryDepth, queryLLM, queryFiles = tt.depth, tt.llm, tt.files
			queryTaskType, queryMinConfidence = "", 0

			got, err := buildQuery(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Intent != tt.want.Intent || got.Depth != tt.want.Depth || got.LLMRequirement != tt.want.LLMRequirement {
				t.Errorf("query = %+v, want %+v", got, tt.want)
			}
			if len(got.AffectedFiles) != len(tt.want.AffectedFiles) {
				t.Errorf("files = %v, want %v", got.AffectedFiles, tt.want.AffectedFiles)
			}
		})
	}
}

func TestQueryEnvelope(t *testing.T) {
	resp := sampleResponse()
	resp.CacheKey = "k-1"
	resp.IndexState = knowledge.IndexState{Phase: knowledge.PhaseReady, Progress: 1}
	resp.Truncation = &knowledge.Truncation{Shown: 1, Total: 4, Reason: "max_packs"}

	env := queryEnvelope(resp)
	m := env.Meta
	if m.Cache == nil || m.Cache.Key != "k-1" || m.Cache.Hit {
		t.Errorf("cache = %+v", m.Cache)
	}
	if tr := m.Truncation; tr == nil || tr.Shown != 1 || tr.Total != 4 || tr.Reason != "max_packs" {
		t.Errorf("truncation = %+v", m.Truncation)
	}
	for _, f := range m.Confidence.Factors {
		if f.Factor == "index" {
			t.Errorf("ready index should add no factor: %+v", f)
		}
	}

	resp.IndexState = knowledge.IndexState{Phase: knowledge.PhaseIndexing, Progress: 0.5}
	resp.Truncation = nil
	env = queryEnvelope(resp)
	if env.Meta.Truncation != nil {
		t.Errorf("truncation = %+v, want none", env.Meta.Truncation)
	}
	found := false
	for _, r := range env.Meta.Confidence.Reasons {
		if r == envelope.ReasonIndexNotReady {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want %s", env.Meta.Confidence.Reasons, envelope.ReasonIndexNotReady)
	}
}
