package synthesis

import (
	"strings"
	"testing"

	"ctxpack/internal/knowledge"
)

func TestBuildPrompt(t *testing.T) {
	q := knowledge.Query{Intent: "how are tokens refreshed", TaskType: "debug"}
	packs := []knowledge.ContextPack{{
		PackID:     "p1",
		TargetID:   "auth.Refresh",
		PackType:   knowledge.PackFunction,
		Summary:    "Refreshes OAuth tokens.",
		KeyFacts:   []string{"retries twice"},
		Confidence: 0.8,
	}}

	prompt := BuildPrompt(q, packs)
	for _, want := range []string{"how are tokens refreshed", "Task: debug", "[p1] auth.Refresh", "- retries twice"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestParseAnswer(t *testing.T) {
	packs := []knowledge.ContextPack{{PackID: "p1"}, {PackID: "p2"}}

	res, err := ParseAnswer(`{"summary":"Tokens refresh in auth.","citations":["p1","ghost"],"confidence":1.4}`, packs)
	if err != nil {
		t.Fatalf("ParseAnswer() error = %v", err)
	}
	if !res.Available || res.Answer == nil {
		t.Fatalf("expected an available answer, got %+v", res)
	}
	if len(res.Answer.Citations) != 1 || res.Answer.Citations[0] != "p1" {
		t.Errorf("Citations = %v, want [p1]", res.Answer.Citations)
	}
	if res.Answer.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped 1", res.Answer.Confidence)
	}
}

func TestParseAnswer_EmptySummaryIsUnavailable(t *testing.T) {
	res, err := ParseAnswer(`{"summary":"  "}`, nil)
	if err != nil {
		t.Fatalf("ParseAnswer() error = %v", err)
	}
	if res.Available || res.Reason == "" {
		t.Errorf("expected unavailable with reason, got %+v", res)
	}
}

func TestParseAnswer_BadJSON(t *testing.T) {
	if _, err := ParseAnswer("not json", nil); err == nil {
		t.Error("expected decode error")
	}
}
