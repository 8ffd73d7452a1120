package query

import (
	"context"
	"fmt"
	"sort"

	"ctxpack/internal/knowledge"
)

// Guidance is what an enricher contributes to the final packs.
type Guidance struct {
	// KeyFacts are appended to the pack with the given id.
	KeyFacts    map[string][]string
	Disclosures []string
}

// Enricher contributes method guidance during method_guidance.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, q knowledge.Query, packs []knowledge.ContextPack) (Guidance, error)
}

// TestResultEnricher adds the latest ingested test outcome for each related
// file of a pack.
type TestResultEnricher struct {
	Source interface {
		GetIngestionItems(ctx context.Context, kind string) ([]knowledge.IngestionItem, error)
	}
}

// Name implements Enricher.
func (t TestResultEnricher) Name() string {
	return "test_results"
}

// Enrich implements Enricher.
func (t TestResultEnricher) Enrich(ctx context.Context, _ knowledge.Query, packs []knowledge.ContextPack) (Guidance, error) {
	items, err := t.Source.GetIngestionItems(ctx, knowledge.IngestionTestResult)
	if err != nil {
		return Guidance{}, fmt.Errorf("loading test results: %w", err)
	}

	latest := make(map[string]knowledge.IngestionItem, len(items))
	for _, item := range items {
		if cur, ok := latest[item.Path]; !ok || item.ObservedAt.After(cur.ObservedAt) {
			latest[item.Path] = item
		}
	}

	g := Guidance{KeyFacts: make(map[string][]string)}
	for _, p := range packs {
		files := append([]string(nil), p.RelatedFiles...)
		sort.Strings(files)
		for _, f := range files {
			item, ok := latest[f]
			if !ok {
				continue
			}
			g.KeyFacts[p.PackID] = append(g.KeyFacts[p.PackID],
				fmt.Sprintf("tests for %s last %s", f, item.Status))
		}
	}
	return g, nil
}

// runEnricher calls e and converts a panic into an error.
func runEnricher(ctx context.Context, e Enricher, q knowledge.Query, packs []knowledge.ContextPack) (g Guidance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enricher %s panicked: %v", e.Name(), r)
		}
	}()
	return e.Enrich(ctx, q, knowledge.ClonePacks(packs))
}

// applyGuidance appends new key facts to the matching packs in place.
func applyGuidance(packs []knowledge.ContextPack, g Guidance) int {
	added := 0
	for i := range packs {
		for _, fact := range g.KeyFacts[packs[i].PackID] {
			if containsString(packs[i].KeyFacts, fact) {
				continue
			}
			packs[i].KeyFacts = append(packs[i].KeyFacts, fact)
			added++
		}
	}
	return added
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
