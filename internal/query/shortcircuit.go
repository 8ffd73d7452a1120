package query

import (
	"context"
	"fmt"
	"strings"

	"ctxpack/internal/knowledge"
)

// Match is what a short-circuit detector recognized in a query.
type Match struct {
	TargetID string
	PackType knowledge.PackType
	Reason   string
}

// Detector inspects a query. It reports a match and whether it is confident
// enough to answer without retrieval.
type Detector func(ctx context.Context, q knowledge.Query) (Match, bool)

// Builder produces the packs for a confident match.
type Builder func(ctx context.Context, m Match) ([]knowledge.ContextPack, error)

// ShortCircuit answers a narrow class of queries directly. Short-circuits are
// tried in order during direct_packs; the first confident match whose builder
// returns packs ends retrieval.
type ShortCircuit struct {
	Name   string
	Detect Detector
	Build  Builder
}

// EntityShortCircuit answers queries whose intent is exactly an indexed
// entity id with that entity's own packs.
func EntityShortCircuit(store knowledge.Storage) ShortCircuit {
	return ShortCircuit{
		Name: "entity_lookup",
		Detect: func(ctx context.Context, q knowledge.Query) (Match, bool) {
			id := q.Intent
			if id == "" || strings.ContainsAny(id, " \t\n") {
				return Match{}, false
			}
			entity, err := store.GetEntity(ctx, id)
			if err != nil || entity == nil {
				return Match{}, false
			}
			return Match{
				TargetID: entity.ID,
				PackType: knowledge.PackTypeFor(entity.Type),
				Reason:   "intent names entity " + entity.ID,
			}, true
		},
		Build: func(ctx context.Context, m Match) ([]knowledge.ContextPack, error) {
			return store.GetContextPacks(ctx, m.TargetID, m.PackType)
		},
	}
}

// detect runs the detector. A panic is returned as an error.
func (sc ShortCircuit) detect(ctx context.Context, q knowledge.Query) (m Match, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, ok, err = Match{}, false, fmt.Errorf("detector panicked: %v", r)
		}
	}()
	m, ok = sc.Detect(ctx, q)
	return m, ok, nil
}

// build runs the builder. A panic is returned as an error.
func (sc ShortCircuit) build(ctx context.Context, m Match) (packs []knowledge.ContextPack, err error) {
	defer func() {
		if r := recover(); r != nil {
			packs, err = nil, fmt.Errorf("builder panicked: %v", r)
		}
	}()
	return sc.Build(ctx, m)
}
