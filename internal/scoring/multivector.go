package scoring

import (
	"context"
	"fmt"
	"math"

	"ctxpack/internal/knowledge"
)

// QueryType is the coarse task category used by multi-vector scoring.
type QueryType string

const (
	QueryDebug    QueryType = "debug"
	QueryRefactor QueryType = "refactor"
	QueryFeature  QueryType = "feature"
	QueryReview   QueryType = "review"
	QueryGeneral  QueryType = "general"
)

// QueryTypeFor maps a task type to a query type.
func QueryTypeFor(taskType string) QueryType {
	switch QueryType(taskType) {
	case QueryDebug, QueryRefactor, QueryFeature, QueryReview:
		return QueryType(taskType)
	}
	return QueryGeneral
}

const (
	// NominalBlendWeight is the default share of the multi-vector score.
	NominalBlendWeight = 0.18
	minBlendWeight     = 0.05
	maxBlendWeight     = 0.9
)

// ClampBlendWeight bounds a blend weight to [0.05, 0.9].
func ClampBlendWeight(w float64) float64 {
	if math.IsNaN(w) {
		return NominalBlendWeight
	}
	return max(minBlendWeight, min(maxBlendWeight, w))
}

// Blend mixes an existing score with a secondary score. Without an existing
// score the secondary score is used outright.
func Blend(existing float64, hasExisting bool, secondary, weight float64) float64 {
	if !hasExisting {
		return secondary
	}
	w := ClampBlendWeight(weight)
	return (1-w)*existing + w*secondary
}

// MultiSignalScorer is an external scorer replacing the baseline. It returns
// scores keyed by candidate key.
type MultiSignalScorer interface {
	Score(ctx context.Context, q knowledge.Query, cands []*Candidate) (map[string]float64, error)
}

// MultiVectorScorer returns query-type-aware secondary scores keyed by
// candidate key.
type MultiVectorScorer interface {
	ScoreModules(ctx context.Context, q knowledge.Query, qt QueryType, cands []*Candidate) (map[string]float64, error)
}

// ApplyMultiSignal scores candidates with scorer, falling back to the baseline
// when the scorer is nil or fails. It returns the scorer error, if any.
func ApplyMultiSignal(ctx context.Context, scorer MultiSignalScorer, q knowledge.Query, cands []*Candidate, w Weights) (external bool, err error) {
	if scorer == nil {
		Baseline(cands, w)
		return false, nil
	}

	scores, err := safeScore(ctx, scorer, q, cands)
	if err != nil {
		Baseline(cands, w)
		return false, err
	}

	// Candidates the scorer ignored keep a baseline score.
	Baseline(cands, w)
	for _, c := range cands {
		if s, ok := scores[c.Key()]; ok {
			c.Score = Clamp01(s)
			c.Scored = true
		}
	}
	return true, nil
}

// ApplyMultiVector blends secondary scores into module candidates. It returns
// how many candidates were blended.
func ApplyMultiVector(ctx context.Context, scorer MultiVectorScorer, q knowledge.Query, cands []*Candidate, weight float64) (int, error) {
	modules := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		if c.EntityType == knowledge.EntityModule {
			modules = append(modules, c)
		}
	}
	if len(modules) == 0 || scorer == nil {
		return 0, nil
	}

	scores, err := safeScoreModules(ctx, scorer, q, QueryTypeFor(q.TaskType), modules)
	if err != nil {
		return 0, err
	}

	blended := 0
	for _, c := range modules {
		s, ok := scores[c.Key()]
		if !ok {
			continue
		}
		c.Score = Clamp01(Blend(c.Score, c.Scored, Clamp01(s), weight))
		c.Scored = true
		blended++
	}
	return blended, nil
}

// safeScore turns a scorer panic into an error so scoring falls back to the
// baseline.
func safeScore(ctx context.Context, scorer MultiSignalScorer, q knowledge.Query, cands []*Candidate) (scores map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			scores, err = nil, fmt.Errorf("scorer panicked: %v", r)
		}
	}()
	return scorer.Score(ctx, q, cands)
}

func safeScoreModules(ctx context.Context, scorer MultiVectorScorer, q knowledge.Query, qt QueryType, modules []*Candidate) (scores map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			scores, err = nil, fmt.Errorf("multi-vector scorer panicked: %v", r)
		}
	}()
	return scorer.ScoreModules(ctx, q, qt, modules)
}
