// Package coverage turns stage outcomes, gaps and pack confidences into an
// overall confidence, a coverage assessment and no-results diagnostics.
package coverage

import (
	"context"
	"math"

	"ctxpack/internal/envelope"
	"ctxpack/internal/knowledge"
)

// minLogConfidence bounds each pack confidence before the log in the geometric mean.
const minLogConfidence = 0.01

// GeometricMean returns the geometric mean of pack confidences, each floored
// to 0.01. An empty slice yields 0.
func GeometricMean(packs []knowledge.ContextPack) float64 {
	if len(packs) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range packs {
		c := p.Confidence
		if math.IsNaN(c) || c < minLogConfidence {
			c = minLogConfidence
		}
		sum += math.Log(math.Min(c, 1))
	}
	return clamp01(math.Exp(sum / float64(len(packs))))
}

// ReadinessCeiling caps confidence while the index is still being built:
// 0.5 + 0.4*progress. A ready index has no ceiling.
func ReadinessCeiling(state knowledge.IndexState) float64 {
	if state.Ready() {
		return 1
	}
	return 0.5 + 0.4*clamp01(state.Progress)
}

// Coherence is an external judgement of how well packs fit together.
type Coherence struct {
	Adjustment float64
	Warnings   []string
}

// CoherenceAnalyzer scores the semantic spread of the final packs.
type CoherenceAnalyzer interface {
	Analyze(ctx context.Context, q knowledge.Query, packs []knowledge.ContextPack) (Coherence, error)
}

// ApplyCoherence lowers confidence by a negative adjustment. Positive
// adjustments are ignored.
func ApplyCoherence(confidence, adjustment float64) float64 {
	if math.IsNaN(adjustment) || adjustment >= 0 {
		return confidence
	}
	return clamp01(confidence + adjustment)
}

// Overall computes the response confidence: the geometric mean of packs
// capped by the readiness ceiling.
func Overall(packs []knowledge.ContextPack, state knowledge.IndexState) float64 {
	return math.Min(GeometricMean(packs), ReadinessCeiling(state))
}

// Tier maps a confidence to its tier name.
func Tier(confidence float64) string {
	return string(envelope.ScoreToTier(confidence))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
