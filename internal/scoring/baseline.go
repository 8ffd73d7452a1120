package scoring

import (
	"math"
	"time"
)

// Weights controls how the baseline combines normalized signals.
type Weights struct {
	Semantic   float64 `json:"semantic"`
	PageRank   float64 `json:"pagerank"`
	Centrality float64 `json:"centrality"`
	Confidence float64 `json:"confidence"`
	Recency    float64 `json:"recency"`
	Cochange   float64 `json:"cochange"`
}

// DefaultWeights returns the baseline weights. They sum to 1.0.
func DefaultWeights() Weights {
	return Weights{
		Semantic:   0.35,
		PageRank:   0.20,
		Centrality: 0.10,
		Confidence: 0.20,
		Recency:    0.10,
		Cochange:   0.05,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Semantic + w.PageRank + w.Centrality + w.Confidence + w.Recency + w.Cochange
}

// Baseline scores candidates in place using min-max normalized signals.
func Baseline(cands []*Candidate, w Weights) {
	if len(cands) == 0 {
		return
	}

	n := len(cands)
	semantic := make([]float64, n)
	pagerank := make([]float64, n)
	centrality := make([]float64, n)
	confidence := make([]float64, n)
	recency := make([]float64, n)
	cochange := make([]float64, n)

	for i, c := range cands {
		semantic[i] = max(c.SemanticSimilarity, c.GraphSimilarity)
		pagerank[i] = c.PageRank
		centrality[i] = c.Centrality
		confidence[i] = c.Confidence
		recency[i] = c.Recency
		cochange[i] = c.Cochange
	}

	Normalize(semantic)
	Normalize(pagerank)
	Normalize(centrality)
	Normalize(confidence)
	Normalize(recency)
	Normalize(cochange)

	for i, c := range cands {
		c.Score = w.Semantic*semantic[i] +
			w.PageRank*pagerank[i] +
			w.Centrality*centrality[i] +
			w.Confidence*confidence[i] +
			w.Recency*recency[i] +
			w.Cochange*cochange[i]
		c.Scored = true
	}
}

// Normalize rescales values to [0, 1] in place using min-max normalization.
// A degenerate range maps every value to 1 when the max is positive, else 0.
func Normalize(values []float64) {
	if len(values) == 0 {
		return
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}

	rng := maxVal - minVal
	if rng == 0 {
		fill := 0.0
		if maxVal > 0 {
			fill = 1.0
		}
		for i := range values {
			values[i] = fill
		}
		return
	}

	for i, v := range values {
		values[i] = (v - minVal) / rng
	}
}

// DefaultRecency is used when an entity has no timestamp.
const DefaultRecency = 0.5

// recencyHalfScale is the e-folding time of recency, in days.
const recencyHalfScale = 30.0

// Recency returns exp(-ageDays/30) clamped to [0, 1].
func Recency(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return DefaultRecency
	}
	ageDays := now.Sub(updatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return Clamp01(math.Exp(-ageDays / recencyHalfScale))
}

// Clamp01 clamps v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
