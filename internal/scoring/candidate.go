// Package scoring normalizes heterogeneous retrieval signals into a single
// candidate score.
package scoring

import (
	"sort"

	"ctxpack/internal/knowledge"
)

// Source names the retrieval path that produced a candidate.
type Source string

const (
	SourceSemantic  Source = "semantic"
	SourceCommunity Source = "community"
	SourceNeighbor  Source = "neighbor"
	SourceFallback  Source = "fallback"
	SourceDirect    Source = "direct"
)

// Candidate is an entity under consideration for a context pack.
type Candidate struct {
	EntityID           string               `json:"entityId"`
	EntityType         knowledge.EntityType `json:"entityType"`
	Path               string               `json:"path,omitempty"`
	Source             Source               `json:"source"`
	SemanticSimilarity float64              `json:"semanticSimilarity"`
	Confidence         float64              `json:"confidence"`
	Recency            float64              `json:"recency"`
	PageRank           float64              `json:"pagerank"`
	Centrality         float64              `json:"centrality"`
	CommunityID        int                  `json:"communityId"`
	HasMetrics         bool                 `json:"hasMetrics"`
	GraphSimilarity    float64              `json:"graphSimilarity,omitempty"`
	Cochange           float64              `json:"cochange,omitempty"`
	Score              float64              `json:"score"`
	Scored             bool                 `json:"scored"`
}

// Key identifies a candidate by entity type and id.
func (c *Candidate) Key() string {
	return Key(c.EntityType, c.EntityID)
}

// Key builds the candidate key for an entity.
func Key(t knowledge.EntityType, id string) string {
	return string(t) + ":" + id
}

// Merge folds src into dst: every similarity-like signal takes the maximum,
// the first known path is kept.
func Merge(dst, src *Candidate) {
	if dst.Path == "" {
		dst.Path = src.Path
	}
	dst.SemanticSimilarity = max(dst.SemanticSimilarity, src.SemanticSimilarity)
	dst.Confidence = max(dst.Confidence, src.Confidence)
	dst.Recency = max(dst.Recency, src.Recency)
	dst.PageRank = max(dst.PageRank, src.PageRank)
	dst.Centrality = max(dst.Centrality, src.Centrality)
	dst.GraphSimilarity = max(dst.GraphSimilarity, src.GraphSimilarity)
	dst.Cochange = max(dst.Cochange, src.Cochange)
	if !dst.HasMetrics && src.HasMetrics {
		dst.HasMetrics = true
		dst.CommunityID = src.CommunityID
	}
	if src.Scored && (!dst.Scored || src.Score > dst.Score) {
		dst.Score = src.Score
		dst.Scored = true
	}
}

// Set holds candidates keyed by (entityType, entityId) in discovery order.
type Set struct {
	order []string
	byKey map[string]*Candidate
}

// NewSet creates an empty candidate set.
func NewSet() *Set {
	return &Set{byKey: make(map[string]*Candidate)}
}

// Add inserts c or merges it into an existing candidate with the same key.
// It returns true when the candidate is new.
func (s *Set) Add(c Candidate) bool {
	key := c.Key()
	if existing, ok := s.byKey[key]; ok {
		Merge(existing, &c)
		return false
	}
	cp := c
	s.byKey[key] = &cp
	s.order = append(s.order, key)
	return true
}

// Get returns the candidate for key, or nil.
func (s *Set) Get(key string) *Candidate {
	return s.byKey[key]
}

// Len returns the number of distinct candidates.
func (s *Set) Len() int {
	return len(s.order)
}

// List returns the candidates in discovery order. The pointers are live.
func (s *Set) List() []*Candidate {
	out := make([]*Candidate, len(s.order))
	for i, key := range s.order {
		out[i] = s.byKey[key]
	}
	return out
}

// TopBySimilarity returns up to n candidates with the highest semantic
// similarity, ties broken by key.
func TopBySimilarity(cands []*Candidate, n int) []*Candidate {
	sorted := append([]*Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SemanticSimilarity != sorted[j].SemanticSimilarity {
			return sorted[i].SemanticSimilarity > sorted[j].SemanticSimilarity
		}
		return sorted[i].Key() < sorted[j].Key()
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Rank orders candidates by score descending with the key as tiebreak.
func Rank(cands []*Candidate) []*Candidate {
	sorted := append([]*Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Key() < sorted[j].Key()
	})
	return sorted
}
