package graph

import (
	"math"
	"sort"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/scoring"
)

// DefaultNeighborFloor is the minimum synthetic-embedding similarity for
// neighbor expansion.
const DefaultNeighborFloor = 0.55

// BudgetFor returns how many candidates each expansion strategy may add.
func BudgetFor(depth knowledge.Depth) int {
	switch depth {
	case knowledge.DepthL0:
		return 2
	case knowledge.DepthL2:
		return 4
	case knowledge.DepthL3:
		return 6
	default:
		return 3
	}
}

// Describer fills the entity attributes of an expanded candidate (path,
// confidence, recency) that graph metrics do not carry.
type Describer func(c *scoring.Candidate)

// ExpandOptions configures an expansion pass.
type ExpandOptions struct {
	Depth         knowledge.Depth
	SeedCount     int
	NeighborFloor float64
	// Describe is called for every added candidate before it joins the set.
	Describe Describer
}

// ExpandStats summarizes an expansion pass.
type ExpandStats struct {
	Seeds     int
	Enriched  int
	Community int
	Neighbor  int
}

// Added returns the number of candidates added by both strategies.
func (s ExpandStats) Added() int {
	return s.Community + s.Neighbor
}

// Expand enriches every candidate in set with its graph metrics, then adds
// community members and metric neighbors of the top seeds.
func Expand(idx *Index, set *scoring.Set, opts ExpandOptions) ExpandStats {
	var stats ExpandStats
	if idx.Len() == 0 || set.Len() == 0 {
		return stats
	}

	for _, c := range set.List() {
		if applyMetrics(idx, c) {
			stats.Enriched++
		}
	}

	seedCount := opts.SeedCount
	if seedCount <= 0 {
		seedCount = 5
	}
	floor := opts.NeighborFloor
	if floor <= 0 {
		floor = DefaultNeighborFloor
	}
	budget := BudgetFor(opts.Depth)

	seeds := scoring.TopBySimilarity(set.List(), seedCount)
	stats.Seeds = len(seeds)

	stats.Community = expandCommunities(idx, set, seeds, budget, opts.Describe)
	stats.Neighbor = expandNeighbors(idx, set, seeds, budget, floor, opts.Describe)
	return stats
}

func applyMetrics(idx *Index, c *scoring.Candidate) bool {
	m, ok := idx.Lookup(c.Key())
	if !ok {
		return false
	}
	c.PageRank = max(c.PageRank, m.PageRank)
	c.Centrality = max(c.Centrality, m.Centrality())
	c.CommunityID = m.CommunityID
	c.HasMetrics = true
	return true
}

func expandCommunities(idx *Index, set *scoring.Set, seeds []*scoring.Candidate, budget int, describe Describer) int {
	added := 0
	for _, seed := range seeds {
		if added >= budget {
			break
		}
		if !seed.HasMetrics {
			continue
		}
		for _, m := range idx.Community(seed.CommunityID) {
			if added >= budget {
				break
			}
			if set.Get(scoring.Key(m.EntityType, m.EntityID)) != nil {
				continue
			}
			set.Add(fromMetrics(m, scoring.SourceCommunity, seed.SemanticSimilarity*m.PageRank, describe))
			added++
		}
	}
	return added
}

type neighbor struct {
	metrics    knowledge.GraphMetrics
	similarity float64
}

func expandNeighbors(idx *Index, set *scoring.Set, seeds []*scoring.Candidate, budget int, floor float64, describe Describer) int {
	added := 0
	for _, seed := range seeds {
		if added >= budget {
			break
		}
		seedMetrics, ok := idx.Lookup(seed.Key())
		if !ok {
			continue
		}
		seedVec := MetricEmbedding(seedMetrics)

		var found []neighbor
		for _, m := range idx.all {
			if set.Get(scoring.Key(m.EntityType, m.EntityID)) != nil {
				continue
			}
			sim := Cosine(seedVec, MetricEmbedding(m))
			if sim >= floor {
				found = append(found, neighbor{metrics: m, similarity: sim})
			}
		}
		sort.SliceStable(found, func(i, j int) bool {
			return found[i].similarity > found[j].similarity
		})

		for _, n := range found {
			if added >= budget {
				break
			}
			set.Add(fromMetrics(n.metrics, scoring.SourceNeighbor, seed.SemanticSimilarity*n.similarity, describe))
			added++
		}
	}
	return added
}

func fromMetrics(m knowledge.GraphMetrics, src scoring.Source, graphSim float64, describe Describer) scoring.Candidate {
	c := scoring.Candidate{
		EntityID:        m.EntityID,
		EntityType:      m.EntityType,
		Source:          src,
		PageRank:        m.PageRank,
		Centrality:      m.Centrality(),
		CommunityID:     m.CommunityID,
		HasMetrics:      true,
		GraphSimilarity: scoring.Clamp01(graphSim),
		Recency:         scoring.DefaultRecency,
	}
	if describe != nil {
		describe(&c)
	}
	return c
}

// MetricEmbedding builds a synthetic embedding from an entity's metric vector.
func MetricEmbedding(m knowledge.GraphMetrics) []float64 {
	return []float64{m.PageRank, m.Betweenness, m.Closeness, m.Eigenvector}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
