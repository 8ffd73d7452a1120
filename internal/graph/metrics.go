// Package graph enriches retrieval candidates with precomputed graph metrics:
// community and neighbor expansion, centrality and co-change boosts.
package graph

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/scoring"
)

// MetricsSource loads precomputed graph metrics per entity type.
type MetricsSource interface {
	GetGraphMetrics(ctx context.Context, entityType knowledge.EntityType) ([]knowledge.GraphMetrics, error)
}

// Index is an in-memory view of graph metrics across entity types.
type Index struct {
	byKey       map[string]knowledge.GraphMetrics
	byCommunity map[int][]knowledge.GraphMetrics
	all         []knowledge.GraphMetrics
}

// NewIndex builds an index from metric rows. Community members are ordered by
// pagerank descending.
func NewIndex(rows []knowledge.GraphMetrics) *Index {
	idx := &Index{
		byKey:       make(map[string]knowledge.GraphMetrics, len(rows)),
		byCommunity: make(map[int][]knowledge.GraphMetrics),
	}
	for _, m := range rows {
		key := scoring.Key(m.EntityType, m.EntityID)
		if _, dup := idx.byKey[key]; dup {
			continue
		}
		idx.byKey[key] = m
		idx.byCommunity[m.CommunityID] = append(idx.byCommunity[m.CommunityID], m)
		idx.all = append(idx.all, m)
	}
	for id := range idx.byCommunity {
		sortByPageRank(idx.byCommunity[id])
	}
	sortByPageRank(idx.all)
	return idx
}

// Len returns the number of entities with metrics.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byKey)
}

// Lookup returns the metrics for a candidate key.
func (idx *Index) Lookup(key string) (knowledge.GraphMetrics, bool) {
	if idx == nil {
		return knowledge.GraphMetrics{}, false
	}
	m, ok := idx.byKey[key]
	return m, ok
}

// Community returns the members of a community ordered by pagerank.
func (idx *Index) Community(id int) []knowledge.GraphMetrics {
	if idx == nil {
		return nil
	}
	return idx.byCommunity[id]
}

// LoadMetrics fetches metrics for every entity type concurrently and merges
// them. A failing type is reported in the returned map and does not abort the
// other loads.
func LoadMetrics(ctx context.Context, src MetricsSource, types []knowledge.EntityType) (*Index, map[knowledge.EntityType]error) {
	var (
		mu       sync.Mutex
		rows     = make(map[knowledge.EntityType][]knowledge.GraphMetrics, len(types))
		failures = make(map[knowledge.EntityType]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, et := range types {
		g.Go(func() error {
			metrics, err := src.GetGraphMetrics(gctx, et)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[et] = err
				return nil
			}
			rows[et] = metrics
			return nil
		})
	}
	_ = g.Wait()

	// Merge in declared type order so the index is deterministic.
	var merged []knowledge.GraphMetrics
	for _, et := range types {
		merged = append(merged, rows[et]...)
	}
	return NewIndex(merged), failures
}

func sortByPageRank(ms []knowledge.GraphMetrics) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].PageRank != ms[j].PageRank {
			return ms[i].PageRank > ms[j].PageRank
		}
		return scoring.Key(ms[i].EntityType, ms[i].EntityID) < scoring.Key(ms[j].EntityType, ms[j].EntityID)
	})
}
