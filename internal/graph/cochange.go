package graph

import (
	"context"
	"sync"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/scoring"
)

// CochangeSource loads co-change edges touching a file.
type CochangeSource interface {
	GetCochangeEdges(ctx context.Context, file string) ([]knowledge.CochangeEdge, error)
}

type pairKey struct {
	a, b string
}

func newPairKey(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// PairCache memoizes symmetric co-change strengths so each file's edges are
// queried at most once.
type PairCache struct {
	src CochangeSource

	mu      sync.Mutex
	pairs   map[pairKey]float64
	loaded  map[string]bool
	queries int
}

// NewPairCache creates a cache over src.
func NewPairCache(src CochangeSource) *PairCache {
	return &PairCache{
		src:    src,
		pairs:  make(map[pairKey]float64),
		loaded: make(map[string]bool),
	}
}

// Strength returns the co-change strength between two files.
func (c *PairCache) Strength(ctx context.Context, a, b string) (float64, error) {
	if a == "" || b == "" || a == b {
		return 0, nil
	}
	key := newPairKey(a, b)

	c.mu.Lock()
	if s, ok := c.pairs[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	if c.loaded[a] || c.loaded[b] {
		c.mu.Unlock()
		return 0, nil
	}
	c.mu.Unlock()

	edges, err := c.src.GetCochangeEdges(ctx, a)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
	c.loaded[a] = true
	for _, e := range edges {
		other := e.Other(a)
		if other == "" {
			continue
		}
		k := newPairKey(a, other)
		c.pairs[k] = max(c.pairs[k], scoring.Clamp01(e.Strength))
	}
	return c.pairs[key], nil
}

// Queries returns how many backend lookups the cache issued.
func (c *PairCache) Queries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries
}

// BoostCochange scores each candidate with a path by its strongest co-change
// link to any anchor file. It returns how many candidates received a non-zero
// boost and the first lookup error encountered.
func BoostCochange(ctx context.Context, cache *PairCache, anchors []string, cands []*scoring.Candidate) (int, error) {
	if len(anchors) == 0 {
		return 0, nil
	}

	var firstErr error
	boosted := 0
	for _, c := range cands {
		if c.Path == "" {
			continue
		}
		best := 0.0
		for _, anchor := range anchors {
			s, err := cache.Strength(ctx, anchor, c.Path)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			best = max(best, s)
		}
		if best > 0 {
			c.Cochange = max(c.Cochange, best)
			boosted++
		}
	}
	return boosted, firstErr
}
