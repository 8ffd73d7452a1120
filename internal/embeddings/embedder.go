// Package embeddings generates text embeddings and memoizes query vectors.
package embeddings

import (
	"context"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"ctxpack/internal/errors"
)

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// Kind distinguishes what a text is embedded for.
type Kind string

const (
	KindQuery    Kind = "query"
	KindDocument Kind = "document"
)

// DefaultCacheSize is the number of memoized embeddings.
const DefaultCacheSize = 64

// Service embeds single texts and memoizes results per (model, kind, text).
type Service struct {
	embedder Embedder
	cache    *lru.Cache[string, []float32]
}

// NewService wraps an embedder with a bounded memo cache.
func NewService(e Embedder, cacheSize int) *Service {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Service{embedder: e, cache: cache}
}

// Name returns the underlying model name.
func (s *Service) Name() string {
	return s.embedder.Name()
}

// Embed returns the embedding of text. Empty or non-finite vectors are
// reported as INVALID_EMBEDDING.
func (s *Service) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	key := s.embedder.Name() + "\x00" + string(kind) + "\x00" + text
	if vec, ok := s.cache.Get(key); ok {
		return vec, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New(errors.InvalidEmbedding, fmt.Sprintf("embedder returned %d vectors for 1 text", len(vecs)), nil)
	}
	if err := Validate(vecs[0]); err != nil {
		return nil, err
	}

	s.cache.Add(key, vecs[0])
	return vecs[0], nil
}

// Len returns the number of memoized embeddings.
func (s *Service) Len() int {
	return s.cache.Len()
}

// Validate rejects empty, all-zero or non-finite vectors.
func Validate(vec []float32) error {
	if len(vec) == 0 {
		return errors.New(errors.InvalidEmbedding, "embedding is empty", nil)
	}
	nonZero := false
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New(errors.InvalidEmbedding, fmt.Sprintf("embedding component %d is not finite", i), nil)
		}
		if v != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return errors.New(errors.InvalidEmbedding, "embedding is all zeros", nil)
	}
	return nil
}
