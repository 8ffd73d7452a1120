// Package vectorstore is the embedding similarity index behind storage
// similarity search.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/scoring"
)

const collectionName = "entities"

// Index stores precomputed entity embeddings in a chromem-go collection.
type Index struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	dims       int
}

// precomputedOnly refuses to embed; every document carries its own vector.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vector index only accepts precomputed embeddings")
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{db: db, collection: col}, nil
}

// Upsert adds or replaces the embedding for an entity.
func (i *Index) Upsert(ctx context.Context, id string, et knowledge.EntityType, path string, vec []float32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.dims != 0 && len(vec) != i.dims {
		return fmt.Errorf("embedding has %d dimensions, index uses %d", len(vec), i.dims)
	}

	docID := scoring.Key(et, id)
	_ = i.collection.Delete(ctx, nil, nil, docID)
	err := i.collection.AddDocument(ctx, chromem.Document{
		ID: docID,
		Metadata: map[string]string{
			"entity_id":   id,
			"entity_type": string(et),
			"path":        path,
		},
		Embedding: append([]float32(nil), vec...),
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	i.dims = len(vec)
	return nil
}

// Count returns the number of indexed embeddings.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count()
}

// Search returns the entities most similar to vec. Searches that cannot use
// the index, such as an empty index or a dimension mismatch, return a degraded
// response instead of an error.
func (i *Index) Search(ctx context.Context, vec []float32, opts knowledge.SimilarityOptions) (knowledge.SimilarityResponse, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	count := i.collection.Count()
	if count == 0 {
		return knowledge.SimilarityResponse{Degraded: true, DegradedReason: "vector index is empty"}, nil
	}
	if i.dims != 0 && len(vec) != i.dims {
		return knowledge.SimilarityResponse{
			Degraded:       true,
			DegradedReason: fmt.Sprintf("query has %d dimensions, index uses %d", len(vec), i.dims),
		}, nil
	}

	limit := opts.TopK
	if limit <= 0 {
		limit = 10
	}
	// chromem-go requires nResults <= collection size.
	limit = min(limit, count)

	types := opts.EntityTypes
	if len(types) == 0 {
		types = []knowledge.EntityType{""}
	}

	var matches []knowledge.SimilarityMatch
	for _, et := range types {
		var where map[string]string
		if et != "" {
			where = map[string]string{"entity_type": string(et)}
		}
		results, err := i.collection.QueryEmbedding(ctx, vec, limit, where, nil)
		if err != nil {
			return knowledge.SimilarityResponse{}, fmt.Errorf("chromem query: %w", err)
		}
		for _, r := range results {
			sim := float64(r.Similarity)
			if sim < opts.MinSimilarity {
				continue
			}
			matches = append(matches, knowledge.SimilarityMatch{
				EntityID:   r.Metadata["entity_id"],
				EntityType: knowledge.EntityType(r.Metadata["entity_type"]),
				Path:       r.Metadata["path"],
				Similarity: sim,
			})
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Similarity != matches[b].Similarity {
			return matches[a].Similarity > matches[b].Similarity
		}
		return scoring.Key(matches[a].EntityType, matches[a].EntityID) < scoring.Key(matches[b].EntityType, matches[b].EntityID)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return knowledge.SimilarityResponse{Matches: matches}, nil
}

// Persist writes the index to dir.
func (i *Index) Persist(dir string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return i.db.ExportToFile(filepath.Join(dir, "vectors.gob.gz"), true, "")
}

// Load replaces the index contents with the snapshot in dir. A missing
// snapshot leaves the index empty.
func (i *Index) Load(dir string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	path := filepath.Join(dir, "vectors.gob.gz")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := i.db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}

	col := i.db.GetCollection(collectionName, precomputedOnly)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", collectionName)
	}
	i.collection = col
	// The dimension is re-learned on the next upsert.
	i.dims = 0
	return nil
}
