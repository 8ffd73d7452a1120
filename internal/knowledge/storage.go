package knowledge

import (
	"context"
	"time"
)

// IndexPhase describes the lifecycle of the knowledge index.
type IndexPhase string

const (
	PhaseEmpty    IndexPhase = "empty"
	PhaseIndexing IndexPhase = "indexing"
	PhaseReady    IndexPhase = "ready"
	PhaseFailed   IndexPhase = "failed"
)

// IndexState is the current state of the knowledge index.
type IndexState struct {
	Phase         IndexPhase `json:"phase" yaml:"phase"`
	Progress      float64    `json:"progress" yaml:"progress"`
	IndexedAt     time.Time  `json:"indexedAt" yaml:"indexedAt"`
	TotalEntities int        `json:"totalEntities" yaml:"totalEntities"`
	TotalPacks    int        `json:"totalPacks" yaml:"totalPacks"`
}

// Ready reports whether the index finished building.
func (s IndexState) Ready() bool {
	return s.Phase == PhaseReady
}

// Empty reports whether the index holds nothing to answer from.
func (s IndexState) Empty() bool {
	return s.TotalEntities == 0 && s.TotalPacks == 0
}

// FileState records what the index knows about a source file.
type FileState struct {
	Path        string    `json:"path"`
	ContentHash string    `json:"contentHash"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	IndexedAt   time.Time `json:"indexedAt"`
}

// IngestionItem is a raw observation ingested alongside the index, such as a
// test result.
type IngestionItem struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Path       string            `json:"path"`
	Status     string            `json:"status"`
	ObservedAt time.Time         `json:"observedAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IngestionTestResult is the ingestion kind for test outcomes.
const IngestionTestResult = "test_result"

// SimilarityOptions bounds an embedding similarity search.
type SimilarityOptions struct {
	TopK          int
	MinSimilarity float64
	EntityTypes   []EntityType
}

// SimilarityMatch is one similarity search hit.
type SimilarityMatch struct {
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	Path       string     `json:"path"`
	Similarity float64    `json:"similarity"`
}

// SimilarityResponse holds search hits and whether the search ran degraded.
type SimilarityResponse struct {
	Matches        []SimilarityMatch
	Degraded       bool
	DegradedReason string
}

// CacheRecord is a persisted query cache entry.
type CacheRecord struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Capabilities describes what a storage backend can answer. It is queried
// once per pipeline run.
type Capabilities struct {
	GraphMetrics    bool `json:"graphMetrics"`
	Cochange        bool `json:"cochange"`
	Embeddings      bool `json:"embeddings"`
	PersistentCache bool `json:"persistentCache"`
	Ingestion       bool `json:"ingestion"`
	FileState       bool `json:"fileState"`
}

// Storage is the backend contract the pipeline consumes. Lookups that find
// nothing return a nil result and a nil error.
type Storage interface {
	Capabilities() Capabilities
	GetIndexState(ctx context.Context) (IndexState, error)

	GetEntity(ctx context.Context, id string) (*Entity, error)
	GetContextPacks(ctx context.Context, targetID string, packType PackType) ([]ContextPack, error)
	SimilaritySearch(ctx context.Context, vector []float32, opts SimilarityOptions) (SimilarityResponse, error)

	GetGraphMetrics(ctx context.Context, entityType EntityType) ([]GraphMetrics, error)
	GetCochangeEdges(ctx context.Context, file string) ([]CochangeEdge, error)
	GetIngestionItems(ctx context.Context, kind string) ([]IngestionItem, error)
	GetFileState(ctx context.Context, path string) (*FileState, error)

	GetCachedQuery(ctx context.Context, key string) (*CacheRecord, error)
	UpsertCachedQuery(ctx context.Context, rec CacheRecord) error
	PruneCachedQueries(ctx context.Context, maxEntries int, maxAge time.Duration) (int, error)
}
