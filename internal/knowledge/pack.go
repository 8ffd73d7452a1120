package knowledge

import "time"

// PackType classifies a context pack.
type PackType string

const (
	PackFunction PackType = "function_context"
	PackModule   PackType = "module_context"
	PackPattern  PackType = "pattern_context"
	PackDecision PackType = "decision_context"
	PackChange   PackType = "change_impact"
	PackDoc      PackType = "doc_context"
)

// EntityType classifies an indexed entity.
type EntityType string

const (
	EntityFunction EntityType = "function"
	EntityModule   EntityType = "module"
	EntityFile     EntityType = "file"
)

// PackTypeFor returns the pack type built for an entity type.
func PackTypeFor(t EntityType) PackType {
	switch t {
	case EntityFunction:
		return PackFunction
	case EntityModule:
		return PackModule
	default:
		return PackChange
	}
}

// ContextPack is a ranked unit of knowledge returned to the caller.
type ContextPack struct {
	PackID       string    `json:"packId" yaml:"packId"`
	PackType     PackType  `json:"packType" yaml:"packType"`
	TargetID     string    `json:"targetId" yaml:"targetId"`
	Summary      string    `json:"summary" yaml:"summary"`
	KeyFacts     []string  `json:"keyFacts" yaml:"keyFacts"`
	RelatedFiles []string  `json:"relatedFiles" yaml:"relatedFiles"`
	Confidence   float64   `json:"confidence" yaml:"confidence"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	Version      int       `json:"version" yaml:"version"`
}

// Clone returns a deep copy of the pack.
func (p ContextPack) Clone() ContextPack {
	out := p
	out.KeyFacts = append([]string(nil), p.KeyFacts...)
	out.RelatedFiles = append([]string(nil), p.RelatedFiles...)
	return out
}

// ClonePacks deep-copies a pack slice.
func ClonePacks(packs []ContextPack) []ContextPack {
	if packs == nil {
		return nil
	}
	out := make([]ContextPack, len(packs))
	for i, p := range packs {
		out[i] = p.Clone()
	}
	return out
}

// PackIDs returns the ids of packs in order.
func PackIDs(packs []ContextPack) []string {
	ids := make([]string, len(packs))
	for i, p := range packs {
		ids[i] = p.PackID
	}
	return ids
}

// Entity is an indexed code entity.
type Entity struct {
	ID         string     `json:"id"`
	Type       EntityType `json:"type"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Summary    string     `json:"summary"`
	Confidence float64    `json:"confidence"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// GraphMetrics holds precomputed graph statistics for an entity.
type GraphMetrics struct {
	EntityID    string     `json:"entityId"`
	EntityType  EntityType `json:"entityType"`
	PageRank    float64    `json:"pagerank"`
	Betweenness float64    `json:"betweenness"`
	Closeness   float64    `json:"closeness"`
	Eigenvector float64    `json:"eigenvector"`
	CommunityID int        `json:"communityId"`
}

// Centrality is the mean of betweenness, closeness and eigenvector centrality.
func (m GraphMetrics) Centrality() float64 {
	return (m.Betweenness + m.Closeness + m.Eigenvector) / 3
}

// CochangeEdge records how often two files change together.
type CochangeEdge struct {
	FileA    string  `json:"fileA"`
	FileB    string  `json:"fileB"`
	Strength float64 `json:"strength"`
	Count    int     `json:"count"`
}

// Other returns the endpoint of the edge that is not file, or "" when file is
// not an endpoint.
func (e CochangeEdge) Other(file string) string {
	switch file {
	case e.FileA:
		return e.FileB
	case e.FileB:
		return e.FileA
	}
	return ""
}
