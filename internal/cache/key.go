// Package cache implements the tiered query cache: two in-memory LRU tiers
// with per-entry expiry and an optional persistent tier backed by storage.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/version"
)

// signature is every input that can change a response. Field order is fixed,
// so its JSON encoding is canonical.
type signature struct {
	SchemaVersion  int      `json:"schemaVersion"`
	IndexedAt      string   `json:"indexedAt"`
	LLMRequirement string   `json:"llmRequirement"`
	Synthesis      bool     `json:"synthesis"`
	Deterministic  bool     `json:"deterministic"`
	Depth          string   `json:"depth"`
	TaskType       string   `json:"taskType"`
	MinConfidence  float64  `json:"minConfidence"`
	Intent         string   `json:"intent"`
	Files          []string `json:"files"`
}

// Mode is the engine state that changes a response for the same query.
type Mode struct {
	// Synthesis is set when synthesis can run for the query.
	Synthesis bool
	// Deterministic disables reranking and synthesis.
	Deterministic bool
}

// Key returns the BLAKE2b-256 hex digest of the query signature. Affected
// files are sorted, so their order does not matter.
func Key(q knowledge.Query, indexedAt time.Time, mode Mode) string {
	indexed := ""
	if !indexedAt.IsZero() {
		indexed = indexedAt.UTC().Format(time.RFC3339Nano)
	}
	files := q.SortedFiles()
	if files == nil {
		files = []string{}
	}

	sig := signature{
		SchemaVersion:  version.CacheSchemaVersion,
		IndexedAt:      indexed,
		LLMRequirement: string(q.LLMRequirement),
		Synthesis:      mode.Synthesis,
		Deterministic:  mode.Deterministic,
		Depth:          string(q.Depth),
		TaskType:       q.TaskType,
		MinConfidence:  q.MinConfidence,
		Intent:         q.Intent,
		Files:          files,
	}

	// Marshal of a flat struct of primitives cannot fail.
	data, _ := json.Marshal(sig)
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
