// Package envelope provides the standardized wrapper around query responses
// rendered by the CLI. Every envelope carries metadata about confidence,
// freshness, cache status, truncation, warnings and suggested next calls.
package envelope

// ConfidenceTier represents the quality tier of results.
type ConfidenceTier string

const (
	// TierHigh indicates well-supported packs from a ready index.
	TierHigh ConfidenceTier = "high"
	// TierMedium indicates usable packs with some degraded signals.
	TierMedium ConfidenceTier = "medium"
	// TierLow indicates packs that barely cleared the result floor.
	TierLow ConfidenceTier = "low"
	// TierSpeculative indicates results that should not be trusted without checking.
	TierSpeculative ConfidenceTier = "speculative"
)

// ConfidenceFactor explains one component of the confidence score.
type ConfidenceFactor struct {
	Factor string  `json:"factor" yaml:"factor"` // e.g., "stage:graph_expansion", "index"
	Status string  `json:"status" yaml:"status"` // e.g., "success", "failed", "indexing"
	Impact float64 `json:"impact" yaml:"impact"` // contribution to score (-1.0 to 1.0)
}

// Confidence describes result quality.
type Confidence struct {
	Score   float64            `json:"score" yaml:"score"`
	Tier    ConfidenceTier     `json:"tier" yaml:"tier"`
	Reasons []string           `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Factors []ConfidenceFactor `json:"factors,omitempty" yaml:"factors,omitempty"`
}

// Coverage summarizes how much of the question the packs cover.
type Coverage struct {
	Estimated  float64 `json:"estimated" yaml:"estimated"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Gaps       int     `json:"gaps" yaml:"gaps"`
}

// Truncation describes result trimming.
type Truncation struct {
	IsTruncated bool   `json:"isTruncated" yaml:"isTruncated"`
	Shown       int    `json:"shown,omitempty" yaml:"shown,omitempty"`
	Total       int    `json:"total,omitempty" yaml:"total,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// CacheInfo describes cache status for this response.
type CacheInfo struct {
	Hit bool   `json:"hit" yaml:"hit"`
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// Meta holds response metadata.
type Meta struct {
	Confidence *Confidence `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Coverage   *Coverage   `json:"coverage,omitempty" yaml:"coverage,omitempty"`
	Truncation *Truncation `json:"truncation,omitempty" yaml:"truncation,omitempty"`
	Cache      *CacheInfo  `json:"cache,omitempty" yaml:"cache,omitempty"`
	LatencyMs  int64       `json:"latencyMs" yaml:"latencyMs"`
	Version    string      `json:"version,omitempty" yaml:"version,omitempty"`
}

// SuggestedCall represents a recommended follow-up command.
type SuggestedCall struct {
	Tool   string                 `json:"tool" yaml:"tool"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Reason string                 `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Warning represents a non-fatal issue.
type Warning struct {
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// Response is the standard envelope printed by the CLI.
type Response struct {
	SchemaVersion      string          `json:"schemaVersion" yaml:"schemaVersion"`
	Data               interface{}     `json:"data" yaml:"data"`
	Meta               *Meta           `json:"meta,omitempty" yaml:"meta,omitempty"`
	Warnings           []Warning       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error              *string         `json:"error,omitempty" yaml:"error,omitempty"`
	SuggestedNextCalls []SuggestedCall `json:"suggestedNextCalls,omitempty" yaml:"suggestedNextCalls,omitempty"`
}

// CurrentSchemaVersion is the current envelope schema version.
const CurrentSchemaVersion = "1.0"
