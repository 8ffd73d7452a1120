// Package knowledge defines the domain types shared across the ctxpack
// pipeline: queries, entities, context packs, responses and the storage
// contract the pipeline consumes.
package knowledge

import (
	"sort"
	"strings"
)

// Depth controls how far the pipeline searches.
type Depth string

const (
	DepthL0 Depth = "L0"
	DepthL1 Depth = "L1"
	DepthL2 Depth = "L2"
	DepthL3 Depth = "L3"
)

// Valid reports whether d is a known depth.
func (d Depth) Valid() bool {
	switch d {
	case DepthL0, DepthL1, DepthL2, DepthL3:
		return true
	}
	return false
}

// Deep reports whether the depth is L2 or L3.
func (d Depth) Deep() bool {
	return d == DepthL2 || d == DepthL3
}

// LLMRequirement states whether LLM synthesis must, may or must not run.
type LLMRequirement string

const (
	LLMRequired LLMRequirement = "required"
	LLMOptional LLMRequirement = "optional"
	LLMDisabled LLMRequirement = "disabled"
)

// Query is a single request to the pipeline.
type Query struct {
	Intent         string         `json:"intent" yaml:"intent"`
	Depth          Depth          `json:"depth" yaml:"depth"`
	AffectedFiles  []string       `json:"affectedFiles,omitempty" yaml:"affectedFiles,omitempty"`
	TaskType       string         `json:"taskType,omitempty" yaml:"taskType,omitempty"`
	MinConfidence  float64        `json:"minConfidence,omitempty" yaml:"minConfidence,omitempty"`
	LLMRequirement LLMRequirement `json:"llmRequirement,omitempty" yaml:"llmRequirement,omitempty"`
}

// Normalize returns a copy with defaults applied: depth L1, optional LLM,
// trimmed intent and de-duplicated affected files.
func (q Query) Normalize() Query {
	out := q
	out.Intent = strings.TrimSpace(q.Intent)
	out.TaskType = strings.ToLower(strings.TrimSpace(q.TaskType))
	if !out.Depth.Valid() {
		out.Depth = DepthL1
	}
	switch out.LLMRequirement {
	case LLMRequired, LLMOptional, LLMDisabled:
	default:
		out.LLMRequirement = LLMOptional
	}
	if out.MinConfidence < 0 {
		out.MinConfidence = 0
	}
	if out.MinConfidence > 1 {
		out.MinConfidence = 1
	}

	seen := make(map[string]bool, len(q.AffectedFiles))
	out.AffectedFiles = nil
	for _, f := range q.AffectedFiles {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out.AffectedFiles = append(out.AffectedFiles, f)
	}
	return out
}

// SortedFiles returns the affected files in lexical order.
func (q Query) SortedFiles() []string {
	files := append([]string(nil), q.AffectedFiles...)
	sort.Strings(files)
	return files
}
