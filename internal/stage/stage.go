// Package stage records the execution of the query pipeline, one report per
// declared stage, and broadcasts finished reports to an optional observer.
package stage

// Name identifies a pipeline stage.
type Name string

const (
	AdequacyScan       Name = "adequacy_scan"
	DirectPacks        Name = "direct_packs"
	SemanticRetrieval  Name = "semantic_retrieval"
	GraphExpansion     Name = "graph_expansion"
	MultiSignalScoring Name = "multi_signal_scoring"
	MultiVectorScoring Name = "multi_vector_scoring"
	Fallback           Name = "fallback"
	Reranking          Name = "reranking"
	DefeaterCheck      Name = "defeater_check"
	MethodGuidance     Name = "method_guidance"
	Synthesis          Name = "synthesis"
	PostProcessing     Name = "post_processing"
)

// Declared lists every pipeline stage in execution order.
var Declared = []Name{
	AdequacyScan,
	DirectPacks,
	SemanticRetrieval,
	GraphExpansion,
	MultiSignalScoring,
	MultiVectorScoring,
	Fallback,
	Reranking,
	DefeaterCheck,
	MethodGuidance,
	Synthesis,
	PostProcessing,
}

// Status is the outcome of a stage.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Severity grades a stage issue.
type Severity string

const (
	SeverityMinor       Severity = "minor"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant"
)

// Issue is a problem observed while a stage ran.
type Issue struct {
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Remediation string   `json:"remediation,omitempty"`
}

// Results counts the items flowing through a stage.
type Results struct {
	Input    int `json:"input"`
	Output   int `json:"output"`
	Filtered int `json:"filtered"`
}

// Report is the final record of a single stage.
type Report struct {
	Stage      Name    `json:"stage"`
	Status     Status  `json:"status"`
	Results    Results `json:"results"`
	Issues     []Issue `json:"issues"`
	DurationMs int64   `json:"durationMs"`
}

// Clone returns a deep copy of the report.
func (r Report) Clone() Report {
	out := r
	out.Issues = append([]Issue(nil), r.Issues...)
	if out.Issues == nil {
		out.Issues = []Issue{}
	}
	return out
}

// DeriveStatus computes the default status of a stage from its counts.
//
//   - no input -> skipped
//   - no output with issues -> failed
//   - no output without issues -> partial
//   - output with issues -> partial
//   - otherwise success
func DeriveStatus(input, output, issues int) Status {
	switch {
	case input == 0:
		return StatusSkipped
	case output == 0 && issues > 0:
		return StatusFailed
	case output == 0:
		return StatusPartial
	case issues > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// IsDeclared reports whether name is one of the pipeline stages.
func IsDeclared(name Name) bool {
	for _, n := range Declared {
		if n == name {
			return true
		}
	}
	return false
}
