package knowledge

import (
	"time"

	"ctxpack/internal/stage"
)

// CoverageGap is a known blind spot in a response.
type CoverageGap struct {
	Stage       stage.Name     `json:"stage" yaml:"stage"`
	Message     string         `json:"message" yaml:"message"`
	Severity    stage.Severity `json:"severity" yaml:"severity"`
	Remediation string         `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

// CoverageAssessment estimates how much of the question the response covers.
type CoverageAssessment struct {
	EstimatedCoverage  float64  `json:"estimatedCoverage" yaml:"estimatedCoverage"`
	CoverageConfidence float64  `json:"coverageConfidence" yaml:"coverageConfidence"`
	Gaps               []string `json:"gaps" yaml:"gaps"`
	Suggestions        []string `json:"suggestions" yaml:"suggestions"`
}

// Answer is a synthesized natural-language answer.
type Answer struct {
	Summary       string   `json:"summary" yaml:"summary"`
	Citations     []string `json:"citations" yaml:"citations"`
	Confidence    float64  `json:"confidence" yaml:"confidence"`
	Insights      []string `json:"insights,omitempty" yaml:"insights,omitempty"`
	Uncertainties []string `json:"uncertainties,omitempty" yaml:"uncertainties,omitempty"`
}

// SynthesisResult is either an answer or the reason none was produced.
type SynthesisResult struct {
	Available bool    `json:"available" yaml:"available"`
	Reason    string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Answer    *Answer `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// FollowUp is a suggested next query.
type FollowUp struct {
	Intent string `json:"intent" yaml:"intent"`
	Depth  Depth  `json:"depth" yaml:"depth"`
	Reason string `json:"reason" yaml:"reason"`
}

// Truncation records packs cut by the pack limit.
type Truncation struct {
	Shown  int    `json:"shown" yaml:"shown"`
	Total  int    `json:"total" yaml:"total"`
	Reason string `json:"reason" yaml:"reason"`
}

// Response is the final pipeline output.
type Response struct {
	Query            Query              `json:"query" yaml:"query"`
	Packs            []ContextPack      `json:"packs" yaml:"packs"`
	Disclosures      []string           `json:"disclosures" yaml:"disclosures"`
	Confidence       float64            `json:"confidence" yaml:"confidence"`
	ConfidenceTier   string             `json:"confidenceTier" yaml:"confidenceTier"`
	Coverage         CoverageAssessment `json:"coverage" yaml:"coverage"`
	CoverageGaps     []CoverageGap      `json:"coverageGaps" yaml:"coverageGaps"`
	StageReports     []stage.Report     `json:"stageReports" yaml:"stageReports"`
	DrillDownHints   []string           `json:"drillDownHints" yaml:"drillDownHints"`
	FollowUpQueries  []FollowUp         `json:"followUpQueries" yaml:"followUpQueries"`
	Synthesis        *SynthesisResult   `json:"synthesis,omitempty" yaml:"synthesis,omitempty"`
	FeedbackToken    string             `json:"feedbackToken" yaml:"feedbackToken"`
	NoResults        bool               `json:"noResults" yaml:"noResults"`
	NoResultsReasons []string           `json:"noResultsReasons,omitempty" yaml:"noResultsReasons,omitempty"`
	Suggestions      []string           `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
	Explanation      string             `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Truncation       *Truncation        `json:"truncation,omitempty" yaml:"truncation,omitempty"`
	IndexState       IndexState         `json:"indexState" yaml:"indexState"`
	CacheKey         string             `json:"cacheKey" yaml:"cacheKey"`
	CacheHit         bool               `json:"cacheHit" yaml:"cacheHit"`
	LatencyMs        int64              `json:"latencyMs" yaml:"latencyMs"`
	Version          string             `json:"version" yaml:"version"`
}

// Clone returns a deep copy of the response. Empty slices stay empty rather
// than becoming nil, so they keep encoding as [].
func (r Response) Clone() Response {
	out := r
	out.Query.AffectedFiles = cloneSlice(r.Query.AffectedFiles)
	out.Packs = ClonePacks(r.Packs)
	out.Disclosures = cloneSlice(r.Disclosures)
	out.Coverage.Gaps = cloneSlice(r.Coverage.Gaps)
	out.Coverage.Suggestions = cloneSlice(r.Coverage.Suggestions)
	out.CoverageGaps = cloneSlice(r.CoverageGaps)
	if r.StageReports != nil {
		out.StageReports = make([]stage.Report, len(r.StageReports))
		for i, rep := range r.StageReports {
			out.StageReports[i] = rep.Clone()
		}
	}
	out.DrillDownHints = cloneSlice(r.DrillDownHints)
	out.FollowUpQueries = cloneSlice(r.FollowUpQueries)
	out.NoResultsReasons = cloneSlice(r.NoResultsReasons)
	out.Suggestions = cloneSlice(r.Suggestions)
	if r.Truncation != nil {
		t := *r.Truncation
		out.Truncation = &t
	}
	if r.Synthesis != nil {
		s := *r.Synthesis
		if s.Answer != nil {
			a := *s.Answer
			a.Citations = cloneSlice(a.Citations)
			a.Insights = cloneSlice(a.Insights)
			a.Uncertainties = cloneSlice(a.Uncertainties)
			s.Answer = &a
		}
		out.Synthesis = &s
	}
	return out
}

// EvidenceRef links a cached response to the packs and stages behind it.
type EvidenceRef struct {
	PackID     string     `json:"packId"`
	Stage      stage.Name `json:"stage"`
	Confidence float64    `json:"confidence"`
}

// CachedResponse is the unit stored in the query cache. Entries are replaced
// wholesale on write.
type CachedResponse struct {
	Response  Response      `json:"response"`
	Evidence  []EvidenceRef `json:"evidence"`
	IndexedAt time.Time     `json:"indexedAt"`
	CachedAt  time.Time     `json:"cachedAt"`
}

// Episode is a record of one answered query.
type Episode struct {
	ID           string    `json:"id"`
	Intent       string    `json:"intent"`
	Depth        Depth     `json:"depth"`
	PackIDs      []string  `json:"packIds"`
	Confidence   float64   `json:"confidence"`
	GapCount     int       `json:"gapCount"`
	NoResults    bool      `json:"noResults"`
	CacheHit     bool      `json:"cacheHit"`
	LatencyMs    int64     `json:"latencyMs"`
	CreatedAt    time.Time `json:"createdAt"`
	FeedbackHint string    `json:"feedbackToken"`
}

// EvidenceEntry is one line in the evidence ledger.
type EvidenceEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// cloneSlice copies s, keeping nil as nil and empty as empty.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
