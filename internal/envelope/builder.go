package envelope

import (
	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

// stageImpact is the confidence factor impact of each stage status.
var stageImpact = map[stage.Status]float64{
	stage.StatusSuccess: 0,
	stage.StatusSkipped: 0,
	stage.StatusPartial: -0.05,
	stage.StatusFailed:  -0.15,
}

// Builder constructs Response envelopes using a fluent API.
type Builder struct {
	resp *Response
}

// New creates a new envelope builder.
func New() *Builder {
	return &Builder{
		resp: &Response{
			SchemaVersion: CurrentSchemaVersion,
		},
	}
}

func (b *Builder) meta() *Meta {
	if b.resp.Meta == nil {
		b.resp.Meta = &Meta{}
	}
	return b.resp.Meta
}

// Data sets the payload.
func (b *Builder) Data(data interface{}) *Builder {
	b.resp.Data = data
	return b
}

// FromResponse populates metadata from a pipeline response. The payload is
// set to the response itself.
func (b *Builder) FromResponse(r *knowledge.Response) *Builder {
	if r == nil {
		return b
	}
	b.resp.Data = r

	m := b.meta()
	m.LatencyMs = r.LatencyMs
	m.Version = r.Version

	tier := ConfidenceTier(r.ConfidenceTier)
	if tier == "" {
		tier = ScoreToTier(r.Confidence)
	}
	m.Confidence = &Confidence{
		Score:   r.Confidence,
		Tier:    tier,
		Factors: stageFactors(r.StageReports),
	}
	for _, d := range r.Disclosures {
		if reason, ok := ParseUnverified(d); ok {
			m.Confidence.Reasons = append(m.Confidence.Reasons, reason)
		}
	}
	if r.NoResults {
		m.Confidence.Reasons = AppendUnique(m.Confidence.Reasons, ReasonLowConfidence)
	}

	m.Coverage = &Coverage{
		Estimated:  r.Coverage.EstimatedCoverage,
		Confidence: r.Coverage.CoverageConfidence,
		Gaps:       len(r.CoverageGaps),
	}
	if r.CacheHit {
		m.Cache = &CacheInfo{Hit: true}
	}

	for _, gap := range r.CoverageGaps {
		b.resp.Warnings = append(b.resp.Warnings, Warning{
			Code:    string(gap.Stage),
			Message: gap.Message,
		})
	}

	return b.SuggestFollowUps(r.FollowUpQueries)
}

// stageFactors creates one factor per stage that did not simply succeed.
func stageFactors(reports []stage.Report) []ConfidenceFactor {
	var factors []ConfidenceFactor
	for _, r := range reports {
		if r.Status == stage.StatusSuccess {
			continue
		}
		factors = append(factors, ConfidenceFactor{
			Factor: "stage:" + string(r.Stage),
			Status: string(r.Status),
			Impact: stageImpact[r.Status],
		})
	}
	return factors
}

// SuggestFollowUps converts follow-up queries to suggested calls.
func (b *Builder) SuggestFollowUps(followUps []knowledge.FollowUp) *Builder {
	if len(followUps) == 0 {
		return b
	}
	b.resp.SuggestedNextCalls = make([]SuggestedCall, 0, len(followUps))
	for _, f := range followUps {
		b.resp.SuggestedNextCalls = append(b.resp.SuggestedNextCalls, SuggestedCall{
			Tool: "query",
			Params: map[string]interface{}{
				"intent": f.Intent,
				"depth":  string(f.Depth),
			},
			Reason: f.Reason,
		})
	}
	return b
}

// WithTruncation adds truncation metadata.
func (b *Builder) WithTruncation(truncated bool, shown, total int, reason string) *Builder {
	if !truncated {
		return b
	}
	b.meta().Truncation = &Truncation{
		IsTruncated: true,
		Shown:       shown,
		Total:       total,
		Reason:      reason,
	}
	return b
}

// WithCacheKey records the cache key for debugging.
func (b *Builder) WithCacheKey(key string) *Builder {
	m := b.meta()
	if m.Cache == nil {
		m.Cache = &CacheInfo{}
	}
	m.Cache.Key = key
	return b
}

// WithIndexState explains a capped score while the index is still building.
// The tier is left alone because the score already carries the readiness
// ceiling; the factor records how much the ceiling can cost.
func (b *Builder) WithIndexState(state knowledge.IndexState, ceiling float64) *Builder {
	if state.Ready() {
		return b
	}
	m := b.meta()
	if m.Confidence == nil {
		m.Confidence = &Confidence{Tier: TierSpeculative}
	}
	m.Confidence.Reasons = AppendUnique(m.Confidence.Reasons, ReasonIndexNotReady)
	m.Confidence.Factors = append(m.Confidence.Factors, ConfidenceFactor{
		Factor: "index",
		Status: string(state.Phase),
		Impact: ceiling - 1,
	})
	return b
}

// Warning adds a warning message.
func (b *Builder) Warning(msg string) *Builder {
	b.resp.Warnings = append(b.resp.Warnings, Warning{Message: msg})
	return b
}

// WarningWithCode adds a warning with a code.
func (b *Builder) WarningWithCode(code, msg string) *Builder {
	b.resp.Warnings = append(b.resp.Warnings, Warning{Code: code, Message: msg})
	return b
}

// Error sets the error field.
func (b *Builder) Error(err error) *Builder {
	if err != nil {
		msg := err.Error()
		b.resp.Error = &msg
	}
	return b
}

// Build returns the completed response envelope.
func (b *Builder) Build() *Response {
	return b.resp
}

// Operational creates a simple envelope for maintenance commands.
// These always have high confidence and no truncation concerns.
func Operational(data interface{}) *Response {
	return &Response{
		SchemaVersion: CurrentSchemaVersion,
		Data:          data,
		Meta: &Meta{
			Confidence: &Confidence{
				Score: 1.0,
				Tier:  TierHigh,
			},
		},
	}
}
