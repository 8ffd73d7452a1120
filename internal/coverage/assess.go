package coverage

import (
	"math"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

const (
	packWeight       = 0.35
	packSaturation   = 8.0
	confidenceWeight = 0.25
	stageWeight      = 0.40
	gapPenalty       = 0.04
	maxGapPenalty    = 0.3
	failedPenalty    = 0.1
	maxFailedPenalty = 0.4
)

// Assess estimates coverage from stage reports, final packs and gaps.
// declared is the number of declared stages.
func Assess(reports []stage.Report, packs []knowledge.ContextPack, gaps []knowledge.CoverageGap, declared int) knowledge.CoverageAssessment {
	var success, partial, failed, nonSkipped int
	for _, r := range reports {
		switch r.Status {
		case stage.StatusSuccess:
			success++
		case stage.StatusPartial:
			partial++
		case stage.StatusFailed:
			failed++
		}
		if r.Status != stage.StatusSkipped {
			nonSkipped++
		}
	}

	meanConf := 0.0
	for _, p := range packs {
		meanConf += clamp01(p.Confidence)
	}
	if len(packs) > 0 {
		meanConf /= float64(len(packs))
	}

	stageRatio := 0.0
	if nonSkipped > 0 {
		stageRatio = (float64(success) + 0.5*float64(partial)) / float64(nonSkipped)
	}

	estimate := packWeight*math.Min(1, float64(len(packs))/packSaturation) +
		confidenceWeight*meanConf +
		stageWeight*stageRatio -
		math.Min(maxGapPenalty, gapPenalty*float64(len(gaps))) -
		math.Min(maxFailedPenalty, failedPenalty*float64(failed))

	coverageConf := 0.0
	if declared > 0 {
		coverageConf = float64(nonSkipped)/float64(declared) - failedPenalty*float64(failed)
	}

	gapMessages := make([]string, 0, len(gaps))
	for _, g := range gaps {
		gapMessages = append(gapMessages, g.Message)
	}

	return knowledge.CoverageAssessment{
		EstimatedCoverage:  clamp01(estimate),
		CoverageConfidence: clamp01(coverageConf),
		Gaps:               gapMessages,
		Suggestions:        Suggestions(reports, len(packs)),
	}
}

// Suggestions derives remediation hints from specific stage outcomes.
func Suggestions(reports []stage.Report, packCount int) []string {
	byStage := make(map[stage.Name]stage.Report, len(reports))
	for _, r := range reports {
		byStage[r.Stage] = r
	}

	var out []string
	if r, ok := byStage[stage.SemanticRetrieval]; ok && (r.Status == stage.StatusFailed || r.Status == stage.StatusPartial) {
		out = append(out, "Rephrase the intent with concrete symbol or file names.")
	}
	if r, ok := byStage[stage.GraphExpansion]; ok && r.Status == stage.StatusSkipped && len(r.Issues) > 0 {
		out = append(out, "Compute graph metrics to enable community and neighbor expansion.")
	}
	if r, ok := byStage[stage.DefeaterCheck]; ok && r.Status == stage.StatusFailed {
		out = append(out, "Re-index changed files; defeater checks could not verify packs.")
	}
	if r, ok := byStage[stage.Synthesis]; ok && r.Status == stage.StatusFailed {
		out = append(out, "Configure an LLM provider to enable answer synthesis.")
	}
	if r, ok := byStage[stage.Fallback]; ok && r.Status == stage.StatusSuccess {
		out = append(out, "Results came from relaxed search; add affected files to focus retrieval.")
	}
	if packCount > 0 && packCount < 3 {
		out = append(out, "Increase depth to L2 or L3 for broader context.")
	}
	return out
}
