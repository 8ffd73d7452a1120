package coverage

import (
	"fmt"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

// DefaultNoResultsFloor is the minimum best-pack confidence for an answer.
const DefaultNoResultsFloor = 0.4

// NoResults is the explicit empty-answer diagnosis.
type NoResults struct {
	Reasons     []string
	Suggestions []string
}

// CheckNoResults returns a diagnosis when there are no packs or the best pack
// falls below floor, else nil.
func CheckNoResults(packs []knowledge.ContextPack, reports []stage.Report, gaps []knowledge.CoverageGap, floor float64) *NoResults {
	best := 0.0
	for _, p := range packs {
		best = max(best, p.Confidence)
	}
	if len(packs) > 0 && best >= floor {
		return nil
	}

	nr := &NoResults{}
	if len(packs) == 0 {
		nr.Reasons = append(nr.Reasons, "no context packs matched the query")
	} else {
		nr.Reasons = append(nr.Reasons, fmt.Sprintf("best pack confidence %.2f is below %.2f", best, floor))
	}
	for _, r := range reports {
		if r.Status == stage.StatusFailed {
			nr.Reasons = append(nr.Reasons, fmt.Sprintf("stage %s failed", r.Stage))
		}
	}
	for _, g := range gaps {
		if g.Severity == stage.SeveritySignificant {
			nr.Reasons = append(nr.Reasons, g.Message)
		}
	}

	nr.Suggestions = append(nr.Suggestions,
		"Rephrase the intent with concrete symbol or file names.",
		"List affected files to anchor retrieval.",
	)
	nr.Suggestions = append(nr.Suggestions, Suggestions(reports, 0)...)
	return nr
}
