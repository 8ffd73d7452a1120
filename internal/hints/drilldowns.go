// Package hints generates drill-down hints and follow-up queries from the
// outcome of a pipeline run.
package hints

import (
	"fmt"
	"sort"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

// DefaultMaxHints bounds the drill-downs attached to one response.
const DefaultMaxHints = 5

// Drilldown is a suggested next step. Steps that can be expressed as another
// query carry a FollowUp.
type Drilldown struct {
	Label          string
	RelevanceScore float64
	FollowUp       *knowledge.FollowUp
}

// Context provides the run outcome drill-downs are derived from.
type Context struct {
	Query      knowledge.Query
	Packs      []knowledge.ContextPack
	Reports    []stage.Report
	Gaps       []knowledge.CoverageGap
	Confidence float64
	NoResults  bool
	MaxHints   int
}

// Generate creates drill-downs sorted by relevance and limited to MaxHints.
func Generate(c *Context) []Drilldown {
	if c == nil {
		return nil
	}

	var drilldowns []Drilldown
	drilldowns = append(drilldowns, depthDrilldowns(c)...)
	drilldowns = append(drilldowns, packDrilldowns(c)...)
	drilldowns = append(drilldowns, stageDrilldowns(c)...)

	sort.SliceStable(drilldowns, func(i, j int) bool {
		return drilldowns[i].RelevanceScore > drilldowns[j].RelevanceScore
	})

	limit := c.MaxHints
	if limit <= 0 {
		limit = DefaultMaxHints
	}
	if len(drilldowns) > limit {
		drilldowns = drilldowns[:limit]
	}
	return drilldowns
}

// Split returns the hint labels and the de-duplicated follow-up queries.
func Split(drilldowns []Drilldown) ([]string, []knowledge.FollowUp) {
	var labels []string
	var followUps []knowledge.FollowUp
	seen := make(map[string]bool)
	for _, d := range drilldowns {
		labels = append(labels, d.Label)
		if d.FollowUp == nil {
			continue
		}
		key := string(d.FollowUp.Depth) + "|" + d.FollowUp.Intent
		if seen[key] {
			continue
		}
		seen[key] = true
		followUps = append(followUps, *d.FollowUp)
	}
	return labels, followUps
}

func nextDepth(d knowledge.Depth) (knowledge.Depth, bool) {
	switch d {
	case knowledge.DepthL0:
		return knowledge.DepthL1, true
	case knowledge.DepthL1:
		return knowledge.DepthL2, true
	case knowledge.DepthL2:
		return knowledge.DepthL3, true
	}
	return d, false
}

// depthDrilldowns suggests searching deeper when the answer is weak.
func depthDrilldowns(c *Context) []Drilldown {
	if c.Query.Intent == "" {
		return nil
	}
	deeper, ok := nextDepth(c.Query.Depth)
	if !ok {
		return nil
	}

	switch {
	case c.NoResults:
		return []Drilldown{{
			Label:          fmt.Sprintf("Retry at depth %s", deeper),
			RelevanceScore: 0.95,
			FollowUp:       &knowledge.FollowUp{Intent: c.Query.Intent, Depth: deeper, Reason: "no packs cleared the confidence floor"},
		}}
	case c.Confidence < 0.6 || len(c.Gaps) > 0:
		return []Drilldown{{
			Label:          fmt.Sprintf("Search deeper (%s) for more context", deeper),
			RelevanceScore: 0.85,
			FollowUp:       &knowledge.FollowUp{Intent: c.Query.Intent, Depth: deeper, Reason: "answer confidence is limited"},
		}}
	}
	return nil
}

// packDrilldowns suggests exploring the strongest packs.
func packDrilldowns(c *Context) []Drilldown {
	var drilldowns []Drilldown
	for i, p := range c.Packs {
		if i >= 2 {
			break
		}
		d := Drilldown{RelevanceScore: 0.8 - 0.05*float64(i)}
		switch p.PackType {
		case knowledge.PackChange:
			d.Label = fmt.Sprintf("Check change impact of %s", p.TargetID)
			d.FollowUp = &knowledge.FollowUp{
				Intent: fmt.Sprintf("what depends on %s", p.TargetID),
				Depth:  knowledge.DepthL2,
				Reason: "change impact pack ranked highly",
			}
		case knowledge.PackDecision:
			d.Label = fmt.Sprintf("Review decision history for %s", p.TargetID)
			d.FollowUp = &knowledge.FollowUp{
				Intent: fmt.Sprintf("why was %s designed this way", p.TargetID),
				Depth:  knowledge.DepthL1,
				Reason: "decision pack ranked highly",
			}
		default:
			d.Label = fmt.Sprintf("Explain %s", p.TargetID)
			d.FollowUp = &knowledge.FollowUp{
				Intent: fmt.Sprintf("explain %s", p.TargetID),
				Depth:  knowledge.DepthL1,
				Reason: "top ranked pack",
			}
		}
		drilldowns = append(drilldowns, d)
	}

	if len(c.Query.AffectedFiles) == 0 && len(c.Packs) > 0 && len(c.Packs[0].RelatedFiles) > 0 {
		file := c.Packs[0].RelatedFiles[0]
		drilldowns = append(drilldowns, Drilldown{
			Label:          fmt.Sprintf("Anchor the query on %s", file),
			RelevanceScore: 0.7,
		})
	}
	return drilldowns
}

// stageDrilldowns turns degraded stages into remediation hints.
func stageDrilldowns(c *Context) []Drilldown {
	var drilldowns []Drilldown
	for _, r := range c.Reports {
		switch {
		case r.Stage == stage.GraphExpansion && r.Status == stage.StatusSkipped && r.Results.Input > 0:
			drilldowns = append(drilldowns, Drilldown{
				Label:          "Compute graph metrics to enable graph expansion",
				RelevanceScore: 0.6,
			})
		case r.Stage == stage.Fallback && r.Status != stage.StatusSkipped:
			drilldowns = append(drilldowns, Drilldown{
				Label:          "Rephrase the intent with concrete identifiers",
				RelevanceScore: 0.75,
			})
		case r.Stage == stage.DefeaterCheck && r.Results.Filtered > 0:
			drilldowns = append(drilldowns, Drilldown{
				Label:          "Re-index changed files to refresh invalidated packs",
				RelevanceScore: 0.65,
			})
		case r.Stage == stage.Synthesis && r.Status == stage.StatusFailed:
			drilldowns = append(drilldowns, Drilldown{
				Label:          "Configure a synthesis provider for a narrative answer",
				RelevanceScore: 0.5,
			})
		}
	}
	return drilldowns
}
