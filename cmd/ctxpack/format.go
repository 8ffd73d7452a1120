package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"ctxpack/internal/envelope"
	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatYAML formats the response as YAML
func formatYAML(resp interface{}) (string, error) {
	data, err := yaml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *envelope.Response:
		if r, ok := v.Data.(*knowledge.Response); ok {
			return formatQueryHuman(r), nil
		}
		return formatJSON(v)
	case *StatusResponseCLI:
		return formatStatusHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func formatQueryHuman(r *knowledge.Response) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Query: %s (depth %s)\n", r.Query.Intent, r.Query.Depth)
	fmt.Fprintf(&b, "Confidence: %.2f (%s)", r.Confidence, r.ConfidenceTier)
	if r.CacheHit {
		b.WriteString(" [cached]")
	}
	b.WriteString("\n\n")

	if r.NoResults {
		b.WriteString("No results.\n")
		for _, reason := range r.NoResultsReasons {
			fmt.Fprintf(&b, "  - %s\n", reason)
		}
		if len(r.Suggestions) > 0 {
			b.WriteString("\nSuggestions:\n")
			for _, s := range r.Suggestions {
				fmt.Fprintf(&b, "  - %s\n", s)
			}
		}
	}

	for i, p := range r.Packs {
		fmt.Fprintf(&b, "%d. %s [%s] %.2f\n", i+1, p.PackID, p.PackType, p.Confidence)
		if p.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", p.Summary)
		}
		for _, fact := range p.KeyFacts {
			fmt.Fprintf(&b, "   - %s\n", fact)
		}
		if len(p.RelatedFiles) > 0 {
			fmt.Fprintf(&b, "   files: %s\n", strings.Join(p.RelatedFiles, ", "))
		}
	}

	if r.Synthesis != nil && r.Synthesis.Available && r.Synthesis.Answer != nil {
		fmt.Fprintf(&b, "\nAnswer:\n%s\n", r.Synthesis.Answer.Summary)
	}

	if len(r.CoverageGaps) > 0 {
		b.WriteString("\nCoverage gaps:\n")
		for _, g := range r.CoverageGaps {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", g.Severity, g.Stage, g.Message)
		}
	}

	b.WriteString("\nStages:\n")
	for _, rep := range r.StageReports {
		fmt.Fprintf(&b, "  %-22s %-8s %d -> %d", rep.Stage, rep.Status, rep.Results.Input, rep.Results.Output)
		if rep.Results.Filtered > 0 {
			fmt.Fprintf(&b, " (-%d)", rep.Results.Filtered)
		}
		if rep.Status != stage.StatusSkipped {
			fmt.Fprintf(&b, " %dms", rep.DurationMs)
		}
		b.WriteString("\n")
	}

	if len(r.DrillDownHints) > 0 {
		b.WriteString("\nNext:\n")
		for _, h := range r.DrillDownHints {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}
	for _, f := range r.FollowUpQueries {
		fmt.Fprintf(&b, "  - ctxpack query %q --depth %s  (%s)\n", f.Intent, f.Depth, f.Reason)
	}

	fmt.Fprintf(&b, "\nfeedback token: %s", r.FeedbackToken)
	return b.String()
}

func formatStatusHuman(s *StatusResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ctxpack %s\n", s.Version)
	fmt.Fprintf(&b, "Database: %s\n\n", s.DatabasePath)
	fmt.Fprintf(&b, "Index: %s", s.Index.Phase)
	if s.Index.Phase != knowledge.PhaseReady {
		fmt.Fprintf(&b, " (%.0f%%)", s.Index.Progress*100)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  entities: %d\n", s.Index.TotalEntities)
	fmt.Fprintf(&b, "  packs:    %d\n", s.Index.TotalPacks)
	if !s.Index.IndexedAt.IsZero() {
		fmt.Fprintf(&b, "  indexed:  %s\n", s.Index.IndexedAt.Format("2006-01-02 15:04:05"))
	}

	b.WriteString("\nCapabilities:\n")
	for _, c := range []struct {
		name string
		on   bool
	}{
		{"embeddings", s.Capabilities.Embeddings},
		{"graph metrics", s.Capabilities.GraphMetrics},
		{"co-change", s.Capabilities.Cochange},
		{"persistent cache", s.Capabilities.PersistentCache},
		{"ingestion", s.Capabilities.Ingestion},
		{"file state", s.Capabilities.FileState},
	} {
		mark := "-"
		if c.on {
			mark = "+"
		}
		fmt.Fprintf(&b, "  %s %s\n", mark, c.name)
	}

	fmt.Fprintf(&b, "\nCached queries: %d\n", s.CachedQueries)
	if len(s.RecentEpisodes) > 0 {
		b.WriteString("\nRecent queries:\n")
		for _, ep := range s.RecentEpisodes {
			fmt.Fprintf(&b, "  %s  %-40q packs=%d confidence=%.2f\n",
				ep.CreatedAt.Format("01-02 15:04"), ep.Intent, len(ep.PackIDs), ep.Confidence)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
