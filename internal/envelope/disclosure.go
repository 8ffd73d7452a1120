package envelope

import "strings"

// Disclosure reasons emitted by the pipeline.
const (
	ReasonIndexNotReady     = "index_not_ready"
	ReasonIndexDegraded     = "index_degraded"
	ReasonSemanticDegraded  = "semantic_search_degraded"
	ReasonGraphUnavailable  = "graph_metrics_unavailable"
	ReasonFallbackUsed      = "fallback_retrieval"
	ReasonDefeaterFailed    = "defeater_checks_failed"
	ReasonSynthesisMissing  = "synthesis_unavailable"
	ReasonIncoherentPacks   = "incoherent_packs"
	ReasonLowConfidence     = "low_confidence"
	ReasonShortCircuit      = "short_circuit"
	ReasonRerankRejected    = "rerank_rejected"
	ReasonEnrichmentSkipped = "enrichment_skipped"
)

const (
	unverifiedPrefix = "unverified_by_trace("
	unverifiedSuffix = ")"
)

// Unverified returns the machine-parseable disclosure tag for reason.
func Unverified(reason string) string {
	return unverifiedPrefix + reason + unverifiedSuffix
}

// ParseUnverified extracts the reason from a disclosure produced by Unverified.
func ParseUnverified(disclosure string) (string, bool) {
	if !strings.HasPrefix(disclosure, unverifiedPrefix) || !strings.HasSuffix(disclosure, unverifiedSuffix) {
		return "", false
	}
	reason := disclosure[len(unverifiedPrefix) : len(disclosure)-len(unverifiedSuffix)]
	if reason == "" {
		return "", false
	}
	return reason, true
}

// AppendUnique appends items to list, skipping ones already present.
func AppendUnique(list []string, items ...string) []string {
	for _, item := range items {
		seen := false
		for _, existing := range list {
			if existing == item {
				seen = true
				break
			}
		}
		if !seen {
			list = append(list, item)
		}
	}
	return list
}
