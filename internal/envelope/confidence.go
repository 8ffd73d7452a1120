package envelope

// ScoreToTier converts a confidence score (0.0-1.0) to a confidence tier.
//
// Tier mapping:
//   - 0.85+ -> high
//   - 0.60-0.84 -> medium
//   - 0.40-0.59 -> low
//   - <0.40 -> speculative
func ScoreToTier(score float64) ConfidenceTier {
	switch {
	case score >= 0.85:
		return TierHigh
	case score >= 0.60:
		return TierMedium
	case score >= 0.40:
		return TierLow
	default:
		return TierSpeculative
	}
}
