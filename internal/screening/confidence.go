package screening

import "fmt"

// uncertaintyPenalty scales how hard UNCERTAIN and MISSING_DATA verdicts
// pull the overall confidence below the plain mean.
const uncertaintyPenalty = 0.25

// Aggregate combines per-criterion verdicts into calibrated confidence
// scores. It is pure: the same results, sampleCount, and threshold always
// produce identical scores.
//
// The overall confidence starts at the arithmetic mean of individual
// confidences and is penalized in proportion to the fraction of unstable
// verdicts (UNCERTAIN or MISSING_DATA). The consistency score models
// agreement across sampleCount hypothetical independent re-evaluations:
// a MATCH or NO_MATCH verdict contributes full agreement, an unstable one
// contributes 1/sampleCount.
func Aggregate(results []MatchResult, sampleCount int, threshold float64) ConfidenceScores {
	if sampleCount < 2 {
		sampleCount = DefaultConfidenceSamples
	}
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	scores := ConfidenceScores{
		IndividualScores: map[string]float64{},
		ReviewReasons:    []string{},
	}

	if len(results) == 0 {
		scores.ConfidenceLevel = LevelVeryLow
		scores.RequiresHumanReview = true
		scores.ReviewReasons = append(scores.ReviewReasons, "no criteria evaluated")
		return scores
	}

	var sum float64
	var unstable int
	for _, r := range results {
		sum += r.Confidence
		scores.IndividualScores[r.CriterionID] = r.Confidence
		if r.MatchStatus == StatusUncertain || r.MatchStatus == StatusMissingData {
			unstable++
		}
	}

	n := float64(len(results))
	mean := sum / n
	fracUnstable := float64(unstable) / n

	partialAgreement := 1.0 / float64(sampleCount)
	scores.ConsistencyScore = (n - float64(unstable) + float64(unstable)*partialAgreement) / n
	scores.OverallConfidence = clamp01(mean - uncertaintyPenalty*fracUnstable)
	scores.ConfidenceLevel = levelFor(scores.OverallConfidence)

	if scores.OverallConfidence < threshold {
		scores.RequiresHumanReview = true
		scores.ReviewReasons = append(scores.ReviewReasons,
			fmt.Sprintf("overall confidence %.2f below threshold %.2f", scores.OverallConfidence, threshold))
	}
	for _, r := range results {
		if r.MatchStatus == StatusMissingData && r.Type == TypeInclusion {
			scores.RequiresHumanReview = true
			scores.ReviewReasons = append(scores.ReviewReasons,
				fmt.Sprintf("missing data on inclusion criterion %s", r.CriterionID))
		}
		if r.MatchStatus == StatusUncertain && r.Type == TypeExclusion {
			scores.ReviewReasons = append(scores.ReviewReasons,
				fmt.Sprintf("exclusion criterion %s could not be resolved", r.CriterionID))
		}
	}

	return scores
}

func levelFor(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= 0.90:
		return LevelHigh
	case confidence >= 0.70:
		return LevelModerate
	case confidence >= 0.50:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DeriveDecision applies the eligibility rule to a complete set of match
// results, independent of how they were produced and of the human-review
// flag: any failed inclusion or satisfied exclusion disqualifies, any
// unresolved verdict leaves the decision open, otherwise the patient is
// eligible.
func DeriveDecision(results []MatchResult) Decision {
	hasUnresolved := false
	for _, r := range results {
		if r.Type == TypeInclusion && r.MatchStatus == StatusNoMatch {
			return DecisionIneligible
		}
		if r.Type == TypeExclusion && r.MatchStatus == StatusMatch {
			return DecisionIneligible
		}
		if r.MatchStatus == StatusUncertain || r.MatchStatus == StatusMissingData {
			hasUnresolved = true
		}
	}
	if hasUnresolved {
		return DecisionUncertain
	}
	return DecisionEligible
}
