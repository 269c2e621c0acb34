package screening

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NewScreeningID builds the collision-free screening identifier: wall-clock
// timestamp plus patient id.
func NewScreeningID(patientID string, at time.Time) string {
	if strings.TrimSpace(patientID) == "" {
		patientID = "UNKNOWN"
	}
	return fmt.Sprintf("SCR-%s-%s", at.UTC().Format("20060102150405"), patientID)
}

// BuildOutcome assembles the caller-facing result from a completed session
// state.
func BuildOutcome(state *ScreeningState) ScreeningOutcome {
	out := ScreeningOutcome{
		ScreeningID:         NewScreeningID(state.Profile.PatientID, state.StartedAt),
		TrialID:             state.TrialID,
		PatientID:           state.Profile.PatientID,
		Decision:            state.Decision,
		Confidence:          state.Confidence.OverallConfidence,
		ConfidenceLevel:     state.Confidence.ConfidenceLevel,
		ConsistencyScore:    state.Confidence.ConsistencyScore,
		ExplainabilityTable: state.ExplainabilityTable,
		ClinicalNarrative:   state.ClinicalNarrative,
		RequiresHumanReview: state.Confidence.RequiresHumanReview,
		ReviewReasons:       state.Confidence.ReviewReasons,
		CompletedSteps:      state.CompletedSteps,
		FallbackSteps:       state.FallbackSteps,
		Errors:              state.Errors,
		StartedAt:           state.StartedAt,
		CompletedAt:         state.CompletedAt,
		Disclaimer:          Disclaimer,
	}
	if out.ClinicalNarrative == "" {
		out.ClinicalNarrative = fallbackNarrative(state)
	}
	out.ReportMarkdown = buildMarkdown(state, out)
	return out
}

// fallbackNarrative is the deterministic clinical summary used whenever the
// generative explanation stage is unavailable.
func fallbackNarrative(state *ScreeningState) string {
	var b strings.Builder

	switch state.Decision {
	case DecisionEligible:
		fmt.Fprintf(&b, "The patient meets all evaluated eligibility criteria for this trial. ")
	case DecisionIneligible:
		fmt.Fprintf(&b, "The patient does not meet the eligibility requirements for this trial. ")
	default:
		fmt.Fprintf(&b, "Eligibility for this trial could not be fully determined from the available data. ")
	}

	var qualifying, disqualifying, unresolved []string
	for _, res := range state.MatchResults {
		switch {
		case res.Type == TypeInclusion && res.MatchStatus == StatusMatch:
			qualifying = append(qualifying, res.CriterionText)
		case res.Type == TypeInclusion && res.MatchStatus == StatusNoMatch:
			disqualifying = append(disqualifying, res.CriterionText)
		case res.Type == TypeExclusion && res.MatchStatus == StatusMatch:
			disqualifying = append(disqualifying, res.CriterionText)
		case res.MatchStatus == StatusUncertain || res.MatchStatus == StatusMissingData:
			unresolved = append(unresolved, res.CriterionText)
		}
	}

	if len(qualifying) > 0 {
		fmt.Fprintf(&b, "Qualifying factors: %s. ", strings.Join(qualifying, "; "))
	}
	if len(disqualifying) > 0 {
		fmt.Fprintf(&b, "Disqualifying factors: %s. ", strings.Join(disqualifying, "; "))
	}
	if len(unresolved) > 0 {
		fmt.Fprintf(&b, "Criteria that could not be resolved from the record: %s. ", strings.Join(unresolved, "; "))
	}
	if len(state.Profile.MissingData) > 0 {
		fmt.Fprintf(&b, "Missing patient data: %s. ", strings.Join(state.Profile.MissingData, ", "))
	}
	fmt.Fprintf(&b, "Overall confidence in this assessment is %.0f%% (%s).",
		state.Confidence.OverallConfidence*100, strings.ToLower(string(state.Confidence.ConfidenceLevel)))
	if state.Confidence.RequiresHumanReview {
		fmt.Fprintf(&b, " This screening is flagged for review by study staff.")
	}

	return b.String()
}

func buildMarkdown(state *ScreeningState, out ScreeningOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Clinical Trial Eligibility Screening Report\n\n")
	fmt.Fprintf(&b, "- Screening ID: %s\n", out.ScreeningID)
	fmt.Fprintf(&b, "- Patient ID: %s\n", out.PatientID)
	if out.TrialID != "" {
		fmt.Fprintf(&b, "- Trial ID: %s\n", out.TrialID)
	}
	fmt.Fprintf(&b, "- Date: %s\n\n", state.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n\n", Disclaimer)

	fmt.Fprintf(&b, "## Decision\n\n")
	fmt.Fprintf(&b, "Eligibility decision: **%s**.\n", out.Decision)
	fmt.Fprintf(&b, "Overall confidence: **%.2f** (%s), consistency %.2f.\n", out.Confidence, out.ConfidenceLevel, out.ConsistencyScore)
	if out.RequiresHumanReview {
		fmt.Fprintf(&b, "Flagged for human review: %s.\n", strings.Join(out.ReviewReasons, "; "))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Clinical Summary\n\n%s\n\n", out.ClinicalNarrative)

	fmt.Fprintf(&b, "## Criterion-by-Criterion Analysis\n\n")
	fmt.Fprintf(&b, "| Criterion | Type | Status | Confidence | Reasoning |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|\n")
	for _, res := range out.ExplainabilityTable {
		fmt.Fprintf(&b, "| %s %s | %s | %s | %.2f | %s |\n",
			res.CriterionID, sanitizeCell(res.CriterionText), res.Type, res.MatchStatus, res.Confidence, sanitizeCell(res.Reasoning))
	}
	b.WriteString("\n")

	if len(state.Context.QueriesExecuted) > 0 || len(state.Context.PotentialConcerns) > 0 {
		fmt.Fprintf(&b, "## Medical Context\n\n")
		for _, q := range state.Context.QueriesExecuted {
			fmt.Fprintf(&b, "- Query: %s\n", q)
		}
		for _, c := range state.Context.PotentialConcerns {
			fmt.Fprintf(&b, "- Concern: %s\n", c)
		}
		b.WriteString("\n")
	}

	if len(out.FallbackSteps) > 0 || len(out.Errors) > 0 {
		fmt.Fprintf(&b, "## Processing Notes\n\n")
		for _, step := range out.FallbackSteps {
			fmt.Fprintf(&b, "- Stage %s used the rule-based engine.\n", step)
		}
		for _, e := range out.Errors {
			fmt.Fprintf(&b, "- %s\n", sanitizeCell(e))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Appendix\n\n")
	fmt.Fprintf(&b, "### Confidence Scores (JSON)\n\n```json\n%s\n```\n", prettyJSON(state.Confidence))

	return b.String()
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func sanitizeCell(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	s = strings.ReplaceAll(s, "|", "\\|")
	if s == "" {
		return "-"
	}
	return s
}
