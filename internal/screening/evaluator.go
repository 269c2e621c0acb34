package screening

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ageRangeRe   = regexp.MustCompile(`(\d+)\s*[-–to]+\s*(\d+)`)
	ageMinRe     = regexp.MustCompile(`(?:≥|>=|at least|minimum)\s*(\d+)`)
	ageMaxRe     = regexp.MustCompile(`(?:≤|<=|at most|maximum)\s*(\d+)`)
	betweenRe    = regexp.MustCompile(`between\s*([\d.]+)\s*%?\s*and\s*([\d.]+)`)
	hyphenatedRe = regexp.MustCompile(`([\d.]+)\s*[-–]\s*([\d.]+)\s*%?`)
	gteValueRe   = regexp.MustCompile(`(?:≥|>=)\s*([\d.]+)`)
	lteValueRe   = regexp.MustCompile(`(?:≤|<=)\s*([\d.]+)`)
	gtValueRe    = regexp.MustCompile(`>\s*([\d.]+)`)
	ltValueRe    = regexp.MustCompile(`<\s*([\d.]+)`)
)

// EvaluateCriterion is the rule-based matching engine: deterministic,
// side-effect-free, and always returns a result. Dispatch is by keyword
// presence in the lowercased criterion text, first match wins. Criteria no
// rule recognizes keep the UNCERTAIN default at confidence 0.5.
//
// Diabetes-type and medication criteria intentionally report MATCH when the
// condition or drug is present regardless of the criterion being inclusion
// or exclusion; the decision rule in the orchestrator interprets an
// exclusion MATCH as disqualifying.
func EvaluateCriterion(profile PatientProfile, criterion Criterion) MatchResult {
	text := strings.ToLower(criterion.Text)

	result := MatchResult{
		CriterionID:   criterion.CriterionID,
		CriterionText: criterion.Text,
		Type:          criterion.Type,
		MatchStatus:   StatusUncertain,
		Confidence:    0.5,
		Evidence:      []string{},
		Concerns:      []string{},
	}

	switch {
	case strings.Contains(text, "age"):
		evaluateAge(profile, text, &result)
	case strings.Contains(text, "hba1c"):
		evaluateLabRange(profile, text, "hba1c", &result)
	case strings.Contains(text, "egfr"):
		evaluateLabThreshold(profile, text, "egfr", &result)
	case strings.Contains(text, "type 1 diabetes") || strings.Contains(text, "type 2 diabetes"):
		evaluateDiabetesType(profile, text, &result)
	case strings.Contains(text, "metformin") || strings.Contains(text, "insulin"):
		evaluateMedication(profile, text, &result)
	case strings.Contains(text, "pregnant") || strings.Contains(text, "pregnancy"):
		evaluatePregnancy(profile, &result)
	}

	return result
}

func evaluateAge(profile PatientProfile, text string, result *MatchResult) {
	age := profile.Demographics.Age
	if age == nil {
		result.MatchStatus = StatusMissingData
		result.Reasoning = "Patient age not provided"
		return
	}
	result.PatientDataUsed = PatientDataUsed{Field: "age", Value: *age, Source: "demographics"}
	if ageSatisfies(text, *age) {
		result.MatchStatus = StatusMatch
		result.Reasoning = fmt.Sprintf("Patient age (%d) meets criterion", *age)
	} else {
		result.MatchStatus = StatusNoMatch
		result.Reasoning = fmt.Sprintf("Patient age (%d) does not meet criterion", *age)
	}
	result.Confidence = 1.0
	result.Evidence = []string{fmt.Sprintf("Patient age: %d", *age)}
}

// ageSatisfies parses the threshold out of the criterion text: a numeric
// range first, then a minimum, then a maximum. Unparseable text defaults to
// satisfied; missing data is the status for absent values, not odd phrasing.
func ageSatisfies(text string, age int) bool {
	if m := ageRangeRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		return lo <= age && age <= hi
	}
	if m := ageMinRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return age >= n
	}
	if m := ageMaxRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return age <= n
	}
	return true
}

func evaluateLabRange(profile PatientProfile, text, testName string, result *MatchResult) {
	value, ok := profile.GetLabValue(testName)
	if !ok {
		result.MatchStatus = StatusMissingData
		result.Reasoning = "HbA1c value not provided"
		return
	}
	result.PatientDataUsed = PatientDataUsed{Field: "lab_" + testName, Value: value, Source: "lab_values"}
	if rangeSatisfies(text, value) {
		result.MatchStatus = StatusMatch
		result.Reasoning = fmt.Sprintf("Patient HbA1c (%.1f%%) within required range", value)
	} else {
		result.MatchStatus = StatusNoMatch
		result.Reasoning = fmt.Sprintf("Patient HbA1c (%.1f%%) outside required range", value)
	}
	result.Confidence = 0.95
	result.Evidence = []string{fmt.Sprintf("Patient HbA1c: %.1f%%", value)}
}

func rangeSatisfies(text string, value float64) bool {
	if m := betweenRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		return lo <= value && value <= hi
	}
	if m := hyphenatedRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		return lo <= value && value <= hi
	}
	return true
}

func evaluateLabThreshold(profile PatientProfile, text, testName string, result *MatchResult) {
	value, ok := profile.GetLabValue(testName)
	if !ok {
		result.MatchStatus = StatusMissingData
		result.Reasoning = "eGFR value not provided"
		return
	}
	result.PatientDataUsed = PatientDataUsed{Field: "lab_" + testName, Value: value, Source: "lab_values"}
	if thresholdSatisfies(text, value) {
		result.MatchStatus = StatusMatch
		result.Reasoning = fmt.Sprintf("Patient eGFR (%g) meets criterion", value)
	} else {
		result.MatchStatus = StatusNoMatch
		result.Reasoning = fmt.Sprintf("Patient eGFR (%g) does not meet criterion", value)
	}
	result.Confidence = 0.95
	result.Evidence = []string{fmt.Sprintf("Patient eGFR: %g", value)}
}

// thresholdSatisfies checks ≥ and ≤ before the bare > and < so the
// two-character operators are not misread as their strict forms.
func thresholdSatisfies(text string, value float64) bool {
	if m := gteValueRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return value >= n
	}
	if m := lteValueRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return value <= n
	}
	if m := gtValueRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return value > n
	}
	if m := ltValueRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return value < n
	}
	return true
}

func evaluateDiabetesType(profile PatientProfile, text string, result *MatchResult) {
	hasT1D := profile.HasDiagnosis("type 1")
	hasT2D := profile.HasDiagnosis("type 2")

	if strings.Contains(text, "type 1 diabetes") {
		if hasT1D {
			result.MatchStatus = StatusMatch
			result.Reasoning = "Patient has Type 1 Diabetes"
		} else {
			result.MatchStatus = StatusNoMatch
			result.Reasoning = "Patient does not have Type 1 Diabetes"
		}
	} else {
		if hasT2D {
			result.MatchStatus = StatusMatch
			result.Reasoning = "Patient has Type 2 Diabetes"
		} else {
			result.MatchStatus = StatusNoMatch
			result.Reasoning = "Patient does not have Type 2 Diabetes"
		}
	}

	if hasT1D || hasT2D {
		result.Confidence = 0.95
	} else {
		result.Confidence = 0.7
	}

	conditions := make([]string, 0, len(profile.Diagnoses))
	for _, dx := range profile.Diagnoses {
		conditions = append(conditions, dx.Condition)
	}
	result.PatientDataUsed = PatientDataUsed{Field: "diagnoses", Value: conditions, Source: "diagnoses"}
}

func evaluateMedication(profile PatientProfile, text string, result *MatchResult) {
	drugNames := make([]string, 0, len(profile.Medications))
	for _, med := range profile.Medications {
		drugNames = append(drugNames, strings.ToLower(med.DrugName))
	}
	result.PatientDataUsed = PatientDataUsed{Field: "medications", Value: drugNames, Source: "medications"}

	drug := "metformin"
	if !strings.Contains(text, "metformin") {
		drug = "insulin"
	}

	onDrug := false
	for _, name := range drugNames {
		if strings.Contains(name, drug) {
			onDrug = true
			break
		}
	}

	if onDrug {
		result.MatchStatus = StatusMatch
		result.Reasoning = fmt.Sprintf("Patient is on %s", drug)
	} else {
		result.MatchStatus = StatusNoMatch
		result.Reasoning = fmt.Sprintf("Patient is not on %s", drug)
	}
	result.Confidence = 0.9
}

func evaluatePregnancy(profile PatientProfile, result *MatchResult) {
	status := strings.ToLower(profile.Lifestyle.PregnancyStatus)
	sex := strings.ToLower(profile.Demographics.Sex)

	switch {
	case sex == "male":
		// Biological impossibility short-circuit, independent of any
		// recorded pregnancy status.
		result.MatchStatus = StatusNoMatch
		result.Confidence = 1.0
		result.Reasoning = "Patient is male, pregnancy not applicable"
	case status == "pregnant" || status == "yes" || status == "true":
		result.MatchStatus = StatusMatch
		result.Confidence = 0.95
		result.Reasoning = "Patient is pregnant"
	case status == "not_pregnant" || status == "no" || status == "false" || status == "not_applicable":
		result.MatchStatus = StatusNoMatch
		result.Confidence = 0.95
		result.Reasoning = "Patient is not pregnant"
	default:
		result.MatchStatus = StatusUncertain
		result.Confidence = 0.5
		result.Reasoning = "Pregnancy status unclear"
	}

	result.PatientDataUsed = PatientDataUsed{Field: "pregnancy_status", Value: status, Source: "lifestyle"}
}

// EvaluateAll evaluates every criterion in the set, inclusion first, in
// declaration order.
func EvaluateAll(profile PatientProfile, criteria CriteriaSet) []MatchResult {
	all := criteria.All()
	results := make([]MatchResult, 0, len(all))
	for _, criterion := range all {
		results = append(results, EvaluateCriterion(profile, criterion))
	}
	return results
}
