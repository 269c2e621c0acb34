package screening

import (
	"strings"
	"testing"
)

func intPtr(n int) *int { return &n }

func ageCriterion(text string) Criterion {
	return Criterion{CriterionID: "INC_001", Type: TypeInclusion, Text: text}
}

func TestEvaluateAgeRangeBoundaries(t *testing.T) {
	criterion := ageCriterion("Age 18-75 years")
	cases := []struct {
		age  int
		want MatchStatus
	}{
		{17, StatusNoMatch},
		{18, StatusMatch},
		{58, StatusMatch},
		{75, StatusMatch},
		{76, StatusNoMatch},
	}
	for _, tc := range cases {
		profile := PatientProfile{Demographics: Demographics{Age: intPtr(tc.age)}}
		res := EvaluateCriterion(profile, criterion)
		if res.MatchStatus != tc.want {
			t.Errorf("age %d: status %q, want %q", tc.age, res.MatchStatus, tc.want)
		}
		if res.Confidence != 1.0 {
			t.Errorf("age %d: confidence %v, want 1.0", tc.age, res.Confidence)
		}
	}
}

func TestEvaluateAgeMissing(t *testing.T) {
	res := EvaluateCriterion(PatientProfile{}, ageCriterion("Age 18-75 years"))
	if res.MatchStatus != StatusMissingData {
		t.Errorf("status %q, want MISSING_DATA", res.MatchStatus)
	}
}

func TestEvaluateAgeMinimumAndMaximum(t *testing.T) {
	profile := PatientProfile{Demographics: Demographics{Age: intPtr(30)}}
	if res := EvaluateCriterion(profile, ageCriterion("Age at least 18 years")); res.MatchStatus != StatusMatch {
		t.Errorf("minimum: %q", res.MatchStatus)
	}
	if res := EvaluateCriterion(profile, ageCriterion("Age at most 25 years")); res.MatchStatus != StatusNoMatch {
		t.Errorf("maximum: %q", res.MatchStatus)
	}
}

// Thresholds the parser cannot read default to satisfied.
func TestEvaluateAgeUnparseableDefaultsToMatch(t *testing.T) {
	profile := PatientProfile{Demographics: Demographics{Age: intPtr(40)}}
	res := EvaluateCriterion(profile, ageCriterion("Age appropriate for the study population"))
	if res.MatchStatus != StatusMatch {
		t.Errorf("status %q, want MATCH", res.MatchStatus)
	}
}

func TestEvaluateHbA1cRange(t *testing.T) {
	criterion := Criterion{CriterionID: "INC_002", Type: TypeInclusion, Text: "HbA1c between 7.0% and 10.0%"}
	profile := PatientProfile{LabValues: []LabValue{{TestName: "HbA1c", Value: 8.2}}}
	res := EvaluateCriterion(profile, criterion)
	if res.MatchStatus != StatusMatch || res.Confidence != 0.95 {
		t.Errorf("in-range: %q conf %v", res.MatchStatus, res.Confidence)
	}

	profile.LabValues[0].Value = 6.5
	res = EvaluateCriterion(profile, criterion)
	if res.MatchStatus != StatusNoMatch {
		t.Errorf("out-of-range: %q", res.MatchStatus)
	}

	res = EvaluateCriterion(PatientProfile{}, criterion)
	if res.MatchStatus != StatusMissingData {
		t.Errorf("missing lab: %q", res.MatchStatus)
	}
}

func TestEvaluateEGFRThreshold(t *testing.T) {
	criterion := Criterion{CriterionID: "EXC_001", Type: TypeExclusion, Text: "eGFR >= 45 mL/min"}
	profile := PatientProfile{LabValues: []LabValue{{TestName: "eGFR", Value: 50}}}
	if res := EvaluateCriterion(profile, criterion); res.MatchStatus != StatusMatch {
		t.Errorf("50 >= 45: %q", res.MatchStatus)
	}
	profile.LabValues[0].Value = 40
	if res := EvaluateCriterion(profile, criterion); res.MatchStatus != StatusNoMatch {
		t.Errorf("40 >= 45: %q", res.MatchStatus)
	}
}

// Diabetes-type criteria report presence symmetrically for inclusion and
// exclusion; the decision rule gives the verdict its direction.
func TestEvaluateDiabetesTypeSymmetric(t *testing.T) {
	profile := PatientProfile{Diagnoses: []Diagnosis{{Condition: "Type 1 Diabetes Mellitus"}}}
	for _, typ := range []CriterionType{TypeInclusion, TypeExclusion} {
		criterion := Criterion{CriterionID: "X_001", Type: typ, Text: "Type 1 Diabetes"}
		res := EvaluateCriterion(profile, criterion)
		if res.MatchStatus != StatusMatch {
			t.Errorf("%s: status %q, want MATCH", typ, res.MatchStatus)
		}
		if res.Confidence != 0.95 {
			t.Errorf("%s: confidence %v", typ, res.Confidence)
		}
	}
}

func TestEvaluateDiabetesTypeAbsentLowersConfidence(t *testing.T) {
	res := EvaluateCriterion(PatientProfile{}, Criterion{CriterionID: "EXC_001", Type: TypeExclusion, Text: "Type 1 Diabetes"})
	if res.MatchStatus != StatusNoMatch {
		t.Errorf("status %q", res.MatchStatus)
	}
	if res.Confidence != 0.7 {
		t.Errorf("confidence %v, want 0.7 when no diabetes diagnosis found", res.Confidence)
	}
}

func TestEvaluateMedication(t *testing.T) {
	profile := PatientProfile{Medications: []Medication{{DrugName: "Metformin XR"}}}
	res := EvaluateCriterion(profile, Criterion{CriterionID: "INC_003", Type: TypeInclusion, Text: "Currently taking metformin"})
	if res.MatchStatus != StatusMatch || res.Confidence != 0.9 {
		t.Errorf("metformin present: %q conf %v", res.MatchStatus, res.Confidence)
	}
	res = EvaluateCriterion(profile, Criterion{CriterionID: "EXC_002", Type: TypeExclusion, Text: "Current use of insulin"})
	if res.MatchStatus != StatusNoMatch {
		t.Errorf("insulin absent: %q", res.MatchStatus)
	}
}

func TestEvaluatePregnancyMaleShortCircuit(t *testing.T) {
	profile := PatientProfile{
		Demographics: Demographics{Age: intPtr(40), Sex: "male"},
		Lifestyle:    Lifestyle{PregnancyStatus: "pregnant"},
	}
	res := EvaluateCriterion(profile, Criterion{CriterionID: "EXC_003", Type: TypeExclusion, Text: "Pregnant or breastfeeding"})
	if res.MatchStatus != StatusNoMatch || res.Confidence != 1.0 {
		t.Errorf("male short-circuit: %q conf %v", res.MatchStatus, res.Confidence)
	}
	if !strings.Contains(res.Reasoning, "male") {
		t.Errorf("reasoning: %q", res.Reasoning)
	}
}

func TestEvaluatePregnancyStatuses(t *testing.T) {
	cases := []struct {
		status   string
		want     MatchStatus
		wantConf float64
	}{
		{"pregnant", StatusMatch, 0.95},
		{"yes", StatusMatch, 0.95},
		{"not_pregnant", StatusNoMatch, 0.95},
		{"no", StatusNoMatch, 0.95},
		{"not_applicable", StatusNoMatch, 0.95},
		{"unknown", StatusUncertain, 0.5},
		{"", StatusUncertain, 0.5},
	}
	criterion := Criterion{CriterionID: "EXC_003", Type: TypeExclusion, Text: "Pregnancy or planned pregnancy"}
	for _, tc := range cases {
		profile := PatientProfile{
			Demographics: Demographics{Sex: "female"},
			Lifestyle:    Lifestyle{PregnancyStatus: tc.status},
		}
		res := EvaluateCriterion(profile, criterion)
		if res.MatchStatus != tc.want || res.Confidence != tc.wantConf {
			t.Errorf("status %q: got %q conf %v, want %q conf %v", tc.status, res.MatchStatus, res.Confidence, tc.want, tc.wantConf)
		}
	}
}

func TestEvaluateUnrecognizedCriterion(t *testing.T) {
	res := EvaluateCriterion(PatientProfile{}, Criterion{CriterionID: "INC_009", Type: TypeInclusion, Text: "Willing to provide informed consent"})
	if res.MatchStatus != StatusUncertain || res.Confidence != 0.5 {
		t.Errorf("default: %q conf %v", res.MatchStatus, res.Confidence)
	}
	if len(res.Evidence) != 0 {
		t.Errorf("default evidence should be empty: %v", res.Evidence)
	}
}

func TestEvaluateAllOrder(t *testing.T) {
	profile := PatientProfile{Demographics: Demographics{Age: intPtr(30)}}
	set := CriteriaSet{
		Inclusion: []Criterion{{CriterionID: "INC_001", Text: "Age 18-75 years"}},
		Exclusion: []Criterion{{CriterionID: "EXC_001", Text: "Type 1 Diabetes"}},
	}
	results := EvaluateAll(profile, set)
	if len(results) != 2 {
		t.Fatalf("results: %d", len(results))
	}
	if results[0].CriterionID != "INC_001" || results[0].Type != TypeInclusion {
		t.Errorf("results[0]: %+v", results[0])
	}
	if results[1].CriterionID != "EXC_001" || results[1].Type != TypeExclusion {
		t.Errorf("results[1]: %+v", results[1])
	}
}
