package screening

import (
	"fmt"
	"testing"
)

const sampleProtocol = `STUDY PROTOCOL

INCLUSION CRITERIA:
1. Age 18-75 years
2. HbA1c between 7.0% and 10.0%
3. Diagnosis of Type 2 Diabetes

EXCLUSION CRITERIA:
1. Type 1 Diabetes
2. Current use of insulin
`

func TestParseCriteriaIDSequence(t *testing.T) {
	set := ParseCriteria(sampleProtocol)
	if len(set.Inclusion) != 3 {
		t.Fatalf("expected 3 inclusion criteria, got %d", len(set.Inclusion))
	}
	for i, c := range set.Inclusion {
		want := fmt.Sprintf("INC_%03d", i+1)
		if c.CriterionID != want {
			t.Errorf("inclusion[%d]: id %q, want %q", i, c.CriterionID, want)
		}
		if c.Type != TypeInclusion {
			t.Errorf("inclusion[%d]: type %q", i, c.Type)
		}
	}
	if len(set.Exclusion) != 2 {
		t.Fatalf("expected 2 exclusion criteria, got %d", len(set.Exclusion))
	}
	if set.Exclusion[0].CriterionID != "EXC_001" || set.Exclusion[1].CriterionID != "EXC_002" {
		t.Errorf("exclusion ids: %q, %q", set.Exclusion[0].CriterionID, set.Exclusion[1].CriterionID)
	}
}

func TestParseCriteriaEncounterOrder(t *testing.T) {
	set := ParseCriteria(sampleProtocol)
	if set.Inclusion[0].Text != "Age 18-75 years" {
		t.Errorf("inclusion[0] text: %q", set.Inclusion[0].Text)
	}
	if set.Inclusion[1].Text != "HbA1c between 7.0% and 10.0%" {
		t.Errorf("inclusion[1] text: %q", set.Inclusion[1].Text)
	}
}

func TestParseCriteriaNoiseFilter(t *testing.T) {
	protocol := `INCLUSION CRITERIA:
1. Age>18
2. Diagnosis of Type 2 Diabetes
`
	set := ParseCriteria(protocol)
	if len(set.Inclusion) != 1 {
		t.Fatalf("expected short line filtered, got %d criteria", len(set.Inclusion))
	}
	if set.Inclusion[0].CriterionID != "INC_001" {
		t.Errorf("surviving criterion id: %q", set.Inclusion[0].CriterionID)
	}
}

func TestParseCriteriaNoSection(t *testing.T) {
	set := ParseCriteria("1. Age 18-75 years\n2. HbA1c between 7.0 and 10.0")
	if len(set.Inclusion) != 0 || len(set.Exclusion) != 0 {
		t.Fatalf("lines outside a criteria section must be ignored: %+v", set)
	}
}

func TestParseCriteriaEmptyInput(t *testing.T) {
	set := ParseCriteria("")
	if set.Inclusion == nil || set.Exclusion == nil {
		t.Fatal("expected empty, non-nil lists")
	}
	if len(set.Inclusion) != 0 || len(set.Exclusion) != 0 {
		t.Fatalf("expected no criteria, got %+v", set)
	}
}

func TestCategorizeCriterion(t *testing.T) {
	cases := []struct {
		text string
		want CriterionCategory
	}{
		{"Age 18-75 years", CategoryDemographic},
		{"HbA1c between 7.0% and 10.0%", CategoryLaboratory},
		{"Current use of insulin", CategoryMedication},
		{"History of myocardial infarction", CategoryMedicalHistory},
		{"Pregnant or planning pregnancy", CategoryLifestyle},
		{"Diagnosed hypertension", CategoryClinical},
	}
	for _, tc := range cases {
		if got := categorizeCriterion(tc.text); got != tc.want {
			t.Errorf("categorize(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestDetectOperator(t *testing.T) {
	cases := []struct {
		text string
		want ComparisonOperator
	}{
		{"HbA1c between 7.0% and 10.0%", OperatorRange},
		{"Age 18-75 years", OperatorRange},
		{"eGFR at least 45 mL/min", OperatorGte},
		{"Weight at most 120 kg", OperatorLte},
		{"Blood pressure greater than 140", OperatorGt},
		{"Heart rate less than 100", OperatorLt},
		{"No prior chemotherapy treatment", OperatorNotContains},
		{"Documented informed consent", OperatorContains},
	}
	for _, tc := range cases {
		if got := detectOperator(tc.text); got != tc.want {
			t.Errorf("detectOperator(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestExtractDataPoints(t *testing.T) {
	points := extractDataPoints("HbA1c between 7.0% and 10.0%")
	if len(points) != 1 || points[0] != "lab_hba1c" {
		t.Errorf("data points: %v", points)
	}
	points = extractDataPoints("Documented informed consent")
	if len(points) != 1 || points[0] != "general" {
		t.Errorf("expected general fallback, got %v", points)
	}
}
