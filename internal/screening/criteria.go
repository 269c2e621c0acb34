package screening

import (
	"fmt"
	"regexp"
	"strings"
)

var enumeratedLineRe = regexp.MustCompile(`^\s*(\d+[.)]|-|•)\s*(.+)$`)

// categoryRules is checked in order; the first keyword hit wins and
// CLINICAL is the default, so earlier entries shadow later ones.
var categoryRules = []struct {
	category CriterionCategory
	keywords []string
}{
	{CategoryDemographic, []string{"age", "sex", "gender", "male", "female", "race"}},
	{CategoryLaboratory, []string{"hba1c", "glucose", "egfr", "creatinine", "alt", "ast", "lab"}},
	{CategoryMedication, []string{"metformin", "insulin", "medication", "drug", "therapy", "treatment"}},
	{CategoryMedicalHistory, []string{"history", "prior", "previous", "past"}},
	{CategoryLifestyle, []string{"pregnant", "smoking", "alcohol", "lifestyle"}},
}

// dataPointRules maps criterion keywords to the patient data fields a
// criterion needs. Checked in order so extracted data points keep a stable
// ordering across runs.
var dataPointRules = []struct {
	keyword   string
	dataPoint string
}{
	{"age", "age"},
	{"hba1c", "lab_hba1c"},
	{"egfr", "lab_egfr"},
	{"glucose", "lab_glucose"},
	{"creatinine", "lab_creatinine"},
	{"metformin", "medication_metformin"},
	{"insulin", "medication_insulin"},
	{"pregnant", "pregnancy_status"},
	{"diabetes", "diagnosis_diabetes"},
	{"bmi", "bmi"},
}

// ParseCriteria extracts structured inclusion and exclusion criteria from
// free-text protocol sections. It never fails: unparseable input yields
// empty lists. Section headers are lines containing both the section
// keyword and the word "criteria"; within a section, enumerated lines of at
// least MinCriterionChars become criteria with sequential zero-padded IDs.
func ParseCriteria(protocolText string) CriteriaSet {
	set := CriteriaSet{Inclusion: []Criterion{}, Exclusion: []Criterion{}}

	section := CriterionType("")
	counters := map[CriterionType]int{}

	for _, line := range strings.Split(protocolText, "\n") {
		upper := strings.ToUpper(strings.TrimSpace(line))

		if strings.Contains(upper, "INCLUSION") && strings.Contains(upper, "CRITERIA") {
			section = TypeInclusion
			continue
		}
		if strings.Contains(upper, "EXCLUSION") && strings.Contains(upper, "CRITERIA") {
			section = TypeExclusion
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := enumeratedLineRe.FindStringSubmatch(line)
		if m == nil || section == "" {
			continue
		}
		text := strings.TrimSpace(m[2])
		if len(text) < MinCriterionChars {
			continue
		}

		counters[section]++
		prefix := "INC"
		if section == TypeExclusion {
			prefix = "EXC"
		}

		criterion := Criterion{
			CriterionID:        fmt.Sprintf("%s_%03d", prefix, counters[section]),
			Type:               section,
			Category:           categorizeCriterion(text),
			Text:               text,
			Normalized:         text,
			RequiredDataPoints: extractDataPoints(text),
			ComparisonOperator: detectOperator(text),
		}

		if section == TypeInclusion {
			set.Inclusion = append(set.Inclusion, criterion)
		} else {
			set.Exclusion = append(set.Exclusion, criterion)
		}
	}

	return set
}

func categorizeCriterion(text string) CriterionCategory {
	lower := strings.ToLower(text)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryClinical
}

func extractDataPoints(text string) []string {
	lower := strings.ToLower(text)
	var points []string
	for _, rule := range dataPointRules {
		if strings.Contains(lower, rule.keyword) {
			points = append(points, rule.dataPoint)
		}
	}
	if len(points) == 0 {
		return []string{"general"}
	}
	return points
}

func detectOperator(text string) ComparisonOperator {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "between") || strings.Contains(lower, "-"):
		return OperatorRange
	case containsAny(lower, "≥", ">=", "at least", "minimum"):
		return OperatorGte
	case containsAny(lower, "≤", "<=", "at most", "maximum"):
		return OperatorLte
	case containsAny(lower, ">", "greater than", "more than"):
		return OperatorGt
	case containsAny(lower, "<", "less than"):
		return OperatorLt
	case containsAny(lower, "no ", "not ", "without", "absence"):
		return OperatorNotContains
	default:
		return OperatorContains
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
