package screening

import (
	"strconv"
	"strings"
)

// commonLabs are flagged in MissingData when no mapped lab test matches.
var commonLabs = []string{"hba1c", "egfr", "glucose"}

// StructurePatient normalizes a raw patient record into the canonical
// profile. It never fails: unrecognized fields are ignored and absent ones
// land in MissingData. Diagnoses and medications may arrive as structured
// records or bare strings; field aliases (icd10/icd10_code, test/test_name,
// dose/dosage, name/drug_name) are resolved here so nothing downstream has
// to care.
func StructurePatient(raw map[string]any) PatientProfile {
	profile := PatientProfile{
		PatientID:      stringField(raw, "patient_id", "UNKNOWN"),
		Diagnoses:      []Diagnosis{},
		Medications:    []Medication{},
		LabValues:      []LabValue{},
		MedicalHistory: []string{},
		MissingData:    []string{},
	}

	profile.Demographics = structureDemographics(raw)
	if profile.Demographics.Age == nil {
		profile.MissingData = append(profile.MissingData, "age")
	}
	if profile.Demographics.Sex == "" {
		profile.MissingData = append(profile.MissingData, "sex")
	}

	for _, entry := range sliceField(raw, "diagnoses") {
		switch dx := entry.(type) {
		case map[string]any:
			profile.Diagnoses = append(profile.Diagnoses, Diagnosis{
				Condition:     stringField(dx, "condition", ""),
				ICD10Code:     firstString(dx, "icd10", "icd10_code"),
				Stage:         stringField(dx, "stage", ""),
				DateDiagnosed: firstString(dx, "date_diagnosed", "date"),
			})
		case string:
			profile.Diagnoses = append(profile.Diagnoses, Diagnosis{Condition: dx})
		}
	}
	if len(profile.Diagnoses) == 0 {
		profile.MissingData = append(profile.MissingData, "diagnoses")
	}

	for _, entry := range sliceField(raw, "medications") {
		switch med := entry.(type) {
		case map[string]any:
			profile.Medications = append(profile.Medications, Medication{
				DrugName:    firstString(med, "drug_name", "name"),
				GenericName: stringField(med, "generic_name", ""),
				Dose:        firstString(med, "dose", "dosage"),
				Frequency:   stringField(med, "frequency", ""),
				StartDate:   stringField(med, "start_date", ""),
			})
		case string:
			profile.Medications = append(profile.Medications, Medication{DrugName: med})
		}
	}

	for _, entry := range sliceField(raw, "lab_values") {
		lab, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		value, _ := floatField(lab, "value")
		profile.LabValues = append(profile.LabValues, LabValue{
			TestName:       firstString(lab, "test", "test_name"),
			Value:          value,
			Unit:           stringField(lab, "unit", ""),
			Date:           stringField(lab, "date", ""),
			ReferenceRange: stringField(lab, "reference_range", ""),
		})
	}

	switch hist := raw["medical_history"].(type) {
	case []any:
		for _, h := range hist {
			if s, ok := h.(string); ok {
				profile.MedicalHistory = append(profile.MedicalHistory, s)
			}
		}
	case []string:
		profile.MedicalHistory = append(profile.MedicalHistory, hist...)
	case string:
		profile.MedicalHistory = append(profile.MedicalHistory, hist)
	}

	if lifestyle, ok := raw["lifestyle"].(map[string]any); ok {
		profile.Lifestyle = Lifestyle{
			SmokingStatus:   firstString(lifestyle, "smoking_status", "smoking"),
			AlcoholUse:      firstString(lifestyle, "alcohol_use", "alcohol"),
			PregnancyStatus: firstString(lifestyle, "pregnancy_status", "pregnancy"),
		}
	}

	for _, lab := range commonLabs {
		if !hasLabNamed(profile.LabValues, lab) {
			profile.MissingData = append(profile.MissingData, "lab_"+lab)
		}
	}

	return profile
}

func structureDemographics(raw map[string]any) Demographics {
	demo := Demographics{
		Sex:       stringField(raw, "sex", ""),
		Race:      stringField(raw, "race", ""),
		Ethnicity: stringField(raw, "ethnicity", ""),
	}
	// A nested demographics block (already-canonical input) wins over
	// top-level fields so structuring is idempotent.
	if nested, ok := raw["demographics"].(map[string]any); ok {
		demo.Sex = stringField(nested, "sex", demo.Sex)
		demo.Race = stringField(nested, "race", demo.Race)
		demo.Ethnicity = stringField(nested, "ethnicity", demo.Ethnicity)
		if age, ok := intField(nested, "age"); ok && age != 0 {
			demo.Age = &age
			return demo
		}
	}
	if age, ok := intField(raw, "age"); ok && age != 0 {
		demo.Age = &age
	}
	return demo
}

func hasLabNamed(labs []LabValue, name string) bool {
	for _, lab := range labs {
		if strings.Contains(strings.ToLower(lab.TestName), name) {
			return true
		}
	}
	return false
}

// GetLabValue returns the first lab whose test name contains testName,
// case-insensitively.
func (p PatientProfile) GetLabValue(testName string) (float64, bool) {
	lower := strings.ToLower(testName)
	for _, lab := range p.LabValues {
		if strings.Contains(strings.ToLower(lab.TestName), lower) {
			return lab.Value, true
		}
	}
	return 0, false
}

// HasDiagnosis reports whether any diagnosis condition contains the given
// text, case-insensitively.
func (p PatientProfile) HasDiagnosis(condition string) bool {
	lower := strings.ToLower(condition)
	for _, dx := range p.Diagnoses {
		if strings.Contains(strings.ToLower(dx.Condition), lower) {
			return true
		}
	}
	return false
}

// HasMedication reports whether the patient is on a drug, matching either
// the brand or generic name.
func (p PatientProfile) HasMedication(drugName string) bool {
	lower := strings.ToLower(drugName)
	for _, med := range p.Medications {
		if strings.Contains(strings.ToLower(med.DrugName), lower) {
			return true
		}
		if strings.Contains(strings.ToLower(med.GenericName), lower) {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func sliceField(m map[string]any, key string) []any {
	switch v := m[key].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}
