package screening

import (
	"context"
	"fmt"
	"strings"
)

const criteriaSystemPrompt = `You are a clinical research coordinator extracting eligibility criteria
from trial protocol documents. You respond with JSON only, no prose.`

const profileSystemPrompt = `You are a clinical data specialist structuring raw patient records into a
canonical profile. You respond with JSON only, no prose.`

const knowledgeSystemPrompt = `You are a medical knowledge specialist synthesizing retrieved clinical
literature for an eligibility screening. You respond with JSON only, no prose.`

const matchingSystemPrompt = `You are a clinical trial eligibility specialist matching a patient profile
against individual eligibility criteria. You respond with JSON only, no prose.`

const confidenceSystemPrompt = `You are a quality-assurance reviewer calibrating the confidence of an
eligibility screening. You respond with JSON only, no prose.`

const explanationSystemPrompt = `You are a clinical writer producing a plain-language eligibility summary
for study staff. You respond with JSON only, no prose.`

const criteriaSchemaPrompt = `Required JSON schema:
{
  "inclusion_criteria": [
    {
      "criterion_id": "string (INC_ + zero-padded sequence, e.g. INC_001)",
      "type": "inclusion",
      "category": "DEMOGRAPHIC | CLINICAL | LABORATORY | MEDICATION | MEDICAL_HISTORY | LIFESTYLE",
      "text": "string (original criterion text)",
      "normalized": "string",
      "required_data_points": ["string"],
      "comparison_operator": "eq | gt | lt | gte | lte | contains | not_contains | range"
    }
  ],
  "exclusion_criteria": [ "same shape, criterion_id prefixed EXC_" ]
}`

const profileSchemaPrompt = `Required JSON schema:
{
  "patient_id": "string",
  "demographics": {"age": "int or null", "sex": "string", "race": "string", "ethnicity": "string"},
  "diagnoses": [{"condition": "string", "icd10_code": "string", "stage": "string", "date_diagnosed": "string"}],
  "medications": [{"drug_name": "string", "generic_name": "string", "dose": "string", "frequency": "string", "start_date": "string"}],
  "lab_values": [{"test_name": "string", "value": "float", "unit": "string", "date": "string", "reference_range": "string"}],
  "medical_history": ["string"],
  "lifestyle": {"smoking_status": "string", "alcohol_use": "string", "pregnancy_status": "string"},
  "missing_data": ["string (every demographic or lab field you could not populate)"]
}`

const knowledgeSchemaPrompt = `Required JSON schema:
{
  "drug_interactions": ["string (0-10 entries)"],
  "relevant_guidelines": ["string (0-10 entries)"],
  "potential_concerns": ["string (0-10 entries)"]
}`

const matchingSchemaPrompt = `Required JSON schema:
{
  "results": [
    {
      "criterion_id": "string (must echo the criterion being evaluated)",
      "criterion_text": "string",
      "type": "inclusion | exclusion",
      "patient_data_used": {"field": "string", "value": "any", "source": "string"},
      "match_status": "MATCH | NO_MATCH | UNCERTAIN | MISSING_DATA",
      "confidence": "float (0.0-1.0)",
      "reasoning": "string (min 10 chars)",
      "evidence": ["string"],
      "concerns": ["string"]
    }
  ]
}
Produce exactly one result per criterion, in the order given. Use MISSING_DATA
when the profile lacks the data a criterion requires; never guess.`

const confidenceSchemaPrompt = `Required JSON schema:
{
  "overall_confidence": "float (0.0-1.0)",
  "confidence_level": "HIGH | MODERATE | LOW | VERY_LOW",
  "individual_scores": {"<criterion_id>": "float (0.0-1.0)"},
  "consistency_score": "float (0.0-1.0)",
  "requires_human_review": "boolean",
  "review_reasons": ["string"]
}`

const explanationSchemaPrompt = `Required JSON schema:
{
  "clinical_narrative": "string (min 50 chars; plain-language summary of the decision, the key qualifying and disqualifying factors, and any data gaps)"
}`

// StageRunner is implemented twice: by the generative backend and by the
// deterministic rule-based engine the orchestrator falls back to.
type StageRunner interface {
	ExtractCriteria(ctx context.Context, protocolText string) (CriteriaSet, error)
	StructureProfile(ctx context.Context, raw map[string]any) (PatientProfile, error)
	SynthesizeContext(ctx context.Context, profile PatientProfile, queries []string, docs []RetrievedDocument) (MedicalContext, error)
	MatchCriteria(ctx context.Context, criteria CriteriaSet, profile PatientProfile, medCtx MedicalContext) ([]MatchResult, error)
	ScoreConfidence(ctx context.Context, results []MatchResult) (ConfidenceScores, error)
	GenerateExplanation(ctx context.Context, state *ScreeningState) (string, error)
}

// RuleBasedRunner is the deterministic engine. It has no external
// dependencies and none of its methods return an error.
type RuleBasedRunner struct {
	cfg Config
}

func NewRuleBasedRunner(cfg Config) *RuleBasedRunner {
	return &RuleBasedRunner{cfg: cfg.withDefaults()}
}

func (r *RuleBasedRunner) ExtractCriteria(_ context.Context, protocolText string) (CriteriaSet, error) {
	return ParseCriteria(protocolText), nil
}

func (r *RuleBasedRunner) StructureProfile(_ context.Context, raw map[string]any) (PatientProfile, error) {
	return StructurePatient(raw), nil
}

func (r *RuleBasedRunner) SynthesizeContext(_ context.Context, _ PatientProfile, queries []string, docs []RetrievedDocument) (MedicalContext, error) {
	return assembleContext(queries, docs), nil
}

func (r *RuleBasedRunner) MatchCriteria(_ context.Context, criteria CriteriaSet, profile PatientProfile, _ MedicalContext) ([]MatchResult, error) {
	return EvaluateAll(profile, criteria), nil
}

func (r *RuleBasedRunner) ScoreConfidence(_ context.Context, results []MatchResult) (ConfidenceScores, error) {
	return Aggregate(results, r.cfg.ConfidenceSamples, r.cfg.ConfidenceThreshold), nil
}

func (r *RuleBasedRunner) GenerateExplanation(_ context.Context, state *ScreeningState) (string, error) {
	return fallbackNarrative(state), nil
}

// LLMStageRunner backs every stage with the generative executor. Outputs are
// schema-validated; a validation failure is an error the orchestrator
// handles by falling back.
type LLMStageRunner struct {
	exec *StageExecutor
}

func NewLLMStageRunner(exec *StageExecutor) *LLMStageRunner {
	return &LLMStageRunner{exec: exec}
}

func (r *LLMStageRunner) ExtractCriteria(ctx context.Context, protocolText string) (CriteriaSet, error) {
	out := CriteriaSet{}
	prompt := fmt.Sprintf(
		"Extract every inclusion and exclusion criterion from this trial protocol.\n\n%s\n\nProtocol text:\n%s",
		criteriaSchemaPrompt,
		protocolText,
	)
	err := r.exec.Run(ctx, "criteria_extraction", criteriaSystemPrompt, prompt, &out, func() error { return validateCriteria(out) })
	return out, err
}

func (r *LLMStageRunner) StructureProfile(ctx context.Context, raw map[string]any) (PatientProfile, error) {
	out := PatientProfile{}
	prompt := fmt.Sprintf(
		"Structure this raw patient record into the canonical profile.\n\n%s\n\nRaw patient data:\n%v",
		profileSchemaPrompt,
		raw,
	)
	err := r.exec.Run(ctx, "patient_profiling", profileSystemPrompt, prompt, &out, func() error { return validateProfile(out) })
	return out, err
}

func (r *LLMStageRunner) SynthesizeContext(ctx context.Context, profile PatientProfile, queries []string, docs []RetrievedDocument) (MedicalContext, error) {
	out := MedicalContext{}
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.Document)
		sb.WriteString("\n---\n")
	}
	prompt := fmt.Sprintf(
		"Synthesize the retrieved clinical context for this screening.\nList drug interactions, relevant guidelines, and potential concerns evident in the material.\n\n%s\n\nPatient diagnoses: %v\nPatient medications: %v\n\nRetrieved material:\n%s",
		knowledgeSchemaPrompt,
		diagnosisConditions(profile),
		medicationNames(profile),
		sb.String(),
	)
	err := r.exec.Run(ctx, "knowledge_query", knowledgeSystemPrompt, prompt, &out, func() error { return validateContext(out) })
	if err != nil {
		return MedicalContext{}, err
	}
	out.QueriesExecuted = queries
	out.RetrievedContext = docs
	return out, nil
}

func (r *LLMStageRunner) MatchCriteria(ctx context.Context, criteria CriteriaSet, profile PatientProfile, medCtx MedicalContext) ([]MatchResult, error) {
	all := criteria.All()
	var list strings.Builder
	for _, c := range all {
		fmt.Fprintf(&list, "- [%s] (%s) %s\n", c.CriterionID, c.Type, c.Text)
	}
	out := struct {
		Results []MatchResult `json:"results"`
	}{}
	prompt := fmt.Sprintf(
		"Evaluate this patient against each criterion below.\n\n%s\n\nCriteria:\n%s\nPatient profile:\nage=%s sex=%s\ndiagnoses=%v\nmedications=%v\nlab values=%v\npregnancy status=%q\nmissing data=%v\n\nClinical context concerns: %v",
		matchingSchemaPrompt,
		list.String(),
		formatAge(profile.Demographics.Age),
		profile.Demographics.Sex,
		diagnosisConditions(profile),
		medicationNames(profile),
		labSummaries(profile),
		profile.Lifestyle.PregnancyStatus,
		profile.MissingData,
		medCtx.PotentialConcerns,
	)
	err := r.exec.Run(ctx, "eligibility_matching", matchingSystemPrompt, prompt, &out, func() error { return validateMatchResults(out.Results, all) })
	return out.Results, err
}

func (r *LLMStageRunner) ScoreConfidence(ctx context.Context, results []MatchResult) (ConfidenceScores, error) {
	out := ConfidenceScores{}
	var summary strings.Builder
	for _, res := range results {
		fmt.Fprintf(&summary, "- %s (%s): %s confidence=%.2f\n", res.CriterionID, res.Type, res.MatchStatus, res.Confidence)
	}
	prompt := fmt.Sprintf(
		"Calibrate the confidence of this screening from its per-criterion verdicts.\nFlag for human review when confidence is low or data is missing on an inclusion criterion.\n\n%s\n\nVerdicts:\n%s",
		confidenceSchemaPrompt,
		summary.String(),
	)
	err := r.exec.Run(ctx, "confidence_scoring", confidenceSystemPrompt, prompt, &out, func() error { return validateConfidenceScores(out, results) })
	return out, err
}

func (r *LLMStageRunner) GenerateExplanation(ctx context.Context, state *ScreeningState) (string, error) {
	out := struct {
		ClinicalNarrative string `json:"clinical_narrative"`
	}{}
	var verdicts strings.Builder
	for _, res := range state.MatchResults {
		fmt.Fprintf(&verdicts, "- %s (%s): %s — %s\n", res.CriterionID, res.Type, res.MatchStatus, res.Reasoning)
	}
	prompt := fmt.Sprintf(
		"Write the clinical narrative for this eligibility screening.\nDo not change the decision; explain it.\n\n%s\n\nDecision: %s\nOverall confidence: %.2f (%s)\nRequires human review: %t\nPer-criterion verdicts:\n%s",
		explanationSchemaPrompt,
		state.Decision,
		state.Confidence.OverallConfidence,
		state.Confidence.ConfidenceLevel,
		state.Confidence.RequiresHumanReview,
		verdicts.String(),
	)
	err := r.exec.Run(ctx, "explanation_generation", explanationSystemPrompt, prompt, &out, func() error {
		if len(strings.TrimSpace(out.ClinicalNarrative)) < 50 {
			return fmt.Errorf("clinical_narrative too short")
		}
		return nil
	})
	return out.ClinicalNarrative, err
}

func validateCriteria(set CriteriaSet) error {
	if len(set.Inclusion) == 0 && len(set.Exclusion) == 0 {
		return fmt.Errorf("no criteria extracted")
	}
	for _, c := range set.Inclusion {
		if err := validateCriterion(c, "INC_"); err != nil {
			return err
		}
	}
	for _, c := range set.Exclusion {
		if err := validateCriterion(c, "EXC_"); err != nil {
			return err
		}
	}
	return nil
}

func validateCriterion(c Criterion, idPrefix string) error {
	if !strings.HasPrefix(c.CriterionID, idPrefix) {
		return fmt.Errorf("criterion_id %q missing %s prefix", c.CriterionID, idPrefix)
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("criterion %s has empty text", c.CriterionID)
	}
	switch c.Category {
	case CategoryDemographic, CategoryClinical, CategoryLaboratory, CategoryMedication, CategoryMedicalHistory, CategoryLifestyle:
	default:
		return fmt.Errorf("criterion %s has invalid category %q", c.CriterionID, c.Category)
	}
	switch c.ComparisonOperator {
	case OperatorEq, OperatorGt, OperatorLt, OperatorGte, OperatorLte, OperatorContains, OperatorNotContains, OperatorRange:
	default:
		return fmt.Errorf("criterion %s has invalid comparison_operator %q", c.CriterionID, c.ComparisonOperator)
	}
	return nil
}

func validateProfile(p PatientProfile) error {
	if strings.TrimSpace(p.PatientID) == "" {
		return fmt.Errorf("patient_id empty")
	}
	if p.Demographics.Age != nil && (*p.Demographics.Age < 0 || *p.Demographics.Age > 150) {
		return fmt.Errorf("age out of range")
	}
	return nil
}

func validateContext(c MedicalContext) error {
	if len(c.DrugInteractions) > 10 || len(c.RelevantGuidelines) > 10 || len(c.PotentialConcerns) > 10 {
		return fmt.Errorf("context list too long")
	}
	return nil
}

func validateMatchResults(results []MatchResult, criteria []Criterion) error {
	if len(results) != len(criteria) {
		return fmt.Errorf("expected %d results, got %d", len(criteria), len(results))
	}
	known := make(map[string]CriterionType, len(criteria))
	for _, c := range criteria {
		known[c.CriterionID] = c.Type
	}
	for _, res := range results {
		typ, ok := known[res.CriterionID]
		if !ok {
			return fmt.Errorf("result for unknown criterion %q", res.CriterionID)
		}
		if res.Type != typ {
			return fmt.Errorf("result for %s has wrong type %q", res.CriterionID, res.Type)
		}
		switch res.MatchStatus {
		case StatusMatch, StatusNoMatch, StatusUncertain, StatusMissingData:
		default:
			return fmt.Errorf("result for %s has invalid match_status %q", res.CriterionID, res.MatchStatus)
		}
		if res.Confidence < 0 || res.Confidence > 1 {
			return fmt.Errorf("result for %s has confidence out of range", res.CriterionID)
		}
		if len(strings.TrimSpace(res.Reasoning)) < 10 {
			return fmt.Errorf("result for %s has reasoning too short", res.CriterionID)
		}
	}
	return nil
}

func validateConfidenceScores(c ConfidenceScores, results []MatchResult) error {
	if c.OverallConfidence < 0 || c.OverallConfidence > 1 {
		return fmt.Errorf("overall_confidence out of range")
	}
	if c.ConsistencyScore < 0 || c.ConsistencyScore > 1 {
		return fmt.Errorf("consistency_score out of range")
	}
	switch c.ConfidenceLevel {
	case LevelHigh, LevelModerate, LevelLow, LevelVeryLow:
	default:
		return fmt.Errorf("invalid confidence_level %q", c.ConfidenceLevel)
	}
	known := make(map[string]bool, len(results))
	for _, res := range results {
		known[res.CriterionID] = true
	}
	for id, score := range c.IndividualScores {
		if !known[id] {
			return fmt.Errorf("individual score for unknown criterion %q", id)
		}
		if score < 0 || score > 1 {
			return fmt.Errorf("individual score for %s out of range", id)
		}
	}
	if c.RequiresHumanReview && len(c.ReviewReasons) == 0 {
		return fmt.Errorf("requires_human_review set without review_reasons")
	}
	return nil
}

func diagnosisConditions(p PatientProfile) []string {
	out := make([]string, 0, len(p.Diagnoses))
	for _, d := range p.Diagnoses {
		out = append(out, d.Condition)
	}
	return out
}

func medicationNames(p PatientProfile) []string {
	out := make([]string, 0, len(p.Medications))
	for _, m := range p.Medications {
		out = append(out, m.DrugName)
	}
	return out
}

func labSummaries(p PatientProfile) []string {
	out := make([]string, 0, len(p.LabValues))
	for _, l := range p.LabValues {
		out = append(out, fmt.Sprintf("%s=%.2f %s", l.TestName, l.Value, l.Unit))
	}
	return out
}

func formatAge(age *int) string {
	if age == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *age)
}
