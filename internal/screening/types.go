package screening

import (
	"context"
	"time"
)

const Disclaimer = "This is an automated pre-screening aid, not a clinical determination. " +
	"Eligibility decisions must be confirmed by qualified study staff against the " +
	"full protocol before enrollment."

const (
	DefaultConfidenceThreshold = 0.80
	DefaultConfidenceSamples   = 5
	DefaultMaxContextQueries   = 5
	DefaultContextTopK         = 3
	MinCriterionChars          = 10
)

type Decision string

const (
	DecisionEligible   Decision = "ELIGIBLE"
	DecisionIneligible Decision = "INELIGIBLE"
	DecisionUncertain  Decision = "UNCERTAIN"
)

type CriterionType string

const (
	TypeInclusion CriterionType = "inclusion"
	TypeExclusion CriterionType = "exclusion"
)

type CriterionCategory string

const (
	CategoryDemographic    CriterionCategory = "DEMOGRAPHIC"
	CategoryClinical       CriterionCategory = "CLINICAL"
	CategoryLaboratory     CriterionCategory = "LABORATORY"
	CategoryMedication     CriterionCategory = "MEDICATION"
	CategoryMedicalHistory CriterionCategory = "MEDICAL_HISTORY"
	CategoryLifestyle      CriterionCategory = "LIFESTYLE"
)

type ComparisonOperator string

const (
	OperatorEq          ComparisonOperator = "eq"
	OperatorGt          ComparisonOperator = "gt"
	OperatorLt          ComparisonOperator = "lt"
	OperatorGte         ComparisonOperator = "gte"
	OperatorLte         ComparisonOperator = "lte"
	OperatorContains    ComparisonOperator = "contains"
	OperatorNotContains ComparisonOperator = "not_contains"
	OperatorRange       ComparisonOperator = "range"
)

type Criterion struct {
	CriterionID        string             `json:"criterion_id"`
	Type               CriterionType      `json:"type"`
	Category           CriterionCategory  `json:"category"`
	Text               string             `json:"text"`
	Normalized         string             `json:"normalized"`
	RequiredDataPoints []string           `json:"required_data_points"`
	ComparisonOperator ComparisonOperator `json:"comparison_operator"`
}

type CriteriaSet struct {
	Inclusion []Criterion `json:"inclusion_criteria"`
	Exclusion []Criterion `json:"exclusion_criteria"`
}

// All returns inclusion criteria followed by exclusion criteria, each
// stamped with its type, the order the evaluator walks them in.
func (c CriteriaSet) All() []Criterion {
	out := make([]Criterion, 0, len(c.Inclusion)+len(c.Exclusion))
	for _, cr := range c.Inclusion {
		cr.Type = TypeInclusion
		out = append(out, cr)
	}
	for _, cr := range c.Exclusion {
		cr.Type = TypeExclusion
		out = append(out, cr)
	}
	return out
}

type Demographics struct {
	Age       *int   `json:"age"`
	Sex       string `json:"sex,omitempty"`
	Race      string `json:"race,omitempty"`
	Ethnicity string `json:"ethnicity,omitempty"`
}

type Diagnosis struct {
	Condition     string `json:"condition"`
	ICD10Code     string `json:"icd10_code"`
	Stage         string `json:"stage"`
	DateDiagnosed string `json:"date_diagnosed"`
}

type Medication struct {
	DrugName    string `json:"drug_name"`
	GenericName string `json:"generic_name"`
	Dose        string `json:"dose"`
	Frequency   string `json:"frequency"`
	StartDate   string `json:"start_date"`
}

type LabValue struct {
	TestName       string  `json:"test_name"`
	Value          float64 `json:"value"`
	Unit           string  `json:"unit"`
	Date           string  `json:"date"`
	ReferenceRange string  `json:"reference_range"`
}

type Lifestyle struct {
	SmokingStatus   string `json:"smoking_status"`
	AlcoholUse      string `json:"alcohol_use"`
	PregnancyStatus string `json:"pregnancy_status"`
}

// PatientProfile is the canonical patient record every matching component
// consumes. MissingData lists each demographic or lab field the structurer
// could not populate; entries are never removed within a structuring pass.
type PatientProfile struct {
	PatientID      string       `json:"patient_id"`
	Demographics   Demographics `json:"demographics"`
	Diagnoses      []Diagnosis  `json:"diagnoses"`
	Medications    []Medication `json:"medications"`
	LabValues      []LabValue   `json:"lab_values"`
	MedicalHistory []string     `json:"medical_history"`
	Lifestyle      Lifestyle    `json:"lifestyle"`
	MissingData    []string     `json:"missing_data"`
}

type MatchStatus string

const (
	StatusMatch       MatchStatus = "MATCH"
	StatusNoMatch     MatchStatus = "NO_MATCH"
	StatusUncertain   MatchStatus = "UNCERTAIN"
	StatusMissingData MatchStatus = "MISSING_DATA"
)

type PatientDataUsed struct {
	Field  string `json:"field,omitempty"`
	Value  any    `json:"value,omitempty"`
	Source string `json:"source,omitempty"`
}

// MatchResult is one criterion verdict. Created once per evaluation pass and
// never mutated afterwards.
type MatchResult struct {
	CriterionID     string          `json:"criterion_id"`
	CriterionText   string          `json:"criterion_text"`
	Type            CriterionType   `json:"type"`
	PatientDataUsed PatientDataUsed `json:"patient_data_used"`
	MatchStatus     MatchStatus     `json:"match_status"`
	Confidence      float64         `json:"confidence"`
	Reasoning       string          `json:"reasoning"`
	Evidence        []string        `json:"evidence"`
	Concerns        []string        `json:"concerns"`
}

type ConfidenceLevel string

const (
	LevelHigh     ConfidenceLevel = "HIGH"
	LevelModerate ConfidenceLevel = "MODERATE"
	LevelLow      ConfidenceLevel = "LOW"
	LevelVeryLow  ConfidenceLevel = "VERY_LOW"
)

type ConfidenceScores struct {
	OverallConfidence   float64            `json:"overall_confidence"`
	ConfidenceLevel     ConfidenceLevel    `json:"confidence_level"`
	IndividualScores    map[string]float64 `json:"individual_scores"`
	ConsistencyScore    float64            `json:"consistency_score"`
	RequiresHumanReview bool               `json:"requires_human_review"`
	ReviewReasons       []string           `json:"review_reasons"`
}

type Step string

const (
	StepCriteriaExtraction    Step = "CRITERIA_EXTRACTION"
	StepPatientProfiling      Step = "PATIENT_PROFILING"
	StepKnowledgeQuery        Step = "KNOWLEDGE_QUERY"
	StepEligibilityMatching   Step = "ELIGIBILITY_MATCHING"
	StepConfidenceScoring     Step = "CONFIDENCE_SCORING"
	StepExplanationGeneration Step = "EXPLANATION_GENERATION"
	StepComplete              Step = "COMPLETE"
)

type RetrievedDocument struct {
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

type MedicalContext struct {
	QueriesExecuted    []string            `json:"queries_executed"`
	RetrievedContext   []RetrievedDocument `json:"retrieved_context"`
	DrugInteractions   []string            `json:"drug_interactions"`
	RelevantGuidelines []string            `json:"relevant_guidelines"`
	PotentialConcerns  []string            `json:"potential_concerns"`
}

// ScreeningState is the mutable accumulator one screening request owns for
// its lifetime. The pipeline is its only writer.
type ScreeningState struct {
	PatientData   map[string]any `json:"patient_data"`
	TrialProtocol string         `json:"trial_protocol"`
	TrialID       string         `json:"trial_id"`

	Criteria     CriteriaSet      `json:"criteria"`
	Profile      PatientProfile   `json:"patient_profile"`
	Context      MedicalContext   `json:"medical_context"`
	MatchResults []MatchResult    `json:"matching_results"`
	Confidence   ConfidenceScores `json:"confidence_scores"`

	Decision            Decision      `json:"final_decision"`
	ExplainabilityTable []MatchResult `json:"explainability_table"`
	ClinicalNarrative   string        `json:"clinical_narrative"`

	CurrentStep    Step      `json:"current_step"`
	CompletedSteps []Step    `json:"completed_steps"`
	FallbackSteps  []Step    `json:"fallback_steps"`
	Errors         []string  `json:"errors"`
	StartedAt      time.Time `json:"processing_started"`
	CompletedAt    time.Time `json:"processing_completed"`
}

type ScreeningOutcome struct {
	ScreeningID         string          `json:"screening_id"`
	TrialID             string          `json:"trial_id"`
	PatientID           string          `json:"patient_id"`
	Decision            Decision        `json:"decision"`
	Confidence          float64         `json:"confidence"`
	ConfidenceLevel     ConfidenceLevel `json:"confidence_level"`
	ConsistencyScore    float64         `json:"consistency_score"`
	ExplainabilityTable []MatchResult   `json:"explainability_table"`
	ClinicalNarrative   string          `json:"clinical_narrative"`
	ReportMarkdown      string          `json:"report_markdown"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	ReviewReasons       []string        `json:"review_reasons"`
	CompletedSteps      []Step          `json:"completed_steps"`
	FallbackSteps       []Step          `json:"fallback_steps"`
	Errors              []string        `json:"errors"`
	StartedAt           time.Time       `json:"processing_started"`
	CompletedAt         time.Time       `json:"processing_completed"`
	Disclaimer          string          `json:"disclaimer"`
}

type ScreeningRequest struct {
	PatientData   map[string]any `json:"patient_data"`
	TrialProtocol string         `json:"trial_protocol,omitempty"`
	TrialID       string         `json:"trial_id"`
}

// Config is injected at pipeline construction; nothing in the package reads
// configuration ambiently.
type Config struct {
	ConfidenceThreshold float64
	ConfidenceSamples   int
	LLMTimeout          time.Duration
	MaxContextQueries   int
	ContextTopK         int
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.ConfidenceSamples <= 0 {
		c.ConfidenceSamples = DefaultConfidenceSamples
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 60 * time.Second
	}
	if c.MaxContextQueries <= 0 {
		c.MaxContextQueries = DefaultMaxContextQueries
	}
	if c.ContextTopK <= 0 {
		c.ContextTopK = DefaultContextTopK
	}
	return c
}

// TrialDocuments is what the trial document store returns for one trial.
type TrialDocuments struct {
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

// TrialSource resolves a trial identifier into protocol text when the
// request does not carry the protocol directly.
type TrialSource interface {
	GetTrialByID(ctx context.Context, trialID string) (TrialDocuments, error)
}

// Retriever is the vector-retrieval collaborator. A failed query is treated
// as empty results for that query only.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]RetrievedDocument, error)
}
