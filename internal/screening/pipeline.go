package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrTrialNotFound = errors.New("trial not found")

type StageError struct {
	Stage Step
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func StageFromError(err error) Step {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

type StageProgressFn func(step Step, message string)

// Pipeline sequences the six screening stages. Every stage attempts the
// primary runner first; any error engages the rule-based fallback and the
// run continues. The pipeline therefore always completes once its inputs
// resolve, whatever the generative backend is doing.
type Pipeline struct {
	primary   StageRunner
	fallback  *RuleBasedRunner
	retriever Retriever
	trials    TrialSource
	cfg       Config
	tracer    trace.Tracer
}

// NewPipeline wires the orchestrator. primary, retriever and trials may each
// be nil: a nil primary runs rule-based only, a nil retriever skips context
// retrieval, a nil trials store requires requests to carry protocol text.
func NewPipeline(primary StageRunner, retriever Retriever, trials TrialSource, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		primary:   primary,
		fallback:  NewRuleBasedRunner(cfg),
		retriever: retriever,
		trials:    trials,
		cfg:       cfg,
		tracer:    otel.Tracer("trialscreen/screening"),
	}
}

func (p *Pipeline) Screen(ctx context.Context, req ScreeningRequest) (ScreeningOutcome, error) {
	return p.screen(ctx, req, nil)
}

func (p *Pipeline) ScreenWithProgress(ctx context.Context, req ScreeningRequest, progress StageProgressFn) (ScreeningOutcome, error) {
	return p.screen(ctx, req, progress)
}

func (p *Pipeline) screen(ctx context.Context, req ScreeningRequest, progress StageProgressFn) (ScreeningOutcome, error) {
	if len(req.PatientData) == 0 {
		return ScreeningOutcome{}, fmt.Errorf("patient_data is required")
	}
	protocol, err := p.resolveProtocol(ctx, req)
	if err != nil {
		return ScreeningOutcome{}, err
	}

	ctx, span := p.tracer.Start(ctx, "screening.screen", trace.WithAttributes(
		attribute.String("trial.id", req.TrialID),
	))
	defer span.End()

	state := &ScreeningState{
		PatientData:   req.PatientData,
		TrialProtocol: protocol,
		TrialID:       req.TrialID,
		StartedAt:     time.Now().UTC(),
	}

	// CRITERIA_EXTRACTION
	state.CurrentStep = StepCriteriaExtraction
	if err := p.checkpoint(ctx, state); err != nil {
		return ScreeningOutcome{}, err
	}
	emit(progress, StepCriteriaExtraction, "Extracting eligibility criteria...")
	p.runStage(ctx, state, StepCriteriaExtraction, func(sctx context.Context, r StageRunner) error {
		criteria, err := r.ExtractCriteria(sctx, state.TrialProtocol)
		if err != nil {
			return err
		}
		state.Criteria = criteria
		return nil
	})

	// PATIENT_PROFILING
	state.CurrentStep = StepPatientProfiling
	if err := p.checkpoint(ctx, state); err != nil {
		return ScreeningOutcome{}, err
	}
	emit(progress, StepPatientProfiling, "Structuring patient record...")
	p.runStage(ctx, state, StepPatientProfiling, func(sctx context.Context, r StageRunner) error {
		profile, err := r.StructureProfile(sctx, state.PatientData)
		if err != nil {
			return err
		}
		state.Profile = profile
		return nil
	})

	// KNOWLEDGE_QUERY
	state.CurrentStep = StepKnowledgeQuery
	if err := p.checkpoint(ctx, state); err != nil {
		return ScreeningOutcome{}, err
	}
	emit(progress, StepKnowledgeQuery, "Retrieving medical context...")
	queries := BuildContextQueries(state.Profile)
	docs, executed, failures := RetrieveContext(ctx, p.retriever, queries, p.cfg.ContextTopK, p.cfg.MaxContextQueries)
	state.Errors = append(state.Errors, failures...)
	p.runStage(ctx, state, StepKnowledgeQuery, func(sctx context.Context, r StageRunner) error {
		medCtx, err := r.SynthesizeContext(sctx, state.Profile, executed, docs)
		if err != nil {
			return err
		}
		state.Context = medCtx
		return nil
	})

	// ELIGIBILITY_MATCHING
	state.CurrentStep = StepEligibilityMatching
	if err := p.checkpoint(ctx, state); err != nil {
		return ScreeningOutcome{}, err
	}
	emit(progress, StepEligibilityMatching, "Matching patient against criteria...")
	p.runStage(ctx, state, StepEligibilityMatching, func(sctx context.Context, r StageRunner) error {
		results, err := r.MatchCriteria(sctx, state.Criteria, state.Profile, state.Context)
		if err != nil {
			return err
		}
		state.MatchResults = results
		return nil
	})

	// CONFIDENCE_SCORING
	state.CurrentStep = StepConfidenceScoring
	if err := p.checkpoint(ctx, state); err != nil {
		return ScreeningOutcome{}, err
	}
	emit(progress, StepConfidenceScoring, "Aggregating confidence...")
	p.runStage(ctx, state, StepConfidenceScoring, func(sctx context.Context, r StageRunner) error {
		scores, err := r.ScoreConfidence(sctx, state.MatchResults)
		if err != nil {
			return err
		}
		state.Confidence = scores
		return nil
	})

	// The decision is always derived from the match results, whichever
	// runner produced them. The explanation stage narrates it, never
	// changes it.
	state.Decision = DeriveDecision(state.MatchResults)
	state.ExplainabilityTable = state.MatchResults

	// EXPLANATION_GENERATION
	state.CurrentStep = StepExplanationGeneration
	if err := p.checkpoint(ctx, state); err != nil {
		return ScreeningOutcome{}, err
	}
	emit(progress, StepExplanationGeneration, "Generating clinical narrative...")
	p.runStage(ctx, state, StepExplanationGeneration, func(sctx context.Context, r StageRunner) error {
		narrative, err := r.GenerateExplanation(sctx, state)
		if err != nil {
			return err
		}
		state.ClinicalNarrative = narrative
		return nil
	})

	state.CurrentStep = StepComplete
	state.CompletedAt = time.Now().UTC()
	emit(progress, StepComplete, "Screening complete")

	outcome := BuildOutcome(state)
	span.SetAttributes(
		attribute.String("screening.decision", string(outcome.Decision)),
		attribute.Float64("screening.confidence", outcome.Confidence),
		attribute.Int("screening.fallback_stages", len(outcome.FallbackSteps)),
	)
	return outcome, nil
}

// runStage attempts the primary runner, falling back to the rule-based
// engine on any error. The fallback cannot fail, so the stage always
// completes.
func (p *Pipeline) runStage(ctx context.Context, state *ScreeningState, step Step, fn func(context.Context, StageRunner) error) {
	sctx, span := p.tracer.Start(ctx, "screening."+strings.ToLower(string(step)))
	defer span.End()

	if p.primary != nil {
		err := fn(sctx, p.primary)
		if err == nil {
			state.CompletedSteps = append(state.CompletedSteps, step)
			return
		}
		span.RecordError(err)
		state.Errors = append(state.Errors, fmt.Sprintf("%s error: %v", stageErrorLabel(step), err))
		state.FallbackSteps = append(state.FallbackSteps, step)
	}

	// The rule-based runner never returns an error.
	_ = fn(sctx, p.fallback)
	state.CompletedSteps = append(state.CompletedSteps, step)
}

func (p *Pipeline) checkpoint(ctx context.Context, state *ScreeningState) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: state.CurrentStep, Err: err}
	}
	return nil
}

// resolveProtocol prefers inline protocol text and otherwise loads the
// trial's stored documents.
func (p *Pipeline) resolveProtocol(ctx context.Context, req ScreeningRequest) (string, error) {
	if text := strings.TrimSpace(req.TrialProtocol); text != "" {
		return text, nil
	}
	if p.trials == nil || strings.TrimSpace(req.TrialID) == "" {
		return "", fmt.Errorf("either trial_protocol or trial_id is required")
	}
	docs, err := p.trials.GetTrialByID(ctx, req.TrialID)
	if err != nil {
		return "", fmt.Errorf("resolving trial %s: %w", req.TrialID, err)
	}
	if len(docs.Documents) == 0 {
		return "", fmt.Errorf("trial %s: %w", req.TrialID, ErrTrialNotFound)
	}
	return strings.Join(docs.Documents, "\n\n"), nil
}

func stageErrorLabel(step Step) string {
	switch step {
	case StepCriteriaExtraction:
		return "Criteria extraction"
	case StepPatientProfiling:
		return "Patient profiling"
	case StepKnowledgeQuery:
		return "Knowledge query"
	case StepEligibilityMatching:
		return "Eligibility matching"
	case StepConfidenceScoring:
		return "Confidence scoring"
	case StepExplanationGeneration:
		return "Explanation generation"
	default:
		return string(step)
	}
}

func emit(progress StageProgressFn, step Step, message string) {
	if progress != nil {
		progress(step, message)
	}
}
