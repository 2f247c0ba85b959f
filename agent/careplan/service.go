package careplan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
	synthx "github.com/careloop/careloop/agent/synth"
)

const defaultPlanTimeout = 60 * time.Second

// Config carries the per-deployment knobs of the care-plan orchestrator.
type Config struct {
	// DefaultGeo is applied to evidence queries when the caller context
	// carries no location of its own.
	DefaultGeo contractx.Geo

	// PlanTimeout bounds a single generative synthesis round trip.
	PlanTimeout time.Duration
}

// Service answers clinician questions with a structurally complete PlanCard.
// Questions that only ask for trials skip the evidence agent entirely; every
// other question walks the full patient -> evidence -> plan pipeline.
type Service struct {
	patients contractx.PatientSource
	trials   contractx.TrialSource
	evidence contractx.EvidenceService

	gen       contractx.Synthesizer
	genModel  string
	heuristic contractx.Synthesizer

	defaultGeo  contractx.Geo
	planTimeout time.Duration

	fullRunner  planRunner
	trialRunner planRunner

	now func() time.Time
}

// Option customises a Service beyond its required dependencies.
type Option func(*Service)

// WithGenerative enables model-backed plan synthesis. The heuristic path
// stays wired underneath it and absorbs every generative failure.
func WithGenerative(gen contractx.Synthesizer, model string) Option {
	return func(s *Service) {
		s.gen = gen
		s.genModel = model
	}
}

// WithClock overrides the timestamp source. Tests use it for determinism.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(patients contractx.PatientSource, trials contractx.TrialSource, evidence contractx.EvidenceService, conf Config, opts ...Option) (*Service, error) {
	if patients == nil {
		return nil, fmt.Errorf("careplan: patient source is required")
	}
	if trials == nil {
		return nil, fmt.Errorf("careplan: trial source is required")
	}
	if evidence == nil {
		return nil, fmt.Errorf("careplan: evidence service is required")
	}

	s := &Service{
		patients:    patients,
		trials:      trials,
		evidence:    evidence,
		heuristic:   synthx.Heuristic{},
		defaultGeo:  conf.DefaultGeo,
		planTimeout: conf.PlanTimeout,
		now:         time.Now,
	}
	if s.planTimeout <= 0 {
		s.planTimeout = defaultPlanTimeout
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	fullRunner, err := s.compileFullGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("careplan: compile full graph: %w", err)
	}
	trialRunner, err := s.compileTrialGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("careplan: compile trial graph: %w", err)
	}
	s.fullRunner = fullRunner
	s.trialRunner = trialRunner

	return s, nil
}

// Recommend validates the request, classifies its intent and runs the
// matching orchestration graph.
func (s *Service) Recommend(ctx context.Context, req contractx.CarePlanRequest) (contractx.PlanCard, error) {
	if err := validateRequest(req); err != nil {
		return contractx.PlanCard{}, err
	}

	intent := ClassifyIntent(req.Question)
	log.Info().
		Str("patient_id", req.PatientID).
		Str("intent", string(intent)).
		Msg("care plan request accepted")

	var runner planRunner
	switch intent {
	case IntentTrialOnly:
		runner = s.trialRunner
	default:
		runner = s.fullRunner
	}

	card, err := runner.Invoke(ctx, req)
	if err != nil {
		return contractx.PlanCard{}, err
	}
	return card, nil
}

func validateRequest(req contractx.CarePlanRequest) error {
	if strings.TrimSpace(req.PatientID) == "" {
		return fmt.Errorf("%w: patient_id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.Question) == "" {
		return fmt.Errorf("%w: question is required", contractx.ErrValidation)
	}
	return nil
}
