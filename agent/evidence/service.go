// Package evidence implements the evidence-gathering orchestrator: fetch
// candidate trials, score and rank them against the patient context, grade
// them generatively when a backend is configured, and assemble an immutable
// evidence pack.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
	synthx "github.com/careloop/careloop/agent/synth"
)

const defaultGradeTimeout = 60 * time.Second

type Service struct {
	trials    contractx.TrialSource
	gen       contractx.Synthesizer
	genModel  string
	heuristic contractx.Synthesizer

	gradeTimeout time.Duration
	runner       searchRunner

	now func() time.Time
}

var _ contractx.EvidenceService = (*Service)(nil)

type Option func(*Service)

// WithGenerative attaches the optional generative grading step. model is
// recorded on packs whose analyses came from it.
func WithGenerative(gen contractx.Synthesizer, model string) Option {
	return func(s *Service) {
		s.gen = gen
		s.genModel = model
	}
}

func WithGradeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gradeTimeout = d
		}
	}
}

func New(trials contractx.TrialSource, opts ...Option) (*Service, error) {
	if trials == nil {
		return nil, errors.New("trial source is required")
	}

	s := &Service{
		trials:       trials,
		heuristic:    synthx.Heuristic{},
		gradeTimeout: defaultGradeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	runner, err := s.compileSearchGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.runner = runner
	return s, nil
}

// Search runs the fetch → score → grade → assemble pipeline and always
// terminates in a complete pack; only fetch failures and bad input are
// surfaced.
func (s *Service) Search(ctx context.Context, query contractx.EvidenceQuery) (contractx.EvidencePack, error) {
	if err := validateQuery(query); err != nil {
		return contractx.EvidencePack{}, err
	}

	log.Info().
		Str("diagnosis", query.Diagnosis).
		Int("age", query.Age).
		Float64("egfr", query.EGFR).
		Msg("evidence search started")

	pack, err := s.runner.Invoke(ctx, query)
	if err != nil {
		return contractx.EvidencePack{}, err
	}
	return pack, nil
}

func validateQuery(query contractx.EvidenceQuery) error {
	if query.Age <= 0 {
		return fmt.Errorf("%w: age must be positive", contractx.ErrValidation)
	}
	if strings.TrimSpace(query.Diagnosis) == "" {
		return fmt.Errorf("%w: diagnosis is required", contractx.ErrValidation)
	}
	if query.EGFR <= 0 {
		return fmt.Errorf("%w: egfr must be positive", contractx.ErrValidation)
	}
	if query.Geo != nil && query.Geo.RadiusKM <= 0 {
		return fmt.Errorf("%w: geo radius must be positive", contractx.ErrValidation)
	}
	return nil
}
