package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
)

// Completer is the slice of the chat gateway the generative synthesizer
// needs; llmgw.Client implements it.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Generative asks a chat-completions backend for gradings, plan cards, and
// trial criteria. Any transport error, timeout, or unusable output comes
// back wrapped in contract.ErrSynthesis; a per-trial gap in a grading
// response is filled from the heuristic instead.
type Generative struct {
	llm      Completer
	fallback Heuristic
}

func NewGenerative(llm Completer) (*Generative, error) {
	if llm == nil {
		return nil, errors.New("completer is required")
	}
	return &Generative{llm: llm}, nil
}

var _ contractx.Synthesizer = (*Generative)(nil)

// Model reports the backing model name for pack/card attribution.
func (g *Generative) Model() string { return g.llm.Model() }

const gradeSystemPrompt = "You are an evidence synthesis assistant. Respond ONLY with JSON containing " +
	"an array named 'analyses'. For each trial provide keys: trial_id, " +
	"pico_grade (high/medium/low), benefit_summary, risk_summary, overall_summary, " +
	"and optional why_match."

func (g *Generative) GradeTrials(ctx context.Context, query contractx.EvidenceQuery, trials []contractx.TrialMatch) (contractx.TrialGrades, error) {
	if len(trials) == 0 {
		return contractx.TrialGrades{}, nil
	}

	user, err := json.Marshal(map[string]any{
		"patient": query,
		"trials":  trials,
	})
	if err != nil {
		return contractx.TrialGrades{}, fmt.Errorf("%w: marshal grading payload: %v", contractx.ErrSynthesis, err)
	}

	raw, err := g.llm.CompleteJSON(ctx, gradeSystemPrompt, string(user))
	if err != nil {
		return contractx.TrialGrades{}, err
	}

	block, ok := extractJSONObject(raw)
	if !ok {
		return contractx.TrialGrades{}, fmt.Errorf("%w: grading response is not a JSON object", contractx.ErrSynthesis)
	}

	var parsed struct {
		Analyses []analysisWire `json:"analyses"`
		Notes    string         `json:"notes"`
	}
	if err := json.Unmarshal(block, &parsed); err != nil || len(parsed.Analyses) == 0 {
		return contractx.TrialGrades{}, fmt.Errorf("%w: grading response has no usable analyses", contractx.ErrSynthesis)
	}

	remaining := parsed.Analyses
	analyses := make([]contractx.Analysis, 0, len(trials))
	for _, trial := range trials {
		wire, found := popAnalysisFor(trial, &remaining)
		if !found {
			analyses = append(analyses, gradeOne(query, trial))
			continue
		}
		analyses = append(analyses, wire.normalize(trial))
	}

	log.Info().Int("analyses", len(analyses)).Str("model", g.llm.Model()).Msg("generative trial grading complete")
	return contractx.TrialGrades{Analyses: analyses, Notes: parsed.Notes}, nil
}

// popAnalysisFor selects the response entry matching the trial by id or nct
// id, falling back to positional order like the grading prompt requests.
func popAnalysisFor(trial contractx.TrialMatch, remaining *[]analysisWire) (analysisWire, bool) {
	entries := *remaining
	for i, entry := range entries {
		if entry.matches(trial) {
			*remaining = append(entries[:i:i], entries[i+1:]...)
			return entry, true
		}
	}
	if len(entries) > 0 {
		entry := entries[0]
		*remaining = entries[1:]
		return entry, true
	}
	return analysisWire{}, false
}

const planSystemPrompt = "You are a clinical decision support assistant. Respond ONLY with JSON " +
	"containing a key 'plan_card'. The plan card must include recommendation, " +
	"rationale, alternatives (array), safety_checks (array), orders (medication+labs), " +
	"citations (array of objects), trial_matches (array of objects), and optional " +
	"evidence_highlights."

func (g *Generative) DraftPlan(ctx context.Context, patient contractx.PatientContext, pack contractx.EvidencePack, question string) (contractx.PlanCard, error) {
	user, err := json.Marshal(map[string]any{
		"question":        question,
		"patient_summary": patient,
		"evidence_pack":   pack,
	})
	if err != nil {
		return contractx.PlanCard{}, fmt.Errorf("%w: marshal plan payload: %v", contractx.ErrSynthesis, err)
	}

	raw, err := g.llm.CompleteJSON(ctx, planSystemPrompt, string(user))
	if err != nil {
		return contractx.PlanCard{}, err
	}

	block, ok := extractJSONObject(raw)
	if !ok {
		return contractx.PlanCard{}, fmt.Errorf("%w: plan response is not a JSON object", contractx.ErrSynthesis)
	}

	var outer struct {
		PlanCard json.RawMessage `json:"plan_card"`
		Notes    string          `json:"notes"`
	}
	body := block
	if err := json.Unmarshal(block, &outer); err == nil && len(outer.PlanCard) > 0 {
		body = outer.PlanCard
	}

	var wire planCardWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return contractx.PlanCard{}, fmt.Errorf("%w: decode plan card: %v", contractx.ErrSynthesis, err)
	}

	card := wire.normalize()
	if card.Recommendation == "" && card.Rationale == "" {
		return contractx.PlanCard{}, fmt.Errorf("%w: plan card is empty", contractx.ErrSynthesis)
	}
	if card.Notes == "" {
		card.Notes = outer.Notes
	}

	log.Info().Str("model", g.llm.Model()).Msg("generative plan card drafted")
	return card, nil
}

const criteriaSystemPrompt = "You extract clinical-trial search filters from a clinician's question. " +
	"Respond ONLY with JSON holding optional keys: condition (string), status (string), " +
	"radius_km (number), keywords (array of strings)."

func (g *Generative) ExtractTrialCriteria(ctx context.Context, question string) (contractx.TrialCriteria, error) {
	raw, err := g.llm.CompleteJSON(ctx, criteriaSystemPrompt, question)
	if err != nil {
		return contractx.TrialCriteria{}, err
	}

	block, ok := extractJSONObject(raw)
	if !ok {
		return contractx.TrialCriteria{}, fmt.Errorf("%w: criteria response is not a JSON object", contractx.ErrSynthesis)
	}

	var criteria contractx.TrialCriteria
	if err := json.Unmarshal(block, &criteria); err != nil {
		return contractx.TrialCriteria{}, fmt.Errorf("%w: decode trial criteria: %v", contractx.ErrSynthesis, err)
	}
	return criteria, nil
}

// extractJSONObject pulls the outermost JSON object from model output that
// may carry prose around it.
func extractJSONObject(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed), true
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	candidate := trimmed[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}
