package careplan

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
)

type planRunner = compose.Runnable[contractx.CarePlanRequest, contractx.PlanCard]

// planState flows through the full care-plan graph; each node fills its own
// slice of it.
type planState struct {
	req     contractx.CarePlanRequest
	patient contractx.PatientContext
	pack    contractx.EvidencePack
	card    contractx.PlanCard
}

func (s *Service) compileFullGraph(ctx context.Context) (planRunner, error) {
	graph := compose.NewGraph[contractx.CarePlanRequest, contractx.PlanCard]()

	if err := graph.AddLambdaNode("fetch_patient",
		compose.InvokableLambda(func(ctx context.Context, req contractx.CarePlanRequest) (*planState, error) {
			return s.fetchPatient(ctx, req)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node fetch_patient: %w", err)
	}

	if err := graph.AddLambdaNode("gather_evidence",
		compose.InvokableLambda(func(ctx context.Context, st *planState) (*planState, error) {
			return s.gatherEvidence(ctx, st)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node gather_evidence: %w", err)
	}

	if err := graph.AddLambdaNode("draft_plan",
		compose.InvokableLambda(func(ctx context.Context, st *planState) (*planState, error) {
			return s.draftPlan(ctx, st)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node draft_plan: %w", err)
	}

	if err := graph.AddLambdaNode("finalize",
		compose.InvokableLambda(func(ctx context.Context, st *planState) (contractx.PlanCard, error) {
			return s.finalizeCard(ctx, st)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize: %w", err)
	}

	edges := [][2]string{
		{compose.START, "fetch_patient"},
		{"fetch_patient", "gather_evidence"},
		{"gather_evidence", "draft_plan"},
		{"draft_plan", "finalize"},
		{"finalize", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("careplan.full"))
	if err != nil {
		return nil, fmt.Errorf("compile full care-plan graph: %w", err)
	}
	return runner, nil
}

func (s *Service) fetchPatient(ctx context.Context, req contractx.CarePlanRequest) (*planState, error) {
	patient, err := s.patients.Summary(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("patient_id", req.PatientID).
		Int("problems", len(patient.Problems)).
		Msg("patient context fetched")
	return &planState{req: req, patient: patient}, nil
}

// gatherEvidence asks the evidence agent for ranked, graded trials. An
// evidence failure degrades to an empty pack rather than aborting: the plan
// card downstream still has to come out structurally complete.
func (s *Service) gatherEvidence(ctx context.Context, st *planState) (*planState, error) {
	query := s.queryFromPatient(st.patient)

	pack, err := s.evidence.Search(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("evidence search unavailable; drafting plan without evidence pack")
		st.pack = contractx.EvidencePack{
			Patient:  query,
			Trials:   []contractx.TrialMatch{},
			Analyses: []contractx.Analysis{},
			Notes:    "evidence unavailable",
		}
		return st, nil
	}
	st.pack = pack
	return st, nil
}

func (s *Service) draftPlan(ctx context.Context, st *planState) (*planState, error) {
	base, err := s.heuristic.DraftPlan(ctx, st.patient, st.pack, st.req.Question)
	if err != nil {
		return nil, err
	}
	st.card = base

	if s.gen == nil {
		return st, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.planTimeout)
	drafted, err := s.gen.DraftPlan(gctx, st.patient, st.pack, st.req.Question)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("generative plan synthesis unavailable; using heuristic card")
		return st, nil
	}

	st.card = mergePlanCards(drafted, base)
	st.card.ModelUsed = s.genModel
	return st, nil
}

func (s *Service) finalizeCard(_ context.Context, st *planState) (contractx.PlanCard, error) {
	card := ensureComplete(st.card)
	card.GeneratedAt = s.now().UTC()

	log.Info().
		Str("patient_id", st.req.PatientID).
		Int("trial_matches", len(card.TrialMatches)).
		Str("llm_model", card.ModelUsed).
		Msg("plan card assembled")
	return card, nil
}

// queryFromPatient projects a patient snapshot onto an evidence query. The
// primary diagnosis is the first diabetes problem when one exists; everything
// else on the problem list travels as a comorbidity.
func (s *Service) queryFromPatient(patient contractx.PatientContext) contractx.EvidenceQuery {
	diagnosis := diagnosisFromProblems(patient.Problems)

	comorbidities := make([]string, 0, len(patient.Problems))
	for _, problem := range patient.Problems {
		if problem != diagnosis {
			comorbidities = append(comorbidities, problem)
		}
	}

	query := contractx.EvidenceQuery{
		Age:           patient.Demographics.Age,
		Diagnosis:     diagnosis,
		EGFR:          patient.LastEGFR,
		Comorbidities: comorbidities,
	}
	if s.defaultGeo.RadiusKM > 0 {
		geo := s.defaultGeo
		query.Geo = &geo
	}
	return query
}

func diagnosisFromProblems(problems []string) string {
	for _, problem := range problems {
		if strings.Contains(strings.ToLower(problem), "diabetes") {
			return problem
		}
	}
	if len(problems) > 0 {
		return problems[0]
	}
	return "Type 2 diabetes mellitus"
}

// ensureComplete backfills any field the synthesis left empty so that every
// card is safe to render without nil checks.
func ensureComplete(card contractx.PlanCard) contractx.PlanCard {
	if card.Recommendation == "" {
		card.Recommendation = "Continue current therapy; insufficient data for a change."
	}
	if card.Rationale == "" {
		card.Rationale = "Recommendation synthesized from available patient context."
	}
	if card.Alternatives == nil {
		card.Alternatives = []string{}
	}
	if card.SafetyChecks == nil {
		card.SafetyChecks = []string{}
	}
	if card.Orders.Labs == nil {
		card.Orders.Labs = []contractx.LabOrder{}
	}
	if card.Citations == nil {
		card.Citations = []contractx.Citation{}
	}
	if card.TrialMatches == nil {
		card.TrialMatches = []contractx.PlanTrialMatch{}
	}
	return card
}
