package evidence

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
)

type searchRunner = compose.Runnable[contractx.EvidenceQuery, contractx.EvidencePack]

// searchState flows through the graph; each node fills its own slice of it.
type searchState struct {
	query     contractx.EvidenceQuery
	matches   []contractx.TrialMatch
	grades    contractx.TrialGrades
	modelUsed string
}

func (s *Service) compileSearchGraph(ctx context.Context) (searchRunner, error) {
	graph := compose.NewGraph[contractx.EvidenceQuery, contractx.EvidencePack]()

	if err := graph.AddLambdaNode("fetch_trials",
		compose.InvokableLambda(func(ctx context.Context, query contractx.EvidenceQuery) (*searchState, error) {
			return s.fetchTrials(ctx, query)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node fetch_trials: %w", err)
	}

	if err := graph.AddLambdaNode("grade_trials",
		compose.InvokableLambda(func(ctx context.Context, st *searchState) (*searchState, error) {
			return s.gradeTrials(ctx, st)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node grade_trials: %w", err)
	}

	if err := graph.AddLambdaNode("assemble_pack",
		compose.InvokableLambda(func(ctx context.Context, st *searchState) (contractx.EvidencePack, error) {
			return s.assemblePack(ctx, st)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node assemble_pack: %w", err)
	}

	edges := [][2]string{
		{compose.START, "fetch_trials"},
		{"fetch_trials", "grade_trials"},
		{"grade_trials", "assemble_pack"},
		{"assemble_pack", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("evidence.search"))
	if err != nil {
		return nil, fmt.Errorf("compile evidence graph: %w", err)
	}
	return runner, nil
}

func (s *Service) fetchTrials(ctx context.Context, query contractx.EvidenceQuery) (*searchState, error) {
	trials, err := s.trials.ListTrials(ctx)
	if err != nil {
		return nil, err
	}

	matches := rankTrials(scoreTrials(query, trials))
	log.Info().
		Int("fetched", len(trials)).
		Int("ranked", len(matches)).
		Msg("trials scored and ranked")
	return &searchState{query: query, matches: matches}, nil
}

func (s *Service) gradeTrials(ctx context.Context, st *searchState) (*searchState, error) {
	if len(st.matches) == 0 {
		return st, nil
	}

	if s.gen != nil {
		gctx, cancel := context.WithTimeout(ctx, s.gradeTimeout)
		grades, err := s.gen.GradeTrials(gctx, st.query, st.matches)
		cancel()
		if err == nil && len(grades.Analyses) > 0 {
			st.grades = grades
			st.modelUsed = s.genModel
			return st, nil
		}
		log.Warn().Err(err).Msg("generative grading unavailable; using heuristic analyses")
	}

	grades, err := s.heuristic.GradeTrials(ctx, st.query, st.matches)
	if err != nil {
		return nil, err
	}
	st.grades = grades
	return st, nil
}

func (s *Service) assemblePack(_ context.Context, st *searchState) (contractx.EvidencePack, error) {
	pack := contractx.EvidencePack{
		Patient:     st.query,
		Trials:      st.matches,
		Analyses:    st.grades.Analyses,
		ModelUsed:   st.modelUsed,
		GeneratedAt: s.now().UTC(),
		Notes:       st.grades.Notes,
	}
	if pack.Trials == nil {
		pack.Trials = []contractx.TrialMatch{}
	}
	if pack.Analyses == nil {
		pack.Analyses = []contractx.Analysis{}
	}

	log.Info().
		Int("trials", len(pack.Trials)).
		Int("analyses", len(pack.Analyses)).
		Str("llm_model", pack.ModelUsed).
		Msg("evidence pack assembled")
	return pack, nil
}
