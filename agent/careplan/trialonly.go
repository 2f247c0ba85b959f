package careplan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
)

const trialOnlyMatchLimit = 3

// trialState flows through the trial-only graph. This path never touches the
// patient source or the evidence agent.
type trialState struct {
	req      contractx.CarePlanRequest
	criteria contractx.TrialCriteria
	matches  []contractx.PlanTrialMatch
}

func (s *Service) compileTrialGraph(ctx context.Context) (planRunner, error) {
	graph := compose.NewGraph[contractx.CarePlanRequest, contractx.PlanCard]()

	if err := graph.AddLambdaNode("extract_criteria",
		compose.InvokableLambda(func(ctx context.Context, req contractx.CarePlanRequest) (*trialState, error) {
			return s.extractCriteria(ctx, req)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node extract_criteria: %w", err)
	}

	if err := graph.AddLambdaNode("match_trials",
		compose.InvokableLambda(func(ctx context.Context, st *trialState) (*trialState, error) {
			return s.matchTrials(ctx, st)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node match_trials: %w", err)
	}

	if err := graph.AddLambdaNode("compose_card",
		compose.InvokableLambda(func(ctx context.Context, st *trialState) (contractx.PlanCard, error) {
			return s.composeTrialCard(ctx, st)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node compose_card: %w", err)
	}

	edges := [][2]string{
		{compose.START, "extract_criteria"},
		{"extract_criteria", "match_trials"},
		{"match_trials", "compose_card"},
		{"compose_card", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("careplan.trial_only"))
	if err != nil {
		return nil, fmt.Errorf("compile trial-only graph: %w", err)
	}
	return runner, nil
}

// extractCriteria parses the question into registry filters, preferring the
// generative extractor when one is configured.
func (s *Service) extractCriteria(ctx context.Context, req contractx.CarePlanRequest) (*trialState, error) {
	if s.gen != nil {
		gctx, cancel := context.WithTimeout(ctx, s.planTimeout)
		criteria, err := s.gen.ExtractTrialCriteria(gctx, req.Question)
		cancel()
		if err == nil {
			return &trialState{req: req, criteria: criteria}, nil
		}
		log.Warn().Err(err).Msg("generative criteria extraction unavailable; using heuristic parse")
	}

	criteria, err := s.heuristic.ExtractTrialCriteria(ctx, req.Question)
	if err != nil {
		return nil, err
	}
	return &trialState{req: req, criteria: criteria}, nil
}

func (s *Service) matchTrials(ctx context.Context, st *trialState) (*trialState, error) {
	trials, err := s.trials.ListTrials(ctx)
	if err != nil {
		return nil, err
	}

	matched := filterTrials(trials, st.criteria)
	sortTrialMatches(matched)
	if len(matched) > trialOnlyMatchLimit {
		matched = matched[:trialOnlyMatchLimit]
	}

	st.matches = toPlanMatches(matched, st.criteria)
	log.Info().
		Int("fetched", len(trials)).
		Int("matched", len(st.matches)).
		Str("status", st.criteria.Status).
		Msg("trials matched against question criteria")
	return st, nil
}

func (s *Service) composeTrialCard(_ context.Context, st *trialState) (contractx.PlanCard, error) {
	scope := st.criteria.Condition
	if scope == "" {
		scope = "the requested condition"
	}

	var recommendation string
	if len(st.matches) > 0 {
		recommendation = fmt.Sprintf("Discuss %d candidate %s trial(s) with the patient for enrollment.", len(st.matches), scope)
	} else {
		recommendation = "No registry trial currently matches the requested criteria."
	}

	card := contractx.PlanCard{
		Recommendation: recommendation,
		Rationale:      trialRationale(st.criteria),
		Alternatives: []string{
			"Broaden the search radius or include non-recruiting studies if no trial fits.",
		},
		SafetyChecks: []string{
			"Verify full eligibility criteria with the trial site before referral.",
		},
		Orders: contractx.Orders{
			Medication: contractx.MedicationOrder{Name: "none", Dose: "n/a", StartToday: false},
			Labs:       []contractx.LabOrder{},
		},
		Citations: []contractx.Citation{
			{Type: "Registry", ID: "ClinicalTrials.gov"},
		},
		TrialMatches: st.matches,
		Notes:        "Trial search only; no therapy change evaluated.",
	}

	card = ensureComplete(card)
	card.GeneratedAt = s.now().UTC()
	return card, nil
}

func trialRationale(criteria contractx.TrialCriteria) string {
	parts := []string{"Registry search"}
	if criteria.Condition != "" {
		parts = append(parts, fmt.Sprintf("for %s trials", criteria.Condition))
	}
	if criteria.Status != "" {
		parts = append(parts, fmt.Sprintf("with status %s", criteria.Status))
	}
	if criteria.RadiusKM > 0 {
		parts = append(parts, fmt.Sprintf("within %.0f km", criteria.RadiusKM))
	}
	return strings.Join(parts, " ") + "."
}

// keywordExpansion widens umbrella terms so that, say, a cardiometabolic
// search still matches a registry condition of "Type 2 diabetes mellitus".
var keywordExpansion = map[string][]string{
	"cardiometabolic": {"diabetes", "cardio", "heart", "metabolic", "hypertension"},
	"kidney":          {"kidney", "renal", "ckd"},
	"cardio":          {"cardio", "heart", "hypertension"},
}

func filterTrials(trials []contractx.Trial, criteria contractx.TrialCriteria) []contractx.Trial {
	matched := make([]contractx.Trial, 0, len(trials))
	for _, trial := range trials {
		if criteria.Status != "" && !strings.EqualFold(trial.Status, criteria.Status) {
			continue
		}
		if criteria.RadiusKM > 0 && trial.SiteDistanceKM != nil && *trial.SiteDistanceKM > criteria.RadiusKM {
			continue
		}
		if len(criteria.Keywords) > 0 && !matchesKeywords(trial, criteria.Keywords) {
			continue
		}
		matched = append(matched, trial)
	}
	return matched
}

func matchesKeywords(trial contractx.Trial, keywords []string) bool {
	haystack := strings.ToLower(trial.Condition + " " + trial.Title)
	for _, keyword := range keywords {
		terms, ok := keywordExpansion[keyword]
		if !ok {
			terms = []string{keyword}
		}
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				return true
			}
		}
	}
	return false
}

// sortTrialMatches keeps the trial-only ordering deterministic: recruiting
// first, then nearest site, then lowest id.
func sortTrialMatches(trials []contractx.Trial) {
	sort.SliceStable(trials, func(i, j int) bool {
		left, right := trials[i], trials[j]

		leftRecruiting := strings.EqualFold(left.Status, "Recruiting")
		rightRecruiting := strings.EqualFold(right.Status, "Recruiting")
		if leftRecruiting != rightRecruiting {
			return leftRecruiting
		}

		switch {
		case left.SiteDistanceKM != nil && right.SiteDistanceKM != nil:
			if *left.SiteDistanceKM != *right.SiteDistanceKM {
				return *left.SiteDistanceKM < *right.SiteDistanceKM
			}
		case left.SiteDistanceKM != nil:
			return true
		case right.SiteDistanceKM != nil:
			return false
		}

		return left.ID < right.ID
	})
}

func toPlanMatches(trials []contractx.Trial, criteria contractx.TrialCriteria) []contractx.PlanTrialMatch {
	matches := make([]contractx.PlanTrialMatch, 0, len(trials))
	for _, trial := range trials {
		why := trial.EligibilitySummary
		if why == "" && criteria.Condition != "" {
			why = fmt.Sprintf("Condition matches %s search", criteria.Condition)
		}
		matches = append(matches, contractx.PlanTrialMatch{
			Title:      trial.Title,
			NCTID:      trial.NCTID,
			DistanceKM: trial.SiteDistanceKM,
			Status:     trial.Status,
			WhyMatch:   why,
		})
	}
	return matches
}
