package evidence

import (
	"fmt"
	"math"
	"sort"
	"strings"

	contractx "github.com/careloop/careloop/agent/contract"
)

const topTrialCount = 3

const statusRecruiting = "Recruiting"

// scoreTrials turns raw registry trials into suitability-scored matches,
// dropping trials outside the query's geo radius.
func scoreTrials(query contractx.EvidenceQuery, trials []contractx.Trial) []contractx.TrialMatch {
	diagnosis := strings.ToLower(query.Diagnosis)

	matches := make([]contractx.TrialMatch, 0, len(trials))
	for _, trial := range trials {
		if query.Geo != nil && trial.SiteDistanceKM != nil && *trial.SiteDistanceKM > query.Geo.RadiusKM {
			continue
		}

		condition := strings.ToLower(trial.Condition)
		title := strings.ToLower(trial.Title)

		score := 0.0
		if diagnosis != "" && strings.Contains(condition, diagnosis) {
			score += 2.0
		}
		if strings.Contains(condition, "ckd") || strings.Contains(title, "renal") {
			score += 0.8
		}
		if overlapsComorbidity(query.Comorbidities, condition, title) {
			score += 0.4
		}
		if query.EGFR <= 45 && strings.Contains(trial.EligibilitySummary, "eGFR") {
			score += 0.7
		}
		if query.Age >= 60 {
			score += 0.3
		}
		if trial.Status == statusRecruiting {
			score += 0.5
		}

		whyMatch := trial.EligibilitySummary
		if whyMatch == "" {
			whyMatch = fmt.Sprintf("Matches diagnosis %s", query.Diagnosis)
		}

		matches = append(matches, contractx.TrialMatch{
			ID:          trial.ID,
			NCTID:       trial.NCTID,
			Title:       trial.Title,
			Condition:   trial.Condition,
			Phase:       trial.Phase,
			Status:      trial.Status,
			DistanceKM:  trial.SiteDistanceKM,
			Suitability: math.Round(score*100) / 100,
			WhyMatch:    whyMatch,
		})
	}
	return matches
}

func overlapsComorbidity(comorbidities []string, condition, title string) bool {
	for _, comorbidity := range comorbidities {
		for _, word := range strings.Fields(strings.ToLower(comorbidity)) {
			if len(word) < 4 {
				continue
			}
			if strings.Contains(condition, word) || strings.Contains(title, word) {
				return true
			}
		}
	}
	return false
}

// rankTrials orders matches deterministically: suitability, then Recruiting
// before any other status, then ascending distance with unknown distances
// last, then ascending id. The top three survive.
func rankTrials(matches []contractx.TrialMatch) []contractx.TrialMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Suitability != b.Suitability {
			return a.Suitability > b.Suitability
		}
		aRecruiting := a.Status == statusRecruiting
		bRecruiting := b.Status == statusRecruiting
		if aRecruiting != bRecruiting {
			return aRecruiting
		}
		switch {
		case a.DistanceKM != nil && b.DistanceKM != nil && *a.DistanceKM != *b.DistanceKM:
			return *a.DistanceKM < *b.DistanceKM
		case a.DistanceKM == nil && b.DistanceKM != nil:
			return false
		case a.DistanceKM != nil && b.DistanceKM == nil:
			return true
		}
		return a.ID < b.ID
	})

	if len(matches) > topTrialCount {
		matches = matches[:topTrialCount]
	}
	return matches
}
