package careplan

import (
	"strings"

	contractx "github.com/careloop/careloop/agent/contract"
)

// mergePlanCards overlays a generative draft onto the heuristic base card.
// Non-empty draft fields win; every gap keeps the base value, so the result
// is complete whenever the base is.
func mergePlanCards(draft, base contractx.PlanCard) contractx.PlanCard {
	merged := base

	if draft.Recommendation != "" {
		merged.Recommendation = draft.Recommendation
	}
	if draft.Rationale != "" {
		merged.Rationale = draft.Rationale
	}
	if len(draft.Alternatives) > 0 {
		merged.Alternatives = draft.Alternatives
	}
	if len(draft.SafetyChecks) > 0 {
		merged.SafetyChecks = draft.SafetyChecks
	}

	if draft.Orders.Medication.Name != "" {
		medication := draft.Orders.Medication
		if medication.Dose == "" {
			medication.Dose = base.Orders.Medication.Dose
		}
		merged.Orders.Medication = medication
	}
	if len(draft.Orders.Labs) > 0 {
		merged.Orders.Labs = draft.Orders.Labs
	}

	if len(draft.Citations) > 0 {
		merged.Citations = draft.Citations
	}
	merged.TrialMatches = mergeTrialMatches(draft.TrialMatches, base.TrialMatches)
	if len(draft.EvidenceHighlights) > 0 {
		merged.EvidenceHighlights = draft.EvidenceHighlights
	}
	if draft.Notes != "" {
		merged.Notes = draft.Notes
	}

	return merged
}

// mergeTrialMatches unions the two match lists, deduplicating on NCT id when
// present and on title otherwise. Base matches keep their position; draft
// matches fill gaps and append.
func mergeTrialMatches(draft, base []contractx.PlanTrialMatch) []contractx.PlanTrialMatch {
	if len(draft) == 0 {
		return base
	}
	if len(base) == 0 {
		return draft
	}

	merged := make([]contractx.PlanTrialMatch, 0, len(base)+len(draft))
	used := make([]bool, len(draft))

	for _, existing := range base {
		combined := existing
		for i, candidate := range draft {
			if used[i] || !sameTrial(existing, candidate) {
				continue
			}
			used[i] = true
			if candidate.WhyMatch != "" {
				combined.WhyMatch = candidate.WhyMatch
			}
			if candidate.Status != "" {
				combined.Status = candidate.Status
			}
			if candidate.DistanceKM != nil {
				combined.DistanceKM = candidate.DistanceKM
			}
			break
		}
		merged = append(merged, combined)
	}

	for i, candidate := range draft {
		if !used[i] {
			merged = append(merged, candidate)
		}
	}
	return merged
}

func sameTrial(a, b contractx.PlanTrialMatch) bool {
	if a.NCTID != "" && b.NCTID != "" {
		return strings.EqualFold(a.NCTID, b.NCTID)
	}
	return strings.EqualFold(a.Title, b.Title)
}
