// Package synth holds the two Synthesizer implementations: a deterministic
// heuristic one and a generative one backed by the chat-completions gateway.
// Orchestrators try the generative path when configured and fall back to the
// heuristic on any failure.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	contractx "github.com/careloop/careloop/agent/contract"
)

const milesToKM = 1.609344

// Heuristic produces deterministic gradings, plan cards, and trial criteria
// without any model call. It never fails.
type Heuristic struct{}

var _ contractx.Synthesizer = Heuristic{}

func (Heuristic) GradeTrials(_ context.Context, query contractx.EvidenceQuery, trials []contractx.TrialMatch) (contractx.TrialGrades, error) {
	analyses := make([]contractx.Analysis, 0, len(trials))
	for _, trial := range trials {
		analyses = append(analyses, gradeOne(query, trial))
	}
	return contractx.TrialGrades{Analyses: analyses}, nil
}

func gradeOne(query contractx.EvidenceQuery, trial contractx.TrialMatch) contractx.Analysis {
	var grade, benefit, risk string
	switch {
	case trial.Suitability >= 2.5:
		grade = "high"
		benefit = "Strong renal and cardiovascular benefit observed in similar cohorts."
		risk = "Monitor renal function, hydration status, and genital mycotic risk."
	case trial.Suitability >= 1.5:
		grade = "medium"
		benefit = "Reasonable evidence for metabolic control with renal safety signals."
		risk = "Assess for GI side effects and titrate alongside current therapy."
	default:
		grade = "low"
		benefit = "Limited directly applicable data; consider within shared decision making."
		risk = "Eligibility uncertain; requires further screening."
	}

	return contractx.Analysis{
		TrialID:        trial.ID,
		TrialTitle:     trial.Title,
		PICOGrade:      grade,
		BenefitSummary: benefit,
		RiskSummary:    risk,
		OverallSummary: fmt.Sprintf(
			"%s (%s) targets %s in %s and shows %s relevance for a %d y/o with eGFR %.1f.",
			trial.Title, trial.NCTID, trial.Condition, trial.Phase, grade, query.Age, query.EGFR,
		),
	}
}

// DraftPlan builds the fixed add-on therapy card. The first-line choice is
// keyed on renal function: SGLT2 inhibitors down to eGFR 30, GLP-1 RA below.
func (Heuristic) DraftPlan(_ context.Context, patient contractx.PatientContext, pack contractx.EvidencePack, _ string) (contractx.PlanCard, error) {
	meds := strings.Join(patient.Medications, ", ")
	if meds == "" {
		meds = "no current medications"
	}

	var card contractx.PlanCard
	if patient.LastEGFR >= 30 {
		card = contractx.PlanCard{
			Recommendation: "Start SGLT2 inhibitor (empagliflozin 10 mg daily).",
			Rationale: fmt.Sprintf(
				"CKD stage 3 (eGFR %.1f), A1c %.1f on %s. Empagliflozin provides renal protection and CV benefit in similar cohorts.",
				patient.LastEGFR, patient.LastA1C, meds,
			),
			Alternatives: []string{
				"GLP-1 RA if weight reduction is prioritized or SGLT2 is contraindicated.",
			},
			SafetyChecks: []string{
				"Hold if eGFR <30 or acute illness; monitor for volume depletion.",
				"Repeat BMP in 2 weeks.",
			},
			Orders: contractx.Orders{
				Medication: contractx.MedicationOrder{Name: "empagliflozin", Dose: "10 mg qday", StartToday: true},
				Labs: []contractx.LabOrder{
					{Name: "BMP", DueInDays: 14},
					{Name: "A1c", DueInDays: 90},
				},
			},
			Citations: []contractx.Citation{
				{Type: "RCT", ID: "EMPA-REG", Year: 2015},
				{Type: "Guideline", Org: "KDIGO", Year: 2022},
			},
		}
	} else {
		card = contractx.PlanCard{
			Recommendation: "Start GLP-1 receptor agonist (semaglutide 0.25 mg weekly, titrate).",
			Rationale: fmt.Sprintf(
				"Advanced CKD (eGFR %.1f) limits SGLT2 initiation; A1c %.1f on %s. GLP-1 RA retains glycemic efficacy at low eGFR.",
				patient.LastEGFR, patient.LastA1C, meds,
			),
			Alternatives: []string{
				"DPP-4 inhibitor (renally dosed) if GLP-1 RA is not tolerated.",
			},
			SafetyChecks: []string{
				"Counsel on GI side effects; titrate every 4 weeks.",
				"Avoid SGLT2 initiation while eGFR <30.",
				"Repeat BMP in 2 weeks.",
			},
			Orders: contractx.Orders{
				Medication: contractx.MedicationOrder{Name: "semaglutide", Dose: "0.25 mg weekly", StartToday: true},
				Labs: []contractx.LabOrder{
					{Name: "BMP", DueInDays: 14},
					{Name: "A1c", DueInDays: 90},
				},
			},
			Citations: []contractx.Citation{
				{Type: "RCT", ID: "LEADER", Year: 2016},
				{Type: "Guideline", Org: "KDIGO", Year: 2022},
			},
		}
	}

	card.TrialMatches = planMatchesFromPack(pack, 2)
	for _, analysis := range pack.Analyses {
		if len(card.EvidenceHighlights) == 2 {
			break
		}
		card.EvidenceHighlights = append(card.EvidenceHighlights, analysis.OverallSummary)
	}
	return card, nil
}

func planMatchesFromPack(pack contractx.EvidencePack, limit int) []contractx.PlanTrialMatch {
	matches := make([]contractx.PlanTrialMatch, 0, limit)
	for _, trial := range pack.Trials {
		if len(matches) == limit {
			break
		}
		matches = append(matches, contractx.PlanTrialMatch{
			Title:      trial.Title,
			NCTID:      trial.NCTID,
			DistanceKM: trial.DistanceKM,
			Status:     trial.Status,
			WhyMatch:   trial.WhyMatch,
		})
	}
	return matches
}

var radiusPattern = regexp.MustCompile(`within\s+(\d+(?:\.\d+)?)\s*(miles?|mi|kilometers?|km)`)

// conditionVocab maps question keywords to registry condition terms.
var conditionVocab = []struct{ keyword, condition string }{
	{"cardiometabolic", "cardiometabolic"},
	{"diabetes", "diabetes"},
	{"t2d", "diabetes"},
	{"ckd", "kidney"},
	{"kidney", "kidney"},
	{"renal", "kidney"},
	{"hypertension", "hypertension"},
	{"cardio", "cardio"},
	{"heart", "cardio"},
}

// ExtractTrialCriteria parses status, radius, and condition keywords out of
// the question text.
func (Heuristic) ExtractTrialCriteria(_ context.Context, question string) (contractx.TrialCriteria, error) {
	lowered := strings.ToLower(question)
	criteria := contractx.TrialCriteria{}

	if strings.Contains(lowered, "recruiting") || strings.Contains(lowered, "enroll") {
		criteria.Status = "Recruiting"
	}

	if m := radiusPattern.FindStringSubmatch(lowered); m != nil {
		value, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			if strings.HasPrefix(m[2], "mi") {
				value *= milesToKM
			}
			criteria.RadiusKM = value
		}
	}

	seen := map[string]bool{}
	for _, entry := range conditionVocab {
		if strings.Contains(lowered, entry.keyword) && !seen[entry.condition] {
			seen[entry.condition] = true
			criteria.Keywords = append(criteria.Keywords, entry.condition)
			if criteria.Condition == "" {
				criteria.Condition = entry.condition
			}
		}
	}
	return criteria, nil
}
