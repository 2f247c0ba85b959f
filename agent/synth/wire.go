package synth

import (
	"encoding/json"
	"strconv"
	"strings"

	contractx "github.com/careloop/careloop/agent/contract"
)

// Lenient decode shapes for generative output. Models drift on field names
// and scalar-vs-array choices, so these coerce the common variants instead
// of failing the whole card.

// flexStrings accepts either a JSON string or an array of values.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*f = flexStrings{one}
		return nil
	}
	var many []any
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	out := make(flexStrings, 0, len(many))
	for _, item := range many {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	*f = out
	return nil
}

// flexID accepts a numeric or string trial id.
type flexID struct {
	raw string
	num int
	set bool
}

func (f *flexID) UnmarshalJSON(data []byte) error {
	var num int
	if err := json.Unmarshal(data, &num); err == nil {
		f.num, f.set = num, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.raw, f.set = s, true
	return nil
}

type analysisWire struct {
	TrialID        flexID `json:"trial_id"`
	PICOGrade      string `json:"pico_grade"`
	BenefitSummary string `json:"benefit_summary"`
	RiskSummary    string `json:"risk_summary"`
	OverallSummary string `json:"overall_summary"`
}

func (w analysisWire) matches(trial contractx.TrialMatch) bool {
	if !w.TrialID.set {
		return false
	}
	if w.TrialID.raw != "" {
		return w.TrialID.raw == trial.NCTID || w.TrialID.raw == strconv.Itoa(trial.ID)
	}
	return w.TrialID.num == trial.ID
}

func (w analysisWire) normalize(trial contractx.TrialMatch) contractx.Analysis {
	grade := strings.ToLower(strings.TrimSpace(w.PICOGrade))
	if grade == "" {
		grade = "medium"
	}
	benefit := w.BenefitSummary
	if benefit == "" {
		benefit = "Benefits unclear."
	}
	risk := w.RiskSummary
	if risk == "" {
		risk = "Risks not specified."
	}
	overall := w.OverallSummary
	if overall == "" {
		overall = trial.Title + " relevance not summarised."
	}
	return contractx.Analysis{
		TrialID:        trial.ID,
		TrialTitle:     trial.Title,
		PICOGrade:      grade,
		BenefitSummary: benefit,
		RiskSummary:    risk,
		OverallSummary: overall,
	}
}

type medicationWire struct {
	Name       string `json:"name"`
	Drug       string `json:"drug"`
	Medication string `json:"medication"`
	Dose       string `json:"dose"`
	Strength   string `json:"strength"`
	StartToday *bool  `json:"start_today"`
}

type labWire struct {
	Name      string   `json:"name"`
	Test      string   `json:"test"`
	DueInDays *float64 `json:"due_in_days"`
	Frequency string   `json:"frequency"`
}

type ordersWire struct {
	Medication *medicationWire `json:"medication"`
	Labs       []labWire       `json:"labs"`
}

type citationWire struct {
	Type         string `json:"type"`
	Category     string `json:"category"`
	ID           string `json:"id"`
	Title        string `json:"title"`
	Org          string `json:"org"`
	Organization string `json:"organization"`
	Year         int    `json:"year"`
}

type planTrialMatchWire struct {
	Title      string   `json:"title"`
	NCTID      string   `json:"nct_id"`
	NCTIDAlt   string   `json:"nctId"`
	DistanceKM *float64 `json:"site_distance_km"`
	Status     string   `json:"status"`
	WhyMatch   string   `json:"why_match"`
	Summary    string   `json:"summary"`
}

type planCardWire struct {
	Recommendation     string               `json:"recommendation"`
	Rationale          string               `json:"rationale"`
	Alternatives       flexStrings          `json:"alternatives"`
	SafetyChecks       flexStrings          `json:"safety_checks"`
	Orders             *ordersWire          `json:"orders"`
	Citations          []citationWire       `json:"citations"`
	TrialMatches       []planTrialMatchWire `json:"trial_matches"`
	EvidenceHighlights flexStrings          `json:"evidence_highlights"`
	Notes              string               `json:"notes"`
}

func (w planCardWire) normalize() contractx.PlanCard {
	card := contractx.PlanCard{
		Recommendation:     strings.TrimSpace(w.Recommendation),
		Rationale:          strings.TrimSpace(w.Rationale),
		Alternatives:       w.Alternatives,
		SafetyChecks:       w.SafetyChecks,
		EvidenceHighlights: w.EvidenceHighlights,
		Notes:              strings.TrimSpace(w.Notes),
	}

	if w.Orders != nil {
		if med := w.Orders.Medication; med != nil {
			name := firstNonEmpty(med.Name, med.Drug, med.Medication)
			dose := firstNonEmpty(med.Dose, med.Strength)
			startToday := true
			if med.StartToday != nil {
				startToday = *med.StartToday
			}
			card.Orders.Medication = contractx.MedicationOrder{Name: name, Dose: dose, StartToday: startToday}
		}
		for _, lab := range w.Orders.Labs {
			name := firstNonEmpty(lab.Name, lab.Test)
			due := dueDays(lab)
			if name == "" || due <= 0 {
				continue
			}
			card.Orders.Labs = append(card.Orders.Labs, contractx.LabOrder{Name: name, DueInDays: due})
		}
	}

	for _, cit := range w.Citations {
		kind := firstNonEmpty(cit.Type, cit.Category)
		if kind == "" {
			kind = "Reference"
		}
		card.Citations = append(card.Citations, contractx.Citation{
			Type: kind,
			ID:   firstNonEmpty(cit.ID, cit.Title),
			Org:  firstNonEmpty(cit.Org, cit.Organization),
			Year: cit.Year,
		})
	}

	for _, tm := range w.TrialMatches {
		card.TrialMatches = append(card.TrialMatches, contractx.PlanTrialMatch{
			Title:      tm.Title,
			NCTID:      firstNonEmpty(tm.NCTID, tm.NCTIDAlt),
			DistanceKM: tm.DistanceKM,
			Status:     tm.Status,
			WhyMatch:   firstNonEmpty(tm.WhyMatch, tm.Summary),
		})
	}

	return card
}

// dueDays resolves an explicit due_in_days or coerces a frequency word the
// way clinicians phrase them ("weekly", "monthly", "daily").
func dueDays(lab labWire) int {
	if lab.DueInDays != nil && *lab.DueInDays > 0 {
		return int(*lab.DueInDays)
	}
	freq := strings.ToLower(lab.Frequency)
	switch {
	case strings.Contains(freq, "week"):
		return 7
	case strings.Contains(freq, "month"):
		return 30
	case strings.Contains(freq, "day"):
		return 1
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
