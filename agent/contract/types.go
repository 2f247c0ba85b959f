package contract

import "time"

// Geo restricts trial matching to sites within RadiusKM of a coordinate.
type Geo struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKM float64 `json:"radius_km"`
}

// EvidenceQuery is the inbound shape of an evidence search: the slice of
// patient context the evidence agent needs to match and grade trials.
type EvidenceQuery struct {
	Age           int      `json:"age"`
	Diagnosis     string   `json:"diagnosis"`
	EGFR          float64  `json:"egfr"`
	Comorbidities []string `json:"comorbidities"`
	Geo           *Geo     `json:"geo,omitempty"`
}

type Demographics struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	MRN    string `json:"mrn"`
}

type LabValue struct {
	Name        string    `json:"name"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	CollectedAt time.Time `json:"collected_at"`
}

// PatientContext is a read-only snapshot of a patient record, fetched once
// per request and never cached across requests.
type PatientContext struct {
	Demographics Demographics `json:"demographics"`
	Problems     []string     `json:"problems"`
	Medications  []string     `json:"medications"`
	Labs         []LabValue   `json:"labs,omitempty"`
	LastA1C      float64      `json:"last_a1c"`
	LastEGFR     float64      `json:"last_egfr"`
}

// TrialMatch is one scored trial in an evidence pack. DistanceKM is nil when
// the registry has no site distance for the trial.
type TrialMatch struct {
	ID          int      `json:"id"`
	NCTID       string   `json:"nct_id"`
	Title       string   `json:"title"`
	Condition   string   `json:"condition"`
	Phase       string   `json:"phase"`
	Status      string   `json:"status"`
	DistanceKM  *float64 `json:"site_distance_km,omitempty"`
	Suitability float64  `json:"suitability"`
	WhyMatch    string   `json:"why_match,omitempty"`
}

// Analysis is a PICO-style evidence summary for one trial.
type Analysis struct {
	TrialID        int    `json:"trial_id"`
	TrialTitle     string `json:"trial_title"`
	PICOGrade      string `json:"pico_grade"`
	BenefitSummary string `json:"benefit_summary"`
	RiskSummary    string `json:"risk_summary"`
	OverallSummary string `json:"overall_summary"`
}

// EvidencePack is the terminal output of an evidence search. Immutable once
// built; ModelUsed is empty when grading fell back to heuristics.
type EvidencePack struct {
	Patient     EvidenceQuery `json:"patient"`
	Trials      []TrialMatch  `json:"trials"`
	Analyses    []Analysis    `json:"analyses"`
	ModelUsed   string        `json:"llm_model,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
	Notes       string        `json:"notes,omitempty"`
}

type MedicationOrder struct {
	Name       string `json:"name"`
	Dose       string `json:"dose"`
	StartToday bool   `json:"start_today"`
}

type LabOrder struct {
	Name      string `json:"name"`
	DueInDays int    `json:"due_in_days"`
}

type Orders struct {
	Medication MedicationOrder `json:"medication"`
	Labs       []LabOrder      `json:"labs"`
}

type Citation struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Org  string `json:"org,omitempty"`
	Year int    `json:"year,omitempty"`
}

// PlanTrialMatch is the trimmed trial view carried on a plan card.
type PlanTrialMatch struct {
	Title      string   `json:"title"`
	NCTID      string   `json:"nct_id"`
	DistanceKM *float64 `json:"site_distance_km,omitempty"`
	Status     string   `json:"status"`
	WhyMatch   string   `json:"why_match,omitempty"`
}

// PlanCard is the synthesized recommendation returned to the caller. Every
// exit path of the care-plan orchestrator produces a structurally complete
// card; fallback never yields a partially-populated one.
type PlanCard struct {
	Recommendation     string           `json:"recommendation"`
	Rationale          string           `json:"rationale"`
	Alternatives       []string         `json:"alternatives"`
	SafetyChecks       []string         `json:"safety_checks"`
	Orders             Orders           `json:"orders"`
	Citations          []Citation       `json:"citations"`
	TrialMatches       []PlanTrialMatch `json:"trial_matches"`
	EvidenceHighlights []string         `json:"evidence_highlights,omitempty"`
	ModelUsed          string           `json:"llm_model,omitempty"`
	GeneratedAt        time.Time        `json:"generated_at"`
	Notes              string           `json:"notes,omitempty"`
}

// CarePlanRequest is the inbound recommendation request.
type CarePlanRequest struct {
	UserID    string `json:"user_id"`
	PatientID string `json:"patient_id"`
	Question  string `json:"question"`
}

// Trial is a raw registry record before scoring. The registry is reachable
// through two transports with different field casings; upstream clients
// normalize both into this shape.
type Trial struct {
	ID                 int      `json:"id"`
	NCTID              string   `json:"nct_id"`
	Title              string   `json:"title"`
	Condition          string   `json:"condition"`
	Phase              string   `json:"phase"`
	Status             string   `json:"status"`
	SiteDistanceKM     *float64 `json:"site_distance_km,omitempty"`
	EligibilitySummary string   `json:"eligibility_summary,omitempty"`
}

// TrialCriteria is the filter extracted from a trial-only question.
type TrialCriteria struct {
	Condition string   `json:"condition,omitempty"`
	Status    string   `json:"status,omitempty"`
	RadiusKM  float64  `json:"radius_km,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
}

// TrialGrades is the outcome of a grading pass over ranked trials.
type TrialGrades struct {
	Analyses []Analysis
	Notes    string
}
