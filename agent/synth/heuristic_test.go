package synth

import (
	"context"
	"math"
	"testing"

	contractx "github.com/careloop/careloop/agent/contract"
)

func TestGradeTrialsThresholds(t *testing.T) {
	t.Parallel()

	query := contractx.EvidenceQuery{Age: 61, Diagnosis: "Type 2 diabetes mellitus", EGFR: 44}
	trials := []contractx.TrialMatch{
		{ID: 1, Title: "High trial", Suitability: 3.1},
		{ID: 2, Title: "Medium trial", Suitability: 1.5},
		{ID: 3, Title: "Low trial", Suitability: 0.4},
	}

	grades, err := Heuristic{}.GradeTrials(context.Background(), query, trials)
	if err != nil {
		t.Fatalf("GradeTrials() error = %v", err)
	}
	if len(grades.Analyses) != 3 {
		t.Fatalf("got %d analyses, want 3", len(grades.Analyses))
	}

	want := []string{"high", "medium", "low"}
	for i, analysis := range grades.Analyses {
		if analysis.PICOGrade != want[i] {
			t.Errorf("analysis %d grade = %q, want %q", i, analysis.PICOGrade, want[i])
		}
		if analysis.BenefitSummary == "" || analysis.RiskSummary == "" || analysis.OverallSummary == "" {
			t.Errorf("analysis %d has empty summaries: %+v", i, analysis)
		}
	}
}

func TestDraftPlanKeyedOnRenalFunction(t *testing.T) {
	t.Parallel()

	pack := contractx.EvidencePack{
		Trials: []contractx.TrialMatch{
			{ID: 1, NCTID: "NCT00000001", Title: "Trial A", Status: "Recruiting"},
		},
		Analyses: []contractx.Analysis{
			{TrialID: 1, OverallSummary: "Trial A shows high relevance."},
		},
	}

	preserved := contractx.PatientContext{LastEGFR: 45.2, LastA1C: 8.2, Medications: []string{"metformin"}}
	card, err := Heuristic{}.DraftPlan(context.Background(), preserved, pack, "add-on therapy?")
	if err != nil {
		t.Fatalf("DraftPlan() error = %v", err)
	}
	if card.Orders.Medication.Name != "empagliflozin" {
		t.Fatalf("eGFR 45.2 should pick empagliflozin, got %q", card.Orders.Medication.Name)
	}
	if len(card.TrialMatches) != 1 || card.TrialMatches[0].NCTID != "NCT00000001" {
		t.Fatalf("trial matches not carried from pack: %+v", card.TrialMatches)
	}
	if len(card.EvidenceHighlights) != 1 {
		t.Fatalf("expected one evidence highlight, got %d", len(card.EvidenceHighlights))
	}

	advanced := contractx.PatientContext{LastEGFR: 24, LastA1C: 9.0}
	card, err = Heuristic{}.DraftPlan(context.Background(), advanced, contractx.EvidencePack{}, "add-on therapy?")
	if err != nil {
		t.Fatalf("DraftPlan() error = %v", err)
	}
	if card.Orders.Medication.Name != "semaglutide" {
		t.Fatalf("eGFR 24 should pick semaglutide, got %q", card.Orders.Medication.Name)
	}
}

func TestExtractTrialCriteria(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		question     string
		wantStatus   string
		wantRadiusKM float64
		wantKeyword  string
	}{
		{
			name:         "recruiting with miles radius",
			question:     "Locate recruiting cardiometabolic trials within 50 miles for Ms. R",
			wantStatus:   "Recruiting",
			wantRadiusKM: 50 * milesToKM,
			wantKeyword:  "cardiometabolic",
		},
		{
			name:         "kilometers radius",
			question:     "Any kidney studies within 30 km?",
			wantStatus:   "",
			wantRadiusKM: 30,
			wantKeyword:  "kidney",
		},
		{
			name:        "no radius",
			question:    "enrolling diabetes trials nearby",
			wantStatus:  "Recruiting",
			wantKeyword: "diabetes",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			criteria, err := Heuristic{}.ExtractTrialCriteria(context.Background(), tc.question)
			if err != nil {
				t.Fatalf("ExtractTrialCriteria() error = %v", err)
			}
			if criteria.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", criteria.Status, tc.wantStatus)
			}
			if math.Abs(criteria.RadiusKM-tc.wantRadiusKM) > 1e-9 {
				t.Errorf("radius = %v, want %v", criteria.RadiusKM, tc.wantRadiusKM)
			}
			found := false
			for _, kw := range criteria.Keywords {
				if kw == tc.wantKeyword {
					found = true
				}
			}
			if !found {
				t.Errorf("keywords %v missing %q", criteria.Keywords, tc.wantKeyword)
			}
		})
	}
}
