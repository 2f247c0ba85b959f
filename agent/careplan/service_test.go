package careplan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/careloop/careloop/agent/contract"
)

type fakePatientSource struct {
	patient contractx.PatientContext
	err     error
	calls   int
}

func (f *fakePatientSource) Summary(ctx context.Context, patientID string) (contractx.PatientContext, error) {
	f.calls++
	if f.err != nil {
		return contractx.PatientContext{}, f.err
	}
	return f.patient, nil
}

type fakeTrialSource struct {
	trials []contractx.Trial
	err    error
	calls  int
}

func (f *fakeTrialSource) ListTrials(ctx context.Context) ([]contractx.Trial, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.trials, nil
}

type fakeEvidenceService struct {
	pack  contractx.EvidencePack
	err   error
	calls int
}

func (f *fakeEvidenceService) Search(ctx context.Context, query contractx.EvidenceQuery) (contractx.EvidencePack, error) {
	f.calls++
	if f.err != nil {
		return contractx.EvidencePack{}, f.err
	}
	return f.pack, nil
}

type fakeSynthesizer struct {
	card     contractx.PlanCard
	criteria contractx.TrialCriteria
	err      error

	planCalls     int
	criteriaCalls int
}

func (f *fakeSynthesizer) GradeTrials(ctx context.Context, query contractx.EvidenceQuery, trials []contractx.TrialMatch) (contractx.TrialGrades, error) {
	return contractx.TrialGrades{}, errors.New("not used")
}

func (f *fakeSynthesizer) DraftPlan(ctx context.Context, patient contractx.PatientContext, pack contractx.EvidencePack, question string) (contractx.PlanCard, error) {
	f.planCalls++
	if f.err != nil {
		return contractx.PlanCard{}, f.err
	}
	return f.card, nil
}

func (f *fakeSynthesizer) ExtractTrialCriteria(ctx context.Context, question string) (contractx.TrialCriteria, error) {
	f.criteriaCalls++
	if f.err != nil {
		return contractx.TrialCriteria{}, f.err
	}
	return f.criteria, nil
}

func km(v float64) *float64 { return &v }

func patient12873() contractx.PatientContext {
	return contractx.PatientContext{
		Demographics: contractx.Demographics{Name: "John D", Age: 61, Gender: "M", MRN: "12873"},
		Problems:     []string{"Type 2 diabetes mellitus", "CKD stage 3", "Hypertension"},
		Medications:  []string{"metformin"},
		LastA1C:      8.2,
		LastEGFR:     45.2,
	}
}

func evidencePack() contractx.EvidencePack {
	return contractx.EvidencePack{
		Trials: []contractx.TrialMatch{
			{ID: 2, NCTID: "NCT00000002", Title: "Near recruiting trial", Status: "Recruiting", DistanceKM: km(4), Suitability: 3.5},
			{ID: 1, NCTID: "NCT00000001", Title: "Completed trial", Status: "Completed", DistanceKM: km(2), Suitability: 3.1},
		},
		Analyses: []contractx.Analysis{
			{TrialID: 2, OverallSummary: "Near recruiting trial shows high relevance."},
		},
	}
}

func registryTrials() []contractx.Trial {
	return []contractx.Trial{
		{ID: 1, NCTID: "NCT00000001", Title: "SGLT2 in T2D", Condition: "Type 2 diabetes mellitus", Status: "Recruiting", SiteDistanceKM: km(18)},
		{ID: 2, NCTID: "NCT00000002", Title: "Hypertension control", Condition: "Hypertension", Status: "Recruiting", SiteDistanceKM: km(9)},
		{ID: 3, NCTID: "NCT00000003", Title: "Oncology study", Condition: "Breast cancer", Status: "Recruiting", SiteDistanceKM: km(5)},
		{ID: 4, NCTID: "NCT00000004", Title: "CKD progression", Condition: "Chronic kidney disease", Status: "Completed", SiteDistanceKM: km(3)},
		{ID: 5, NCTID: "NCT00000005", Title: "Remote diabetes trial", Condition: "Type 2 diabetes mellitus", Status: "Recruiting", SiteDistanceKM: km(500)},
	}
}

func newService(t *testing.T, patients *fakePatientSource, trials *fakeTrialSource, evidence *fakeEvidenceService, opts ...Option) *Service {
	t.Helper()
	svc, err := New(patients, trials, evidence, Config{
		DefaultGeo: contractx.Geo{Lat: 35.15, Lon: -90.05, RadiusKM: 25},
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc
}

func TestClassifyIntent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		question string
		want     Intent
	}{
		{"Add-on to metformin for T2D with CKD stage 3; show supporting evidence and local recruiting trials.", IntentFullCarePlan},
		{"Locate recruiting cardiometabolic trials within 50 miles for Ms. R", IntentTrialOnly},
		{"Any NCT studies enrolling nearby?", IntentTrialOnly},
		{"What should we start for this A1c?", IntentFullCarePlan},
		{"Best add-on therapy given these trials?", IntentFullCarePlan},
	}
	for _, tc := range cases {
		if got := ClassifyIntent(tc.question); got != tc.want {
			t.Errorf("ClassifyIntent(%q) = %s, want %s", tc.question, got, tc.want)
		}
	}
}

func TestRecommendValidation(t *testing.T) {
	t.Parallel()

	svc := newService(t, &fakePatientSource{}, &fakeTrialSource{}, &fakeEvidenceService{})

	cases := []contractx.CarePlanRequest{
		{UserID: "u1", Question: "add-on therapy?"},
		{UserID: "u1", PatientID: "12873"},
		{UserID: "u1", PatientID: "  ", Question: "  "},
	}
	for _, req := range cases {
		if _, err := svc.Recommend(context.Background(), req); !errors.Is(err, contractx.ErrValidation) {
			t.Errorf("request %+v: expected ErrValidation, got %v", req, err)
		}
	}
}

func TestRecommendFullCarePlanPath(t *testing.T) {
	t.Parallel()

	patients := &fakePatientSource{patient: patient12873()}
	trials := &fakeTrialSource{}
	evidence := &fakeEvidenceService{pack: evidencePack()}
	svc := newService(t, patients, trials, evidence)

	card, err := svc.Recommend(context.Background(), contractx.CarePlanRequest{
		UserID:    "dr-lee",
		PatientID: "12873",
		Question:  "Add-on to metformin for T2D with CKD stage 3; show supporting evidence and local recruiting trials.",
	})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}

	if patients.calls != 1 {
		t.Fatalf("patient source called %d times, want 1", patients.calls)
	}
	if evidence.calls != 1 {
		t.Fatalf("evidence service called %d times, want 1", evidence.calls)
	}
	if trials.calls != 0 {
		t.Fatalf("registry must not be hit on the full path, got %d calls", trials.calls)
	}

	// eGFR 45.2 keys the SGLT2 recommendation.
	if card.Orders.Medication.Name != "empagliflozin" {
		t.Fatalf("medication = %q, want empagliflozin", card.Orders.Medication.Name)
	}
	if len(card.TrialMatches) == 0 {
		t.Fatal("expected at least one trial match")
	}
	if card.TrialMatches[0].Status != "Recruiting" {
		t.Fatalf("first trial match status = %q, want Recruiting", card.TrialMatches[0].Status)
	}
	if card.ModelUsed != "" {
		t.Fatalf("heuristic card must not claim a model, got %q", card.ModelUsed)
	}
	if card.GeneratedAt.IsZero() {
		t.Fatal("generated_at not set")
	}
}

func TestRecommendTrialOnlySkipsEvidence(t *testing.T) {
	t.Parallel()

	patients := &fakePatientSource{patient: patient12873()}
	trials := &fakeTrialSource{trials: registryTrials()}
	evidence := &fakeEvidenceService{pack: evidencePack()}
	svc := newService(t, patients, trials, evidence)

	card, err := svc.Recommend(context.Background(), contractx.CarePlanRequest{
		UserID:    "dr-lee",
		PatientID: "12873",
		Question:  "Locate recruiting cardiometabolic trials within 50 miles for Ms. R",
	})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}

	if evidence.calls != 0 {
		t.Fatalf("evidence service must not be called on the trial-only path, got %d", evidence.calls)
	}
	if patients.calls != 0 {
		t.Fatalf("patient source must not be called on the trial-only path, got %d", patients.calls)
	}
	if trials.calls != 1 {
		t.Fatalf("registry called %d times, want 1", trials.calls)
	}

	// 50 miles ≈ 80.5 km keeps trials 1 and 2; the oncology study fails the
	// cardiometabolic keyword, the CKD one is not recruiting, the remote one
	// is out of range.
	if len(card.TrialMatches) != 2 {
		t.Fatalf("got %d trial matches, want 2: %+v", len(card.TrialMatches), card.TrialMatches)
	}
	if card.TrialMatches[0].NCTID != "NCT00000002" {
		t.Fatalf("nearest recruiting trial should lead, got %q", card.TrialMatches[0].NCTID)
	}

	// Structural completeness without a therapy change.
	if card.Recommendation == "" || card.Rationale == "" {
		t.Fatalf("incomplete card: %+v", card)
	}
	if card.Orders.Medication.Name != "none" {
		t.Fatalf("trial-only card must not order a medication, got %q", card.Orders.Medication.Name)
	}
	if card.SafetyChecks == nil || card.Citations == nil {
		t.Fatal("trial-only card must carry non-nil slice fields")
	}
}

func TestRecommendGenerativeMerge(t *testing.T) {
	t.Parallel()

	gen := &fakeSynthesizer{card: contractx.PlanCard{
		Recommendation: "Start empagliflozin 10 mg daily alongside metformin.",
		Rationale:      "Model rationale.",
	}}
	svc := newService(t,
		&fakePatientSource{patient: patient12873()},
		&fakeTrialSource{},
		&fakeEvidenceService{pack: evidencePack()},
		WithGenerative(gen, "gpt-4o-mini"),
	)

	card, err := svc.Recommend(context.Background(), contractx.CarePlanRequest{
		UserID:    "dr-lee",
		PatientID: "12873",
		Question:  "Add-on to metformin for T2D; show supporting evidence and trials.",
	})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if gen.planCalls != 1 {
		t.Fatalf("generative drafter called %d times, want 1", gen.planCalls)
	}
	if card.Recommendation != "Start empagliflozin 10 mg daily alongside metformin." {
		t.Fatalf("generative recommendation not applied: %q", card.Recommendation)
	}
	// Fields the model left empty keep the heuristic values.
	if len(card.SafetyChecks) == 0 || card.Orders.Medication.Name == "" {
		t.Fatalf("heuristic backfill missing: %+v", card)
	}
	if card.ModelUsed != "gpt-4o-mini" {
		t.Fatalf("llm_model = %q, want gpt-4o-mini", card.ModelUsed)
	}
}

func TestRecommendGenerativeFailureFallsBack(t *testing.T) {
	t.Parallel()

	gen := &fakeSynthesizer{err: errors.New("backend timeout")}
	svc := newService(t,
		&fakePatientSource{patient: patient12873()},
		&fakeTrialSource{},
		&fakeEvidenceService{pack: evidencePack()},
		WithGenerative(gen, "gpt-4o-mini"),
	)

	card, err := svc.Recommend(context.Background(), contractx.CarePlanRequest{
		UserID:    "dr-lee",
		PatientID: "12873",
		Question:  "Add-on to metformin for T2D; show supporting evidence and trials.",
	})
	if err != nil {
		t.Fatalf("generative failure must not surface, got %v", err)
	}
	if card.Recommendation == "" || len(card.SafetyChecks) == 0 || len(card.Citations) == 0 {
		t.Fatalf("fallback card incomplete: %+v", card)
	}
	if card.ModelUsed != "" {
		t.Fatalf("fallback card must not claim a model, got %q", card.ModelUsed)
	}
}

func TestRecommendEvidenceFailureStillProducesCard(t *testing.T) {
	t.Parallel()

	evidence := &fakeEvidenceService{err: errors.New("evidence agent down")}
	svc := newService(t, &fakePatientSource{patient: patient12873()}, &fakeTrialSource{}, evidence)

	card, err := svc.Recommend(context.Background(), contractx.CarePlanRequest{
		UserID:    "dr-lee",
		PatientID: "12873",
		Question:  "Add-on to metformin for T2D?",
	})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if card.Recommendation == "" {
		t.Fatal("expected a complete card despite evidence outage")
	}
	if len(card.TrialMatches) != 0 {
		t.Fatalf("no evidence means no trial matches, got %d", len(card.TrialMatches))
	}
}

func TestRecommendPatientFetchFailureSurfaces(t *testing.T) {
	t.Parallel()

	svc := newService(t, &fakePatientSource{err: errors.New("both upstream paths failed")}, &fakeTrialSource{}, &fakeEvidenceService{})

	_, err := svc.Recommend(context.Background(), contractx.CarePlanRequest{
		UserID:    "dr-lee",
		PatientID: "12873",
		Question:  "Add-on to metformin for T2D?",
	})
	if err == nil || !strings.Contains(err.Error(), "both upstream paths failed") {
		t.Fatalf("expected patient fetch error to surface, got %v", err)
	}
}

func TestQueryFromPatientPrefersDiabetesDiagnosis(t *testing.T) {
	t.Parallel()

	svc := newService(t, &fakePatientSource{}, &fakeTrialSource{}, &fakeEvidenceService{})

	patient := contractx.PatientContext{
		Demographics: contractx.Demographics{Age: 61},
		Problems:     []string{"Hypertension", "Type 2 diabetes mellitus", "CKD stage 3"},
		LastEGFR:     45.2,
	}
	query := svc.queryFromPatient(patient)

	if query.Diagnosis != "Type 2 diabetes mellitus" {
		t.Fatalf("diagnosis = %q, want the diabetes problem", query.Diagnosis)
	}
	if len(query.Comorbidities) != 2 {
		t.Fatalf("comorbidities = %v, want the two remaining problems", query.Comorbidities)
	}
	if query.Geo == nil || query.Geo.RadiusKM != 25 {
		t.Fatalf("default geo not applied: %+v", query.Geo)
	}
	if query.EGFR != 45.2 || query.Age != 61 {
		t.Fatalf("patient values not projected: %+v", query)
	}
}

func TestRecommendClockDeterminism(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newService(t,
		&fakePatientSource{patient: patient12873()},
		&fakeTrialSource{},
		&fakeEvidenceService{pack: evidencePack()},
		WithClock(func() time.Time { return fixed }),
	)

	card, err := svc.Recommend(context.Background(), contractx.CarePlanRequest{
		UserID:    "dr-lee",
		PatientID: "12873",
		Question:  "Add-on to metformin for T2D?",
	})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if !card.GeneratedAt.Equal(fixed) {
		t.Fatalf("generated_at = %v, want %v", card.GeneratedAt, fixed)
	}
}
