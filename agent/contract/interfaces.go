package contract

import "context"

// PatientSource yields read-only patient snapshots.
type PatientSource interface {
	Summary(ctx context.Context, patientID string) (PatientContext, error)
}

// TrialSource lists registry trials, already normalized across transports.
type TrialSource interface {
	ListTrials(ctx context.Context) ([]Trial, error)
}

// EvidenceService assembles an evidence pack for a query. Implemented
// in-process by the evidence orchestrator and over REST by the care-plan
// agent's client for it.
type EvidenceService interface {
	Search(ctx context.Context, query EvidenceQuery) (EvidencePack, error)
}

// Synthesizer is the single capability behind every generative-vs-heuristic
// branch. Two implementations exist: a generative one backed by a
// chat-completions gateway and a deterministic heuristic one. Orchestrators
// call the configured generative synthesizer first, if any, and fall back to
// the heuristic on any error.
type Synthesizer interface {
	GradeTrials(ctx context.Context, query EvidenceQuery, trials []TrialMatch) (TrialGrades, error)
	DraftPlan(ctx context.Context, patient PatientContext, pack EvidencePack, question string) (PlanCard, error)
	ExtractTrialCriteria(ctx context.Context, question string) (TrialCriteria, error)
}
