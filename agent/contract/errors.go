package contract

import "errors"

var (
	// ErrAuth marks a failed client-credentials exchange with a gateway
	// token endpoint.
	ErrAuth = errors.New("gateway token exchange failed")

	// ErrSynthesis marks a generative step that timed out, errored, or
	// returned empty or malformed output. Orchestrators downgrade to the
	// heuristic branch instead of surfacing it.
	ErrSynthesis = errors.New("generative synthesis failed")

	ErrValidation = errors.New("validation failed")

	// ErrPatientNotFound is returned by patient sources when neither the
	// gateway nor the REST fallback knows the requested id.
	ErrPatientNotFound = errors.New("patient not found")
)
