package gateway

import (
	"fmt"

	contractx "github.com/careloop/careloop/agent/contract"
)

// Tool names the remote operations the agents are allowed to invoke. The set
// is closed: anything else fails fast with a validation error before a
// request is built.
type Tool string

const (
	ToolPatientSummary Tool = "getPatientsIdSummary"
	ToolPatientLabs    Tool = "getPatientsIdLabs"
	ToolListTrials     Tool = "getTrials"
	ToolGetTrial       Tool = "getTrialsId"
)

// requiredArgs maps each tool to the argument keys it cannot be called
// without.
var requiredArgs = map[Tool][]string{
	ToolPatientSummary: {"id"},
	ToolPatientLabs:    {"id"},
	ToolListTrials:     {},
	ToolGetTrial:       {"id"},
}

func (t Tool) known() bool {
	_, ok := requiredArgs[t]
	return ok
}

func (t Tool) validateArgs(args map[string]any) error {
	if !t.known() {
		return fmt.Errorf("%w: unknown tool %q", contractx.ErrValidation, string(t))
	}
	for _, key := range requiredArgs[t] {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%w: tool %q requires argument %q", contractx.ErrValidation, string(t), key)
		}
	}
	return nil
}
