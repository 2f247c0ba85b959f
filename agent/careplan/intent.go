package careplan

import "strings"

// Intent routes a question to one of the two orchestration paths.
type Intent string

const (
	IntentFullCarePlan Intent = "full_care_plan"
	IntentTrialOnly    Intent = "trial_only"
)

var trialKeywords = []string{
	"trial", "trials", "study", "studies", "enroll", "enrolment", "enrollment", "recruiting", "nct",
}

var managementKeywords = []string{
	"add-on", "add on", "therapy", "treatment", "manage", "management",
	"medication", "dose", "titrate", "evidence", "plan", "recommend",
	"start", "switch", "prescribe",
}

// ClassifyIntent is a pure function of the question text: research keywords
// without any management keyword mean the caller only wants trials.
func ClassifyIntent(question string) Intent {
	lowered := strings.ToLower(question)

	hasTrial := containsAny(lowered, trialKeywords)
	hasManagement := containsAny(lowered, managementKeywords)

	if hasTrial && !hasManagement {
		return IntentTrialOnly
	}
	return IntentFullCarePlan
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
