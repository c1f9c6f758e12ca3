package workflow

import (
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// serviceStates is the only place the workflow service's status vocabulary is interpreted.
var serviceStates = map[string]constants.JobState{
	"QUEUED":      constants.JobStateSubmitted,
	"PENDING":     constants.JobStateSubmitted,
	"SUBMITTED":   constants.JobStateSubmitted,
	"CREATED":     constants.JobStateSubmitted,
	"RUNNING":     constants.JobStateRunning,
	"IN_PROGRESS": constants.JobStateRunning,
	"PROCESSING":  constants.JobStateRunning,
	"STARTED":     constants.JobStateRunning,
	"COMPLETED":   constants.JobStateCompleted,
	"COMPLETE":    constants.JobStateCompleted,
	"SUCCEEDED":   constants.JobStateCompleted,
	"SUCCESS":     constants.JobStateCompleted,
	"DONE":        constants.JobStateCompleted,
	"FAILED":      constants.JobStateFailed,
	"ERROR":       constants.JobStateFailed,
	"ERRORED":     constants.JobStateFailed,
	"CANCELLED":   constants.JobStateCancelled,
	"CANCELED":    constants.JobStateCancelled,
}

// TranslateStatus maps a service status onto an internal state. Unknown values map to
// RUNNING with ok=false, so callers keep polling rather than treat them as terminal.
func TranslateStatus(raw string) (state constants.JobState, ok bool) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if s, found := serviceStates[key]; found {
		return s, true
	}
	return constants.JobStateRunning, false
}
