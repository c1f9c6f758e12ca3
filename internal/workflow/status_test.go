package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/docflow/constants"
)

func TestTranslateStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]constants.JobState{
		"QUEUED":      constants.JobStateSubmitted,
		"pending":     constants.JobStateSubmitted,
		"RUNNING":     constants.JobStateRunning,
		"in-progress": constants.JobStateRunning,
		"In Progress": constants.JobStateRunning,
		"PROCESSING":  constants.JobStateRunning,
		"COMPLETED":   constants.JobStateCompleted,
		"succeeded":   constants.JobStateCompleted,
		"DONE":        constants.JobStateCompleted,
		"FAILED":      constants.JobStateFailed,
		"error":       constants.JobStateFailed,
		"CANCELED":    constants.JobStateCancelled,
		"CANCELLED":   constants.JobStateCancelled,
	}
	for raw, want := range cases {
		got, ok := TranslateStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	got, ok := TranslateStatus("WARMING_UP")
	assert.False(t, ok)
	assert.Equal(t, constants.JobStateRunning, got)
}
