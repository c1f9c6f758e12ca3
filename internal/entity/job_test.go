package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
)

func TestJobTransitionTerminalStatesAreFinal(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, terminal := range []constants.JobState{
		constants.JobStateCompleted,
		constants.JobStateFailed,
		constants.JobStateCancelled,
	} {
		j := Job{State: constants.JobStateRunning}
		require.True(t, j.Transition(terminal, now))
		require.NotNil(t, j.CompletedAt)

		for _, next := range []constants.JobState{
			constants.JobStateSubmitted,
			constants.JobStateRunning,
			constants.JobStateTimedOut,
			constants.JobStateCompleted,
			constants.JobStateFailed,
			constants.JobStateCancelled,
		} {
			if next == terminal {
				assert.True(t, j.Transition(next, now.Add(time.Hour)))
				continue
			}
			assert.False(t, j.Transition(next, now.Add(time.Hour)), "%s -> %s", terminal, next)
			assert.Equal(t, terminal, j.State)
		}
		assert.Equal(t, now, *j.CompletedAt)
	}
}

func TestJobTransitionTimedOutIsRecoverable(t *testing.T) {
	t.Parallel()
	now := time.Now()
	j := Job{State: constants.JobStateSubmitted}

	require.True(t, j.Transition(constants.JobStateRunning, now))
	require.True(t, j.Transition(constants.JobStateTimedOut, now))
	assert.Nil(t, j.CompletedAt)
	require.True(t, j.Transition(constants.JobStateRunning, now))
	require.True(t, j.Transition(constants.JobStateCompleted, now))
	assert.NotNil(t, j.CompletedAt)
}

func TestJobTransitionNeverBackToSubmitted(t *testing.T) {
	t.Parallel()
	j := Job{State: constants.JobStateRunning}
	assert.False(t, j.Transition(constants.JobStateSubmitted, time.Now()))
	assert.Equal(t, constants.JobStateRunning, j.State)

	fresh := Job{}
	assert.True(t, fresh.Transition(constants.JobStateSubmitted, time.Now()))
}

func TestJobRecordCloneIsDeep(t *testing.T) {
	t.Parallel()
	done := time.Now()
	r := &JobRecord{
		DocumentID:   "doc-1",
		Model:        "gpt-4o",
		DocumentRefs: []string{"a"},
		Job:          Job{ID: "j1", State: constants.JobStateCompleted, CompletedAt: &done},
		Result:       &ExtractionResult{Content: "x"},
		Usage:        &UsageStats{InputTokens: 1},
	}
	cp := r.Clone()
	cp.DocumentRefs[0] = "b"
	cp.Result.Content = "y"
	cp.Usage.InputTokens = 2
	*cp.Job.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, "a", r.DocumentRefs[0])
	assert.Equal(t, "x", r.Result.Content)
	assert.Equal(t, 1, r.Usage.InputTokens)
	assert.Equal(t, done, *r.Job.CompletedAt)
	assert.Equal(t, RecordKey{DocumentID: "doc-1", Model: "gpt-4o"}, cp.Key())
}

func TestJobRecordSettled(t *testing.T) {
	t.Parallel()
	r := &JobRecord{Job: Job{State: constants.JobStateCompleted}}
	assert.False(t, r.Settled())

	r.Result = &ExtractionResult{Content: "text"}
	r.ContentState = constants.ContentPopulated
	assert.True(t, r.Settled())

	r.ContentState = constants.ContentMissing
	assert.False(t, r.Settled())

	r.ContentState = constants.ContentShort
	assert.True(t, r.Settled())
}
