package events

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

func TestNewCompletion(t *testing.T) {
	t.Parallel()
	done := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	rec := &entity.JobRecord{
		DocumentID:   "depo-7",
		Model:        "gpt-4o",
		Job:          entity.Job{ID: "job-9", Kind: constants.DepositionSummary, State: constants.JobStateCompleted, CompletedAt: &done},
		Result:       &entity.ExtractionResult{Method: constants.MethodVision, CharCount: 1234},
		Usage:        &entity.UsageStats{CostUSD: 0.12, Estimated: true},
		ContentState: constants.ContentPopulated,
	}

	c := NewCompletion(rec)
	assert.Equal(t, "depo-7/gpt-4o", c.RecordKey)
	assert.Equal(t, "job-9", c.JobID)
	assert.Equal(t, constants.DepositionSummary, c.Kind)
	assert.Equal(t, constants.MethodVision, c.Method)
	assert.Equal(t, 1234, c.CharCount)
	assert.True(t, c.Estimated)
	assert.Equal(t, done, c.CompletedAt)
}

func TestNewPublisherDefaultsToLog(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	pub, err := NewPublisher(common.EventsConfig{Queue: "q"}, logger)
	require.NoError(t, err)
	require.IsType(t, &LogPublisher{}, pub)

	require.NoError(t, pub.Publish(context.Background(), Completion{RecordKey: "d/m", JobID: "j"}))
	assert.Contains(t, buf.String(), "events.completion")
	assert.Contains(t, buf.String(), "record_key=d/m")
	assert.NoError(t, pub.Close())
}
