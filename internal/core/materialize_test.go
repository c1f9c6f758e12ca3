package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/cost"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/extract"
	"github.com/joseph-ayodele/docflow/internal/workflow"
)

type stubExtractor struct {
	outcome extract.Outcome
	err     error
	got     extract.Input
}

func (s *stubExtractor) Extract(_ context.Context, in extract.Input) (extract.Outcome, error) {
	s.got = in
	return s.outcome, s.err
}

func completedRecord() *entity.JobRecord {
	done := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &entity.JobRecord{
		DocumentID:   "d",
		Model:        "gpt-4o",
		Job:          entity.Job{ID: "job-1", State: constants.JobStateCompleted, CompletedAt: &done},
		ContentState: constants.ContentMissing,
		Error:        "blob expired",
		ErrorKind:    string(common.KindBlobFetch),
	}
}

func TestMaterializerAddsVisionUsageToReportedUsage(t *testing.T) {
	t.Parallel()
	ex := &stubExtractor{outcome: extract.Outcome{
		Result: &entity.ExtractionResult{Content: "transcript", Method: constants.MethodVision, CharCount: 10},
		State:  constants.ContentShort,
		Vision: &extract.Transcription{Text: "transcript", Model: "gpt-4o-mini", InputTokens: 1_000_000, OutputTokens: 1_000_000},
	}}
	m := NewMaterializer(ex, cost.NewEstimator(nil), nil)
	fixed := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	rec := completedRecord()
	dl := workflow.Download{
		JobID:    "job-1",
		Artifact: workflow.Artifact{ID: "a1", Type: constants.ArtifactReport, MimeType: constants.MimePDF, Filename: "s.pdf"},
		Data:     []byte("%PDF-1.4"),
	}
	rep := &workflow.StatusReport{Usage: &entity.UsageStats{InputTokens: 100, OutputTokens: 50, CostUSD: 1}}

	require.NoError(t, m.Apply(context.Background(), rec, dl, rep))
	assert.Equal(t, constants.MimePDF, ex.got.ContentType)
	assert.Equal(t, "s.pdf", ex.got.Filename)
	assert.Equal(t, constants.ContentShort, rec.ContentState)
	assert.Empty(t, rec.Error)
	assert.Empty(t, rec.ErrorKind)
	assert.Equal(t, fixed, rec.UpdatedAt)

	require.NotNil(t, rec.Usage)
	assert.False(t, rec.Usage.Estimated)
	assert.Equal(t, 1_000_100, rec.Usage.InputTokens)
	assert.Equal(t, 2_000_150, rec.Usage.TotalTokens)
	// reported cost kept, vision priced at gpt-4o-mini rates
	assert.InDelta(t, 1+0.15+0.6, rec.Usage.CostUSD, 1e-9)
}

func TestMaterializerEstimatesWhenUsageUnreported(t *testing.T) {
	t.Parallel()
	ex := &stubExtractor{outcome: extract.Outcome{
		Result: &entity.ExtractionResult{Content: "x", Method: constants.MethodStructural, CharCount: 4000},
		State:  constants.ContentPopulated,
	}}
	m := NewMaterializer(ex, nil, nil)
	rec := completedRecord()

	require.NoError(t, m.Apply(context.Background(), rec, workflow.Download{Data: []byte("x"), ContentType: constants.MimeText}, nil))
	require.NotNil(t, rec.Usage)
	assert.True(t, rec.Usage.Estimated)
	assert.Equal(t, 1000, rec.Usage.OutputTokens)
	assert.Equal(t, constants.MimeText, ex.got.ContentType)
}

func TestMaterializerFailureMarksMissing(t *testing.T) {
	t.Parallel()
	ex := &stubExtractor{err: common.NewAppError(common.KindExtraction, "extract", "nothing usable", errors.New("boom"))}
	m := NewMaterializer(ex, nil, nil)
	rec := completedRecord()
	rec.Result = &entity.ExtractionResult{Content: "stale"}

	err := m.Apply(context.Background(), rec, workflow.Download{Data: []byte("x")}, nil)
	require.Error(t, err)
	assert.Nil(t, rec.Result)
	assert.Equal(t, constants.ContentMissing, rec.ContentState)
	assert.Equal(t, string(common.KindExtraction), rec.ErrorKind)
	assert.Equal(t, constants.JobStateCompleted, rec.Job.State)
}

func TestMaterializerKeepsPartialTextOnFailure(t *testing.T) {
	t.Parallel()
	partial := &entity.ExtractionResult{Content: "Exhibit A", Method: constants.MethodStructural, CharCount: 9, LowConfidence: true}
	ex := &stubExtractor{
		outcome: extract.Outcome{Result: partial, State: constants.ContentMissing},
		err:     common.NewAppError(common.KindExtraction, "extract", "vision fallback failed", errors.New("overloaded")),
	}
	m := NewMaterializer(ex, nil, nil)
	rec := completedRecord()

	err := m.Apply(context.Background(), rec, workflow.Download{Data: []byte("x")}, nil)
	require.Error(t, err)
	assert.Same(t, partial, rec.Result)
	assert.Equal(t, constants.ContentMissing, rec.ContentState)
	assert.Equal(t, string(common.KindExtraction), rec.ErrorKind)
	assert.False(t, rec.Settled())
	assert.Nil(t, rec.Usage)
}
