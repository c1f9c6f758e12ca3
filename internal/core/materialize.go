package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/cost"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/extract"
	"github.com/joseph-ayodele/docflow/internal/workflow"
)

// Extractor turns artifact bytes into text.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (extract.Outcome, error)
}

// Materializer writes a downloaded artifact into a record: extracted text, content state
// and usage. It never changes the job state.
type Materializer struct {
	extractor Extractor
	pricing   *cost.Estimator
	logger    *slog.Logger
	now       func() time.Time
}

func NewMaterializer(extractor Extractor, pricing *cost.Estimator, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	if pricing == nil {
		pricing = cost.NewEstimator(nil)
	}
	return &Materializer{extractor: extractor, pricing: pricing, logger: logger, now: time.Now}
}

// Apply extracts dl into rec. rep, when set, supplies usage reported by the service.
// On an extraction failure the record is marked missing content and the error is returned;
// the job stays completed so the download can be retried later. Partial low-confidence text,
// if any, is left on the record.
func (m *Materializer) Apply(ctx context.Context, rec *entity.JobRecord, dl workflow.Download, rep *workflow.StatusReport) error {
	outcome, err := m.extractor.Extract(ctx, extract.Input{
		Data:         dl.Data,
		ContentType:  firstNonEmpty(dl.ContentType, dl.Artifact.MimeType),
		ArtifactID:   dl.Artifact.ID,
		ArtifactType: dl.Artifact.Type,
		Filename:     dl.Artifact.Filename,
	})
	if err != nil {
		m.MarkMissing(rec, err)
		// partial structural text, kept for inspection only
		rec.Result = outcome.Result
		m.logger.Warn("materialize.extract_failed",
			"record_key", rec.Key().String(),
			"job_id", rec.Job.ID,
			"artifact_id", dl.Artifact.ID,
			"partial", outcome.Result != nil,
			"error", err,
		)
		return err
	}

	rec.Result = outcome.Result
	rec.ContentState = outcome.State
	rec.Error = ""
	rec.ErrorKind = ""
	rec.Usage = m.usage(rec, outcome, rep)
	rec.UpdatedAt = m.now().UTC()

	m.logger.Info("materialize.ok",
		"record_key", rec.Key().String(),
		"job_id", rec.Job.ID,
		"method", outcome.Result.Method,
		"chars", outcome.Result.CharCount,
		"content_state", outcome.State,
		"estimated_usage", rec.Usage.Estimated,
	)
	return nil
}

// MarkMissing records a failed download or extraction on a completed job.
func (m *Materializer) MarkMissing(rec *entity.JobRecord, err error) {
	rec.Result = nil
	rec.ContentState = constants.ContentMissing
	rec.Error = err.Error()
	rec.ErrorKind = string(common.KindOf(err))
	rec.UpdatedAt = m.now().UTC()
}

func (m *Materializer) usage(rec *entity.JobRecord, outcome extract.Outcome, rep *workflow.StatusReport) *entity.UsageStats {
	var u entity.UsageStats
	switch {
	case rep != nil && rep.Usage != nil:
		u = *rep.Usage
		m.pricing.Fill(rec.Model, &u)
	case rec.Usage != nil && !rec.Usage.Estimated:
		u = *rec.Usage
	default:
		u = m.pricing.EstimateUsage(rec.Model, 0, outcome.Result.CharCount)
	}
	if v := outcome.Vision; v != nil {
		u.InputTokens += v.InputTokens
		u.OutputTokens += v.OutputTokens
		u.TotalTokens += v.InputTokens + v.OutputTokens
		u.CostUSD += m.pricing.Cost(v.Model, v.InputTokens, v.OutputTokens)
	}
	return &u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
