// Package events announces records that have just reached usable content.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Completion is published once per record when it first settles with content.
type Completion struct {
	RecordKey    string                     `json:"record_key"`
	DocumentID   string                     `json:"document_id"`
	Model        string                     `json:"model"`
	JobID        string                     `json:"job_id"`
	Kind         constants.WorkflowKind     `json:"kind"`
	ContentState constants.ContentState     `json:"content_state"`
	Method       constants.ExtractionMethod `json:"method"`
	CharCount    int                        `json:"char_count"`
	CostUSD      float64                    `json:"cost_usd"`
	Estimated    bool                       `json:"estimated"`
	CompletedAt  time.Time                  `json:"completed_at"`
}

// NewCompletion describes a settled record.
func NewCompletion(rec *entity.JobRecord) Completion {
	c := Completion{
		RecordKey:    rec.Key().String(),
		DocumentID:   rec.DocumentID,
		Model:        rec.Model,
		JobID:        rec.Job.ID,
		Kind:         rec.Job.Kind,
		ContentState: rec.ContentState,
	}
	if rec.Job.CompletedAt != nil {
		c.CompletedAt = *rec.Job.CompletedAt
	}
	if rec.Result != nil {
		c.Method = rec.Result.Method
		c.CharCount = rec.Result.CharCount
	}
	if rec.Usage != nil {
		c.CostUSD = rec.Usage.CostUSD
		c.Estimated = rec.Usage.Estimated
	}
	return c
}

// Publisher delivers completion events. Publishing is best effort: callers log failures
// and never roll back a record because of them.
type Publisher interface {
	Publish(ctx context.Context, c Completion) error
	Close() error
}

// LogPublisher writes events to the log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, c Completion) error {
	p.logger.Info("events.completion",
		"record_key", c.RecordKey,
		"job_id", c.JobID,
		"kind", c.Kind,
		"content_state", c.ContentState,
		"method", c.Method,
		"chars", c.CharCount,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
