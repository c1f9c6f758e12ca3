package entity

import (
	"time"

	"github.com/joseph-ayodele/docflow/constants"
)

// Job is a single submission to the workflow service.
type Job struct {
	ID           string                 `json:"id,omitempty"`
	Kind         constants.WorkflowKind `json:"kind"`
	Model        string                 `json:"model,omitempty"`
	State        constants.JobState     `json:"state"`
	CreatedAt    time.Time              `json:"created_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	ServiceError string                 `json:"service_error,omitempty"`
}

// Transition moves the job to next and reports whether the move was allowed.
// Completed, failed and cancelled jobs never change state again; re-applying the
// current state is allowed and is a no-op. CompletedAt is stamped only when the job
// first reaches a terminal state.
func (j *Job) Transition(next constants.JobState, at time.Time) bool {
	if next == j.State {
		return true
	}
	if j.State.IsTerminal() {
		return false
	}
	if next == constants.JobStateSubmitted && j.State != "" {
		return false
	}
	j.State = next
	if next.IsTerminal() && j.CompletedAt == nil {
		t := at.UTC()
		j.CompletedAt = &t
	}
	return true
}

// ExtractionResult is the text obtained from a downloaded artifact.
type ExtractionResult struct {
	Content       string                     `json:"content"`
	Method        constants.ExtractionMethod `json:"method"`
	SizeBytes     int                        `json:"size_bytes"`
	CharCount     int                        `json:"char_count"`
	LowConfidence bool                       `json:"low_confidence,omitempty"`
	ArtifactID    string                     `json:"artifact_id,omitempty"`
	ArtifactType  string                     `json:"artifact_type,omitempty"`
}

// UsageStats is token usage and cost for one job. Estimated marks figures derived
// from character counts rather than reported by the service.
type UsageStats struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMs   int64   `json:"duration_ms"`
	Estimated    bool    `json:"estimated"`
}

// RecordKey identifies a record: one job per (document, model).
type RecordKey struct {
	DocumentID string
	Model      string
}

func (k RecordKey) String() string {
	return k.DocumentID + "/" + k.Model
}

// JobRecord is the persisted state of one (document, model) job.
// A nil Result means the content has not been extracted yet.
type JobRecord struct {
	DocumentID   string                 `json:"document_id"`
	Model        string                 `json:"model"`
	Name         string                 `json:"name,omitempty"`
	DocumentRefs []string               `json:"document_refs,omitempty"`
	Job          Job                    `json:"job"`
	Result       *ExtractionResult      `json:"result,omitempty"`
	Usage        *UsageStats            `json:"usage,omitempty"`
	ContentState constants.ContentState `json:"content_state,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

func (r *JobRecord) Key() RecordKey {
	return RecordKey{DocumentID: r.DocumentID, Model: r.Model}
}

// Settled reports whether the record is completed and carries accepted content.
func (r *JobRecord) Settled() bool {
	if r.Job.State != constants.JobStateCompleted || r.Result == nil {
		return false
	}
	return r.ContentState == constants.ContentPopulated || r.ContentState == constants.ContentShort
}

// Clone returns a deep copy.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.DocumentRefs != nil {
		cp.DocumentRefs = append([]string(nil), r.DocumentRefs...)
	}
	if r.Job.CompletedAt != nil {
		t := *r.Job.CompletedAt
		cp.Job.CompletedAt = &t
	}
	if r.Result != nil {
		res := *r.Result
		cp.Result = &res
	}
	if r.Usage != nil {
		u := *r.Usage
		cp.Usage = &u
	}
	return &cp
}
