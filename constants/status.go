package constants

// JobState is the canonical internal state of a workflow job.
type JobState string

// Stable values (stored as-is in the record store).
const (
	JobStateSubmitted JobState = "SUBMITTED"
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
	JobStateTimedOut  JobState = "TIMED_OUT" // local only; the remote job may still finish
)

// IsTerminal reports whether no further transition is allowed.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// ContentState tracks whether a completed job has usable text attached.
type ContentState string

const (
	ContentPending   ContentState = "pending"
	ContentPopulated ContentState = "populated"
	ContentMissing   ContentState = "missing" // completed-without-content: retry download, never re-generate
	ContentShort     ContentState = "short"   // below threshold but accepted and flagged for review
)

// ExtractionMethod records which tier produced the content.
type ExtractionMethod string

const (
	MethodStructural  ExtractionMethod = "structural"
	MethodVision      ExtractionMethod = "vision"
	MethodRawFallback ExtractionMethod = "raw-fallback"
	MethodDirect      ExtractionMethod = "direct"
)
