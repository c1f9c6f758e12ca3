package common

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures so callers (poller, sweep) can decide mechanically what to do next.
type Kind string

const (
	KindSubmission    Kind = "SUBMISSION"
	KindTransport     Kind = "TRANSPORT"
	KindNonJSON       Kind = "NON_JSON_RESPONSE"
	KindNotFound      Kind = "NOT_FOUND"
	KindNoArtifact    Kind = "NO_ARTIFACT"
	KindNoDownloadURL Kind = "NO_DOWNLOAD_URL"
	KindBlobFetch     Kind = "BLOB_FETCH"
	KindExtraction    Kind = "EXTRACTION"
	KindTimeout       Kind = "TIMEOUT"
	KindCancelled     Kind = "CANCELLED"
	KindConfig        Kind = "CONFIG"
)

// AppError represents application-specific errors
type AppError struct {
	Kind       Kind
	Op         string
	JobID      string
	StatusCode int
	Message    string
	Cause      error
}

func (e *AppError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.JobID != "" {
		fmt.Fprintf(&b, " (job %s)", e.JobID)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by kind, so errors.Is(err, ErrTransport) works for any transport failure.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Op == ""
}

// Sentinels, one per kind.
var (
	ErrSubmission    = &AppError{Kind: KindSubmission}
	ErrTransport     = &AppError{Kind: KindTransport}
	ErrNonJSON       = &AppError{Kind: KindNonJSON}
	ErrNotFound      = &AppError{Kind: KindNotFound}
	ErrNoArtifact    = &AppError{Kind: KindNoArtifact}
	ErrNoDownloadURL = &AppError{Kind: KindNoDownloadURL}
	ErrBlobFetch     = &AppError{Kind: KindBlobFetch}
	ErrExtraction    = &AppError{Kind: KindExtraction}
	ErrTimeout       = &AppError{Kind: KindTimeout}
	ErrCancelled     = &AppError{Kind: KindCancelled}
	ErrConfig        = &AppError{Kind: KindConfig}
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// Error constructors
func NewAppError(kind Kind, op, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// WithJob returns a copy of e annotated with the job id.
func (e *AppError) WithJob(jobID string) *AppError {
	cp := *e
	cp.JobID = jobID
	return &cp
}

// WithStatus returns a copy of e annotated with the HTTP status that produced it.
func (e *AppError) WithStatus(code int) *AppError {
	cp := *e
	cp.StatusCode = code
	return &cp
}

// KindOf returns the kind of the first AppError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// IsRetryable reports whether repeating the same call may succeed without any other change.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindNonJSON:
		return true
	}
	return false
}
