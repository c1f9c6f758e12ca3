package async

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/docflow/internal/core"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one generate request waiting for a worker.
type Job struct {
	Request     core.GenerateRequest
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
