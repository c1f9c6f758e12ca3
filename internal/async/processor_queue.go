package async

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/core"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Generator runs one generate request to completion.
type Generator interface {
	Generate(ctx context.Context, req core.GenerateRequest) (*entity.JobRecord, error)
}

// ResultFunc receives the outcome of every job a worker finishes.
type ResultFunc func(job Job, rec *entity.JobRecord, err error)

type ProcessorQueue struct {
	gen      Generator
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	onResult ResultFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*ProcessorQueue)(nil)

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}
func WithResultHandler(fn ResultFunc) Option {
	return func(q *ProcessorQueue) {
		q.onResult = fn
	}
}

// OptionsFrom maps queue settings onto options.
func OptionsFrom(cfg common.QueueConfig) []Option {
	return []Option{WithWorkers(cfg.Workers), WithQueueSize(cfg.Size), WithProcessTimeout(cfg.JobTimeout)}
}

func NewProcessorQueue(gen Generator, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		gen:     gen,
		logger:  logger,
		workers: 4,
		timeout: 45 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	ctx = common.WithRequestID(ctx, job.TraceID)

	start := time.Now()
	rec, err := q.gen.Generate(ctx, job.Request)
	key := job.Request.Key().String()
	if err != nil {
		q.logger.Error("queue.job.failed", "worker_id", workerID, "record_key", key, "req_id", job.TraceID, "error", err)
	} else {
		q.logger.Info("queue.job.done",
			"worker_id", workerID,
			"record_key", key,
			"req_id", job.TraceID,
			"state", rec.Job.State,
			"wait_ms", start.Sub(job.SubmittedAt).Milliseconds(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
	if q.onResult != nil {
		q.onResult(job, rec, err)
	}
}

// Enqueue hands a job to the workers. When the buffer is full it blocks until a slot
// frees up or ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "record_key", job.Request.Key().String())
		return ErrQueueClosed
	}
	if job.TraceID == "" {
		job.TraceID = uuid.New().String()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueued", "record_key", job.Request.Key().String(), "req_id", job.TraceID)
		return nil
	default:
	}
	q.logger.Warn("queue.full.backpressure", "record_key", job.Request.Key().String())
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return common.ContextError("queue.enqueue", ctx.Err())
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to end.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
