package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/core"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

type fakeGenerator struct {
	running  atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	delay    time.Duration
	failDocs map[string]bool
	reqIDs   sync.Map
}

func (g *fakeGenerator) Generate(ctx context.Context, req core.GenerateRequest) (*entity.JobRecord, error) {
	g.calls.Add(1)
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.reqIDs.Store(req.DocumentID, common.RequestIDFromContext(ctx))

	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.failDocs[req.DocumentID] {
		return nil, errors.New("boom")
	}
	return &entity.JobRecord{
		DocumentID: req.DocumentID,
		Model:      req.Model,
		Job:        entity.Job{ID: "job-" + req.DocumentID, State: constants.JobStateCompleted},
	}, nil
}

func request(doc string) core.GenerateRequest {
	return core.GenerateRequest{DocumentID: doc, Model: "gpt-4o", Kind: constants.DepositionSummary, DocumentRefs: []string{"v-" + doc}}
}

func TestQueueProcessesAllJobsWithBoundedWorkers(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{delay: 5 * time.Millisecond, failDocs: map[string]bool{"d3": true}}

	var mu sync.Mutex
	results := map[string]error{}
	q := NewProcessorQueue(gen, nil,
		WithWorkers(2),
		WithQueueSize(1),
		WithResultHandler(func(job Job, _ *entity.JobRecord, err error) {
			mu.Lock()
			defer mu.Unlock()
			results[job.Request.DocumentID] = err
		}),
	)

	for _, doc := range []string{"d1", "d2", "d3", "d4", "d5"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{Request: request(doc)}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.EqualValues(t, 5, gen.calls.Load())
	assert.LessOrEqual(t, gen.peak.Load(), int32(2))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 5)
	assert.Error(t, results["d3"])
	assert.NoError(t, results["d1"])

	id, ok := gen.reqIDs.Load("d1")
	require.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	t.Parallel()
	q := NewProcessorQueue(&fakeGenerator{}, nil, WithWorkers(1))
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{Request: request("late")})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueJobTimeout(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{delay: time.Minute}
	done := make(chan error, 1)
	q := NewProcessorQueue(gen, nil,
		WithWorkers(1),
		WithProcessTimeout(10*time.Millisecond),
		WithResultHandler(func(_ Job, _ *entity.JobRecord, err error) { done <- err }),
	)
	require.NoError(t, q.Enqueue(context.Background(), Job{Request: request("slow"), TraceID: "trace-1"}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not time out")
	}
	id, _ := gen.reqIDs.Load("slow")
	assert.Equal(t, "trace-1", id)
	q.Shutdown(context.Background())
}

func TestEnqueueHonoursContextWhenFull(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{delay: 200 * time.Millisecond}
	q := NewProcessorQueue(gen, nil, WithWorkers(1), WithQueueSize(1), WithProcessTimeout(time.Second))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{Request: request("a")}))
	// wait for the worker to pick up "a" so "b" fills the buffer
	require.Eventually(t, func() bool { return gen.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{Request: request("b")}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{Request: request("c")})
	assert.ErrorIs(t, err, common.ErrTimeout)
}
