package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/core"
	"github.com/joseph-ayodele/docflow/internal/cost"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/events"
	"github.com/joseph-ayodele/docflow/internal/extract"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/transport"
	"github.com/joseph-ayodele/docflow/internal/workflow"
	"github.com/joseph-ayodele/docflow/internal/workflow/workflowtest"
)

type countingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *countingPublisher) Publish(_ context.Context, c events.Completion) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, c.RecordKey)
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func (p *countingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type fixture struct {
	srv   *workflowtest.Server
	store *repository.MemoryStore
	pub   *countingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := workflowtest.NewServer("key")
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: repository.NewMemoryStore(), pub: &countingPublisher{}}
}

func (f *fixture) sweeper(opts Options) *Sweeper {
	client := workflow.NewClient(workflow.Config{
		BaseURL: f.srv.URL,
		APIKey:  f.srv.APIKey,
		Retry: transport.Policy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
		},
	}, nil)
	m := core.NewMaterializer(extract.NewPipeline(extract.DefaultThresholds(), nil, nil), cost.NewEstimator(nil), nil)
	return NewSweeper(client, f.store, m, f.pub, opts, nil)
}

var base = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func (f *fixture) put(t *testing.T, doc, jobID string, state constants.JobState, content constants.ContentState) {
	t.Helper()
	rec := &entity.JobRecord{
		DocumentID:   doc,
		Model:        "gpt-4o",
		DocumentRefs: []string{"vault-" + doc},
		Job:          entity.Job{ID: jobID, Kind: constants.DepositionSummary, Model: "gpt-4o", State: state, CreatedAt: base},
		ContentState: content,
		UpdatedAt:    base,
	}
	if state.IsTerminal() {
		done := base
		rec.Job.CompletedAt = &done
	}
	if content == constants.ContentPopulated {
		rec.Result = &entity.ExtractionResult{Content: "already here", Method: constants.MethodStructural, CharCount: 12}
	}
	require.NoError(t, f.store.Put(context.Background(), rec))
}

func reportPDF(id string, chars int) workflowtest.Artifact {
	text := strings.Repeat("b", chars)
	return workflowtest.Artifact{
		ID:       id,
		Type:     constants.ArtifactReport,
		MimeType: constants.MimePDF,
		Data:     []byte("%PDF-1.4\nBT (" + text + ") Tj ET\n%%EOF"),
	}
}

func all(t *testing.T, store repository.RecordStore) []*entity.JobRecord {
	t.Helper()
	recs, err := store.List(context.Background())
	require.NoError(t, err)
	return recs
}

func get(t *testing.T, store repository.RecordStore, doc string) *entity.JobRecord {
	t.Helper()
	rec, err := store.Get(context.Background(), entity.RecordKey{DocumentID: doc, Model: "gpt-4o"})
	require.NoError(t, err)
	return rec
}

func TestRunReconcilesEveryKindOfRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.srv.AddJob("job-finished", &workflowtest.Job{Statuses: []string{"COMPLETED"}, Artifacts: []workflowtest.Artifact{reportPDF("a-finished", 500)}})
	f.srv.AddJob("job-bad", &workflowtest.Job{Statuses: []string{"FAILED"}, Error: "unreadable input"})
	f.srv.AddJob("job-timed", &workflowtest.Job{Statuses: []string{"RUNNING"}})
	f.srv.AddJob("job-slow", &workflowtest.Job{Statuses: []string{"IN_PROGRESS"}})
	f.srv.AddJob("job-failed", &workflowtest.Job{Statuses: []string{"COMPLETED"}, Artifacts: []workflowtest.Artifact{reportPDF("a-failed", 500)}})

	f.put(t, "done", "job-done", constants.JobStateCompleted, constants.ContentPopulated)
	f.put(t, "nojob", "", constants.JobStateSubmitted, constants.ContentPending)
	f.put(t, "failed", "job-failed", constants.JobStateFailed, constants.ContentPending)
	f.put(t, "missing", "job-missing", constants.JobStateCompleted, constants.ContentMissing)
	f.put(t, "finished", "job-finished", constants.JobStateRunning, constants.ContentPending)
	f.put(t, "bad", "job-bad", constants.JobStateSubmitted, constants.ContentPending)
	f.put(t, "timed", "job-timed", constants.JobStateTimedOut, constants.ContentPending)
	f.put(t, "slow", "job-slow", constants.JobStateRunning, constants.ContentPending)
	f.put(t, "lost", "job-unknown", constants.JobStateRunning, constants.ContentPending)

	s := f.sweeper(Options{Concurrency: 3})
	updated, rep, err := s.Run(context.Background(), all(t, f.store))
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Downloaded)
	assert.Equal(t, 1, rep.AlreadyDone)
	assert.Equal(t, 2, rep.StillRunning)
	assert.Equal(t, 1, rep.Errored)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 9, rep.Examined())
	assert.Equal(t, []entity.RecordKey{{DocumentID: "finished", Model: "gpt-4o"}}, rep.NewlyCompleted)
	assert.Equal(t, []string{"finished/gpt-4o"}, f.pub.Keys())

	var changed []string
	for _, r := range updated {
		changed = append(changed, r.DocumentID)
	}
	assert.ElementsMatch(t, []string{"finished", "bad", "timed"}, changed)

	finished := get(t, f.store, "finished")
	assert.Equal(t, constants.JobStateCompleted, finished.Job.State)
	assert.Equal(t, 500, finished.Result.CharCount)
	assert.True(t, finished.Usage.Estimated)

	bad := get(t, f.store, "bad")
	assert.Equal(t, constants.JobStateFailed, bad.Job.State)
	assert.Equal(t, "unreadable input", bad.Error)

	assert.Equal(t, constants.JobStateRunning, get(t, f.store, "timed").Job.State)
	assert.True(t, get(t, f.store, "slow").UpdatedAt.Equal(base))
	assert.Equal(t, constants.JobStateRunning, get(t, f.store, "lost").Job.State)

	// locally failed stays failed even though the remote job says otherwise
	failed := get(t, f.store, "failed")
	assert.Equal(t, constants.JobStateFailed, failed.Job.State)
	assert.Nil(t, failed.Result)
	assert.Nil(t, get(t, f.store, "missing").Result)

	assert.Equal(t, 1, f.srv.Counts().Blob)
	assert.Zero(t, f.srv.Counts().Create)
}

func TestRunTwiceIsANoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.srv.AddJob("job-1", &workflowtest.Job{Statuses: []string{"COMPLETED"}, Artifacts: []workflowtest.Artifact{reportPDF("a1", 300)}})
	f.srv.AddJob("job-2", &workflowtest.Job{Statuses: []string{"RUNNING"}})
	f.srv.AddJob("job-3", &workflowtest.Job{Statuses: []string{"CANCELLED"}, Error: "cancelled by operator"})
	f.put(t, "one", "job-1", constants.JobStateRunning, constants.ContentPending)
	f.put(t, "two", "job-2", constants.JobStateRunning, constants.ContentPending)
	f.put(t, "three", "job-3", constants.JobStateRunning, constants.ContentPending)

	s := f.sweeper(Options{})
	_, first, err := s.Run(context.Background(), all(t, f.store))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Downloaded)
	assert.Equal(t, 1, first.Failed)

	before := all(t, f.store)
	puts := f.store.Puts()
	blobs := f.srv.Counts().Blob

	updated, second, err := s.Run(context.Background(), before)
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.Zero(t, second.Downloaded)
	assert.Empty(t, second.NewlyCompleted)
	assert.Equal(t, 1, second.AlreadyDone)
	assert.Equal(t, 1, second.StillRunning)
	assert.Equal(t, 1, second.Failed)
	assert.Equal(t, puts, f.store.Puts())
	assert.Equal(t, blobs, f.srv.Counts().Blob)
	assert.Equal(t, before, all(t, f.store))
	assert.Len(t, f.pub.Keys(), 1)
}

func TestRunChecksAndDownloadsSharedJobOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.srv.AddJob("job-shared", &workflowtest.Job{Statuses: []string{"COMPLETED"}, Artifacts: []workflowtest.Artifact{reportPDF("a", 200)}})
	f.put(t, "left", "job-shared", constants.JobStateRunning, constants.ContentPending)
	f.put(t, "right", "job-shared", constants.JobStateRunning, constants.ContentPending)

	rep, err := f.sweeper(Options{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Downloaded)

	counts := f.srv.Counts()
	assert.Equal(t, 1, counts.Status)
	assert.Equal(t, 1, counts.Manifest)
	assert.Equal(t, 1, counts.Blob)
}

func TestMissingContentIsOnlyRetriedWhenAsked(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.srv.AddJob("job-m", &workflowtest.Job{Statuses: []string{"COMPLETED"}, Artifacts: []workflowtest.Artifact{reportPDF("m", 120)}})
	f.put(t, "m", "job-m", constants.JobStateCompleted, constants.ContentMissing)

	rep, err := f.sweeper(Options{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, f.srv.Counts().Blob)

	rep, err = f.sweeper(Options{RetryMissingContent: true}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Downloaded)
	assert.Zero(t, f.srv.Counts().Status)

	m := get(t, f.store, "m")
	assert.True(t, m.Settled())
	assert.Empty(t, m.Error)
}

func TestDownloadFailureLeavesCompletedWithoutContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	expired := reportPDF("x", 100)
	expired.Expired = true
	f.srv.AddJob("job-x", &workflowtest.Job{Statuses: []string{"COMPLETED"}, Artifacts: []workflowtest.Artifact{expired}})
	f.put(t, "x", "job-x", constants.JobStateRunning, constants.ContentPending)

	rep, err := f.sweeper(Options{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errored)
	assert.Empty(t, rep.NewlyCompleted)

	x := get(t, f.store, "x")
	assert.Equal(t, constants.JobStateCompleted, x.Job.State)
	assert.Equal(t, constants.ContentMissing, x.ContentState)
	assert.NotEmpty(t, x.ErrorKind)
	assert.Empty(t, f.pub.Keys())

	// the next sweep leaves it alone and never resubmits
	rep, err = f.sweeper(Options{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, f.srv.Counts().Create)
}

type failingStore struct {
	*repository.MemoryStore
}

func (failingStore) Put(context.Context, *entity.JobRecord) error {
	return errors.New("disk full")
}

func TestRunCountsUnsavedRecordsAsErrored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.srv.AddJob("job-1", &workflowtest.Job{Statuses: []string{"COMPLETED"}, Artifacts: []workflowtest.Artifact{reportPDF("a1", 300)}})
	f.srv.AddJob("job-2", &workflowtest.Job{Statuses: []string{"RUNNING"}})
	f.put(t, "one", "job-1", constants.JobStateRunning, constants.ContentPending)
	f.put(t, "two", "job-2", constants.JobStateRunning, constants.ContentPending)

	s := f.sweeper(Options{})
	s.store = failingStore{f.store}

	updated, rep, err := s.Run(context.Background(), all(t, f.store))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "one/gpt-4o")

	assert.Empty(t, updated)
	assert.Zero(t, rep.Downloaded)
	assert.Equal(t, 1, rep.Errored)
	assert.Equal(t, 1, rep.PersistFailed)
	assert.Equal(t, 1, rep.StillRunning)
	assert.Empty(t, rep.NewlyCompleted)
	assert.Empty(t, f.pub.Keys())

	// the stored record is untouched, so a later sweep with a working store finishes it
	assert.Equal(t, constants.JobStateRunning, get(t, f.store, "one").Job.State)
	rep, err = f.sweeper(Options{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Downloaded)
	assert.Equal(t, []string{"one/gpt-4o"}, f.pub.Keys())
}
