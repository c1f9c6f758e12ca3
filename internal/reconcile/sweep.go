// Package reconcile catches up on jobs whose progress nobody observed: it re-reads remote
// status for every unsettled record and finishes the ones that completed in the meantime.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/core"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/events"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/workflow"
)

const op = "reconcile.sweep"

// Options tune a sweep.
type Options struct {
	Concurrency int
	// RetryMissingContent re-downloads completed jobs whose content could not be extracted.
	RetryMissingContent bool
}

func OptionsFrom(cfg common.SweepConfig) Options {
	return Options{Concurrency: cfg.Concurrency, RetryMissingContent: cfg.RetryMissingContent}
}

// Report counts what a sweep did. Every examined record lands in exactly one bucket.
type Report struct {
	Downloaded     int
	AlreadyDone    int
	StillRunning   int
	Errored        int
	Failed         int
	Skipped        int
	// PersistFailed counts Errored records whose new state could not be written.
	PersistFailed  int
	NewlyCompleted []entity.RecordKey
}

func (r Report) Examined() int {
	return r.Downloaded + r.AlreadyDone + r.StillRunning + r.Errored + r.Failed + r.Skipped
}

type outcome int

const (
	outDownloaded outcome = iota
	outAlreadyDone
	outStillRunning
	outErrored
	outFailed
	outSkipped
)

// Sweeper reconciles records against the workflow service. It never submits jobs.
type Sweeper struct {
	svc          workflow.JobService
	store        repository.RecordStore
	materializer *core.Materializer
	publisher    events.Publisher
	opts         Options
	logger       *slog.Logger
	now          func() time.Time
}

func NewSweeper(
	svc workflow.JobService,
	store repository.RecordStore,
	materializer *core.Materializer,
	publisher events.Publisher,
	opts Options,
	logger *slog.Logger,
) *Sweeper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Sweeper{
		svc:          svc,
		store:        store,
		materializer: materializer,
		publisher:    publisher,
		opts:         opts,
		logger:       logger,
		now:          time.Now,
	}
}

// Sweep reconciles every unsettled record in the store.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	records, err := s.store.ListUnsettled(ctx)
	if err != nil {
		return Report{}, err
	}
	_, rep, err := s.Run(ctx, records)
	return rep, err
}

// Every runs Sweep immediately and then on each tick until ctx is done.
func (s *Sweeper) Every(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reconcile.sweep.failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run reconciles the given records and returns the ones it changed, already persisted.
// Records sharing a job id are handled together so each job is checked and downloaded at
// most once per run. A record is only rewritten when something about it changed.
func (s *Sweeper) Run(ctx context.Context, records []*entity.JobRecord) ([]*entity.JobRecord, Report, error) {
	sweepID := uuid.New().String()
	start := s.now()
	log := s.logger.With("sweep_id", sweepID)

	var (
		mu          sync.Mutex
		report      Report
		updated     = make([]*entity.JobRecord, len(records))
		persistErrs []error
	)
	tally := func(idx int, rec *entity.JobRecord, o outcome, changed, completed bool) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outDownloaded:
			report.Downloaded++
		case outAlreadyDone:
			report.AlreadyDone++
		case outStillRunning:
			report.StillRunning++
		case outErrored:
			report.Errored++
		case outFailed:
			report.Failed++
		case outSkipped:
			report.Skipped++
		}
		if changed {
			updated[idx] = rec
		}
		if completed {
			report.NewlyCompleted = append(report.NewlyCompleted, rec.Key())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, group := range groupByJob(records) {
		g.Go(func() error {
			cache := &jobCache{}
			for _, idx := range group {
				if err := gctx.Err(); err != nil {
					return common.ContextError(op, err)
				}
				rec := records[idx].Clone()
				o, changed := s.reconcile(gctx, log, rec, cache)
				completed := false
				if changed {
					if err := s.persist(gctx, log, rec); err != nil {
						mu.Lock()
						persistErrs = append(persistErrs, err)
						mu.Unlock()
						tally(idx, rec, outErrored, false, false)
						continue
					}
					if o == outDownloaded && rec.Settled() {
						completed = true
						s.announce(gctx, log, rec)
					}
				}
				tally(idx, rec, o, changed, completed)
			}
			return nil
		})
	}
	err := errors.Join(append([]error{g.Wait()}, persistErrs...)...)
	report.PersistFailed = len(persistErrs)

	out := make([]*entity.JobRecord, 0, len(records))
	for _, rec := range updated {
		if rec != nil {
			out = append(out, rec)
		}
	}
	log.Info("reconcile.sweep.done",
		"examined", report.Examined(),
		"downloaded", report.Downloaded,
		"already_done", report.AlreadyDone,
		"still_running", report.StillRunning,
		"errored", report.Errored,
		"persist_failed", report.PersistFailed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"newly_completed", len(report.NewlyCompleted),
		"elapsed_ms", s.now().Sub(start).Milliseconds(),
	)
	return out, report, err
}

// jobCache holds the status and download of one job for the duration of a run.
type jobCache struct {
	statusDone bool
	status     workflow.StatusReport
	statusErr  error

	downloadDone bool
	download     workflow.Download
	downloadErr  error
}

func (s *Sweeper) status(ctx context.Context, jobID string, c *jobCache) (workflow.StatusReport, error) {
	if !c.statusDone {
		c.status, c.statusErr = s.svc.GetStatus(ctx, jobID)
		c.statusDone = true
	}
	return c.status, c.statusErr
}

func (s *Sweeper) fetch(ctx context.Context, jobID string, c *jobCache) (workflow.Download, error) {
	if !c.downloadDone {
		c.download, c.downloadErr = s.svc.DownloadResult(ctx, jobID)
		c.downloadDone = true
	}
	return c.download, c.downloadErr
}

// reconcile decides what to do with one record and applies it to rec.
func (s *Sweeper) reconcile(ctx context.Context, log *slog.Logger, rec *entity.JobRecord, c *jobCache) (outcome, bool) {
	key := rec.Key().String()
	switch {
	case rec.Settled():
		return outAlreadyDone, false
	case rec.Job.ID == "":
		log.Debug("reconcile.record.skipped", "record_key", key, "reason", "no job id")
		return outSkipped, false
	case rec.Job.State == constants.JobStateFailed, rec.Job.State == constants.JobStateCancelled:
		return outFailed, false
	case rec.Job.State == constants.JobStateCompleted:
		if rec.ContentState == constants.ContentMissing && !s.opts.RetryMissingContent {
			log.Debug("reconcile.record.skipped", "record_key", key, "reason", "content missing")
			return outSkipped, false
		}
		return s.download(ctx, log, rec, c, nil)
	}

	rep, err := s.status(ctx, rec.Job.ID, c)
	if err != nil {
		log.Warn("reconcile.status.failed", "record_key", key, "job_id", rec.Job.ID, "retryable", common.IsRetryable(err), "error", err)
		return outErrored, false
	}

	prev := rec.Job.State
	if !rec.Job.Transition(rep.State, s.now()) {
		log.Warn("reconcile.status.ignored_transition", "job_id", rec.Job.ID, "from", prev, "to", rep.State)
	}

	switch rec.Job.State {
	case constants.JobStateCompleted:
		log.Info("reconcile.job.completed", "record_key", key, "job_id", rec.Job.ID, "previous_state", prev)
		return s.download(ctx, log, rec, c, &rep)
	case constants.JobStateFailed, constants.JobStateCancelled:
		rec.Job.ServiceError = rep.ServiceError
		rec.Error = rep.ServiceError
		rec.ErrorKind = ""
		rec.UpdatedAt = s.now().UTC()
		log.Info("reconcile.job.failed", "record_key", key, "job_id", rec.Job.ID, "state", rec.Job.State,
			"service_error", rep.ServiceError)
		return outFailed, true
	}

	if rec.Job.State == prev {
		return outStillRunning, false
	}
	rec.UpdatedAt = s.now().UTC()
	return outStillRunning, true
}

func (s *Sweeper) download(ctx context.Context, log *slog.Logger, rec *entity.JobRecord, c *jobCache, rep *workflow.StatusReport) (outcome, bool) {
	dl, err := s.fetch(ctx, rec.Job.ID, c)
	if err != nil {
		s.materializer.MarkMissing(rec, err)
		log.Warn("reconcile.download.failed", "record_key", rec.Key().String(), "job_id", rec.Job.ID,
			"kind", common.KindOf(err), "retryable", common.IsRetryable(err), "error", err)
		return outErrored, true
	}
	if err := s.materializer.Apply(ctx, rec, dl, rep); err != nil {
		return outErrored, true
	}
	return outDownloaded, true
}

func (s *Sweeper) persist(ctx context.Context, log *slog.Logger, rec *entity.JobRecord) error {
	if err := s.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("reconcile.persist.failed", "record_key", rec.Key().String(), "error", err)
		return fmt.Errorf("persist %s: %w", rec.Key(), err)
	}
	return nil
}

func (s *Sweeper) announce(ctx context.Context, log *slog.Logger, rec *entity.JobRecord) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), events.NewCompletion(rec)); err != nil {
		log.Warn("reconcile.publish.failed", "record_key", rec.Key().String(), "error", err)
	}
}

// groupByJob returns record indexes grouped by job id, in first-seen order.
// Records without a job id each get their own group.
func groupByJob(records []*entity.JobRecord) [][]int {
	var groups [][]int
	byJob := map[string]int{}
	for i, rec := range records {
		if rec.Job.ID == "" {
			groups = append(groups, []int{i})
			continue
		}
		if g, ok := byJob[rec.Job.ID]; ok {
			groups[g] = append(groups[g], i)
			continue
		}
		byJob[rec.Job.ID] = len(groups)
		groups = append(groups, []int{i})
	}
	return groups
}
