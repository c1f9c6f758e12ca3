package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/events"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/workflow"
)

// WorkflowAPI is the workflow service as seen by the processor.
type WorkflowAPI interface {
	CreateJob(ctx context.Context, req workflow.CreateJobRequest) (string, error)
	workflow.JobService
}

// GenerateRequest asks for one document to be processed by one model.
type GenerateRequest struct {
	DocumentID   string
	Model        string
	Kind         constants.WorkflowKind
	DocumentRefs []string
	Name         string
}

func (r GenerateRequest) Key() entity.RecordKey {
	return entity.RecordKey{DocumentID: r.DocumentID, Model: r.Model}
}

// Validate checks the request before anything is submitted.
func (r GenerateRequest) Validate() error {
	v := common.NewValidator()
	v.Field("document_id", r.DocumentID, common.Required, common.MaxLength(256))
	v.Field("model", r.Model, common.Required, common.MaxLength(128))
	v.Field("kind", string(r.Kind), common.Required, common.OneOf(constants.KindsAsStringSlice()...))
	v.Field("document_refs", r.DocumentRefs, common.Required, common.NoBlankEntries)
	return common.ValidateAndReturnError(v, common.KindSubmission, "processor.generate")
}

// Processor coordinates submission, polling, download and extraction for one record,
// persisting every step so a crash or a timeout can be picked up by the sweep.
type Processor struct {
	logger       *slog.Logger
	store        repository.RecordStore
	api          WorkflowAPI
	poller       *workflow.Poller
	materializer *Materializer
	publisher    events.Publisher
	now          func() time.Time
}

func NewProcessor(
	logger *slog.Logger,
	store repository.RecordStore,
	api WorkflowAPI,
	poller *workflow.Poller,
	materializer *Materializer,
	publisher events.Publisher,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Processor{
		logger:       logger,
		store:        store,
		api:          api,
		poller:       poller,
		materializer: materializer,
		publisher:    publisher,
		now:          time.Now,
	}
}

// Generate makes sure the record for (document, model) ends up with content.
//
// A record that already has content is returned untouched. A record with a live or
// timed-out job is resumed, never resubmitted; only a missing, failed or cancelled job
// causes a new submission. A completed job without content is downloaded again.
// The returned record reflects what was persisted, including on error.
func (p *Processor) Generate(ctx context.Context, req GenerateRequest) (*entity.JobRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	reqID := common.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
		ctx = common.WithRequestID(ctx, reqID)
	}
	start := p.now()
	log := p.logger.With("req_id", reqID, "record_key", req.Key().String())

	rec, err := p.store.Get(ctx, req.Key())
	switch {
	case errors.Is(err, common.ErrRecordNotFound):
		rec = p.newRecord(req)
	case err != nil:
		return nil, err
	}

	if rec.Settled() {
		log.Info("processor.generate.already_done", "job_id", rec.Job.ID, "content_state", rec.ContentState)
		return rec, nil
	}
	if rec.Job.Kind != "" && rec.Job.Kind != req.Kind {
		log.Warn("processor.generate.kind_mismatch", "job_id", rec.Job.ID, "existing", rec.Job.Kind, "requested", req.Kind)
	}

	if needsSubmission(rec) {
		if err := p.submit(ctx, log, rec, req); err != nil {
			return rec, err
		}
	} else {
		log.Info("processor.generate.resume", "job_id", rec.Job.ID, "state", rec.Job.State)
	}
	ctx = common.WithJobID(ctx, rec.Job.ID)

	if rec.Job.State == constants.JobStateCompleted {
		dl, err := p.api.DownloadResult(ctx, rec.Job.ID)
		if err != nil {
			return rec, p.downloadFailed(ctx, log, rec, err)
		}
		return rec, p.complete(ctx, log, rec, dl, nil, start)
	}

	out, err := p.poller.Poll(ctx, rec.Job, workflow.PollOptions{
		OnStatus: func(job entity.Job, _ workflow.StatusReport) {
			if job.State == rec.Job.State {
				return
			}
			rec.Job = job
			rec.UpdatedAt = p.now().UTC()
			// a later write carries the same state
			_ = p.persist(ctx, log, rec)
		},
	})
	rec.Job = out.Job

	switch {
	case err != nil && out.Job.State == constants.JobStateCompleted:
		return rec, p.downloadFailed(ctx, log, rec, err)
	case err != nil:
		p.recordError(rec, err)
		perr := p.persist(ctx, log, rec)
		log.Warn("processor.generate.stopped", "job_id", rec.Job.ID, "state", rec.Job.State, "error", err)
		return rec, joinPersist(err, perr)
	case out.Job.State == constants.JobStateCompleted && out.Download != nil:
		return rec, p.complete(ctx, log, rec, *out.Download, out.Report, start)
	}

	// failed or cancelled by the service
	rec.Error = rec.Job.ServiceError
	rec.ErrorKind = ""
	rec.UpdatedAt = p.now().UTC()
	if err := p.persist(ctx, log, rec); err != nil {
		return rec, err
	}
	log.Warn("processor.generate.job_failed",
		"job_id", rec.Job.ID,
		"state", rec.Job.State,
		"service_error", rec.Job.ServiceError,
		"elapsed_ms", p.now().Sub(start).Milliseconds(),
	)
	return rec, nil
}

func (p *Processor) newRecord(req GenerateRequest) *entity.JobRecord {
	return &entity.JobRecord{
		DocumentID:   req.DocumentID,
		Model:        req.Model,
		Name:         req.Name,
		DocumentRefs: append([]string(nil), req.DocumentRefs...),
		Job:          entity.Job{Kind: req.Kind, Model: req.Model},
		ContentState: constants.ContentPending,
	}
}

func needsSubmission(rec *entity.JobRecord) bool {
	if rec.Job.ID == "" {
		return true
	}
	switch rec.Job.State {
	case constants.JobStateFailed, constants.JobStateCancelled:
		return true
	}
	return false
}

// submit creates a fresh job for rec and persists it before any polling starts.
func (p *Processor) submit(ctx context.Context, log *slog.Logger, rec *entity.JobRecord, req GenerateRequest) error {
	if rec.Job.ID != "" {
		log.Info("processor.generate.resubmit", "previous_job_id", rec.Job.ID, "previous_state", rec.Job.State)
	}
	rec.Name = req.Name
	rec.DocumentRefs = append([]string(nil), req.DocumentRefs...)
	rec.Job = entity.Job{Kind: req.Kind, Model: req.Model}
	rec.Result = nil
	rec.Usage = nil
	rec.ContentState = constants.ContentPending

	id, err := p.api.CreateJob(ctx, workflow.CreateJobRequest{
		Kind:         req.Kind,
		DocumentRefs: req.DocumentRefs,
		Model:        req.Model,
		Name:         req.Name,
	})
	if err != nil {
		p.recordError(rec, err)
		perr := p.persist(ctx, log, rec)
		log.Error("processor.submit.failed", "error", err)
		return joinPersist(err, perr)
	}

	now := p.now().UTC()
	rec.Job.ID = id
	rec.Job.CreatedAt = now
	rec.Job.Transition(constants.JobStateSubmitted, now)
	rec.Error = ""
	rec.ErrorKind = ""
	rec.UpdatedAt = now
	if err := p.persist(ctx, log, rec); err != nil {
		return err
	}
	log.Info("processor.submit.ok", "job_id", id, "kind", req.Kind, "model", req.Model)
	return nil
}

func (p *Processor) complete(ctx context.Context, log *slog.Logger, rec *entity.JobRecord, dl workflow.Download, rep *workflow.StatusReport, start time.Time) error {
	if err := p.materializer.Apply(ctx, rec, dl, rep); err != nil {
		return joinPersist(err, p.persist(ctx, log, rec))
	}
	if err := p.persist(ctx, log, rec); err != nil {
		return err
	}
	p.announce(ctx, log, rec)
	log.Info("processor.generate.done",
		"job_id", rec.Job.ID,
		"content_state", rec.ContentState,
		"chars", rec.Result.CharCount,
		"elapsed_ms", p.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) downloadFailed(ctx context.Context, log *slog.Logger, rec *entity.JobRecord, err error) error {
	p.materializer.MarkMissing(rec, err)
	perr := p.persist(ctx, log, rec)
	log.Warn("processor.download.failed", "job_id", rec.Job.ID, "error", err)
	return joinPersist(err, perr)
}

func (p *Processor) announce(ctx context.Context, log *slog.Logger, rec *entity.JobRecord) {
	if !rec.Settled() {
		return
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), events.NewCompletion(rec)); err != nil {
		log.Warn("processor.publish.failed", "job_id", rec.Job.ID, "error", err)
	}
}

func (p *Processor) recordError(rec *entity.JobRecord, err error) {
	rec.Error = err.Error()
	rec.ErrorKind = string(common.KindOf(err))
	rec.UpdatedAt = p.now().UTC()
}

// persist writes rec even when ctx was cancelled, so an interrupted run leaves its last
// known state behind.
func (p *Processor) persist(ctx context.Context, log *slog.Logger, rec *entity.JobRecord) error {
	if err := p.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("processor.persist.failed", "job_id", rec.Job.ID, "error", err)
		return fmt.Errorf("persist %s: %w", rec.Key(), err)
	}
	return nil
}

func joinPersist(err, perr error) error {
	if perr == nil {
		return err
	}
	return errors.Join(err, perr)
}
