package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/transport"
)

// JobService is what the poller and the reconciliation sweep need from the workflow service.
type JobService interface {
	GetStatus(ctx context.Context, jobID string) (StatusReport, error)
	DownloadResult(ctx context.Context, jobID string) (Download, error)
}

// PollerConfig controls polling cadence and tolerance.
type PollerConfig struct {
	Interval             time.Duration // between successful polls
	Budget               time.Duration // wall clock before giving up locally
	MaxConsecutiveErrors int           // transport failures tolerated in a row
	BackoffBase          time.Duration
	BackoffMax           time.Duration
}

// PollerConfigFrom builds a poller config from application settings.
func PollerConfigFrom(wc common.WorkflowConfig) PollerConfig {
	return PollerConfig{
		Interval:             wc.PollInterval,
		Budget:               wc.PollBudget,
		MaxConsecutiveErrors: wc.MaxConsecutiveErrors,
		BackoffBase:          wc.BackoffBase,
		BackoffMax:           wc.BackoffMax,
	}
}

// PollOptions tune a single Poll call.
type PollOptions struct {
	SkipDownload bool
	// OnStatus, when set, is called after every successful status check with the updated job.
	OnStatus func(job entity.Job, rep StatusReport)
}

// PollOutcome is where polling ended up.
type PollOutcome struct {
	Job      entity.Job
	Report   *StatusReport // last successful status, if any
	Download *Download     // set when the job completed and the download succeeded
	Polls    int
}

// Poller drives a submitted job to a terminal state.
type Poller struct {
	svc    JobService
	cfg    PollerConfig
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewPoller(svc JobService, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 30 * time.Minute
	}
	if cfg.MaxConsecutiveErrors < 0 {
		cfg.MaxConsecutiveErrors = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  common.SleepContext,
	}
}

// Poll checks the job at a fixed interval until it reaches a terminal state, the budget
// runs out, or ctx is done.
//
// Completed jobs are downloaded unless opts.SkipDownload is set. Failed and cancelled jobs
// are returned with a nil error and the service's reason in Job.ServiceError. An exhausted
// budget returns the job in TIMED_OUT with a KindTimeout error; the remote job is untouched
// and can be polled again later. Cancelling ctx never cancels the remote job.
func (p *Poller) Poll(ctx context.Context, job entity.Job, opts PollOptions) (PollOutcome, error) {
	const op = "workflow.poll"
	out := PollOutcome{Job: job}
	if job.ID == "" {
		return out, common.NewAppError(common.KindNotFound, op, "job has no id", common.ErrInvalidInput)
	}
	if job.State.IsTerminal() {
		return out, nil
	}

	start := p.now()
	deadline := start.Add(p.cfg.Budget)
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			return p.stopped(out, op, err)
		}

		rep, err := p.svc.GetStatus(ctx, job.ID)
		out.Polls++
		var delay time.Duration

		if err != nil {
			if ctx.Err() != nil {
				return p.stopped(out, op, ctx.Err())
			}
			if !isTransportLevel(err) {
				p.logger.Error("workflow.poll.failed", "job_id", job.ID, "error", err)
				return out, err
			}
			failures++
			if failures > p.cfg.MaxConsecutiveErrors {
				p.logger.Error("workflow.poll.giving_up",
					"job_id", job.ID,
					"consecutive_failures", failures,
					"error", err,
				)
				return out, common.NewAppError(common.KindTransport, op,
					fmt.Sprintf("%d consecutive status failures", failures), err).WithJob(job.ID)
			}
			delay = transport.Backoff(p.cfg.BackoffBase, p.cfg.BackoffMax, failures)
			p.logger.Warn("workflow.poll.transport_error",
				"job_id", job.ID,
				"consecutive_failures", failures,
				"delay_ms", delay.Milliseconds(),
				"error", err,
			)
		} else {
			failures = 0
			out.Report = &rep
			if !out.Job.Transition(rep.State, p.now()) {
				p.logger.Warn("workflow.poll.ignored_transition",
					"job_id", job.ID, "from", out.Job.State, "to", rep.State)
			}
			if opts.OnStatus != nil {
				opts.OnStatus(out.Job, rep)
			}

			switch out.Job.State {
			case constants.JobStateCompleted:
				p.logger.Info("workflow.poll.completed", "job_id", job.ID, "polls", out.Polls,
					"elapsed_ms", p.now().Sub(start).Milliseconds())
				if opts.SkipDownload {
					return out, nil
				}
				if err := ctx.Err(); err != nil {
					return out, common.ContextError(op, err)
				}
				dl, err := p.svc.DownloadResult(ctx, job.ID)
				if err != nil {
					return out, err
				}
				out.Download = &dl
				return out, nil
			case constants.JobStateFailed, constants.JobStateCancelled:
				out.Job.ServiceError = rep.ServiceError
				p.logger.Warn("workflow.poll.terminal", "job_id", job.ID, "state", out.Job.State,
					"service_error", rep.ServiceError, "polls", out.Polls)
				return out, nil
			}
			delay = p.cfg.Interval
		}

		if !p.now().Before(deadline) {
			out.Job.Transition(constants.JobStateTimedOut, p.now())
			p.logger.Warn("workflow.poll.timed_out", "job_id", job.ID, "polls", out.Polls,
				"budget_ms", p.cfg.Budget.Milliseconds())
			return out, common.NewAppError(common.KindTimeout, op, "poll budget exhausted", nil).WithJob(job.ID)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return p.stopped(out, op, err)
		}
	}
}

// stopped reports a context stop. A parent deadline is treated like an exhausted budget.
func (p *Poller) stopped(out PollOutcome, op string, err error) (PollOutcome, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		out.Job.Transition(constants.JobStateTimedOut, p.now())
	}
	p.logger.Info("workflow.poll.stopped", "job_id", out.Job.ID, "state", out.Job.State, "reason", err)
	return out, withJob(common.ContextError(op, err), out.Job.ID)
}

func isTransportLevel(err error) bool {
	switch common.KindOf(err) {
	case common.KindTransport, common.KindNonJSON:
		return true
	}
	return false
}
