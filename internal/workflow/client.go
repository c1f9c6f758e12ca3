package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/transport"
)

// Config for the workflow service client.
type Config struct {
	BaseURL         string
	APIKey          string
	RequestTimeout  time.Duration // per HTTP call
	DownloadTimeout time.Duration // per download step
	ExpectedMime    string        // artifact type accepted when no result/report is listed
	Retry           transport.Policy
}

// ConfigFrom builds a client config from application settings.
func ConfigFrom(wc common.WorkflowConfig, rc common.RetryConfig) Config {
	return Config{
		BaseURL:         wc.BaseURL,
		APIKey:          wc.APIKey,
		RequestTimeout:  wc.RequestTimeout,
		DownloadTimeout: wc.DownloadTimeout,
		ExpectedMime:    wc.ExpectedMime,
		Retry:           transport.PolicyFromConfig(rc),
	}
}

// Client talks to the external workflow service.
type Client struct {
	cfg    Config
	http   *http.Client
	blobs  *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if cfg.ExpectedMime == "" {
		cfg.ExpectedMime = constants.MimePDF
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = transport.DefaultPolicy()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		blobs:  &http.Client{Timeout: cfg.DownloadTimeout},
		logger: logger,
	}
}

// CreateJobRequest describes one submission.
type CreateJobRequest struct {
	Kind         constants.WorkflowKind
	DocumentRefs []string
	Model        string
	Name         string
}

// StatusReport is the translated result of one status check.
type StatusReport struct {
	JobID        string
	State        constants.JobState
	RawStatus    string
	ServiceError string
	Usage        *entity.UsageStats // nil when the service reports no usage
	CheckedAt    time.Time
}

// Download is the artifact fetched for a completed job.
type Download struct {
	JobID       string
	Artifact    Artifact
	Data        []byte
	ContentType string
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

// CreateJob submits a job and returns its id. It is never retried here: a duplicate
// submission would be billed twice, so callers decide whether to resubmit.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (string, error) {
	const op = "workflow.create_job"
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return "", common.NewAppError(common.KindSubmission, op, "workflow service is not configured", common.ErrInvalidInput)
	}
	v := common.NewValidator().
		Field("kind", string(req.Kind), common.Required).
		Field("document_refs", req.DocumentRefs, common.Required, common.NoBlankEntries).
		Field("name", req.Name, common.MaxLength(200))
	if err := common.ValidateAndReturnError(v, common.KindSubmission, op); err != nil {
		return "", err
	}

	body := map[string]any{
		"workflow_type": string(req.Kind),
		"document_ids":  req.DocumentRefs,
	}
	if req.Model != "" {
		body["model"] = req.Model
	}
	if req.Name != "" {
		body["name"] = req.Name
	}

	start := time.Now()
	raw, _, err := transport.SendJSON(ctx, c.http, transport.Request{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + "/workflows",
		Body:    body,
		Headers: c.headers(),
	}, c.logger)
	if err != nil {
		c.logger.Error("workflow.create_job.failed", "kind", req.Kind, "model", req.Model, "error", err)
		return "", common.NewAppError(common.KindSubmission, op, "submission rejected or unreachable", err).WithStatus(common.StatusCodeOf(err))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := decodeValidated(createJobSchema, raw, &out); err != nil {
		return "", common.NewAppError(common.KindSubmission, op, "unexpected response", err)
	}

	c.logger.Info("workflow.create_job.ok",
		"job_id", out.ID,
		"kind", req.Kind,
		"model", req.Model,
		"documents", len(req.DocumentRefs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out.ID, nil
}

// GetStatus reads and translates the current status of a job.
func (c *Client) GetStatus(ctx context.Context, jobID string) (StatusReport, error) {
	const op = "workflow.get_status"
	var payload struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Usage  *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
		CostUSD    *float64 `json:"cost_usd"`
		DurationMs *int64   `json:"duration_ms"`
	}
	if err := c.getJSON(ctx, op, jobID, "/workflows/"+url.PathEscape(jobID), statusSchema, &payload); err != nil {
		return StatusReport{}, err
	}

	state, known := TranslateStatus(payload.Status)
	if !known {
		c.logger.Warn("workflow.status.unknown", "job_id", jobID, "status", payload.Status)
	}
	rep := StatusReport{
		JobID:        jobID,
		State:        state,
		RawStatus:    payload.Status,
		ServiceError: strings.TrimSpace(payload.Error),
		CheckedAt:    time.Now().UTC(),
	}
	if payload.Usage != nil {
		u := &entity.UsageStats{
			InputTokens:  payload.Usage.InputTokens,
			OutputTokens: payload.Usage.OutputTokens,
			TotalTokens:  payload.Usage.TotalTokens,
		}
		if u.TotalTokens == 0 {
			u.TotalTokens = u.InputTokens + u.OutputTokens
		}
		if payload.CostUSD != nil {
			u.CostUSD = *payload.CostUSD
		}
		if payload.DurationMs != nil {
			u.DurationMs = *payload.DurationMs
		}
		rep.Usage = u
	}

	c.logger.Debug("workflow.status.ok", "job_id", jobID, "status", payload.Status, "state", state)
	return rep, nil
}

// DownloadResult resolves manifest -> artifact -> presigned URL -> bytes. It has no side
// effects on the service and can be called any number of times.
func (c *Client) DownloadResult(ctx context.Context, jobID string) (Download, error) {
	const op = "workflow.download"
	start := time.Now()

	// 1) manifest
	var manifest struct {
		Documents []Artifact `json:"documents"`
	}
	if err := c.step(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, op, jobID, "/workflows/"+url.PathEscape(jobID)+"/documents", manifestSchema, &manifest)
	}); err != nil {
		return Download{}, err
	}

	// 2) artifact selection
	art, ok := SelectArtifact(manifest.Documents, c.cfg.ExpectedMime)
	if !ok {
		c.logger.Warn("workflow.download.no_artifact", "job_id", jobID, "artifacts", len(manifest.Documents))
		return Download{}, common.NewAppError(common.KindNoArtifact, op,
			fmt.Sprintf("no eligible artifact among %d", len(manifest.Documents)), nil).WithJob(jobID)
	}

	// 3) document metadata
	var meta struct {
		DownloadURL string `json:"download_url"`
	}
	if err := c.step(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, op, jobID, "/documents/"+url.PathEscape(art.ID), documentSchema, &meta)
	}); err != nil {
		return Download{}, err
	}
	if strings.TrimSpace(meta.DownloadURL) == "" {
		return Download{}, common.NewAppError(common.KindNoDownloadURL, op,
			"document metadata has no download url: "+art.ID, nil).WithJob(jobID)
	}

	// 4) blob bytes
	var (
		data []byte
		ct   string
	)
	if err := c.step(ctx, func(ctx context.Context) error {
		return transport.Retry(ctx, c.cfg.Retry.WithRetryable(isTransientBlob), op, c.logger, func(ctx context.Context) error {
			var err error
			data, ct, err = transport.Fetch(ctx, c.blobs, meta.DownloadURL, c.logger)
			return err
		})
	}); err != nil {
		return Download{}, withJob(err, jobID)
	}
	if ct == "" || constants.NormalizeMime(ct) == "application/octet-stream" {
		ct = art.MimeType
	}

	c.logger.Info("workflow.download.ok",
		"job_id", jobID,
		"artifact_id", art.ID,
		"artifact_type", art.Type,
		"content_type", ct,
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Download{JobID: jobID, Artifact: art, Data: data, ContentType: ct}, nil
}

// step runs one download step under its own timeout, checking for cancellation first.
func (c *Client) step(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return common.ContextError("workflow.download", err)
	}
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()
	return fn(stepCtx)
}

// getJSON performs an authenticated GET with retries and decodes a schema-checked body.
func (c *Client) getJSON(ctx context.Context, op, jobID, path string, schema *jsonschema.Schema, out any) error {
	var raw []byte
	err := transport.Retry(ctx, c.cfg.Retry, op, c.logger, func(ctx context.Context) error {
		var err error
		raw, _, err = transport.SendJSON(ctx, c.http, transport.Request{
			Method:  http.MethodGet,
			URL:     c.cfg.BaseURL + path,
			Headers: c.headers(),
		}, c.logger)
		return err
	})
	if err != nil {
		return withJob(err, jobID)
	}
	if err := decodeValidated(schema, raw, out); err != nil {
		return common.NewAppError(common.KindTransport, op, "unexpected response shape", err).WithJob(jobID)
	}
	return nil
}

func isTransientBlob(err error) bool {
	if common.KindOf(err) != common.KindBlobFetch {
		return false
	}
	code := common.StatusCodeOf(err)
	return code == 0 || code >= 500
}

// withJob annotates a top-level AppError with the job id.
func withJob(err error, jobID string) error {
	if ae, ok := err.(*common.AppError); ok && ae.JobID == "" {
		return ae.WithJob(jobID)
	}
	return err
}
