// Package vault stages source documents in the document vault so workflow jobs can
// reference them: containers, two-phase blob upload, ingestion and extracted text.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/transport"
)

// Ingestion states reported by the vault.
const (
	IngestionPending    = "pending"
	IngestionProcessing = "processing"
	IngestionCompleted  = "completed"
	IngestionFailed     = "failed"
)

// Config for the vault API.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	IngestPoll    time.Duration
	IngestTimeout time.Duration
	Retry         transport.Policy
}

func ConfigFrom(vc common.VaultConfig, rc common.RetryConfig) Config {
	return Config{
		BaseURL:       vc.BaseURL,
		APIKey:        vc.APIKey,
		Timeout:       vc.RequestTimeout,
		IngestPoll:    vc.IngestPoll,
		IngestTimeout: vc.IngestTimeout,
		Retry:         transport.PolicyFromConfig(rc),
	}
}

// Container groups the documents of one matter.
type Container struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Object is an uploaded document. Its ID is what workflow jobs reference.
type Object struct {
	ID          string `json:"id"`
	ContainerID string `json:"container_id"`
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Ingestion is the indexing progress of one object.
type Ingestion struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Pages  int    `json:"pages,omitempty"`
}

func (i Ingestion) Done() bool {
	return i.Status == IngestionCompleted || i.Status == IngestionFailed
}

// BlobStore places object bytes outside the vault and hands out presigned URLs for them.
type BlobStore interface {
	PresignPut(ctx context.Context, key string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// Client talks to the vault API.
type Client struct {
	cfg    Config
	http   *http.Client
	blobs  BlobStore
	logger *slog.Logger
}

// NewClient builds a vault client. blobs may be nil, in which case the vault itself
// issues upload and download URLs.
func NewClient(cfg Config, blobs BlobStore, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IngestPoll <= 0 {
		cfg.IngestPoll = 3 * time.Second
	}
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = 10 * time.Minute
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
		http:   &http.Client{Timeout: cfg.Timeout},
		blobs:  blobs,
		logger: logger,
	}
}

// IsTransientConflict reports the vault's "busy" answer to an ingestion trigger:
// a 409 whose body says an operation is already in progress.
func IsTransientConflict(err error) bool {
	if common.StatusCodeOf(err) != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "operation already in progress")
}

// CreateContainer creates a container.
func (c *Client) CreateContainer(ctx context.Context, name string) (Container, error) {
	const op = "vault.create_container"
	if err := common.ValidateAndReturnError(
		common.NewValidator().Field("name", name, common.Required, common.MaxLength(200)),
		common.KindSubmission, op); err != nil {
		return Container{}, err
	}
	var out Container
	if err := c.call(ctx, op, http.MethodPost, "/vaults", map[string]string{"name": name}, &out); err != nil {
		return Container{}, err
	}
	if out.Name == "" {
		out.Name = name
	}
	c.logger.Info("vault.container.created", "container_id", out.ID, "name", name)
	return out, nil
}

// UploadBlob stores data in a container in two phases: obtain a presigned PUT URL, then
// send the bytes straight to it. The returned object is registered with the vault.
func (c *Client) UploadBlob(ctx context.Context, containerID, filename, contentType string, data []byte) (Object, error) {
	const op = "vault.upload_blob"
	if len(data) == 0 {
		return Object{}, common.NewAppError(common.KindSubmission, op, "empty document", common.ErrInvalidInput)
	}
	start := time.Now()
	base := "/vaults/" + url.PathEscape(containerID) + "/objects"

	var slot struct {
		Object
		UploadURL string `json:"upload_url"`
	}
	req := map[string]any{"filename": filename, "content_type": contentType, "size": len(data)}
	if c.blobs != nil {
		req["external"] = true
	}
	if err := c.call(ctx, op, http.MethodPost, base, req, &slot); err != nil {
		return Object{}, err
	}
	obj := slot.Object
	obj.ContainerID = containerID
	if obj.Filename == "" {
		obj.Filename = filename
	}
	obj.ContentType = contentType
	obj.Size = len(data)

	uploadURL := slot.UploadURL
	if c.blobs != nil {
		if obj.Key == "" {
			obj.Key = containerID + "/" + obj.ID + "/" + filename
		}
		u, err := c.blobs.PresignPut(ctx, obj.Key)
		if err != nil {
			return Object{}, common.NewAppError(common.KindTransport, op, "presign upload", err)
		}
		uploadURL = u
	}
	if uploadURL == "" {
		return Object{}, common.NewAppError(common.KindNoDownloadURL, op, "vault returned no upload url", nil)
	}

	if err := transport.Put(ctx, nil, uploadURL, contentType, data, c.logger); err != nil {
		c.logger.Error("vault.upload.put_failed", "object_id", obj.ID, "error", err)
		return Object{}, err
	}

	if c.blobs != nil {
		path := base + "/" + url.PathEscape(obj.ID) + "/confirm"
		if err := c.call(ctx, op, http.MethodPost, path, map[string]any{"key": obj.Key, "size": len(data)}, nil); err != nil {
			return Object{}, err
		}
	}

	c.logger.Info("vault.upload.ok",
		"container_id", containerID,
		"object_id", obj.ID,
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return obj, nil
}

// TriggerIngestion starts indexing an object. A busy vault is retried with backoff.
func (c *Client) TriggerIngestion(ctx context.Context, containerID, objectID string) error {
	const op = "vault.trigger_ingestion"
	policy := c.cfg.Retry.WithRetryable(func(err error) bool {
		return IsTransientConflict(err) || transport.IsTransient(err)
	})
	path := c.objectPath(containerID, objectID) + "/ingest"
	err := transport.Retry(ctx, policy, op, c.logger, func(ctx context.Context) error {
		return c.call(ctx, op, http.MethodPost, path, map[string]string{}, nil)
	})
	if err != nil {
		c.logger.Error("vault.ingestion.trigger_failed", "object_id", objectID, "error", err)
		return err
	}
	c.logger.Info("vault.ingestion.triggered", "container_id", containerID, "object_id", objectID)
	return nil
}

// IngestionStatus reads the indexing state of an object.
func (c *Client) IngestionStatus(ctx context.Context, containerID, objectID string) (Ingestion, error) {
	const op = "vault.ingestion_status"
	var out Ingestion
	err := c.retried(ctx, op, func(ctx context.Context) error {
		return c.call(ctx, op, http.MethodGet, c.objectPath(containerID, objectID)+"/ingestion", nil, &out)
	})
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	return out, err
}

// WaitForIngestion polls IngestionStatus until the object is indexed. A failed
// ingestion is a KindExtraction error.
func (c *Client) WaitForIngestion(ctx context.Context, containerID, objectID string) (Ingestion, error) {
	const op = "vault.wait_ingestion"
	ctx, cancel := context.WithTimeout(ctx, c.cfg.IngestTimeout)
	defer cancel()
	for {
		st, err := c.IngestionStatus(ctx, containerID, objectID)
		if err != nil {
			return st, err
		}
		switch st.Status {
		case IngestionCompleted:
			return st, nil
		case IngestionFailed:
			return st, common.NewAppError(common.KindExtraction, op, "ingestion failed: "+st.Error, nil)
		}
		c.logger.Debug("vault.ingestion.waiting", "object_id", objectID, "status", st.Status)
		if err := common.SleepContext(ctx, c.cfg.IngestPoll); err != nil {
			return st, common.ContextError(op, err)
		}
	}
}

// ExtractedText returns the text the vault extracted while ingesting.
func (c *Client) ExtractedText(ctx context.Context, containerID, objectID string) (string, error) {
	const op = "vault.extracted_text"
	var out struct {
		Text string `json:"text"`
	}
	err := c.retried(ctx, op, func(ctx context.Context) error {
		return c.call(ctx, op, http.MethodGet, c.objectPath(containerID, objectID)+"/text", nil, &out)
	})
	return out.Text, err
}

// PresignedURL returns a short-lived download URL for an object.
func (c *Client) PresignedURL(ctx context.Context, obj Object) (string, error) {
	const op = "vault.presigned_url"
	if c.blobs != nil && obj.Key != "" {
		u, err := c.blobs.PresignGet(ctx, obj.Key)
		if err != nil {
			return "", common.NewAppError(common.KindNoDownloadURL, op, "presign download", err)
		}
		return u, nil
	}
	var out struct {
		URL string `json:"download_url"`
	}
	err := c.retried(ctx, op, func(ctx context.Context) error {
		return c.call(ctx, op, http.MethodGet, c.objectPath(obj.ContainerID, obj.ID)+"/download-url", nil, &out)
	})
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", common.NewAppError(common.KindNoDownloadURL, op, "vault returned no download url", nil)
	}
	return out.URL, nil
}

func (c *Client) objectPath(containerID, objectID string) string {
	return "/vaults/" + url.PathEscape(containerID) + "/objects/" + url.PathEscape(objectID)
}

func (c *Client) retried(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return transport.Retry(ctx, c.cfg.Retry, op, c.logger, fn)
}

// call performs one authenticated JSON request and decodes the response into out when set.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	if c.cfg.BaseURL == "" {
		return common.NewAppError(common.KindConfig, op, "vault base url is not configured", nil)
	}
	raw, _, err := transport.SendJSON(ctx, c.http, transport.Request{
		Method:  method,
		URL:     c.cfg.BaseURL + path,
		Body:    body,
		Headers: map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
	}, c.logger)
	if err != nil {
		return err
	}
	if out == nil || len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return common.NewAppError(common.KindNonJSON, op, fmt.Sprintf("decode response: %v", err), err)
	}
	return nil
}
