package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Request describes one JSON call.
type Request struct {
	Method  string
	URL     string
	Body    any // nil sends no body
	Headers map[string]string
}

// SendJSON performs one JSON request and returns the raw 2xx response body.
// Failures are classified:
//   - network errors and non-2xx statuses are KindTransport (404 is KindNotFound),
//   - a 2xx body that is not JSON (an HTML proxy page, plain text) is KindNonJSON.
func SendJSON(ctx context.Context, client *http.Client, req Request, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	reqID := common.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	if jobID := common.JobIDFromContext(ctx); jobID != "" {
		logger = logger.With("job_id", jobID)
	}
	start := time.Now()
	op := "http " + req.Method

	var body io.Reader
	contentLength := 0
	if req.Body != nil {
		bs, err := json.Marshal(req.Body)
		if err != nil {
			logger.Error("transport.http.encode_error", "req_id", reqID, "error", err)
			return nil, 0, fmt.Errorf("encode json: %w", err)
		}
		body = bytes.NewReader(bs)
		contentLength = len(bs)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		logger.Error("transport.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", reqID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	logger.Debug("transport.http.request",
		"req_id", reqID,
		"method", req.Method,
		"url", req.URL,
		"content_length", contentLength,
	)

	resp, err := client.Do(httpReq)
	if err != nil {
		logger.Warn("transport.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		if ctx.Err() != nil {
			return nil, 0, common.ContextError(op, ctx.Err())
		}
		return nil, 0, common.NewAppError(common.KindTransport, op, "request failed", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("transport.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, common.NewAppError(common.KindTransport, op, "read body", err).WithStatus(resp.StatusCode)
	}

	logger.Debug("transport.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusNotFound {
		return raw, resp.StatusCode, common.NewAppError(common.KindNotFound, op, Describe(raw), nil).WithStatus(resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		msg := fmt.Sprintf("non-2xx status %d: %s", resp.StatusCode, Describe(raw))
		return raw, resp.StatusCode, common.NewAppError(common.KindTransport, op, msg, nil).WithStatus(resp.StatusCode)
	}
	if len(bytes.TrimSpace(raw)) > 0 && !LooksLikeJSON(resp.Header.Get("Content-Type"), raw) {
		logger.Warn("transport.http.non_json",
			"req_id", reqID,
			"content_type", resp.Header.Get("Content-Type"),
			"summary", Describe(raw),
		)
		return raw, resp.StatusCode, common.NewAppError(common.KindNonJSON, op, Describe(raw), nil).WithStatus(resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}

// Fetch performs an unauthenticated GET (used for presigned URLs) and returns the body and its content type.
// Any failure is KindBlobFetch.
func Fetch(ctx context.Context, client *http.Client, url string, logger *slog.Logger) ([]byte, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	start := time.Now()
	const op = "blob fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", common.NewAppError(common.KindBlobFetch, op, "build request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", common.ContextError(op, ctx.Err())
		}
		return nil, "", common.NewAppError(common.KindBlobFetch, op, "request failed", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("transport.fetch.response_body_close_error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, Describe(raw))
		return nil, "", common.NewAppError(common.KindBlobFetch, op, msg, nil).WithStatus(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", common.NewAppError(common.KindBlobFetch, op, "read body", err).WithStatus(resp.StatusCode)
	}

	logger.Debug("transport.fetch.ok",
		"bytes", len(data),
		"content_type", resp.Header.Get("Content-Type"),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, resp.Header.Get("Content-Type"), nil
}

// Put uploads data to a presigned URL. No auth headers are added.
func Put(ctx context.Context, client *http.Client, url, contentType string, data []byte, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	const op = "blob put"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.ContentLength = int64(len(data))

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return common.ContextError(op, ctx.Err())
		}
		return common.NewAppError(common.KindTransport, op, "request failed", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("transport.put.response_body_close_error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, Describe(raw))
		return common.NewAppError(common.KindTransport, op, msg, nil).WithStatus(resp.StatusCode)
	}
	logger.Debug("transport.put.ok", "bytes", len(data))
	return nil
}

// IsTransient reports whether an error from SendJSON is worth retrying:
// network failures, 5xx, 429 and non-JSON bodies.
func IsTransient(err error) bool {
	switch common.KindOf(err) {
	case common.KindNonJSON:
		return true
	case common.KindTransport:
		code := common.StatusCodeOf(err)
		return code == 0 || code >= 500 || code == http.StatusTooManyRequests
	}
	return false
}

// LooksLikeJSON checks the declared content type first, then sniffs the body.
func LooksLikeJSON(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") || strings.HasPrefix(ct, "text/plain") {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return strings.Contains(ct, "json")
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

// Describe summarises a response body for error messages: the <title> of an HTML page,
// otherwise the first 200 characters.
func Describe(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty body"
	}
	if trimmed[0] == '<' {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed)); err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return "html page: " + title
			}
		}
		return "html page"
	}
	s := string(trimmed)
	if utf8.RuneCountInString(s) > 200 {
		s = string([]rune(s)[:200]) + "…"
	}
	return s
}
