package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/transport"
)

var _ llm.ChatCompletionClient = (*Client)(nil)

// Complete implements llm.ChatCompletionClient against /chat/completions. Transient failures
// (network, 429, 5xx, non-JSON bodies) are retried through the shared retry helper.
func (c *Client) Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	const op = "openai.complete"
	rid := uuid.New().String()
	start := time.Now()

	if c.cfg.APIKey == "" {
		return llm.ChatResponse{}, common.NewAppError(common.KindConfig, op, "no API key configured", nil)
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	body := map[string]any{
		"model":    model,
		"messages": encodeMessages(req.Messages),
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"model", model,
		"messages", len(req.Messages),
		"has_attachment", hasAttachment(req.Messages),
	)

	endpoint := c.cfg.BaseURL + "/chat/completions"
	var raw []byte
	err := transport.Retry(ctx, c.cfg.Retry, op, c.logger, func(ctx context.Context) error {
		var err error
		raw, _, err = transport.SendJSON(ctx, c.http, transport.Request{
			Method:  http.MethodPost,
			URL:     endpoint,
			Body:    body,
			Headers: map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
		}, c.logger)
		return err
	})
	if err != nil {
		c.logger.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ChatResponse{}, err
	}

	if err := llm.ValidateJSONAgainstSchema(llm.BuildChatCompletionSchema(), raw); err != nil {
		c.logger.Error("llm.complete.schema_validation_failed",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ChatResponse{}, common.NewAppError(common.KindTransport, op, "unexpected response shape", err)
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.ChatResponse{}, common.NewAppError(common.KindTransport, op, "decode response", err)
	}

	out := llm.ChatResponse{
		Text:         strings.TrimSpace(cc.Choices[0].Message.Content),
		Model:        cc.Model,
		FinishReason: cc.Choices[0].FinishReason,
		InputTokens:  cc.Usage.PromptTokens,
		OutputTokens: cc.Usage.CompletionTokens,
	}
	if out.Model == "" {
		out.Model = model
	}

	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"model", out.Model,
		"finish_reason", out.FinishReason,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// encodeMessages renders messages in the chat/completions shape. A message with an attachment
// becomes a content array: the text part, then an image_url or file part carrying a data URL.
func encodeMessages(msgs []llm.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		if m.Attachment == nil {
			out = append(out, map[string]any{"role": m.Role, "content": m.Content})
			continue
		}
		a := m.Attachment
		dataURL := llm.DataURL(a.Data, a.MimeType)
		var part map[string]any
		if llm.IsImage(a.MimeType) {
			part = map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": dataURL, "detail": "high"},
			}
		} else {
			filename := a.Filename
			if filename == "" {
				filename = "document.pdf"
			}
			part = map[string]any{
				"type": "file",
				"file": map[string]any{"filename": filename, "file_data": dataURL},
			}
		}
		out = append(out, map[string]any{
			"role": m.Role,
			"content": []map[string]any{
				{"type": "text", "text": m.Content},
				part,
			},
		})
	}
	return out
}

func hasAttachment(msgs []llm.Message) bool {
	for _, m := range msgs {
		if m.Attachment != nil {
			return true
		}
	}
	return false
}
