package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/extract"
)

// VisionConfig controls the transcription fallback.
type VisionConfig struct {
	Model       string
	Timeout     time.Duration // whole call, retries included
	MaxBytes    int           // documents above this are not sent
	Temperature float32
}

// VisionConfigFrom builds a vision config from application settings.
func VisionConfigFrom(cfg common.LLMConfig) VisionConfig {
	return VisionConfig{
		Model:       cfg.VisionModel,
		Timeout:     cfg.VisionTimeout,
		MaxBytes:    cfg.MaxVisionMB * 1024 * 1024,
		Temperature: cfg.Temperature,
	}
}

// VisionFallback transcribes documents through a multimodal chat completion.
// It implements extract.VisionTranscriber.
type VisionFallback struct {
	client ChatCompletionClient
	cfg    VisionConfig
	logger *slog.Logger
}

var _ extract.VisionTranscriber = (*VisionFallback)(nil)

func NewVisionFallback(client ChatCompletionClient, cfg VisionConfig, logger *slog.Logger) *VisionFallback {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = constants.MaxVisionMBDefault * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionFallback{client: client, cfg: cfg, logger: logger}
}

// Transcribe sends the document inline in a single completion request. An empty
// transcription is an error, never blank content.
func (v *VisionFallback) Transcribe(ctx context.Context, data []byte, mimeType, filename string) (extract.Transcription, error) {
	const op = "llm.vision"
	if len(data) == 0 {
		return extract.Transcription{}, common.NewAppError(common.KindExtraction, op, "empty document", nil)
	}
	if len(data) > v.cfg.MaxBytes {
		return extract.Transcription{}, common.NewAppError(common.KindExtraction, op,
			fmt.Sprintf("document is %d bytes, limit is %d", len(data), v.cfg.MaxBytes), nil)
	}

	mt := DetectMime(mimeType, filename, data)
	start := time.Now()
	v.logger.Info("llm.vision.start",
		"model", v.cfg.Model,
		"mime_type", mt,
		"bytes", len(data),
		"timeout_ms", v.cfg.Timeout.Milliseconds(),
	)

	callCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	temp := v.cfg.Temperature
	resp, err := v.client.Complete(callCtx, ChatRequest{
		Model:       v.cfg.Model,
		Temperature: &temp,
		Messages: []Message{
			{Role: RoleSystem, Content: BuildTranscriptionPrompt()},
			{
				Role:       RoleUser,
				Content:    BuildTranscriptionRequest(filename),
				Attachment: &Attachment{MimeType: mt, Filename: filename, Data: data},
			},
		},
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = common.NewAppError(common.KindTimeout, op, "vision call exceeded "+v.cfg.Timeout.String(), err)
		}
		v.logger.Error("llm.vision.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return extract.Transcription{}, err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		v.logger.Warn("llm.vision.empty", "finish_reason", resp.FinishReason, "elapsed_ms", time.Since(start).Milliseconds())
		return extract.Transcription{}, common.NewAppError(common.KindExtraction, op, "model returned an empty transcription", nil)
	}

	v.logger.Info("llm.vision.ok",
		"model", resp.Model,
		"chars", len([]rune(text)),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"finish_reason", resp.FinishReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	model := resp.Model
	if model == "" {
		model = v.cfg.Model
	}
	return extract.Transcription{
		Text:         text,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}
