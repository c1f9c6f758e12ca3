package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

const op = "extract"

// resultKeys are checked in order when a machine-readable result carries its text in a field.
var resultKeys = []string{"content", "text", "summary", "result", "output"}

// Pipeline turns artifact bytes into text: direct read for JSON and text artifacts,
// otherwise structural tiers and then the vision fallback.
type Pipeline struct {
	thresholds Thresholds
	vision     VisionTranscriber
	logger     *slog.Logger
}

// NewPipeline builds a pipeline. vision may be nil, in which case insufficient structural
// text is passed through as low confidence.
func NewPipeline(t Thresholds, vision VisionTranscriber, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{thresholds: t, vision: vision, logger: logger}
}

// Extract runs the tiers over one artifact. The vision tier is called at most once.
// A KindExtraction error means nothing usable was produced; it never implies a job failure.
func (p *Pipeline) Extract(ctx context.Context, in Input) (Outcome, error) {
	start := time.Now()
	size := len(in.Data)
	threshold := p.thresholds.For(size)
	out := Outcome{Threshold: threshold}

	if size == 0 {
		return out, common.NewAppError(common.KindExtraction, op, "artifact is empty", nil)
	}
	ct := constants.NormalizeMime(in.ContentType)

	switch {
	case ct == constants.MimeJSON:
		text := directText(in.Data)
		return p.accept(out, in, text, constants.MethodDirect, start)
	case constants.IsTextMime(ct):
		return p.accept(out, in, strings.TrimSpace(string(in.Data)), constants.MethodRawFallback, start)
	}

	// tier 1: literal operator scan
	best := ScanStructural(in.Data, threshold)
	if best.Sufficient {
		return p.finish(out, in, best.Text, constants.MethodStructural, false, constants.ContentPopulated, start), nil
	}

	// tier 2: full parser for compressed streams
	if looksLikePDF(in.Data) {
		parsed, err := ScanPDF(in.Data, threshold)
		if err != nil {
			p.logger.Debug("extract.pdf_reader.failed", "artifact_id", in.ArtifactID, "error", err)
		}
		if parsed.Sufficient {
			return p.finish(out, in, parsed.Text, constants.MethodStructural, false, constants.ContentPopulated, start), nil
		}
		if parsed.CharCount > best.CharCount {
			best = parsed
		}
	}

	p.logger.Info("extract.structural.insufficient",
		"artifact_id", in.ArtifactID,
		"chars", best.CharCount,
		"threshold", threshold,
		"bytes", size,
	)

	// tier 3: vision
	if p.vision == nil {
		if best.CharCount == 0 {
			return out, common.NewAppError(common.KindExtraction, op, "no structural text and no vision fallback configured", nil)
		}
		return p.finish(out, in, best.Text, constants.MethodStructural, true, constants.ContentShort, start), nil
	}

	mimeType := ct
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = constants.MimePDF
	}
	tr, err := p.vision.Transcribe(ctx, in.Data, mimeType, in.Filename)
	if err != nil {
		p.logger.Error("extract.vision.failed",
			"artifact_id", in.ArtifactID,
			"partial_chars", best.CharCount,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return p.partial(out, in, best), common.NewAppError(common.KindExtraction, op,
			fmt.Sprintf("structural text insufficient (%d chars) and vision fallback failed", best.CharCount), err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return p.partial(out, in, best), common.NewAppError(common.KindExtraction, op, "vision fallback returned no text", nil)
	}
	out.Vision = &tr

	state := constants.ContentPopulated
	if utf8.RuneCountInString(text) <= threshold {
		state = constants.ContentShort
	}
	return p.finish(out, in, text, constants.MethodVision, false, state, start), nil
}

// partial keeps insufficient structural text as a low-confidence result next to an
// extraction error. State stays missing so the download can be retried.
func (p *Pipeline) partial(out Outcome, in Input, best StructuralResult) Outcome {
	if best.CharCount == 0 {
		return out
	}
	out.Result = &entity.ExtractionResult{
		Content:       best.Text,
		Method:        constants.MethodStructural,
		SizeBytes:     len(in.Data),
		CharCount:     best.CharCount,
		LowConfidence: true,
		ArtifactID:    in.ArtifactID,
		ArtifactType:  in.ArtifactType,
	}
	out.State = constants.ContentMissing
	return out
}

// accept handles artifacts whose text is read as-is.
func (p *Pipeline) accept(out Outcome, in Input, text string, method constants.ExtractionMethod, start time.Time) (Outcome, error) {
	if text == "" {
		return out, common.NewAppError(common.KindExtraction, op, "artifact has no text", nil)
	}
	state := constants.ContentPopulated
	if utf8.RuneCountInString(text) <= out.Threshold {
		state = constants.ContentShort
	}
	return p.finish(out, in, text, method, false, state, start), nil
}

func (p *Pipeline) finish(out Outcome, in Input, text string, method constants.ExtractionMethod, lowConfidence bool, state constants.ContentState, start time.Time) Outcome {
	out.Result = &entity.ExtractionResult{
		Content:       text,
		Method:        method,
		SizeBytes:     len(in.Data),
		CharCount:     utf8.RuneCountInString(text),
		LowConfidence: lowConfidence,
		ArtifactID:    in.ArtifactID,
		ArtifactType:  in.ArtifactType,
	}
	out.State = state
	p.logger.Info("extract.ok",
		"artifact_id", in.ArtifactID,
		"method", method,
		"chars", out.Result.CharCount,
		"threshold", out.Threshold,
		"state", state,
		"low_confidence", lowConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// directText reads the text of a JSON result: the first string field among resultKeys,
// or the document itself when none is present.
func directText(data []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		for _, k := range resultKeys {
			if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(buf.String())
}
