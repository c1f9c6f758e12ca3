package extract

import (
	"context"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Input is one downloaded artifact.
type Input struct {
	Data         []byte
	ContentType  string
	ArtifactID   string
	ArtifactType string
	Filename     string
}

// Transcription is what the vision tier returns.
type Transcription struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// VisionTranscriber is the fallback tier: document bytes -> verbatim text.
type VisionTranscriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType, filename string) (Transcription, error)
}

// Outcome is the result of running the tiers over one artifact.
type Outcome struct {
	Result    *entity.ExtractionResult
	State     constants.ContentState
	Threshold int
	// Vision is set when the fallback tier ran successfully.
	Vision *Transcription
}
