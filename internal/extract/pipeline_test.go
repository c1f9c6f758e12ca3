package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

type fakeVision struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
	mimes []string
}

func (f *fakeVision) Transcribe(_ context.Context, _ []byte, mimeType, _ string) (Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.mimes = append(f.mimes, mimeType)
	if f.err != nil {
		return Transcription{}, f.err
	}
	return Transcription{Text: f.text, Model: "vision-test", InputTokens: 1000, OutputTokens: 500}, nil
}

func pdfWithText(text string) []byte {
	return []byte("%PDF-1.4\n1 0 obj << /Length 99 >> stream\nBT /F1 12 Tf 72 720 Td (" + text + ") Tj ET\nendstream endobj\n%%EOF")
}

func TestExtractStructuralSkipsVision(t *testing.T) {
	t.Parallel()
	vision := &fakeVision{text: "unused"}
	p := NewPipeline(DefaultThresholds(), vision, nil)

	out, err := p.Extract(context.Background(), Input{
		Data:         pdfWithText(strings.Repeat("Q. Where were you? A. At home. ", 10)),
		ContentType:  constants.MimePDF,
		ArtifactID:   "doc-1",
		ArtifactType: constants.ArtifactReport,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, constants.MethodStructural, out.Result.Method)
	assert.Equal(t, constants.ContentPopulated, out.State)
	assert.False(t, out.Result.LowConfidence)
	assert.Equal(t, "doc-1", out.Result.ArtifactID)
	assert.Equal(t, constants.ArtifactReport, out.Result.ArtifactType)
	assert.Equal(t, 0, vision.calls)
	assert.Nil(t, out.Vision)
}

func TestExtractFallsBackToVisionExactlyOnce(t *testing.T) {
	t.Parallel()
	transcript := "Page 1\nLine 1 Q. State your name.\nLine 2 A. Jane Doe.\n" + strings.Repeat("Line n A. Yes.\n", 10)
	vision := &fakeVision{text: transcript}
	p := NewPipeline(DefaultThresholds(), vision, nil)

	out, err := p.Extract(context.Background(), Input{Data: pdfWithText("Page 1"), ContentType: "application/octet-stream"})
	require.NoError(t, err)
	assert.Equal(t, 1, vision.calls)
	assert.Equal(t, []string{constants.MimePDF}, vision.mimes)
	assert.Equal(t, constants.MethodVision, out.Result.Method)
	assert.Equal(t, constants.ContentPopulated, out.State)
	assert.Equal(t, strings.TrimSpace(transcript), out.Result.Content)
	require.NotNil(t, out.Vision)
	assert.Equal(t, 1000, out.Vision.InputTokens)
}

func TestExtractVisionFailureIsExtractionError(t *testing.T) {
	t.Parallel()
	vision := &fakeVision{err: errors.New("model overloaded")}
	p := NewPipeline(DefaultThresholds(), vision, nil)

	out, err := p.Extract(context.Background(), Input{Data: pdfWithText("Exhibit A"), ContentType: constants.MimePDF, ArtifactID: "r1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrExtraction)
	assert.Equal(t, 1, vision.calls)

	// the partial structural text survives behind the low-confidence marker
	require.NotNil(t, out.Result)
	assert.Equal(t, "Exhibit A", out.Result.Content)
	assert.True(t, out.Result.LowConfidence)
	assert.Equal(t, constants.MethodStructural, out.Result.Method)
	assert.Equal(t, "r1", out.Result.ArtifactID)
	assert.Equal(t, constants.ContentMissing, out.State)
	assert.Nil(t, out.Vision)
}

func TestExtractVisionFailureWithoutStructuralText(t *testing.T) {
	t.Parallel()
	p := NewPipeline(DefaultThresholds(), &fakeVision{err: errors.New("model overloaded")}, nil)

	out, err := p.Extract(context.Background(), Input{Data: pdfWithText(""), ContentType: constants.MimePDF})
	assert.ErrorIs(t, err, common.ErrExtraction)
	assert.Nil(t, out.Result)
}

func TestExtractEmptyVisionIsExtractionError(t *testing.T) {
	t.Parallel()
	p := NewPipeline(DefaultThresholds(), &fakeVision{text: "   "}, nil)

	out, err := p.Extract(context.Background(), Input{Data: pdfWithText(""), ContentType: constants.MimePDF})
	assert.ErrorIs(t, err, common.ErrExtraction)
	assert.Nil(t, out.Result)
}

func TestExtractShortVisionIsFlagged(t *testing.T) {
	t.Parallel()
	p := NewPipeline(DefaultThresholds(), &fakeVision{text: "No appearance."}, nil)

	out, err := p.Extract(context.Background(), Input{Data: pdfWithText(""), ContentType: constants.MimePDF})
	require.NoError(t, err)
	assert.Equal(t, constants.ContentShort, out.State)
	assert.Equal(t, constants.MethodVision, out.Result.Method)
	assert.Equal(t, "No appearance.", out.Result.Content)
}

func TestExtractWithoutVisionPassesPartialText(t *testing.T) {
	t.Parallel()
	p := NewPipeline(DefaultThresholds(), nil, nil)

	out, err := p.Extract(context.Background(), Input{Data: pdfWithText("Exhibit A"), ContentType: constants.MimePDF})
	require.NoError(t, err)
	assert.True(t, out.Result.LowConfidence)
	assert.Equal(t, constants.ContentShort, out.State)
	assert.Equal(t, "Exhibit A", out.Result.Content)

	_, err = p.Extract(context.Background(), Input{Data: []byte{0x00, 0x01, 0x02}, ContentType: constants.MimePDF})
	assert.ErrorIs(t, err, common.ErrExtraction)
}

func TestExtractDirectAndRawArtifacts(t *testing.T) {
	t.Parallel()
	vision := &fakeVision{}
	p := NewPipeline(DefaultThresholds(), vision, nil)
	summary := strings.Repeat("The witness testified about the incident. ", 3)

	out, err := p.Extract(context.Background(), Input{
		Data:        []byte(`{"id":"r1","summary":"` + summary + `"}`),
		ContentType: "application/json; charset=utf-8",
	})
	require.NoError(t, err)
	assert.Equal(t, constants.MethodDirect, out.Result.Method)
	assert.Equal(t, strings.TrimSpace(summary), out.Result.Content)

	out, err = p.Extract(context.Background(), Input{Data: []byte("  short note \n"), ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, constants.MethodRawFallback, out.Result.Method)
	assert.Equal(t, "short note", out.Result.Content)
	assert.Equal(t, constants.ContentShort, out.State)

	assert.Equal(t, 0, vision.calls)
}

func TestExtractEmptyArtifact(t *testing.T) {
	t.Parallel()
	_, err := NewPipeline(DefaultThresholds(), nil, nil).Extract(context.Background(), Input{})
	assert.ErrorIs(t, err, common.ErrExtraction)
}
