package llm

import "strings"

// BuildTranscriptionPrompt is the system message for verbatim document transcription.
// Page, line and speaker markers must come back exactly as printed.
func BuildTranscriptionPrompt() string {
	parts := []string{
		"You are a document transcription engine. Transcribe the attached document verbatim.",
		"Do not summarize, paraphrase, correct or translate anything.",
		"Preserve page markers exactly as printed, and start each new page on its own line as 'Page N' when the page number is visible.",
		"Preserve printed line numbers at the start of each line.",
		"Preserve speaker labels (for example 'Q.', 'A.', 'MR. SMITH:', 'THE WITNESS:') exactly as they appear.",
		"Keep the original line breaks. Do not merge lines.",
		"Mark unreadable words as [illegible].",
		"Output only the transcription, with no commentary before or after it.",
	}
	return strings.Join(parts, " ")
}

// BuildTranscriptionRequest is the user message that accompanies the attachment.
func BuildTranscriptionRequest(filename string) string {
	var b strings.Builder
	b.WriteString("Transcribe this document")
	if f := strings.TrimSpace(filename); f != "" {
		b.WriteString(" (")
		b.WriteString(f)
		b.WriteString(")")
	}
	b.WriteString(" in full.")
	return b.String()
}
