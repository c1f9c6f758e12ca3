package llm

import "context"

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Attachment is a document sent inline with a message.
type Attachment struct {
	MimeType string
	Filename string
	Data     []byte
}

type Message struct {
	Role       string
	Content    string
	Attachment *Attachment // optional
}

// ChatRequest is one completion call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float32
	MaxTokens   int
}

// ChatResponse is the text of the first choice plus token usage.
type ChatResponse struct {
	Text         string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// ChatCompletionClient is the collaborator the vision fallback depends on.
// Implementations own their retry policy.
type ChatCompletionClient interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
