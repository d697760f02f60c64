package models

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role    string
	Content string
	Name    string
}

// ChatRequest is the canonical representation of a chat completion request.
type ChatRequest struct {
	Model    string
	Messages []Message
	Stream   bool
}

// ChatResponse captures a completed (non-streaming) chat response.
type ChatResponse struct {
	ID           string
	Model        string
	Created      int64
	Message      Message
	FinishReason string
	Usage        Usage
}

// StreamChunk is one unit of pseudo-streamed output. Delta carries only the
// text appended since the previous chunk; FinishReason is empty until the
// terminal chunk, which carries "stop" and an empty delta.
type StreamChunk struct {
	ID           string
	Model        string
	Created      int64
	Role         string
	Delta        string
	FinishReason string
}

// Usage records token accounting information. PromptTokens is always zero:
// the vendor platform does not report prompt-side counts.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
