package adapter

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Usage for a single chat call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatOptions configures a chat model handle. Nil fields keep the provider default.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   *int64
	MaxRetries  *int
	// Extra is set on every request body as-is (decoding parameters and the like).
	Extra map[string]any
}

// ChatModel is a client bound to a single model identifier.
type ChatModel interface {
	Model() string

	// Chat returns only the assistant text
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatWithUsage returns assistant text + usage as reported by the provider.
	ChatWithUsage(ctx context.Context, messages []Message) (string, Usage, error)
}

// ChatModelFactory builds handles. It does not check that modelID exists;
// a bad id surfaces on the first chat call.
type ChatModelFactory interface {
	NewChatModel(modelID string, opts ChatOptions) (ChatModel, error)
}
