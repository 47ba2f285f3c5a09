package llm

import "context"

// Client is the interface the workflow engine consumes. The engine treats
// the model as an oracle: history in, either text or tool calls out.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
