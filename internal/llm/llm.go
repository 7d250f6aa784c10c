// Package llm talks to an OpenAI-compatible chat-completion backend.
// Local Ollama servers expose the same surface under /v1, so one client
// covers both hosted and local models.
package llm

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatClient interface {
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, model, input string) ([]float32, error)
}

// Client is the full backend surface the agent needs.
type Client interface {
	ChatClient
	Embedder
}
