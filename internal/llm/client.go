// Package llm provides completion clients for the chat providers
// toolchat talks to.
package llm

import "context"

// Client is the interface that all completion providers implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools are OpenAI-style function definitions
	// ({"type":"function","function":{name,description,parameters}}).
	// Transport, authentication and endpoint failures are returned as
	// *CompletionError.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable and the credentials work.
	Ping(ctx context.Context) error
}
