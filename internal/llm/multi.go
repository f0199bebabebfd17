package llm

import (
	"context"
	"fmt"
)

// MultiClient routes requests to the appropriate provider based on
// model name, so a primary and a fallback model may live on different
// providers.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback string            // provider for unknown models
}

// NewMultiClient creates a client whose unmapped models go to the
// provider registered under defaultProvider.
func NewMultiClient(defaultProvider string) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: defaultProvider,
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

// ProviderFor returns the provider name that serves model.
func (m *MultiClient) ProviderFor(model string) string {
	if provider, ok := m.models[model]; ok {
		return provider
	}
	return m.fallback
}

// Chat sends a request to the provider serving model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	provider := m.ProviderFor(model)
	client, ok := m.clients[provider]
	if !ok {
		return nil, completionError(provider, model, 0, fmt.Errorf("no provider configured for model %q", model))
	}
	return client.Chat(ctx, model, messages, tools)
}

// Ping checks the default provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	client, ok := m.clients[m.fallback]
	if !ok {
		return fmt.Errorf("default provider %q not configured", m.fallback)
	}
	return client.Ping(ctx)
}
