package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nugget/toolchat/internal/llm"
	"github.com/nugget/toolchat/internal/tools"
)

const (
	testPrimary  = "gpt-4"
	testFallback = "gpt-3.5-turbo"
)

// mockLLM returns scripted responses in order. Requests for a model in
// failModels fail without consuming a response.
type mockLLM struct {
	mu         sync.Mutex
	responses  []*llm.ChatResponse
	callIndex  int
	calls      []mockLLMCall
	failModels map[string]error
}

type mockLLMCall struct {
	Model    string
	Messages []llm.Message
	Tools    []map[string]any
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []llm.Message, td []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, mockLLMCall{Model: model, Messages: msgs, Tools: td})

	if err, ok := m.failModels[model]; ok {
		return nil, &llm.CompletionError{Provider: "openai", Model: model, StatusCode: 401, Err: err}
	}
	if m.callIndex >= len(m.responses) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", m.callIndex)
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func (m *mockLLM) models() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Model
	}
	return out
}

func textResp(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func toolResp(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		InputTokens:  80,
		OutputTokens: 10,
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.ToolFunction{Name: name, Arguments: args}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildTestLoop wires a loop around mock with the calculator plus any
// extra tools. mutate may adjust the config before construction.
func buildTestLoop(t *testing.T, mock *mockLLM, mutate func(*Config), extra ...*tools.Tool) *Loop {
	t.Helper()
	reg, err := tools.NewRegistry(append([]*tools.Tool{tools.NewCalculatorTool()}, extra...)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cfg := Config{
		Client:        mock,
		Registry:      reg,
		PrimaryModel:  testPrimary,
		FallbackModel: testFallback,
		Logger:        quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := NewLoop("conv-test", cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

func staticTool(name, out string, err error) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: "test tool " + name,
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, map[string]any) (string, error) {
			return out, err
		},
	}
}
