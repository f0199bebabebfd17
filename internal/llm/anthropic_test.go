package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "What is 2+2?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a helpful assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Weather in Chicago and 2*21?"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: ToolFunction{Name: "get_weather", Arguments: map[string]any{"city": "Chicago"}}},
				{ID: "toolu_2", Function: ToolFunction{Name: "calculate", Arguments: map[string]any{"expression": "2*21"}}},
			},
		},
		{Role: RoleTool, Content: "Sunny", ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: "42", ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)

	// user, assistant with tool_use, one user message carrying both results
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	assistantContent, ok := result[1].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected assistant content to be []anthropicContent")
	}
	if len(assistantContent) != 2 || assistantContent[0].Type != "tool_use" || assistantContent[1].ID != "toolu_2" {
		t.Fatalf("unexpected assistant blocks: %+v", assistantContent)
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected tool result content to be []anthropicContent")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 merged tool_result blocks, got %d", len(results))
	}
	if results[0].ToolUseID != "toolu_1" || results[1].ToolUseID != "toolu_2" {
		t.Errorf("tool_result order = %s, %s", results[0].ToolUseID, results[1].ToolUseID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "calculate",
				"description": "Evaluate a mathematical expression",
				"parameters": map[string]any{
					"type":     "object",
					"required": []string{"expression"},
				},
			},
		},
		{"type": "function"}, // malformed, skipped
	}

	result := convertToolsToAnthropic(tools)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Name != "calculate" {
		t.Errorf("expected tool name calculate, got %s", result[0].Name)
	}
	if convertToolsToAnthropic(nil) != nil {
		t.Error("expected nil for no tools")
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Role:  "assistant",
		Model: "claude-sonnet-4-20250514",
		Content: []anthropicContent{
			{Type: "text", Text: "Let me check. "},
			{Type: "tool_use", ID: "toolu_9", Name: "calculate", Input: map[string]any{"expression": "1+1"}},
		},
		StopReason: "tool_use",
		Usage:      anthropicUsage{InputTokens: 12, OutputTokens: 7},
	}

	got := convertFromAnthropic(resp)
	if got.Message.Content != "Let me check. " {
		t.Errorf("content = %q", got.Message.Content)
	}
	if len(got.Message.ToolCalls) != 1 || got.Message.ToolCalls[0].ID != "toolu_9" {
		t.Fatalf("tool calls = %+v", got.Message.ToolCalls)
	}
	if got.InputTokens != 12 || got.OutputTokens != 7 || got.StopReason != "tool_use" {
		t.Errorf("usage/stop = %d/%d/%s", got.InputTokens, got.OutputTokens, got.StopReason)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid x-api-key"}}`))
			return
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"role":"assistant","model":"claude-test","content":[{"type":"text","text":"Hello!"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-ant-test", nil)
	c.url = srv.URL

	resp, err := c.Chat(context.Background(), "claude-test", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Message.Content != "Hello!" {
		t.Errorf("content = %q, want Hello!", resp.Message.Content)
	}
	if gotReq.Model != "claude-test" || gotReq.MaxTokens != anthropicMaxTokens {
		t.Errorf("request = %+v", gotReq)
	}

	bad := NewAnthropicClient("wrong", nil)
	bad.url = srv.URL
	_, err = bad.Chat(context.Background(), "claude-test", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	var ce *CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CompletionError", err)
	}
	if ce.StatusCode != http.StatusUnauthorized || ce.Provider != "anthropic" {
		t.Errorf("CompletionError = %+v", ce)
	}
}
