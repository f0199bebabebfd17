package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/toolchat/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Responses can take a long time before headers arrive; rely on
	// ctx deadlines instead of a global client timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey: apiKey,
		url:    anthropicAPIURL,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithRetry(1, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat sends a chat completion request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	anthropicMsgs, systemPrompt := convertToAnthropic(messages)
	anthropicTools := convertToolsToAnthropic(tools)

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(anthropicMsgs),
		"tools", len(anthropicTools),
		"system_len", len(systemPrompt),
	)

	req := anthropicRequest{
		Model:     model,
		Messages:  anthropicMsgs,
		System:    systemPrompt,
		MaxTokens: anthropicMaxTokens,
		Tools:     anthropicTools,
	}

	var resp anthropicResponse
	status, err := c.post(ctx, req, &resp)
	if err != nil {
		return nil, completionError("anthropic", model, status, err)
	}

	result := convertFromAnthropic(&resp)
	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping sends a one-token request to verify the API key works.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	req := anthropicRequest{
		Model:     "claude-3-5-haiku-latest",
		Messages:  []anthropicMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	var resp anthropicResponse
	status, err := c.post(ctx, req, &resp)
	if status == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	return err
}

// post sends req and decodes a 200 response into out. The returned
// status is the HTTP status when the endpoint answered.
func (c *AnthropicClient) post(ctx context.Context, req anthropicRequest, out *anthropicResponse) (int, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return resp.StatusCode, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// convertToAnthropic converts internal messages to Anthropic format.
// System messages are lifted into the separate system prompt.
// Consecutive tool results are merged into one user message, which
// the API requires when an assistant turn made several tool calls.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, anthropicMessage{Role: RoleAssistant, Content: msg.Content})
				continue
			}
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for i, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s_%d", tc.Function.Name, i)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    id,
					Name:  tc.Function.Name,
					Input: args,
				})
			}
			result = append(result, anthropicMessage{Role: RoleAssistant, Content: blocks})

		case RoleTool:
			block := anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if n := len(result); n > 0 && result[n-1].Role == RoleUser {
				if prev, ok := result[n-1].Content.([]anthropicContent); ok && len(prev) > 0 && prev[0].Type == "tool_result" {
					result[n-1].Content = append(prev, block)
					continue
				}
			}
			result = append(result, anthropicMessage{Role: RoleUser, Content: []anthropicContent{block}})

		case RoleUser:
			result = append(result, anthropicMessage{Role: RoleUser, Content: msg.Content})
		}
	}

	return result, strings.Join(systemParts, "\n\n")
}

// convertToolsToAnthropic converts OpenAI-format tool definitions to Anthropic format.
func convertToolsToAnthropic(tools []map[string]any) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	var result []anthropicTool
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}

		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params := fn["parameters"]
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		result = append(result, anthropicTool{
			Name:        name,
			Description: desc,
			InputSchema: params,
		})
	}
	return result
}

// convertFromAnthropic converts an Anthropic response to our internal format.
func convertFromAnthropic(resp *anthropicResponse) *ChatResponse {
	var content strings.Builder
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       block.ID,
				Function: ToolFunction{Name: block.Name, Arguments: args},
			})
		}
	}

	return &ChatResponse{
		Model:     resp.Model,
		CreatedAt: time.Now(),
		Message: Message{
			Role:      RoleAssistant,
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		StopReason:   resp.StopReason,
	}
}
