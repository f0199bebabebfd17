package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/nugget/toolchat/internal/httpkit"
)

// OpenAIClient implements Client on the OpenAI chat completions API.
// Any OpenAI-compatible server (vLLM, Ollama, Groq) can be targeted
// through a base URL override.
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client using apiKey. baseURL may be empty.
// The SDK's own retries are disabled: the dialogue loop owns the
// primary/fallback retry decision.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	// Completions can take a long time before the first header arrives.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithRetry(1, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		)),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		client: &client,
		logger: logger.With("provider", "openai"),
	}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(params.Messages),
		"tools", len(params.Tools),
	)
	if c.logger.Enabled(ctx, LevelTrace) {
		if payload, err := json.Marshal(params); err == nil {
			c.logger.Log(ctx, LevelTrace, "request payload", "json", string(payload))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		c.logger.Error("API error", "model", model, "status", status, "error", err)
		return nil, completionError("openai", model, status, err)
	}
	if len(resp.Choices) == 0 {
		return nil, completionError("openai", model, 0, fmt.Errorf("response contained no choices"))
	}

	choice := resp.Choices[0]
	result := &ChatResponse{
		Model:        resp.Model,
		CreatedAt:    time.Unix(resp.Created, 0),
		Message:      fromOpenAIMessage(choice.Message),
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		StopReason:   string(choice.FinishReason),
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping lists models to verify the endpoint and API key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

// toOpenAIMessages converts internal messages to SDK message unions.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				argJSON, err := json.Marshal(args)
				if err != nil {
					argJSON = []byte("{}")
				}
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: string(argJSON),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

// toOpenAITools converts OpenAI-style tool maps into SDK tool params.
// Entries without a function name are skipped.
func toOpenAITools(tools []map[string]any) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        name,
				Description: openai.String(desc),
				Parameters:  shared.FunctionParameters(params),
			},
		})
	}
	return out
}

// fromOpenAIMessage converts an SDK response message. Arguments that
// are not valid JSON objects are preserved under "_raw" so the tool
// can report the problem instead of the call being dropped.
func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	msg := Message{
		Role:    RoleAssistant,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID: tc.ID,
			Function: ToolFunction{
				Name:      tc.Function.Name,
				Arguments: decodeArguments(tc.Function.Arguments),
			},
		})
	}
	return msg
}

func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}
