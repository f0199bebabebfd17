package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"` // Provider-assigned, correlates the tool result
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its decoded arguments.
type ToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at provider boundaries (openai.go, anthropic.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// StopReason is the provider's finish reason, when reported.
	StopReason string
}
