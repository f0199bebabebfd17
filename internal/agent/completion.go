package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/toolchat/internal/conversation"
	"github.com/nugget/toolchat/internal/llm"
	"github.com/nugget/toolchat/internal/tools"
)

// Completion is one assistant turn produced by the completion endpoint.
type Completion struct {
	Model        string
	Text         string
	ToolCalls    []conversation.ToolCall
	InputTokens  int
	OutputTokens int
}

// Completer adapts an llm.Client to the conversation model: it renders
// the transcript as provider messages and translates the reply back
// into an assistant turn.
type Completer struct {
	client       llm.Client
	systemPrompt string
}

// NewCompleter wraps client. A non-empty systemPrompt is sent ahead of
// the transcript on every request but never stored in it.
func NewCompleter(client llm.Client, systemPrompt string) *Completer {
	return &Completer{client: client, systemPrompt: systemPrompt}
}

// Complete requests a completion over the whole conversation with the
// given tool specs. Every failure is returned as *llm.CompletionError.
// Tool calls keep the provider's order and ids; a missing or repeated
// id is replaced with call_<round>_<index>.
func (c *Completer) Complete(ctx context.Context, conv *conversation.Conversation, specs []tools.Spec, model string, round int) (*Completion, error) {
	msgs := c.messages(conv.Turns())

	resp, err := c.client.Chat(ctx, model, msgs, tools.Definitions(specs))
	if err != nil {
		var ce *llm.CompletionError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &llm.CompletionError{Model: model, Err: err}
	}
	if resp == nil {
		return nil, &llm.CompletionError{Model: model, Err: errors.New("empty response")}
	}

	out := &Completion{
		Model:        model,
		Text:         resp.Message.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	seen := make(map[string]bool, len(resp.Message.ToolCalls))
	for i, tc := range resp.Message.ToolCalls {
		id := tc.ID
		if id == "" || seen[id] {
			id = fmt.Sprintf("call_%d_%d", round, i)
		}
		seen[id] = true
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (c *Completer) messages(turns []conversation.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: c.systemPrompt})
	}
	for _, t := range turns {
		switch t.Kind {
		case conversation.KindUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Text})
		case conversation.KindAssistant:
			m := llm.Message{Role: llm.RoleAssistant, Content: t.Text}
			for _, tc := range t.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
					ID:       tc.ID,
					Function: llm.ToolFunction{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
			msgs = append(msgs, m)
		case conversation.KindToolResult:
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: t.Content, ToolCallID: t.CallID})
		}
	}
	return msgs
}
