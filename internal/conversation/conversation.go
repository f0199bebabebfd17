// Package conversation holds the ordered, append-only transcript of a
// single dialogue: user turns, assistant turns with optional tool
// calls, and the tool results that answer them.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind identifies the variant of a Turn.
type Kind string

// Turn kinds.
const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolResult Kind = "tool_result"
)

var (
	// ErrUncorrelatedResult is returned when a tool result does not
	// answer an outstanding call of the nearest prior assistant turn.
	ErrUncorrelatedResult = errors.New("tool result does not correlate to a pending tool call")

	// ErrPendingResults is returned when a user or assistant turn is
	// appended while tool calls are still waiting for results.
	ErrPendingResults = errors.New("tool calls are still awaiting results")

	// ErrInvalidToolCall is returned for a tool call with an empty or
	// duplicated id.
	ErrInvalidToolCall = errors.New("invalid tool call")
)

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Turn is one entry in the transcript. Which fields are meaningful
// depends on Kind: Text for user and assistant turns, ToolCalls for
// assistant turns, CallID and Content for tool results.
type Turn struct {
	Kind      Kind       `json:"kind"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CallID    string     `json:"call_id,omitempty"`
	Content   string     `json:"content,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Conversation is an append-only transcript. It is safe for concurrent
// use, but is meant to be owned by a single dialogue loop.
type Conversation struct {
	id        string
	createdAt time.Time

	mu      sync.RWMutex
	turns   []Turn
	pending []ToolCall // calls of the last assistant turn still awaiting results
}

// New creates an empty conversation.
func New(id string) *Conversation {
	return &Conversation{id: id, createdAt: time.Now()}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// CreatedAt returns when the conversation was created.
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// AppendUser appends a user turn.
func (c *Conversation) AppendUser(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		return ErrPendingResults
	}
	c.turns = append(c.turns, Turn{Kind: KindUser, Text: text, Timestamp: time.Now()})
	return nil
}

// AppendAssistant appends an assistant turn. Every call must carry a
// non-empty id unique within the turn; the calls then become pending
// until each receives exactly one result.
func (c *Conversation) AppendAssistant(text string, calls []ToolCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		return ErrPendingResults
	}

	seen := make(map[string]bool, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			return fmt.Errorf("%w: call %d has no id", ErrInvalidToolCall, i)
		}
		if seen[tc.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidToolCall, tc.ID)
		}
		seen[tc.ID] = true
	}

	var owned []ToolCall
	if len(calls) > 0 {
		owned = make([]ToolCall, len(calls))
		copy(owned, calls)
	}
	c.turns = append(c.turns, Turn{
		Kind:      KindAssistant,
		Text:      text,
		ToolCalls: owned,
		Timestamp: time.Now(),
	})
	c.pending = append([]ToolCall(nil), owned...)
	return nil
}

// AppendToolResult appends the result of a pending tool call. It fails
// with ErrUncorrelatedResult when callID is not pending, including a
// second result for an already answered call.
func (c *Conversation) AppendToolResult(callID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, tc := range c.pending {
		if tc.ID == callID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUncorrelatedResult, callID)
	}

	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	c.turns = append(c.turns, Turn{
		Kind:      KindToolResult,
		CallID:    callID,
		Content:   content,
		Timestamp: time.Now(),
	})
	return nil
}

// Pending returns the calls of the last assistant turn that have no
// result yet, in call order.
func (c *Conversation) Pending() []ToolCall {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.pending) == 0 {
		return nil
	}
	out := make([]ToolCall, len(c.pending))
	copy(out, c.pending)
	return out
}

// Turns returns a copy of the transcript in insertion order.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// LastAssistant returns the most recent assistant turn, if any.
func (c *Conversation) LastAssistant() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Kind == KindAssistant {
			return c.turns[i], true
		}
	}
	return Turn{}, false
}
