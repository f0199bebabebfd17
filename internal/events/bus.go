// Package events provides a publish/subscribe event bus for dialogue
// observability. Events flow from the dialogue loop and session manager
// to subscribers (the WebSocket stream, the MQTT bridge). The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the dialogue loop.
	SourceAgent = "agent"
	// SourceSessions identifies events from the session manager.
	SourceSessions = "sessions"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of a Handle call.
	// Data: request_id, conversation_id.
	KindRequestStart = "request_start"
	// KindLLMCall signals the start of a completion request.
	// Data: request_id, round, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals a successful completion.
	// Data: request_id, round, model, tokens_in, tokens_out,
	// cost_usd, tool_calls.
	KindLLMResponse = "llm_response"
	// KindFallback signals that a model failed and the next candidate
	// will be tried.
	// Data: request_id, round, model, next_model, error.
	KindFallback = "fallback"
	// KindToolCall signals the start of a tool execution.
	// Data: request_id, tool, call_id.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: request_id, tool, call_id, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRoundLimit signals that a Handle call ran out of rounds.
	// Data: request_id, rounds.
	KindRoundLimit = "round_limit"
	// KindRequestComplete signals the end of a Handle call.
	// Data: conversation_id, request_id, model, rounds, total_tokens_in,
	// total_tokens_out, total_cost_usd, elapsed_ms, ok.
	KindRequestComplete = "request_complete"

	// KindSessionCreated signals a new conversation loop.
	// Data: conversation_id.
	KindSessionCreated = "session_created"
	// KindSessionEvicted signals an idle conversation was dropped.
	// Data: conversation_id, idle_seconds.
	KindSessionEvicted = "session_evicted"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers. A nil *Bus discards everything.
type Bus struct {
	mu sync.RWMutex
	// subs is keyed by the receive-only view handed to subscribers.
	subs map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish sends e to every subscriber whose buffer has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of published events buffered to bufSize.
// Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// or already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
