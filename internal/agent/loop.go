// Package agent implements the tool-augmented dialogue loop: it keeps a
// conversation, asks the completion endpoint for the next turn, runs
// any tools the model calls, and repeats until the model answers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/toolchat/internal/config"
	"github.com/nugget/toolchat/internal/conversation"
	"github.com/nugget/toolchat/internal/events"
	"github.com/nugget/toolchat/internal/llm"
	"github.com/nugget/toolchat/internal/tools"
	"github.com/nugget/toolchat/internal/usage"
)

// DefaultMaxRounds bounds completion requests per Handle call when
// Config.MaxRounds is zero.
const DefaultMaxRounds = 10

// UsageRecorder persists per-completion token usage.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config holds the dependencies and limits of a Loop.
type Config struct {
	Client   llm.Client
	Registry *tools.Registry

	PrimaryModel  string
	FallbackModel string
	// Policy chooses models per round. Nil means FallbackAfterFirstRound
	// over PrimaryModel and FallbackModel.
	Policy ModelPolicy

	// MaxRounds bounds completion requests per Handle call.
	MaxRounds int
	// Budget bounds the wall-clock time of one Handle call. Zero means
	// no limit beyond the caller's context.
	Budget time.Duration
	// ConcurrentTools runs the tool calls of one assistant turn in
	// parallel. Results are still recorded in call order.
	ConcurrentTools bool

	SystemPrompt string

	Logger  *slog.Logger
	Events  *events.Bus
	Usage   UsageRecorder
	Pricing map[string]config.PricingEntry
	// ProviderFor names the provider serving a model, for usage records.
	ProviderFor func(model string) string
}

// Response is the outcome of a successful Run.
type Response struct {
	RequestID      string        `json:"request_id"`
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	Model          string        `json:"model"`
	Rounds         int           `json:"rounds"`
	ToolCalls      int           `json:"tool_calls"`
	InputTokens    int           `json:"input_tokens"`
	OutputTokens   int           `json:"output_tokens"`
	CostUSD        float64       `json:"cost_usd"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Loop is one dialogue. It exclusively owns its conversation; Handle
// calls on the same Loop are serialised.
type Loop struct {
	cfg       Config
	policy    ModelPolicy
	completer *Completer
	specs     []tools.Spec
	logger    *slog.Logger

	mu   sync.Mutex
	conv *conversation.Conversation
}

// NewLoop creates a dialogue loop with an empty conversation.
func NewLoop(conversationID string, cfg Config) (*Loop, error) {
	if cfg.Client == nil {
		return nil, errors.New("agent: completion client is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	policy := cfg.Policy
	if policy == nil {
		if cfg.PrimaryModel == "" || cfg.FallbackModel == "" {
			return nil, errors.New("agent: primary and fallback models are required")
		}
		policy = FallbackAfterFirstRound{Primary: cfg.PrimaryModel, Fallback: cfg.FallbackModel}
	}

	return &Loop{
		cfg:       cfg,
		policy:    policy,
		completer: NewCompleter(cfg.Client, cfg.SystemPrompt),
		specs:     cfg.Registry.Specs(),
		logger:    cfg.Logger.With("conversation_id", conversationID),
		conv:      conversation.New(conversationID),
	}, nil
}

// ConversationID returns the id of the loop's conversation.
func (l *Loop) ConversationID() string { return l.conv.ID() }

// Conversation returns the loop's transcript for inspection.
func (l *Loop) Conversation() *conversation.Conversation { return l.conv }

// Handle processes one user message and returns the reply text. It
// never fails: errors are rendered as user-facing strings.
func (l *Loop) Handle(ctx context.Context, text string) string {
	resp, err := l.Run(ctx, text)
	if err != nil {
		return UserMessage(err)
	}
	return resp.Content
}

// Run processes one user message. It returns *CompletionFailedError
// when no model could answer a round and *RoundLimitError when the
// model kept calling tools past MaxRounds. Turns appended before a
// failure remain in the conversation.
func (l *Loop) Run(ctx context.Context, text string) (resp *Response, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Budget)
		defer cancel()
	}

	start := time.Now()
	requestID := generateRequestID()
	log := l.logger.With("request_id", requestID)
	resp = &Response{RequestID: requestID, ConversationID: l.conv.ID()}

	log.Info("dialogue request started", "message_len", len(text))
	l.emit(events.KindRequestStart, map[string]any{
		"request_id":      requestID,
		"conversation_id": l.conv.ID(),
	})

	defer func() {
		if p := recover(); p != nil {
			l.abandonPending()
			log.Error("panic in dialogue loop", "panic", p)
			resp, err = nil, fmt.Errorf("panic: %v", p)
		}
		resp, err = l.finish(log, resp, err, start)
	}()

	if err := l.conv.AppendUser(text); err != nil {
		return resp, fmt.Errorf("append user turn: %w", err)
	}

	for round := 0; ; round++ {
		if round >= l.cfg.MaxRounds {
			log.Warn("round limit reached", "rounds", round)
			l.emit(events.KindRoundLimit, map[string]any{"request_id": requestID, "rounds": round})
			return resp, &RoundLimitError{Rounds: round}
		}
		if err := ctx.Err(); err != nil {
			return resp, fmt.Errorf("request stopped after %d rounds: %w", round, err)
		}

		c, err := l.complete(ctx, log, requestID, round, resp)
		if err != nil {
			return resp, err
		}
		if err := l.conv.AppendAssistant(c.Text, c.ToolCalls); err != nil {
			return resp, fmt.Errorf("append assistant turn: %w", err)
		}
		resp.Rounds = round + 1
		resp.Model = c.Model

		if len(c.ToolCalls) == 0 {
			resp.Content = c.Text
			return resp, nil
		}

		resp.ToolCalls += len(c.ToolCalls)
		l.executeTools(ctx, log, requestID, c.ToolCalls)
	}
}

// finish logs and publishes the outcome of a Run.
func (l *Loop) finish(log *slog.Logger, resp *Response, err error, start time.Time) (*Response, error) {
	elapsed := time.Since(start)
	data := map[string]any{
		"conversation_id": l.conv.ID(),
		"ok":              err == nil,
		"elapsed_ms":      elapsed.Milliseconds(),
	}
	if resp != nil {
		resp.Elapsed = elapsed
		data["request_id"] = resp.RequestID
		data["model"] = resp.Model
		data["rounds"] = resp.Rounds
		data["total_tokens_in"] = resp.InputTokens
		data["total_tokens_out"] = resp.OutputTokens
		data["total_cost_usd"] = resp.CostUSD
	}
	l.emit(events.KindRequestComplete, data)

	if err != nil {
		log.Warn("dialogue request failed", "error", err, "elapsed", elapsed.Round(time.Millisecond))
		return nil, err
	}
	log.Info("dialogue request completed",
		"model", resp.Model,
		"rounds", resp.Rounds,
		"tool_calls", resp.ToolCalls,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return resp, nil
}

// complete asks each candidate model of the round in turn until one
// answers. Failed attempts leave no trace in the conversation.
func (l *Loop) complete(ctx context.Context, log *slog.Logger, requestID string, round int, resp *Response) (*Completion, error) {
	candidates := l.policy.Candidates(round)
	var errs []error

	for i, model := range candidates {
		if i > 0 && ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		l.emit(events.KindLLMCall, map[string]any{"request_id": requestID, "round": round, "model": model})
		log.Debug("requesting completion", "round", round, "model", model, "turns", l.conv.Len())

		c, err := l.completer.Complete(ctx, l.conv, l.specs, model, round)
		if err != nil {
			errs = append(errs, err)
			data := map[string]any{"request_id": requestID, "round": round, "model": model, "error": err.Error()}
			if i+1 < len(candidates) {
				log.Warn("completion failed, trying next model", "round", round, "model", model, "next_model", candidates[i+1], "error", err)
				data["next_model"] = candidates[i+1]
			} else {
				log.Error("completion failed", "round", round, "model", model, "error", err)
			}
			l.emit(events.KindFallback, data)
			continue
		}

		cost := usage.ComputeCost(model, c.InputTokens, c.OutputTokens, l.cfg.Pricing)
		resp.InputTokens += c.InputTokens
		resp.OutputTokens += c.OutputTokens
		resp.CostUSD += cost
		l.recordUsage(ctx, log, requestID, round, c, cost)

		l.emit(events.KindLLMResponse, map[string]any{
			"request_id": requestID,
			"round":      round,
			"model":      model,
			"tokens_in":  c.InputTokens,
			"tokens_out": c.OutputTokens,
			"cost_usd":   cost,
			"tool_calls": len(c.ToolCalls),
		})
		return c, nil
	}

	return nil, &CompletionFailedError{Round: round, Errs: errs}
}

func (l *Loop) recordUsage(ctx context.Context, log *slog.Logger, requestID string, round int, c *Completion, cost float64) {
	if l.cfg.Usage == nil {
		return
	}
	provider := ""
	if l.cfg.ProviderFor != nil {
		provider = l.cfg.ProviderFor(c.Model)
	}
	// Recorded even when the request budget has expired.
	err := l.cfg.Usage.Record(context.WithoutCancel(ctx), usage.Record{
		RequestID:      requestID,
		ConversationID: l.conv.ID(),
		Model:          c.Model,
		Provider:       provider,
		Round:          round,
		InputTokens:    c.InputTokens,
		OutputTokens:   c.OutputTokens,
		CostUSD:        cost,
	})
	if err != nil {
		log.Warn("failed to record usage", "error", err)
	}
}

// executeTools runs every call of an assistant turn and appends one
// result per call, in call order. Failures become error text.
func (l *Loop) executeTools(ctx context.Context, log *slog.Logger, requestID string, calls []conversation.ToolCall) {
	if !l.cfg.ConcurrentTools || len(calls) < 2 {
		for _, tc := range calls {
			l.appendResult(log, tc, l.runTool(ctx, log, requestID, tc))
		}
		return
	}

	results := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.runTool(ctx, log, requestID, tc)
		}()
	}
	wg.Wait()

	for i, tc := range calls {
		l.appendResult(log, tc, results[i])
	}
}

func (l *Loop) appendResult(log *slog.Logger, tc conversation.ToolCall, content string) {
	if err := l.conv.AppendToolResult(tc.ID, content); err != nil {
		// Calls come from the assistant turn just appended, so this
		// only fires on a programming error.
		log.Error("tool result rejected", "tool", tc.Name, "call_id", tc.ID, "error", err)
	}
}

func (l *Loop) runTool(ctx context.Context, log *slog.Logger, requestID string, tc conversation.ToolCall) string {
	l.emit(events.KindToolCall, map[string]any{"request_id": requestID, "tool": tc.Name, "call_id": tc.ID})
	log.Info("executing tool", "tool", tc.Name, "call_id", tc.ID)

	start := time.Now()
	out, err := l.cfg.Registry.Invoke(ctx, tc.Name, tc.Arguments)
	elapsed := time.Since(start)

	l.emit(events.KindToolDone, map[string]any{
		"request_id":  requestID,
		"tool":        tc.Name,
		"call_id":     tc.ID,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		var execErr *tools.ExecutionError
		if errors.As(err, &execErr) && execErr.Stack != "" {
			log.Error("tool panicked", "tool", tc.Name, "error", err, "stack", execErr.Stack)
		} else {
			log.Warn("tool failed", "tool", tc.Name, "error", err)
		}
		return toolErrorContent(tc.Name, err)
	}

	log.Debug("tool succeeded", "tool", tc.Name, "result_len", len(out), "elapsed", elapsed.Round(time.Millisecond))
	return out
}

// abandonPending answers calls left without a result so the
// conversation stays well formed for the next request.
func (l *Loop) abandonPending() {
	for _, tc := range l.conv.Pending() {
		_ = l.conv.AppendToolResult(tc.ID, toolErrorContent(tc.Name, errors.New("interrupted")))
	}
}

func (l *Loop) emit(kind string, data map[string]any) {
	l.cfg.Events.Emit(events.SourceAgent, kind, data)
}

// generateRequestID returns a short id for correlating log lines of one
// request: "r_" followed by 8 hex characters.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
