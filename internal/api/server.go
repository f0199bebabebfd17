// Package api implements the HTTP API in front of the dialogue loop.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/toolchat/internal/agent"
	"github.com/nugget/toolchat/internal/buildinfo"
	"github.com/nugget/toolchat/internal/events"
	"github.com/nugget/toolchat/internal/tools"
	"github.com/nugget/toolchat/internal/usage"
	"github.com/nugget/toolchat/internal/web"
)

// defaultConversation is used by the /chat endpoint when the caller
// does not name a conversation.
const defaultConversation = "default"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// UsageSummarizer reports aggregated token usage.
type UsageSummarizer interface {
	Summary(start, end time.Time) (*usage.Summary, error)
	SummaryByModel(start, end time.Time) (map[string]*usage.Summary, error)
}

// Config holds the server's address and collaborators. Usage, Events
// and Web are optional; their endpoints answer 503 when absent.
type Config struct {
	Address  string
	Port     int
	Sessions *agent.Sessions
	Registry *tools.Registry
	Usage    UsageSummarizer
	Events   *events.Bus
	Web      *web.WebServer
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	sessions *agent.Sessions
	registry *tools.Registry
	usage    UsageSummarizer
	events   *events.Bus
	web      *web.WebServer
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  cfg.Address,
		port:     cfg.Port,
		sessions: cfg.Sessions,
		registry: cfg.Registry,
		usage:    cfg.Usage,
		events:   cfg.Events,
		web:      cfg.Web,
		logger:   logger,
	}
}

// Handler returns the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleSimpleChat)
	mux.HandleFunc("POST /chat", s.handleLegacyChat)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.web != nil {
		s.web.RegisterRoutes(mux)
	}

	return s.withLogging(s.withRecovery(mux))
}

// Start begins serving HTTP requests and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // a request may run several completion rounds
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic serving request", "path", r.URL.Path, "panic", p)
				s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %v", p))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":        "healthy",
		"conversations": s.sessions.Len(),
	}, s.logger)
}

// SimpleChatRequest is the body of POST /v1/chat.
type SimpleChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SimpleChatResponse is the reply of POST /v1/chat.
type SimpleChatResponse struct {
	Response       string `json:"response"`
	ResponseHTML   string `json:"response_html"`
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id,omitempty"`
	Model          string `json:"model,omitempty"`
	Rounds         int    `json:"rounds,omitempty"`
	ToolCalls      int    `json:"tool_calls,omitempty"`
}

// converse runs one message through the conversation's loop. Failures
// the loop reports as user-facing text are returned as reply; only
// unexpected failures come back as err.
func (s *Server) converse(ctx context.Context, convID, message string) (*agent.Loop, *agent.Response, string, error) {
	loop, err := s.sessions.Get(convID)
	if err != nil {
		return nil, nil, "", err
	}

	resp, err := loop.Run(ctx, message)
	if err == nil {
		return loop, resp, resp.Content, nil
	}

	var failed *agent.CompletionFailedError
	if errors.As(err, &failed) || errors.Is(err, agent.ErrRoundLimitExceeded) {
		return loop, nil, agent.UserMessage(err), nil
	}
	return loop, nil, "", err
}

// handleSimpleChat handles POST /v1/chat {"message": "...", "conversation_id": "..."}.
func (s *Server) handleSimpleChat(w http.ResponseWriter, r *http.Request) {
	var req SimpleChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	loop, resp, reply, err := s.converse(r.Context(), req.ConversationID, message)
	if err != nil {
		s.logger.Error("dialogue failed", "conversation_id", req.ConversationID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, agent.UserMessage(err))
		return
	}

	out := SimpleChatResponse{
		Response:       reply,
		ResponseHTML:   web.RenderMarkdown(reply),
		ConversationID: loop.ConversationID(),
	}
	if resp != nil {
		out.RequestID = resp.RequestID
		out.Model = resp.Model
		out.Rounds = resp.Rounds
		out.ToolCalls = resp.ToolCalls
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

// handleLegacyChat handles POST /chat with the flat error shape of the
// first browser front-end: {"error": "..."}.
func (s *Server) handleLegacyChat(w http.ResponseWriter, r *http.Request) {
	legacyError := func(code int, msg string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		writeJSON(w, map[string]string{"error": msg}, s.logger)
	}

	var req struct {
		Message        *string `json:"message"`
		ConversationID string  `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == nil {
		legacyError(http.StatusBadRequest, "No message provided")
		return
	}
	message := strings.TrimSpace(*req.Message)
	if message == "" {
		legacyError(http.StatusBadRequest, "Empty message")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = defaultConversation
	}

	_, _, reply, err := s.converse(r.Context(), convID, message)
	if err != nil {
		s.logger.Error("error processing chat request", "error", err)
		legacyError(http.StatusInternalServerError, "An error occurred: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"response": reply}, s.logger)
}

// ChatCompletionRequest is the OpenAI-compatible request format. Only
// the last user message is used; earlier turns live server-side.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	User     string        `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the OpenAI-compatible response format.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// handleChatCompletions serves POST /v1/chat/completions. The
// conversation is named by the X-Conversation-ID header or the "user"
// field.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stream {
		s.errorResponse(w, http.StatusBadRequest, "streaming is not supported")
		return
	}

	var message string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			message = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "a user message is required")
		return
	}

	convID := r.Header.Get("X-Conversation-ID")
	if convID == "" {
		convID = req.User
	}

	loop, resp, reply, err := s.converse(r.Context(), convID, message)
	if err != nil {
		s.logger.Error("dialogue failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, agent.UserMessage(err))
		return
	}

	completion := ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Message:      chatMessage{Role: "assistant", Content: reply},
			FinishReason: "stop",
		}},
	}
	if resp != nil {
		completion.Model = resp.Model
		completion.Usage = Usage{
			PromptTokens:     resp.InputTokens,
			CompletionTokens: resp.OutputTokens,
			TotalTokens:      resp.InputTokens + resp.OutputTokens,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Conversation-ID", loop.ConversationID())
	writeJSON(w, completion, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversations": s.sessions.List()}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	loop, ok := s.sessions.Lookup(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	conv := loop.Conversation()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation_id": conv.ID(),
		"created_at":      conv.CreatedAt(),
		"turns":           conv.Turns(),
		"pending":         conv.Pending(),
	}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": s.registry.Specs()}, s.logger)
}

// handleUsage serves GET /v1/usage?hours=N (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}

	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.usage.Summary(start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	byModel, err := s.usage.SummaryByModel(start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"hours":    hours,
		"total":    total,
		"by_model": byModel,
	}, s.logger)
}
