package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/toolchat/internal/events"
)

// DefaultSessionIdle is how long an unused conversation is kept.
const DefaultSessionIdle = time.Hour

type session struct {
	loop     *Loop
	lastUsed time.Time
}

// SessionInfo describes a live conversation.
type SessionInfo struct {
	ConversationID string    `json:"conversation_id"`
	Turns          int       `json:"turns"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsed       time.Time `json:"last_used"`
}

// Sessions keeps one Loop per conversation id and drops conversations
// that have been idle longer than the configured period.
type Sessions struct {
	cfg    Config
	idle   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	loops map[string]*session
}

// NewSessions creates a session manager whose loops share cfg.
func NewSessions(cfg Config, idle time.Duration) *Sessions {
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		cfg:    cfg,
		idle:   idle,
		logger: logger,
		now:    time.Now,
		loops:  make(map[string]*session),
	}
}

// Get returns the loop for id, creating it on first use. An empty id
// starts a new conversation with a generated id.
func (s *Sessions) Get(id string) (*Loop, error) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.loops[id]; ok {
		sess.lastUsed = s.now()
		return sess.loop, nil
	}

	loop, err := NewLoop(id, s.cfg)
	if err != nil {
		return nil, err
	}
	s.loops[id] = &session{loop: loop, lastUsed: s.now()}
	s.logger.Info("conversation started", "conversation_id", id)
	s.cfg.Events.Emit(events.SourceSessions, events.KindSessionCreated, map[string]any{"conversation_id": id})
	return loop, nil
}

// Lookup returns the loop for id without creating one.
func (s *Sessions) Lookup(id string) (*Loop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.loops[id]
	if !ok {
		return nil, false
	}
	return sess.loop, true
}

// List describes the live conversations, most recently used first.
func (s *Sessions) List() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.loops))
	for id, sess := range s.loops {
		out = append(out, SessionInfo{
			ConversationID: id,
			Turns:          sess.loop.conv.Len(),
			CreatedAt:      sess.loop.conv.CreatedAt(),
			LastUsed:       sess.lastUsed,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out
}

// Len returns the number of live conversations.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// Sweep evicts conversations idle for longer than the idle period and
// returns how many were dropped.
func (s *Sessions) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.loops {
		idle := now.Sub(sess.lastUsed)
		if idle <= s.idle {
			continue
		}
		delete(s.loops, id)
		evicted++
		s.logger.Info("conversation evicted", "conversation_id", id, "idle", idle.Round(time.Second))
		s.cfg.Events.Emit(events.SourceSessions, events.KindSessionEvicted, map[string]any{
			"conversation_id": id,
			"idle_seconds":    int(idle.Seconds()),
		})
	}
	return evicted
}

// Run sweeps idle conversations until ctx is cancelled.
func (s *Sessions) Run(ctx context.Context) {
	interval := s.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
