// Package assistant is the chat surface around the conversation core. The
// service rate-limits users, answers immediate tasks before the engine sees
// them, runs one engine per conversation and records every exchange in the
// store and the NDJSON transcript.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/spectral/internal/domain"
	"github.com/ashureev/spectral/internal/engine"
	"github.com/ashureev/spectral/internal/store"
	"github.com/ashureev/spectral/internal/tasks"
)

// ErrRateLimited is returned when a user exceeds their per-window message
// budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// defaultRateLimit is messages per user per minute.
const defaultRateLimit = 10

// Service owns the per-conversation engines and everything around them.
type Service struct {
	repo       store.Repository
	classifier engine.Classifier
	executor   *tasks.Executor
	phraser    engine.Phraser
	policy     engine.Policy
	limiter    *RateLimiter
	log        ConversationLogger
	historyLen int

	mu            sync.Mutex
	conversations map[string]*conversation
}

// conversation pairs one session's engine with its lock. The engine is not
// safe for concurrent use; every access happens under mu.
type conversation struct {
	mu     sync.Mutex
	engine *engine.Engine
	recent *History
}

// Option configures a Service.
type Option func(*Service)

// WithExecutor enables the immediate-task path. Without an executor every
// message goes to the conversation engine.
func WithExecutor(e *tasks.Executor) Option {
	return func(s *Service) { s.executor = e }
}

// WithPhraser enables model-backed phrasing of small-talk replies.
func WithPhraser(p engine.Phraser) Option {
	return func(s *Service) { s.phraser = p }
}

// WithPolicy overrides the engine stage progression policy.
func WithPolicy(p engine.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithRateLimit overrides the per-user message budget.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(s *Service) { s.limiter = NewRateLimiter(limit, window) }
}

// WithConversationLogger enables the NDJSON transcript.
func WithConversationLogger(l ConversationLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHistorySize overrides how many exchanges each conversation remembers
// for phrasing context.
func WithHistorySize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLen = n
		}
	}
}

// NewService creates the assistant service.
func NewService(repo store.Repository, classifier engine.Classifier, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		classifier:    classifier,
		policy:        engine.DefaultPolicy(),
		limiter:       NewRateLimiter(defaultRateLimit, time.Minute),
		log:           noopConversationLogger{},
		historyLen:    defaultHistorySize,
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConversationKey is the storage ID for one conversation. Session IDs are
// per-tab values like "default", so they only identify a conversation
// together with the user.
func ConversationKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// conversation returns the session's engine, creating it on first use.
// Engines live in memory for the process lifetime; state never comes back
// from the store.
func (s *Service) conversation(userID, sessionID string) *conversation {
	key := ConversationKey(userID, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[key]; ok {
		return conv
	}

	conv := &conversation{recent: NewHistory(s.historyLen)}
	opts := []engine.Option{engine.WithPolicy(s.policy)}
	if s.phraser != nil {
		opts = append(opts, engine.WithPhraser(&historyPhraser{base: s.phraser, recent: conv.recent}))
	}
	conv.engine = engine.New(s.classifier, opts...)
	s.conversations[key] = conv
	return conv
}

// Handle answers one user message. The reply is always computed in memory;
// store and transcript failures are logged and never surface to the user.
func (s *Service) Handle(ctx context.Context, userID, sessionID, text string) (domain.Reply, error) {
	if !s.limiter.Allow(userID) {
		slog.Warn("Rate limit exceeded", "user_id", userID)
		return domain.Reply{}, ErrRateLimited
	}

	conv := s.conversation(userID, sessionID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	s.logEvent(userID, sessionID, "outbound", "user_message", text, nil)

	// Immediate tasks are answered before the engine sees the message, so
	// the conversation state never moves for a file listing or an IP lookup.
	if s.executor != nil {
		if out, handled := s.executor.Execute(ctx, text); handled {
			reply := domain.Reply{
				Text:       out,
				Intent:     domain.IntentChat,
				Confidence: 1,
				Stage:      conv.engine.Stage(),
				Target:     conv.engine.Target(),
			}
			conv.recent.Add(text, reply.Text)
			s.persistExchange(ctx, userID, sessionID, text, reply)
			s.logEvent(userID, sessionID, "inbound", "task_result", out, nil)
			return reply, nil
		}
	}

	reply := conv.engine.Handle(ctx, text)
	conv.recent.Add(text, reply.Text)
	s.persistExchange(ctx, userID, sessionID, text, reply)
	s.logEvent(userID, sessionID, "inbound", "assistant_message", reply.Text, map[string]any{
		"intent":     string(reply.Intent),
		"confidence": reply.Confidence,
		"stage":      string(reply.Stage),
	})
	return reply, nil
}

// Reset clears a session's conversation state, same as an in-band clear
// phrase.
func (s *Service) Reset(ctx context.Context, userID, sessionID string) {
	conv := s.conversation(userID, sessionID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	conv.engine.Reset()
	conv.recent.Reset()

	key := ConversationKey(userID, sessionID)
	if err := s.repo.UpdateSessionStage(ctx, key, domain.StageReconnaissance); err != nil {
		slog.Warn("Failed to update session stage", "session_id", key, "error", err)
	}
	s.logEvent(userID, sessionID, "inbound", "context_reset", "", nil)
	slog.Info("Conversation reset", "user_id", userID, "session_id", sessionID)
}

// State is the externally observable view of one conversation.
type State struct {
	Stage   domain.Stage          `json:"stage"`
	Target  domain.TargetSnapshot `json:"target"`
	Engaged bool                  `json:"engaged"`
}

// StateOf reports the current stage and captured target facts for a session.
func (s *Service) StateOf(userID, sessionID string) State {
	conv := s.conversation(userID, sessionID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return State{
		Stage:   conv.engine.Stage(),
		Target:  conv.engine.Target(),
		Engaged: conv.engine.Engaged(),
	}
}

// Close flushes the transcript logger.
func (s *Service) Close() {
	if err := s.log.Close(); err != nil {
		slog.Warn("Failed to close conversation logger", "error", err)
	}
}

// persistExchange records both sides of one exchange and the stage the
// session has reached. Runs under the conversation lock so rows land in
// conversation order.
func (s *Service) persistExchange(ctx context.Context, userID, sessionID, userText string, reply domain.Reply) {
	key := ConversationKey(userID, sessionID)
	now := time.Now()

	if err := s.repo.EnsureSession(ctx, &domain.Session{
		ID:         key,
		UserID:     userID,
		Stage:      reply.Stage,
		CreatedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		slog.Warn("Failed to ensure session", "session_id", key, "error", err)
	}

	if err := s.repo.InsertMessage(ctx, &domain.Message{
		SessionID: key,
		Role:      domain.RoleUser,
		Content:   userText,
		CreatedAt: now,
	}); err != nil {
		slog.Warn("Failed to persist user message", "session_id", key, "error", err)
	}

	if err := s.repo.InsertMessage(ctx, &domain.Message{
		SessionID:  key,
		Role:       domain.RoleAssistant,
		Content:    reply.Text,
		Intent:     reply.Intent,
		Confidence: reply.Confidence,
		Stage:      reply.Stage,
		CreatedAt:  now,
	}); err != nil {
		slog.Warn("Failed to persist assistant message", "session_id", key, "error", err)
	}

	if err := s.repo.UpdateSessionStage(ctx, key, reply.Stage); err != nil {
		slog.Warn("Failed to update session stage", "session_id", key, "error", err)
	}
}

func (s *Service) logEvent(userID, sessionID, direction, eventType, content string, meta map[string]any) {
	s.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

// historyPhraser prefixes the phrasing request with the conversation's
// recent exchanges so the reworded reply can follow the thread.
type historyPhraser struct {
	base   engine.Phraser
	recent *History
}

func (p *historyPhraser) Phrase(ctx context.Context, userText, draft string) (string, error) {
	entries := p.recent.Recent()
	if len(entries) == 0 {
		return p.base.Phrase(ctx, userText, draft)
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, ex := range entries {
		fmt.Fprintf(&b, "user: %s\nassistant: %s\n", ex.User, ex.Assistant)
	}
	b.WriteString("\nCurrent message: ")
	b.WriteString(userText)
	return p.base.Phrase(ctx, b.String(), draft)
}
