package domain

import (
	"time"
)

// Message roles as persisted in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is the service-level record of one conversation. The engine's
// in-memory state is authoritative; this row exists for history and audit.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Stage      Stage     `json:"stage"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Message is one persisted chat message. Intent, Confidence and Stage are
// recorded on assistant replies; user messages leave them zero.
type Message struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Intent     Intent    `json:"intent,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Stage      Stage     `json:"stage,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Reply is the engine's answer to one message together with the observable
// conversation state after processing it.
type Reply struct {
	Text       string         `json:"response"`
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Stage      Stage          `json:"stage"`
	Target     TargetSnapshot `json:"target"`
}
