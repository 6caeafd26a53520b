// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/spectral/internal/domain"
)

// Repository defines the interface for persisting users, conversation
// sessions and messages.
type Repository interface {
	// EnsureUser creates the user if missing and updates their
	// last_seen_at timestamp.
	EnsureUser(ctx context.Context, userID string, seenAt time.Time) error

	// GetUser retrieves a user by their user ID. Returns nil without an
	// error when the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// SetUserSandbox updates the sandbox_id for a user. If expectedID is
	// non-empty, the update only happens if the current sandbox_id matches
	// expectedID (optimistic locking).
	SetUserSandbox(ctx context.Context, userID string, sandboxID string, expectedID string) error

	// GetExpiredSandboxes retrieves users whose sandboxes have exceeded
	// the inactivity TTL.
	GetExpiredSandboxes(ctx context.Context, ttl time.Duration) ([]*domain.User, error)

	// EnsureSession creates the session if missing and updates its
	// last_seen_at timestamp.
	EnsureSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID. Returns nil without an error
	// when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSessionStage records the stage a session has reached.
	UpdateSessionStage(ctx context.Context, sessionID string, stage domain.Stage) error

	// ListSessions returns a user's sessions, most recently active first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// InsertMessage appends a message to a session's transcript and fills
	// in the message ID.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a session's messages in conversation order.
	// A non-positive limit applies the default cap.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error)

	// Ping verifies database connectivity and returns an error if the
	// database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
