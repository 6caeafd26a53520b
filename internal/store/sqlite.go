package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/spectral/internal/domain"
	"github.com/ashureev/spectral/internal/shared"
	_ "modernc.org/sqlite"
)

const defaultMessageLimit = 200

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes message/session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		sandbox_id TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at) WHERE sandbox_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_seen_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		intent TEXT,
		confidence REAL,
		stage TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser creates the user if missing and refreshes last_seen_at.
func (s *SQLiteStore) EnsureUser(ctx context.Context, userID string, seenAt time.Time) error {
	query := `
	INSERT INTO users (user_id, sandbox_id, last_seen_at, created_at, updated_at)
	VALUES (?, NULL, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	ts := seenAt.Unix()
	if _, err := s.db.ExecContext(ctx, query, userID, ts, ts, ts); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, sandbox_id, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var sandboxID sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &sandboxID, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.SandboxID = sandboxID.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// SetUserSandbox updates the sandbox_id for a user.
func (s *SQLiteStore) SetUserSandbox(ctx context.Context, userID string, sandboxID string, expectedID string) error {
	query := `UPDATE users SET sandbox_id = ?, updated_at = ? WHERE user_id = ?`
	args := []interface{}{nil, time.Now().Unix(), userID}

	if sandboxID != "" {
		args[0] = sandboxID
	}

	if expectedID != "" {
		query += ` AND sandbox_id = ?`
		args = append(args, expectedID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sandbox_id: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetUserSandbox affected 0 rows", "user_id", userID, "expected_id", expectedID)
		if expectedID != "" {
			return fmt.Errorf("optimistic lock failed: sandbox_id does not match expected_id")
		}
		return fmt.Errorf("user not found")
	}

	return nil
}

// GetExpiredSandboxes retrieves users whose sandboxes have exceeded the inactivity TTL.
func (s *SQLiteStore) GetExpiredSandboxes(ctx context.Context, ttl time.Duration) ([]*domain.User, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT user_id, sandbox_id, last_seen_at, created_at, updated_at
		FROM users WHERE sandbox_id IS NOT NULL AND last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sandboxes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sandbox rows", "error", closeErr)
		}
	}()

	var users []*domain.User
	for rows.Next() {
		var user domain.User
		var sandboxID sql.NullString
		var lastSeen, createdAt, updatedAt int64

		if err := rows.Scan(&user.UserID, &sandboxID, &lastSeen, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan expired sandbox row: %w", err)
		}

		user.SandboxID = sandboxID.String
		user.LastSeenAt = time.Unix(lastSeen, 0)
		user.CreatedAt = time.Unix(createdAt, 0)
		user.UpdatedAt = time.Unix(updatedAt, 0)
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sandboxes: %w", err)
	}

	return users, nil
}

// EnsureSession creates the session if missing and refreshes last_seen_at.
// The stored stage is only set on creation; UpdateSessionStage owns it
// afterwards.
func (s *SQLiteStore) EnsureSession(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO sessions (session_id, user_id, stage, created_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, string(session.Stage),
		session.CreatedAt.Unix(), session.LastSeenAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, stage, created_at, last_seen_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.Session
	var stage string
	var createdAt, lastSeen int64

	err := row.Scan(&session.ID, &session.UserID, &stage, &createdAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Stage = domain.Stage(stage)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastSeenAt = time.Unix(lastSeen, 0)

	return &session, nil
}

// UpdateSessionStage records the stage a session has reached.
func (s *SQLiteStore) UpdateSessionStage(ctx context.Context, sessionID string, stage domain.Stage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `UPDATE sessions SET stage = ?, last_seen_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(stage), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update session stage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateSessionStage affected 0 rows", "session_id", sessionID)
	}

	return nil
}

// ListSessions returns a user's sessions, most recently active first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
		SELECT session_id, user_id, stage, created_at, last_seen_at
		FROM sessions WHERE user_id = ? ORDER BY last_seen_at DESC, session_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var session domain.Session
		var stage string
		var createdAt, lastSeen int64

		if err := rows.Scan(&session.ID, &session.UserID, &stage, &createdAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		session.Stage = domain.Stage(stage)
		session.CreatedAt = time.Unix(createdAt, 0)
		session.LastSeenAt = time.Unix(lastSeen, 0)
		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// InsertMessage appends a message to a session's transcript. Retries with
// backoff on SQLITE_BUSY since chat and websocket handlers write
// concurrently.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	return shared.RetrySQLite(ctx, 3, 100*time.Millisecond, func() error {
		return s.insertMessageOnce(ctx, msg)
	})
}

func (s *SQLiteStore) insertMessageOnce(ctx context.Context, msg *domain.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO messages (session_id, role, content, intent, confidence, stage, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var intent, stage interface{}
	if msg.Intent != "" {
		intent = string(msg.Intent)
	}
	if msg.Stage != "" {
		stage = string(msg.Stage)
	}

	result, err := s.db.ExecContext(ctx, query,
		msg.SessionID, msg.Role, msg.Content,
		intent, msg.Confidence, stage, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("message insert id: %w", err)
	}
	msg.ID = id
	return nil
}

// ListMessages returns a session's messages in conversation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	query := `
		SELECT id, session_id, role, content, intent, confidence, stage, created_at
		FROM messages WHERE session_id = ? ORDER BY id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var intent, stage sql.NullString
		var confidence sql.NullFloat64
		var createdAt int64

		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&intent, &confidence, &stage, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Intent = domain.Intent(intent.String)
		msg.Confidence = confidence.Float64
		msg.Stage = domain.Stage(stage.String)
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
