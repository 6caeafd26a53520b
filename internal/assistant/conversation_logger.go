package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

// ConversationLogEvent is one line of the NDJSON transcript.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records chat traffic for audit. Log must never block
// the request path.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls the transcript logger.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// noopConversationLogger is used when transcript logging is disabled.
type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// fileConversationLogger appends events to one NDJSON file per conversation
// at <dir>/<userID>/<sessionID>.ndjson. Writes happen on a single background
// goroutine fed by a bounded queue; when the queue is full the oldest event
// is dropped so the chat path never waits on disk.
type fileConversationLogger struct {
	dir    string
	events chan ConversationLogEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewConversationLogger creates the transcript logger. A disabled config or
// an empty directory yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled || cfg.Dir == "" {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &fileConversationLogger{
		dir:    cfg.Dir,
		events: make(chan ConversationLogEvent, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log queues one event, filling in the timestamp and the cleaned content
// when the caller left them empty.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	select {
	case l.events <- event:
	case <-l.ctx.Done():
	default:
		// Queue full. Drop the oldest event to make room for the newest.
		select {
		case <-l.events:
		default:
		}
		select {
		case l.events <- event:
		case <-l.ctx.Done():
		default:
			l.logger.Warn("Transcript queue full, dropping event",
				"user_id", event.UserID,
				"session_id", event.SessionID,
				"event_type", event.EventType,
			)
		}
	}
}

// Close stops the writer after draining queued events. Waits up to five
// seconds for the writer goroutine to finish.
func (l *fileConversationLogger) Close() error {
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("Transcript writer shutdown timeout")
	}
	return nil
}

func (l *fileConversationLogger) writeLoop() {
	defer l.wg.Done()

	files := make(map[string]*os.File)
	defer func() {
		for name, f := range files {
			if err := f.Close(); err != nil {
				l.logger.Warn("Failed to close transcript file", "file", name, "error", err)
			}
		}
	}()

	for {
		select {
		case event := <-l.events:
			l.writeEvent(files, event)
		case <-l.ctx.Done():
			// Drain what is already queued before stopping.
			for {
				select {
				case event := <-l.events:
					l.writeEvent(files, event)
				default:
					return
				}
			}
		}
	}
}

func (l *fileConversationLogger) writeEvent(files map[string]*os.File, event ConversationLogEvent) {
	f, err := l.sessionFile(files, event.UserID, event.SessionID)
	if err != nil {
		l.logger.Warn("Failed to open transcript file",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"error", err,
		)
		return
	}

	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("Failed to encode transcript event", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Failed to write transcript event", "error", err)
	}
}

// sessionFile returns the open append handle for a conversation, creating
// the per-user directory on first use. Handles stay open for the logger's
// lifetime; conversations are few per process.
func (l *fileConversationLogger) sessionFile(files map[string]*os.File, userID, sessionID string) (*os.File, error) {
	name := filepath.Join(l.dir, pathComponent(userID), pathComponent(sessionID)+".ndjson")
	if f, ok := files[name]; ok {
		return f, nil
	}

	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	files[name] = f
	return f, nil
}

// pathComponent restricts an identifier to filename-safe characters.
// Identity already validates user and session IDs; this keeps the logger
// safe on its own.
func pathComponent(id string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

var (
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscPattern = regexp.MustCompile(`\x1b\][^\a\x1b]*(?:\a|\x1b\\)?`)
)

// cleanForReadability strips ANSI escape sequences and control characters so
// transcript lines stay greppable. Newlines and tabs survive.
func cleanForReadability(s string) string {
	s = csiPattern.ReplaceAllString(s, "")
	s = oscPattern.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
