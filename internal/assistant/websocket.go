package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/spectral/internal/domain"
	"github.com/ashureev/spectral/internal/identity"
	"github.com/coder/websocket"
)

// WebSocketHandler serves the chat over a WebSocket connection.
type WebSocketHandler struct {
	svc           *Service
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(svc *Service, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:           svc,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is one client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsReply is one server frame.
type wsReply struct {
	Type       string        `json:"type"`
	Content    string        `json:"content,omitempty"`
	Intent     domain.Intent `json:"intent,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Stage      domain.Stage  `json:"stage,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	slog.Info("WebSocket chat connected", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	// The request context ends with this handler, so reads stop when the
	// client goes away. Identity rides along for the service call.
	ctx := identity.WithIdentity(r.Context(), userID, sessionID)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Fallback: treat a bare frame as a chat message.
			msg = wsMessage{Type: "message", Content: string(data)}
		}

		switch msg.Type {
		case "message":
			h.handleMessage(ctx, ws, userID, sessionID, msg.Content)
		case "ping":
			h.writeReply(ws, wsReply{Type: "pong"})
		case "reset":
			h.svc.Reset(ctx, userID, sessionID)
			h.writeReply(ws, wsReply{Type: "reset_ok", Stage: domain.StageReconnaissance})
		default:
			slog.Debug("Unknown WebSocket frame type", "type", msg.Type, "user_id", userID)
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, ws *websocket.Conn, userID, sessionID, content string) {
	if strings.TrimSpace(content) == "" {
		h.writeReply(ws, wsReply{Type: "error", Content: "message is required"})
		return
	}

	reply, err := h.svc.Handle(ctx, userID, sessionID, content)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			h.writeReply(ws, wsReply{Type: "error", Content: "rate limit exceeded"})
			return
		}
		slog.Error("Chat handling failed", "user_id", userID, "error", err)
		h.writeReply(ws, wsReply{Type: "error", Content: "internal error"})
		return
	}

	h.writeReply(ws, wsReply{
		Type:       "response",
		Content:    reply.Text,
		Intent:     reply.Intent,
		Confidence: reply.Confidence,
		Stage:      reply.Stage,
	})
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeReply(ws *websocket.Conn, reply wsReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket reply", "error", err)
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
