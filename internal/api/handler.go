// Package api provides HTTP handlers for the Spectral API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/spectral/internal/assistant"
	"github.com/ashureev/spectral/internal/domain"
	"github.com/ashureev/spectral/internal/identity"
	"github.com/ashureev/spectral/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves user and conversation history endpoints.
type Handler struct {
	repo       store.Repository
	sandboxTTL time.Duration
}

// NewHandler creates a new Handler. sandboxTTL is the idle duration after
// which sandboxes are reaped, used to report remaining time to the client.
func NewHandler(repo store.Repository, sandboxTTL time.Duration) *Handler {
	return &Handler{
		repo:       repo,
		sandboxTTL: sandboxTTL,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers user and history routes (requires identity).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/sessions", h.ListSessions)
		r.Get("/messages", h.ListMessages)
	})
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"sandbox_id":  user.SandboxID,
		"sandbox_ttl": int64(user.SandboxTTL(h.sandboxTTL).Seconds()),
	})
}

// ListSessions returns the caller's conversations, most recently active
// first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, sessions)
}

// ListMessages returns one conversation's transcript. The session_id query
// parameter selects a conversation from ListSessions; without it the
// caller's current conversation is used. Sessions belonging to another user
// are reported as not found.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = assistant.ConversationKey(userID, identity.SessionIDFromContext(r.Context()))
	}

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if session == nil || session.UserID != userID {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	messages, err := h.repo.ListMessages(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	JSON(w, http.StatusOK, messages)
}

// healthCheckTimeout bounds the database ping during health checks.
const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
