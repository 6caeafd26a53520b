package assistant

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/spectral/internal/identity"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize is the maximum allowed chat request body size (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the chat HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a chat handler around the service.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers chat routes (requires identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/reset", h.HandleReset)
		r.Get("/state", h.HandleState)
	})
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Message string `json:"message"`
}

// HandleChat handles POST /api/chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	slog.Info("Chat request",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(req.Message),
	)

	reply, err := h.svc.Handle(r.Context(), userID, sessionID, req.Message)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		slog.Error("Chat handling failed", "user_id", userID, "error", err)
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slog.Warn("Failed to encode chat reply", "error", err)
	}
}

// HandleReset handles POST /api/chat/reset requests.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	h.svc.Reset(r.Context(), userID, sessionID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "reset"}); err != nil {
		slog.Warn("Failed to encode reset reply", "error", err)
	}
}

// HandleState handles GET /api/chat/state requests.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	state := h.svc.StateOf(userID, sessionID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		slog.Warn("Failed to encode chat state", "error", err)
	}
}

// Close releases service resources.
func (h *Handler) Close() {
	h.svc.Close()
}
