package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/spectral/internal/identity"
	"github.com/ashureev/spectral/internal/sandbox"
	"github.com/ashureev/spectral/internal/shared"
	"github.com/go-chi/chi/v5"
)

// provisionLocks prevents concurrent provisioning for the same user.
var provisionLocks sync.Map

// destroyLocks prevents concurrent destroy requests for the same user.
var destroyLocks sync.Map

// destroyCleanupTimeout bounds the background container stop after a
// destroy request has already been answered.
const destroyCleanupTimeout = 30 * time.Second

// SandboxHandler handles sandbox lifecycle endpoints.
type SandboxHandler struct {
	*Handler
	mgr sandbox.Manager
}

// NewSandboxHandler creates a new sandbox handler.
func NewSandboxHandler(base *Handler, mgr sandbox.Manager) *SandboxHandler {
	return &SandboxHandler{Handler: base, mgr: mgr}
}

// RegisterRoutes registers sandbox routes (requires identity).
func (h *SandboxHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sandbox", func(r chi.Router) {
		r.Post("/provision", h.Provision)
		r.Post("/destroy", h.Destroy)
		r.Get("/status", h.Status)
	})
}

// Provision creates and starts a sandbox for the user.
func (h *SandboxHandler) Provision(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Prevent concurrent provisioning requests.
	lock, _ := provisionLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Provisioning already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "provisioning_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		provisionLocks.Delete(userID)
	}()

	ctx := r.Context()
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		slog.Error("Failed to get user for provisioning", "error", err, "user_id", userID)
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	slog.Info("Provisioning sandbox", "user_id", userID)

	sandboxID, err := h.mgr.EnsureSandbox(ctx, userID, user.SandboxID, user.LastSeenAt)
	if err != nil {
		slog.Error("Failed to provision sandbox", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to provision sandbox")
		return
	}

	if sandboxID != user.SandboxID {
		if err := h.setSandboxWithRetry(ctx, userID, sandboxID, user.SandboxID); err != nil {
			slog.Error("Failed to update sandbox ID", "error", err, "user_id", userID)
			Error(w, http.StatusInternalServerError, "failed to update sandbox state")
			return
		}
	}

	slog.Info("Sandbox provisioned", "user_id", userID, "sandbox_id", sandboxID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ready",
		"sandbox_id": sandboxID,
	})
}

// Destroy stops and removes the user's sandbox.
func (h *SandboxHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx := r.Context()

	// Prevent concurrent destroy requests.
	lock, _ := destroyLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Destroy already in progress", "user_id", userID)
		JSON(w, http.StatusOK, map[string]string{"status": "destroying"})
		return
	}
	defer func() {
		mutex.Unlock()
		destroyLocks.Delete(userID)
	}()

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		slog.Error("Failed to get user for destruction", "error", err, "user_id", userID)
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	if user.SandboxID != "" {
		slog.Info("Destroying sandbox", "user_id", userID, "sandbox_id", user.SandboxID)

		// Clear the binding immediately so destroy is instant from the
		// user's perspective; the container stop continues in background.
		if err := h.setSandboxWithRetry(ctx, userID, "", user.SandboxID); err != nil {
			slog.Error("Failed to clear sandbox ID", "error", err, "user_id", userID)
			Error(w, http.StatusInternalServerError, "failed to update sandbox state")
			return
		}

		sandboxID := user.SandboxID
		go func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), destroyCleanupTimeout)
			defer cancel()

			if err := h.mgr.StopSandbox(cleanupCtx, sandboxID); err != nil {
				slog.Error("Failed to stop sandbox", "error", err, "sandbox_id", sandboxID, "user_id", userID)
			} else {
				slog.Info("Sandbox stop completed", "sandbox_id", sandboxID, "user_id", userID)
			}
		}()
	}

	slog.Info("Sandbox destroyed", "user_id", userID)
	JSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

// Status reports whether the user's sandbox is running.
func (h *SandboxHandler) Status(w http.ResponseWriter, r *http.Request) {
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

	if user.SandboxID == "" {
		JSON(w, http.StatusOK, map[string]interface{}{"status": "absent"})
		return
	}

	running, err := h.mgr.IsRunning(r.Context(), user.SandboxID)
	if err != nil {
		slog.Error("Failed to inspect sandbox", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to inspect sandbox")
		return
	}

	status := "stopped"
	if running {
		status = "running"
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"sandbox_id":  user.SandboxID,
		"sandbox_ttl": int64(user.SandboxTTL(h.sandboxTTL).Seconds()),
	})
}

// setSandboxWithRetry drives the optimistic binding update through
// transient SQLITE_BUSY errors. A canceled request context is not fatal
// here; the reaper reconciles bindings on its own schedule.
func (h *SandboxHandler) setSandboxWithRetry(ctx context.Context, userID, newID, expectedID string) error {
	err := shared.RetrySQLite(ctx, 3, 50*time.Millisecond, func() error {
		return h.repo.SetUserSandbox(ctx, userID, newID, expectedID)
	})
	if err != nil && ctx.Err() != nil {
		slog.Debug("Context canceled during sandbox binding update", "user_id", userID, "error", err)
		return nil
	}
	return err
}
