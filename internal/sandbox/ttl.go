package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/spectral/internal/shared"
	"github.com/ashureev/spectral/internal/store"
)

const reaperInterval = 5 * time.Minute

// CleanupCallback is called when a user's sandbox is reaped.
type CleanupCallback func(userID string)

// StartReaper runs a background goroutine that periodically sweeps for idle
// sandboxes and removes them.
func StartReaper(ctx context.Context, repo store.Repository, mgr Manager, ttl time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sandbox reaper started", "interval", reaperInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				reapIdleSandboxes(ctx, repo, mgr, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("Sandbox reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapIdleSandboxes(ctx context.Context, repo store.Repository, mgr Manager, ttl time.Duration, onCleanup CleanupCallback) {
	idle, err := repo.GetExpiredSandboxes(ctx, ttl)
	if err != nil {
		slog.Error("Sandbox reaper failed to get idle sandboxes", "error", err)
		return
	}

	if len(idle) == 0 {
		return
	}

	slog.Info("Sandbox reaper found idle sandboxes", "count", len(idle))

	for _, user := range idle {
		slog.Info("Sandbox reaper removing sandbox",
			"sandbox_id", user.SandboxID,
			"user_id", user.UserID)

		if err := mgr.StopSandbox(ctx, user.SandboxID); err != nil {
			slog.Error("Sandbox reaper failed to stop sandbox",
				"error", err,
				"sandbox_id", user.SandboxID,
				"user_id", user.UserID)
		}

		if onCleanup != nil {
			onCleanup(user.UserID)
		}

		// The chat path may be writing concurrently; retry around
		// SQLITE_BUSY and tolerate cancellation during shutdown.
		err := shared.RetrySQLite(ctx, 3, 50*time.Millisecond, func() error {
			return repo.SetUserSandbox(ctx, user.UserID, "", user.SandboxID)
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("Sandbox reaper failed to clear sandbox ID after retries",
				"error", err,
				"user_id", user.UserID)
		}
	}

	slog.Info("Sandbox reaper cleanup completed", "cleaned", len(idle))
}
