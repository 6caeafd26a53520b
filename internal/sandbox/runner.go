package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/spectral/internal/identity"
	"github.com/ashureev/spectral/internal/store"
	"github.com/ashureev/spectral/internal/tasks"
)

// TaskRunner adapts per-user sandboxes to the tasks.Runner interface. The
// user is taken from the request context, their sandbox is created on first
// use and the command runs inside it.
type TaskRunner struct {
	manager Manager
	repo    store.Repository
}

var _ tasks.Runner = (*TaskRunner)(nil)

// NewTaskRunner returns a Runner that executes task commands in the
// requesting user's sandbox.
func NewTaskRunner(manager Manager, repo store.Repository) *TaskRunner {
	return &TaskRunner{manager: manager, repo: repo}
}

// Run executes the command in the calling user's sandbox.
func (r *TaskRunner) Run(ctx context.Context, command string) (string, error) {
	userID := identity.UserIDFromContext(ctx)
	if userID == "" {
		return "", errors.New("no user identity in context")
	}

	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("unknown user %s", userID)
	}

	sandboxID, err := r.manager.EnsureSandbox(ctx, userID, user.SandboxID, user.LastSeenAt)
	if err != nil {
		return "", fmt.Errorf("ensure sandbox: %w", err)
	}

	if sandboxID != user.SandboxID {
		if err := r.repo.SetUserSandbox(ctx, userID, sandboxID, user.SandboxID); err != nil {
			// Another request may have bound a sandbox concurrently; the
			// command still ran against a live one.
			slog.Warn("Failed to record sandbox binding", "user_id", userID, "error", err)
		}
	}

	return r.manager.Exec(ctx, sandboxID, command)
}
