package sandbox

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/spectral/internal/store"
)

type fakeManager struct {
	mu      sync.Mutex
	stopped []string
}

func (f *fakeManager) EnsureSandbox(context.Context, string, string, time.Time) (string, error) {
	return "sb-fake", nil
}

func (f *fakeManager) Exec(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeManager) StopSandbox(_ context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sandboxID)
	return nil
}

func (f *fakeManager) IsRunning(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeManager) EnsureNetwork(context.Context) (string, error) {
	return "net-fake", nil
}

func TestReapIdleSandboxes(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "spectral.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	if err := repo.EnsureUser(ctx, "anon_idle", old); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetUserSandbox(ctx, "anon_idle", "sb-idle", ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateLastSeen(ctx, "anon_idle", old); err != nil {
		t.Fatal(err)
	}

	if err := repo.EnsureUser(ctx, "anon_active", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetUserSandbox(ctx, "anon_active", "sb-active", ""); err != nil {
		t.Fatal(err)
	}

	mgr := &fakeManager{}
	var cleaned []string
	reapIdleSandboxes(ctx, repo, mgr, time.Hour, func(userID string) {
		cleaned = append(cleaned, userID)
	})

	if len(mgr.stopped) != 1 || mgr.stopped[0] != "sb-idle" {
		t.Errorf("stopped sandboxes = %v, want [sb-idle]", mgr.stopped)
	}
	if len(cleaned) != 1 || cleaned[0] != "anon_idle" {
		t.Errorf("cleanup callbacks = %v, want [anon_idle]", cleaned)
	}

	idleUser, err := repo.GetUser(ctx, "anon_idle")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if idleUser.SandboxID != "" {
		t.Errorf("idle user sandbox_id = %q, want cleared", idleUser.SandboxID)
	}

	activeUser, err := repo.GetUser(ctx, "anon_active")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if activeUser.SandboxID != "sb-active" {
		t.Errorf("active user sandbox_id = %q, want untouched", activeUser.SandboxID)
	}
}
