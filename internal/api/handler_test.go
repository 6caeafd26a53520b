//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/spectral/internal/assistant"
	"github.com/ashureev/spectral/internal/domain"
	"github.com/ashureev/spectral/internal/identity"
)

const (
	testAnonID  = "anon_0123456789abcdef0123456789abcdef"
	otherAnonID = "anon_fedcba9876543210fedcba9876543210"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

// serveIdentified runs one handler through the identity middleware with a
// fixed anonymous cookie so tests can pre-seed repository state for the user.
func serveIdentified(repo *fakeRepo, handler http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testAnonID})
	rr := httptest.NewRecorder()

	mw := identity.Middleware(repo, true)
	mw(handler).ServeHTTP(rr, req)
	return rr
}

func seedSession(t *testing.T, repo *fakeRepo, userID, sessionID string) string {
	t.Helper()
	now := time.Now()
	key := assistant.ConversationKey(userID, sessionID)
	err := repo.EnsureSession(context.Background(), &domain.Session{
		ID:         key,
		UserID:     userID,
		Stage:      domain.StageReconnaissance,
		CreatedAt:  now,
		LastSeenAt: now,
	})
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	return key
}

func TestGetMeReportsSandboxBinding(t *testing.T) {
	repo := newFakeRepo()
	handler := NewHandler(repo, time.Hour)

	rr := serveIdentified(repo, handler.GetMe, http.MethodGet, "/api/me")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		UserID     string `json:"user_id"`
		SandboxID  string `json:"sandbox_id"`
		SandboxTTL int64  `json:"sandbox_ttl"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.UserID != testAnonID {
		t.Errorf("user_id = %q, want %q", body.UserID, testAnonID)
	}
	if body.SandboxID != "" || body.SandboxTTL != 0 {
		t.Errorf("fresh user should have no sandbox, got id=%q ttl=%d", body.SandboxID, body.SandboxTTL)
	}

	if err := repo.SetUserSandbox(context.Background(), testAnonID, "sb-1", ""); err != nil {
		t.Fatalf("SetUserSandbox: %v", err)
	}

	rr = serveIdentified(repo, handler.GetMe, http.MethodGet, "/api/me")
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.SandboxID != "sb-1" {
		t.Errorf("sandbox_id = %q, want sb-1", body.SandboxID)
	}
	if body.SandboxTTL <= 0 || body.SandboxTTL > 3600 {
		t.Errorf("sandbox_ttl = %d, want within (0, 3600]", body.SandboxTTL)
	}
}

func TestGetMeRequiresIdentity(t *testing.T) {
	handler := NewHandler(newFakeRepo(), time.Hour)

	rr := httptest.NewRecorder()
	handler.GetMe(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestListSessionsEmptyIsArray(t *testing.T) {
	repo := newFakeRepo()
	handler := NewHandler(repo, time.Hour)

	rr := serveIdentified(repo, handler.ListSessions, http.MethodGet, "/api/sessions")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestListSessionsReturnsOwnSessionsOnly(t *testing.T) {
	repo := newFakeRepo()
	handler := NewHandler(repo, time.Hour)

	key := seedSession(t, repo, testAnonID, "default")
	seedSession(t, repo, otherAnonID, "default")

	rr := serveIdentified(repo, handler.ListSessions, http.MethodGet, "/api/sessions")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var sessions []*domain.Session
	if err := json.NewDecoder(rr.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != key {
		t.Errorf("sessions = %+v, want exactly %q", sessions, key)
	}
}

func TestListMessagesDefaultSession(t *testing.T) {
	repo := newFakeRepo()
	handler := NewHandler(repo, time.Hour)
	ctx := context.Background()
	now := time.Now()

	key := seedSession(t, repo, testAnonID, "default")
	if err := repo.InsertMessage(ctx, &domain.Message{SessionID: key, Role: domain.RoleUser, Content: "hello", CreatedAt: now}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if err := repo.InsertMessage(ctx, &domain.Message{SessionID: key, Role: domain.RoleAssistant, Content: "hi", CreatedAt: now}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	// No session_id parameter: the handler falls back to the caller's
	// current conversation.
	rr := serveIdentified(repo, handler.ListMessages, http.MethodGet, "/api/messages")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var messages []*domain.Message
	if err := json.NewDecoder(rr.Body).Decode(&messages); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[1].Role != domain.RoleAssistant {
		t.Errorf("unexpected roles: %q, %q", messages[0].Role, messages[1].Role)
	}
}

func TestListMessagesRejectsForeignSession(t *testing.T) {
	repo := newFakeRepo()
	handler := NewHandler(repo, time.Hour)

	foreign := seedSession(t, repo, otherAnonID, "default")

	rr := serveIdentified(repo, handler.ListMessages, http.MethodGet, "/api/messages?session_id="+foreign)
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign session: expected status 404, got %d", rr.Code)
	}

	rr = serveIdentified(repo, handler.ListMessages, http.MethodGet, "/api/messages?session_id=never-created")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing session: expected status 404, got %d", rr.Code)
	}
}

func TestListMessagesInvalidLimit(t *testing.T) {
	repo := newFakeRepo()
	handler := NewHandler(repo, time.Hour)
	seedSession(t, repo, testAnonID, "default")

	for _, limit := range []string{"abc", "0", "-5"} {
		rr := serveIdentified(repo, handler.ListMessages, http.MethodGet, "/api/messages?limit="+limit)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit %q: expected status 400, got %d", limit, rr.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	handler := NewHealthHandler(newFakeRepo())

	rr := httptest.NewRecorder()
	handler.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	if body.Checks["database"] != "ok" {
		t.Errorf("database check = %q, want ok", body.Checks["database"])
	}
}
