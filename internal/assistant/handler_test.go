package assistant

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/spectral/internal/domain"
	"github.com/ashureev/spectral/internal/identity"
)

func serveChat(h http.HandlerFunc, req *http.Request, userID, sessionID string) *httptest.ResponseRecorder {
	if userID != "" {
		req = req.WithContext(identity.WithIdentity(req.Context(), userID, sessionID))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleChat(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "hello"}`))
	rec := serveChat(h.HandleChat, req, testUserID, testSessionID)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var reply domain.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if reply.Text == "" {
		t.Fatal("expected a reply text")
	}
	if reply.Stage != domain.StageReconnaissance {
		t.Fatalf("stage = %s, want %s", reply.Stage, domain.StageReconnaissance)
	}
}

func TestHandleChatRequiresIdentity(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "hello"}`))
	rec := serveChat(h.HandleChat, req, "", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleChatValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	h := NewHandler(svc)

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message": ""}`},
		{"whitespace message", `{"message": "   "}`},
		{"invalid json", `{"message": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			rec := serveChat(h.HandleChat, req, testUserID, testSessionID)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleChatRateLimited(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, WithRateLimit(1, time.Minute))
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "hello"}`))
	if rec := serveChat(h.HandleChat, req, testUserID, testSessionID); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "hello"}`))
	rec := serveChat(h.HandleChat, req, testUserID, testSessionID)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestHandleResetAndState(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": "192.168.1.100 running Windows 10"}`))
	if rec := serveChat(h.HandleChat, req, testUserID, testSessionID); rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat/state", nil)
	rec := serveChat(h.HandleState, req, testUserID, testSessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d, want %d", rec.Code, http.StatusOK)
	}
	var state State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if !state.Engaged || state.Stage != domain.StageEnumeration {
		t.Fatalf("unexpected state before reset: %+v", state)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat/reset", nil)
	if rec := serveChat(h.HandleReset, req, testUserID, testSessionID); rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat/state", nil)
	rec = serveChat(h.HandleState, req, testUserID, testSessionID)
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.Engaged || state.Stage != domain.StageReconnaissance {
		t.Fatalf("unexpected state after reset: %+v", state)
	}
}

func TestWebSocketCheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		allowed string
		isDev   bool
		want    bool
	}{
		{"dev bypass", "http://evil.example", "http://localhost:8080", true, true},
		{"exact match", "http://localhost:8080", "http://localhost:8080", false, true},
		{"no origin header", "", "http://localhost:8080", false, true},
		{"wildcard", "http://anywhere.example", "*", false, true},
		{"mismatch", "http://evil.example", "http://localhost:8080", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebSocketHandler(nil, tt.allowed, tt.isDev)
			req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := h.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, 50*time.Millisecond)
	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("expected the first two requests to pass")
	}
	if rl.Allow("u1") {
		t.Fatal("expected the third request to be limited")
	}
	if !rl.Allow("u2") {
		t.Fatal("expected another key to have its own budget")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("u1") {
		t.Fatal("expected the budget to refill after the window")
	}
}
