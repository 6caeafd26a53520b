package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/spectral/internal/store"
)

// stubRepo records EnsureUser calls. The embedded interface panics on
// anything else the middleware should never touch.
type stubRepo struct {
	store.Repository
	ensured []string
	err     error
}

func (s *stubRepo) EnsureUser(_ context.Context, userID string, _ time.Time) error {
	s.ensured = append(s.ensured, userID)
	return s.err
}

func serveIdentity(t *testing.T, repo store.Repository, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()

	var userID, sessionID string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, userID, sessionID
}

func TestMiddlewareIssuesAnonymousID(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{}
	req := httptest.NewRequest(http.MethodGet, "/api/chat/state", nil)
	rec, userID, sessionID := serveIdentity(t, repo, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !isValidAnonID(userID) {
		t.Errorf("user ID %q does not match the anonymous ID format", userID)
	}
	if sessionID != DefaultSessionIDValue {
		t.Errorf("session ID = %q, want %q", sessionID, DefaultSessionIDValue)
	}
	if len(repo.ensured) != 1 || repo.ensured[0] != userID {
		t.Errorf("EnsureUser calls = %v, want [%s]", repo.ensured, userID)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no anonymous ID cookie set")
	}
	if cookie.Value != userID {
		t.Errorf("cookie value = %q, want %q", cookie.Value, userID)
	}
	if !cookie.HttpOnly {
		t.Error("cookie is not HttpOnly")
	}
}

func TestMiddlewareKeepsExistingID(t *testing.T) {
	t.Parallel()

	const existing = "anon_0123456789abcdef0123456789abcdef"
	repo := &stubRepo{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})

	_, userID, _ := serveIdentity(t, repo, req)
	if userID != existing {
		t.Errorf("user ID = %q, want the existing cookie value", userID)
	}
}

func TestMiddlewareReplacesInvalidID(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "not-a-real-id"})

	_, userID, _ := serveIdentity(t, repo, req)
	if userID == "not-a-real-id" {
		t.Error("invalid cookie value was accepted")
	}
	if !isValidAnonID(userID) {
		t.Errorf("replacement ID %q does not match the anonymous ID format", userID)
	}
}

func TestSessionIDSources(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{}

	req := httptest.NewRequest(http.MethodGet, "/?session_id=tab-2", nil)
	_, _, sessionID := serveIdentity(t, repo, req)
	if sessionID != "tab-2" {
		t.Errorf("query session ID = %q, want tab-2", sessionID)
	}

	req = httptest.NewRequest(http.MethodGet, "/?session_id=tab-2", nil)
	req.Header.Set(SessionHeaderName, "tab-1")
	_, _, sessionID = serveIdentity(t, repo, req)
	if sessionID != "tab-1" {
		t.Errorf("header session ID = %q, want tab-1 (header wins)", sessionID)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"tab-1", "tab-1"},
		{"  tab-1  ", "tab-1"},
		{"", DefaultSessionIDValue},
		{"bad session", DefaultSessionIDValue},
		{"<script>", DefaultSessionIDValue},
	}
	for _, tc := range tests {
		if got := sanitizeSessionID(tc.in); got != tc.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
