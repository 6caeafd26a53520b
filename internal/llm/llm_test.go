package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/spectral/internal/domain"
)

func TestNewReturnsNilForEmptyProvider(t *testing.T) {
	t.Parallel()

	client, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client when no provider is configured")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Provider: "oracle"}); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestClaudeComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "key-123" {
			t.Errorf("x-api-key = %q, want %q", got, "key-123")
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}
		var req claudeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"content":[{"text":"hello there"}]}`))
	}))
	defer srv.Close()

	client, err := New(Config{Provider: "claude", APIKey: "key-123", BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	out, err := client.Complete(context.Background(), CompletionRequest{Prompt: "say hello"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("Complete = %q, want %q", out, "hello there")
	}
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-456" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client, err := New(Config{Provider: "openai", APIKey: "key-456", BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	out, err := client.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "ok" {
		t.Fatalf("Complete = %q, want %q", out, "ok")
	}
}

func TestCompleteReportsAPIErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(Config{Provider: "claude", APIKey: "k", BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

// fixedClient returns a canned completion.
type fixedClient struct {
	out string
	err error
}

func (f *fixedClient) Complete(_ context.Context, _ CompletionRequest) (string, error) {
	return f.out, f.err
}

func TestIntentRefinerParsesLabel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		completion string
		want       domain.Intent
	}{
		{"RESEARCH", domain.IntentResearch},
		{"research", domain.IntentResearch},
		{"EXPLOITATION.", domain.IntentExploitation},
		{"chat\n", domain.IntentChat},
	}
	for _, tc := range cases {
		refiner := NewIntentRefiner(&fixedClient{out: tc.completion})
		got, err := refiner.RefineIntent(context.Background(), "text", domain.Classification{Intent: domain.IntentChat, Confidence: 0.2})
		if err != nil {
			t.Fatalf("RefineIntent(%q) failed: %v", tc.completion, err)
		}
		if got != tc.want {
			t.Fatalf("RefineIntent(%q) = %s, want %s", tc.completion, got, tc.want)
		}
	}
}

func TestIntentRefinerRejectsJunk(t *testing.T) {
	t.Parallel()

	refiner := NewIntentRefiner(&fixedClient{out: "I think this is probably fine"})
	if _, err := refiner.RefineIntent(context.Background(), "text", domain.Classification{}); err == nil {
		t.Fatal("expected an error for a reply that names no intent")
	}
}

func TestIntentRefinerPropagatesBackendError(t *testing.T) {
	t.Parallel()

	refiner := NewIntentRefiner(&fixedClient{err: errors.New("down")})
	if _, err := refiner.RefineIntent(context.Background(), "text", domain.Classification{}); err == nil {
		t.Fatal("expected the backend error to propagate")
	}
}

func TestChatPhraserRejectsEmptyReply(t *testing.T) {
	t.Parallel()

	phraser := NewChatPhraser(&fixedClient{out: "   "})
	if _, err := phraser.Phrase(context.Background(), "hi", "hello"); err == nil {
		t.Fatal("expected an error for an empty phrased reply")
	}
}
