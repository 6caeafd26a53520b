package llm

import (
	"context"
	"fmt"
	"strings"
)

const phraserSystem = "You are Spectral, a concise security-assessment " +
	"assistant. Reword the draft reply so it reads naturally. Keep it short. " +
	"Never add code, commands, tool names or tool output."

// ChatPhraser rewords conversational replies through the generation backend.
// It satisfies the conversation engine's Phraser interface; the engine only
// ever applies it to non-gating small talk.
type ChatPhraser struct {
	client Client
}

// NewChatPhraser wraps a backend client as a reply phraser.
func NewChatPhraser(client Client) *ChatPhraser {
	return &ChatPhraser{client: client}
}

// Phrase rewrites the draft reply to the user's message. An empty completion
// is an error so the caller keeps its template.
func (p *ChatPhraser) Phrase(ctx context.Context, userText, draft string) (string, error) {
	prompt := fmt.Sprintf("User said: %q\nDraft reply: %q\nReworded reply:", userText, draft)
	out, err := p.client.Complete(ctx, CompletionRequest{
		System:      phraserSystem,
		Prompt:      prompt,
		MaxTokens:   256,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("llm: empty phrased reply")
	}
	return out, nil
}
