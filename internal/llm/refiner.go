package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/spectral/internal/domain"
)

const refinerSystem = "You label user requests for a security-assessment " +
	"assistant. Reply with exactly one word: CODE, EXPLOITATION, " +
	"RECONNAISSANCE, RESEARCH or CHAT."

// IntentRefiner resolves ambiguous classifications by asking the generation
// backend for one of the closed intent labels. It satisfies the classifier's
// Refiner interface.
type IntentRefiner struct {
	client Client
}

// NewIntentRefiner wraps a backend client as an intent refiner.
func NewIntentRefiner(client Client) *IntentRefiner {
	return &IntentRefiner{client: client}
}

// RefineIntent asks the backend to label the text. Any reply that does not
// name a valid intent is reported as an error so the caller keeps its
// heuristic result.
func (r *IntentRefiner) RefineIntent(ctx context.Context, text string, heuristic domain.Classification) (domain.Intent, error) {
	prompt := fmt.Sprintf("Request: %q\nHeuristic guess: %s (confidence %.2f)\nLabel:",
		text, heuristic.Intent, heuristic.Confidence)
	out, err := r.client.Complete(ctx, CompletionRequest{
		System:    refinerSystem,
		Prompt:    prompt,
		MaxTokens: 8,
	})
	if err != nil {
		return "", err
	}
	label, ok := domain.ParseIntent(firstWord(out))
	if !ok {
		return "", fmt.Errorf("llm: unrecognized intent label %q", strings.TrimSpace(out))
	}
	return label, nil
}

// firstWord extracts the leading word, stripped of punctuation, from a
// backend reply.
func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,:;!\"'")
}
