// Package intent classifies free-form user text into a closed set of request
// categories. The heuristic vocabulary match is the guaranteed baseline: it
// needs no external services and never fails. An optional Refiner (typically
// backed by a language-generation model) can sharpen low-confidence results,
// but its absence or failure never surfaces to the caller.
package intent

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ashureev/spectral/internal/domain"
)

// Confidence weights. Exact hits beat fuzzy hits, every additional hit within
// the winning vocabulary raises confidence, and the result stays below 1.0.
const (
	weightPhrase = 0.95
	weightExact  = 0.90
	weightFuzzy  = 0.65

	hitBonus      = 0.05
	maxConfidence = 0.98

	// fallbackConfidence is reported when nothing matched and the text is
	// treated as plain conversation.
	fallbackConfidence = 0.20

	// refinedConfidence is reported for labels supplied by the refiner.
	refinedConfidence = 0.75

	// defaultRefineBelow is the heuristic confidence under which an
	// available refiner is consulted.
	defaultRefineBelow = 0.70
)

// Refiner resolves ambiguous classifications. Implementations are expected to
// be backed by a language-generation model; errors are absorbed by the
// classifier and the heuristic result is kept.
type Refiner interface {
	RefineIntent(ctx context.Context, text string, heuristic domain.Classification) (domain.Intent, error)
}

// Classifier maps raw user text to an intent label with a confidence score.
// It is stateless across calls and safe to share between conversations.
type Classifier struct {
	refiner     Refiner
	refineBelow float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithRefiner attaches a generation-backed refiner for ambiguous inputs.
func WithRefiner(r Refiner) Option {
	return func(c *Classifier) { c.refiner = r }
}

// WithRefineThreshold overrides the confidence below which the refiner runs.
func WithRefineThreshold(v float64) Option {
	return func(c *Classifier) { c.refineBelow = v }
}

// NewClassifier builds a classifier. With no options it runs purely on the
// heuristic vocabulary match.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{refineBelow: defaultRefineBelow}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns exactly one intent label and a confidence in [0, 1].
// It never fails: on total ambiguity it returns IntentChat with low
// confidence so callers always receive a usable decision. The context is
// only consulted when a refiner is attached.
func (c *Classifier) Classify(ctx context.Context, text string) domain.Classification {
	normalized := normalize(text)
	cls := classifyHeuristic(normalized, tokenize(normalized))

	if c.refiner == nil || cls.Confidence >= c.refineBelow {
		return cls
	}

	refined, err := c.refiner.RefineIntent(ctx, text, cls)
	if err != nil {
		slog.Debug("Intent refinement unavailable, keeping heuristic label",
			"intent", cls.Intent, "error", err)
		return cls
	}
	if !refined.IsValid() || refined == cls.Intent {
		return cls
	}
	return domain.Classification{Intent: refined, Confidence: refinedConfidence}
}

// classifyHeuristic walks the vocabulary in priority order and returns the
// first intent with at least one hit.
func classifyHeuristic(normalized string, tokens []string) domain.Classification {
	for _, entry := range vocabulary {
		var best float64
		hits := 0
		for _, t := range entry.terms {
			weight, ok := matchTerm(t, normalized, tokens)
			if !ok {
				continue
			}
			hits++
			if weight > best {
				best = weight
			}
		}
		if hits == 0 {
			continue
		}
		confidence := best + hitBonus*float64(hits-1)
		if confidence > maxConfidence {
			confidence = maxConfidence
		}
		return domain.Classification{Intent: entry.intent, Confidence: confidence}
	}
	return domain.Classification{Intent: domain.IntentChat, Confidence: fallbackConfidence}
}

// matchTerm reports whether a single vocabulary term matches, and with what
// weight. Fuzzy-mode terms that match verbatim still earn the exact weight.
func matchTerm(t term, normalized string, tokens []string) (float64, bool) {
	switch t.mode {
	case modePhrase:
		if strings.Contains(normalized, t.text) {
			return weightPhrase, true
		}
	case modeExact:
		for _, tok := range tokens {
			if tok == t.text {
				return weightExact, true
			}
		}
	case modeFuzzy:
		for _, tok := range tokens {
			if tok == t.text {
				return weightExact, true
			}
			if fuzzyEqual(t.text, tok) {
				return weightFuzzy, true
			}
		}
	}
	return 0, false
}

// normalize lowercases the text and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenize splits text into lowercase alphanumeric tokens.
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
