// Package engine implements the staged conversation that gates security
// assessment help behind accumulated target information. A conversation
// starts at reconnaissance and moves forward one stage at a time as the user
// supplies the facts each stage asks for; it never skips ahead and only
// moves backward through an explicit reset.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/spectral/internal/domain"
)

// Classifier labels a message with an intent. *intent.Classifier satisfies
// this.
type Classifier interface {
	Classify(ctx context.Context, text string) domain.Classification
}

// Phraser rewords small-talk replies in the assistant's voice. Optional;
// when absent the template text is used as is.
type Phraser interface {
	Phrase(ctx context.Context, userText, draft string) (string, error)
}

// clearPhrases trigger an unconditional context reset before any
// classification happens. Multi-word phrases match as substrings,
// single words must appear as a whole token.
var clearPhrases = []string{
	"forget about that",
	"forget that",
	"forget it",
	"forget everything",
	"clear context",
	"clear the context",
	"start over",
	"start fresh",
	"start again",
	"scratch that",
	"never mind",
	"new target",
	"nevermind",
	"reset",
}

// Engine holds one conversation's state. It is not safe for concurrent use;
// callers serialize access per conversation.
type Engine struct {
	classifier Classifier
	phraser    Phraser
	policy     Policy

	stage domain.Stage
	facts facts
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the stage progression policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithPhraser enables model-backed phrasing of small-talk replies.
func WithPhraser(p Phraser) Option {
	return func(e *Engine) { e.phraser = p }
}

// New returns an engine at the start of a fresh conversation.
func New(classifier Classifier, opts ...Option) *Engine {
	e := &Engine{
		classifier: classifier,
		policy:     DefaultPolicy(),
		stage:      domain.StageReconnaissance,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stage returns the current methodology stage.
func (e *Engine) Stage() domain.Stage { return e.stage }

// Target returns a copy of the accumulated target facts.
func (e *Engine) Target() domain.TargetSnapshot { return e.facts.target.Snapshot() }

// Engaged reports whether any target fact has been captured yet.
func (e *Engine) Engaged() bool { return !e.facts.target.Empty() }

// Reset drops all accumulated state and returns the conversation to
// reconnaissance.
func (e *Engine) Reset() {
	e.stage = domain.StageReconnaissance
	e.facts = facts{}
}

// Handle processes one user message and always produces a reply: a reset
// acknowledgement, a conversational answer, or the next step of the staged
// engagement. It never fails.
func (e *Engine) Handle(ctx context.Context, text string) domain.Reply {
	if matchesClearPhrase(text) {
		e.Reset()
		return e.reply(domain.IntentChat, 1, respondCleared())
	}

	cls := e.classifier.Classify(ctx, text)
	ex := extractForStage(e.stage, text)

	if !e.isEngagementInput(cls.Intent, ex) {
		return e.reply(cls.Intent, cls.Confidence, e.conversational(ctx, cls.Intent, text))
	}

	captured := e.mergeFacts(ex)
	e.advance()
	return e.reply(cls.Intent, cls.Confidence, e.engagedResponse(captured))
}

// isEngagementInput decides whether a message belongs to the staged
// engagement. Offensive intents always do, coding requests do once a target
// exists, and anything else counts only when it carries facts the current
// stage is waiting for.
func (e *Engine) isEngagementInput(intent domain.Intent, ex extracted) bool {
	switch intent {
	case domain.IntentExploitation, domain.IntentReconnaissance:
		return true
	case domain.IntentCode:
		return e.Engaged()
	default:
		return ex.any()
	}
}

// mergeFacts folds newly extracted facts into the target record. Facts are
// additive: presence overwrites, absence never erases. It returns short
// descriptions of what was captured, for the reply.
func (e *Engine) mergeFacts(ex extracted) []string {
	var captured []string
	t := &e.facts.target
	if ex.address != "" {
		t.Address = ex.address
		captured = append(captured, "address "+ex.address)
	}
	if ex.os != "" {
		t.OS = ex.os
		captured = append(captured, "operating system "+ex.os)
	}
	for _, svc := range ex.services {
		if t.AddService(svc) {
			captured = append(captured, "service "+svc)
		}
	}
	if ex.methodology != "" {
		t.Methodology = ex.methodology
		captured = append(captured, "the delivery technique")
	}
	if ex.assessed {
		e.facts.assessed = true
		captured = append(captured, "your assessment")
	}
	return captured
}

// advance walks the stage table, moving forward one stage at a time while
// the current stage's requirements are met. Reaching the terminal stage
// stops the walk.
func (e *Engine) advance() {
	for {
		row, ok := rowFor(e.stage)
		if !ok || !row.satisfied(e.policy, &e.facts) {
			return
		}
		e.stage = row.next
	}
}

// conversational answers messages outside the engagement. Small talk goes
// through the phraser when one is configured; template text is the fallback
// and the only path for other intents, so a model can never smuggle
// artifacts into a coding or research reply.
func (e *Engine) conversational(ctx context.Context, intent domain.Intent, text string) string {
	draft := conversationalDraft(intent)
	if e.phraser == nil || intent != domain.IntentChat {
		return draft
	}
	phrased, err := e.phraser.Phrase(ctx, text, draft)
	if err != nil {
		slog.Debug("Reply phrasing unavailable, using template", "error", err)
		return draft
	}
	return phrased
}

func (e *Engine) reply(intent domain.Intent, confidence float64, text string) domain.Reply {
	return domain.Reply{
		Text:       text,
		Intent:     intent,
		Confidence: confidence,
		Stage:      e.stage,
		Target:     e.facts.target.Snapshot(),
	}
}

func matchesClearPhrase(text string) bool {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if normalized == "" {
		return false
	}
	tokens := splitWords(normalized)
	for _, phrase := range clearPhrases {
		if strings.ContainsRune(phrase, ' ') {
			if strings.Contains(normalized, phrase) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == phrase {
				return true
			}
		}
	}
	return false
}
