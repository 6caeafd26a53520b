// Package domain contains core domain types for Spectral.
package domain

import "strings"

// Intent is the closed category describing what a user's message is asking for.
type Intent string

const (
	// IntentCode is a generic programming request.
	IntentCode Intent = "CODE"
	// IntentExploitation is a request to attack or gain access to a system.
	IntentExploitation Intent = "EXPLOITATION"
	// IntentReconnaissance is a scanning or enumeration request.
	IntentReconnaissance Intent = "RECONNAISSANCE"
	// IntentResearch is a vulnerability or CVE lookup request.
	IntentResearch Intent = "RESEARCH"
	// IntentChat is casual, non-actionable conversation.
	IntentChat Intent = "CHAT"
)

// AllIntents returns every valid intent label.
func AllIntents() []Intent {
	return []Intent{
		IntentCode,
		IntentExploitation,
		IntentReconnaissance,
		IntentResearch,
		IntentChat,
	}
}

// IsValid reports whether the intent is one of the closed label set.
func (i Intent) IsValid() bool {
	switch i {
	case IntentCode, IntentExploitation, IntentReconnaissance, IntentResearch, IntentChat:
		return true
	}
	return false
}

// ParseIntent maps free-form text (e.g. a generation-backend reply) onto a
// known intent label. The second return value is false when the text does not
// name a valid intent.
func ParseIntent(s string) (Intent, bool) {
	intent := Intent(strings.ToUpper(strings.TrimSpace(s)))
	if intent.IsValid() {
		return intent, true
	}
	return "", false
}

// Classification pairs an intent label with the classifier's confidence in it.
// Confidence is advisory and always within [0.0, 1.0].
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}
