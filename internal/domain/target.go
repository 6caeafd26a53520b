package domain

import (
	"sort"
	"strings"
)

// TargetContext accumulates facts about the system under discussion within one
// conversation. It is exclusively owned by a single conversation engine and is
// only ever mutated in response to one incoming message at a time.
type TargetContext struct {
	Address     string
	OS          string
	Methodology string

	services map[string]struct{}
}

// AddService records a discovered service/port fact. Facts are deduplicated
// case-insensitively; it returns true when the fact was not already known.
func (t *TargetContext) AddService(svc string) bool {
	svc = strings.ToLower(strings.TrimSpace(svc))
	if svc == "" {
		return false
	}
	if t.services == nil {
		t.services = make(map[string]struct{})
	}
	if _, ok := t.services[svc]; ok {
		return false
	}
	t.services[svc] = struct{}{}
	return true
}

// ServiceCount returns the number of distinct service facts.
func (t *TargetContext) ServiceCount() int {
	return len(t.services)
}

// Services returns the discovered service facts in sorted order.
func (t *TargetContext) Services() []string {
	if len(t.services) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.services))
	for svc := range t.services {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether no fact of any kind has been captured.
func (t *TargetContext) Empty() bool {
	return t.Address == "" && t.OS == "" && t.Methodology == "" && len(t.services) == 0
}

// Reset discards every captured fact.
func (t *TargetContext) Reset() {
	*t = TargetContext{}
}

// Snapshot returns a read-only copy safe to hand to callers.
func (t *TargetContext) Snapshot() TargetSnapshot {
	return TargetSnapshot{
		Address:     t.Address,
		OS:          t.OS,
		Services:    t.Services(),
		Methodology: t.Methodology,
	}
}

// TargetSnapshot is a point-in-time copy of a TargetContext. Mutating it has
// no effect on the conversation.
type TargetSnapshot struct {
	Address     string   `json:"address,omitempty"`
	OS          string   `json:"os,omitempty"`
	Services    []string `json:"services,omitempty"`
	Methodology string   `json:"methodology,omitempty"`
}

// Empty reports whether the snapshot holds no facts.
func (s TargetSnapshot) Empty() bool {
	return s.Address == "" && s.OS == "" && s.Methodology == "" && len(s.Services) == 0
}
