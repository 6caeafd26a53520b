package assistant

import (
	"sync"
)

// defaultHistorySize is how many exchanges a conversation remembers for
// phrasing context.
const defaultHistorySize = 8

// Exchange is one completed user/assistant turn.
type Exchange struct {
	User      string
	Assistant string
}

// History is a fixed-capacity ring of a conversation's most recent
// exchanges. When full it overwrites the oldest entry, so long chats cannot
// grow memory.
type History struct {
	mu      sync.RWMutex
	entries []Exchange
	head    int // next write position
	count   int
}

// NewHistory creates a history ring with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &History{entries: make([]Exchange, capacity)}
}

// Add records one exchange, evicting the oldest when the ring is full.
func (h *History) Add(user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.head] = Exchange{User: user, Assistant: assistant}
	h.head = (h.head + 1) % len(h.entries)
	if h.count < len(h.entries) {
		h.count++
	}
}

// Recent returns the stored exchanges, oldest first.
func (h *History) Recent() []Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return nil
	}
	out := make([]Exchange, 0, h.count)
	start := (h.head - h.count + len(h.entries)) % len(h.entries)
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}

// Len returns the number of stored exchanges.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Reset clears the ring.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.count = 0
}

// Capacity returns the maximum number of stored exchanges.
func (h *History) Capacity() int {
	return len(h.entries)
}
