package domain

import (
	"time"
)

// User represents an anonymous visitor together with their sandbox binding.
type User struct {
	UserID     string    `json:"user_id"`
	SandboxID  string    `json:"sandbox_id,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasActiveSandbox returns true if the user has a non-empty sandbox ID.
func (u *User) HasActiveSandbox() bool {
	return u.SandboxID != ""
}

// SandboxTTL returns the time until the user's sandbox expires.
// Returns 0 if the sandbox has already expired.
func (u *User) SandboxTTL(idleDuration time.Duration) time.Duration {
	if !u.HasActiveSandbox() {
		return 0
	}
	expiresAt := u.LastSeenAt.Add(idleDuration)
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
