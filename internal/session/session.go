package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// DefaultTTL is the sliding inactivity window of a session.
const DefaultTTL = 30 * time.Minute

// Session is one authenticated login.
type Session struct {
	ID           string    `json:"id"`
	User         auth.User `json:"user"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// New opens a session for user at now. The password hash is never kept.
func New(user auth.User, now time.Time, ttl time.Duration) Session {
	return Session{
		ID:           uuid.NewString(),
		User:         user.Public(),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
	}
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Touch records activity at now and pushes expiry out by ttl.
func (s *Session) Touch(now time.Time, ttl time.Duration) {
	s.LastActivity = now
	s.ExpiresAt = now.Add(ttl)
}

// Stale reports whether the stored user snapshot differs from current in
// any way that matters for authorisation.
func (s Session) Stale(current auth.User) bool {
	return !s.User.UpdatedAt.Equal(current.UpdatedAt) ||
		s.User.Role != current.Role ||
		s.User.Email != current.Email ||
		s.User.Username != current.Username
}
