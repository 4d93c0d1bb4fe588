// Package session implements cookie-addressed browser sessions with a
// sliding expiry window.
//
// Every request is resolved to a Session: either the live one named by the
// request's cookie or a fresh anonymous one. The Manager renews the session
// on every request and the store drops it after DefaultTTL of inactivity.
// Expiry is lazy; no background sweeper runs.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the sliding inactivity window after which a session expires.
const DefaultTTL = 2 * time.Hour

// ErrNotFound is returned by a Store when the session does not exist or has
// expired.
var ErrNotFound = errors.New("session not found")

// Session binds a browser to an optional account.
type Session struct {
	ID           string    `json:"id"`
	CreationTime time.Time `json:"creation_time"`
	AccessTime   time.Time `json:"access_time"`
	// AccountID is empty for anonymous sessions.
	AccountID string `json:"account_id,omitempty"`
}

// Authenticated reports whether the session is bound to an account.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccountID != ""
}

// Store persists sessions with a per-key expiry.
type Store interface {
	// Get loads a live session. A positive renew restarts its expiry window.
	// Missing or expired sessions yield ErrNotFound.
	Get(ctx context.Context, id string, renew time.Duration) (*Session, error)
	// Set writes the session with a fresh expiry of ttl.
	Set(ctx context.Context, s *Session, ttl time.Duration) error
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}

type contextKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by WithSession, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
