package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/subtask-dev/subtask/internal/util"
)

// idBytes is the entropy of a session id before base64url encoding.
const idBytes = 32

// Manager creates, renews and persists sessions.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger used to report degraded store operations.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager returns a Manager persisting sessions in store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// TTL returns the sliding expiry window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Resolve returns the live session named by token, with its access time
// bumped. When token is empty, unknown, expired or unreadable a new
// anonymous session is created and persisted instead. Resolve never fails;
// store errors are logged.
//
// An existing session is read without renewal: the Finalize that closes
// every request rewrites it with a fresh expiry, so a request costs one
// read and one write on every backend.
func (m *Manager) Resolve(ctx context.Context, token string) *Session {
	if token != "" {
		s, err := m.store.Get(ctx, token, 0)
		switch {
		case err == nil:
			s.AccessTime = m.nextAccessTime(s.AccessTime)
			return s
		case !errors.Is(err, ErrNotFound):
			m.logger.WarnContext(ctx, "session lookup failed; issuing new session", "error", err)
		}
	}

	s := m.newSession()
	if err := m.store.Set(ctx, s, m.ttl); err != nil {
		m.logger.WarnContext(ctx, "persisting new session failed", "error", err)
	}
	return s
}

// Finalize persists s with a fresh expiry and returns the cookie value that
// identifies it.
func (m *Manager) Finalize(ctx context.Context, s *Session) (string, error) {
	if err := m.store.Set(ctx, s, m.ttl); err != nil {
		return s.ID, fmt.Errorf("persisting session: %w", err)
	}
	return s.ID, nil
}

// Login binds s to accountID. The change is persisted by Finalize.
func (m *Manager) Login(s *Session, accountID string) {
	s.AccountID = accountID
}

// Logout returns s to the anonymous state. Logging out an anonymous session
// is a no-op.
func (m *Manager) Logout(s *Session) {
	s.AccountID = ""
}

// Destroy removes s from the store.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	return m.store.Delete(ctx, s.ID)
}

func (m *Manager) newSession() *Session {
	id, err := util.RandomToken(idBytes)
	if err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("session: generating id: %v", err))
	}
	now := m.now().UTC()
	return &Session{
		ID:           id,
		CreationTime: now,
		AccessTime:   now,
	}
}

// nextAccessTime returns now, nudged forward when the clock has not moved
// past prev so access times strictly increase.
func (m *Manager) nextAccessTime(prev time.Time) time.Time {
	now := m.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
