package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/subtask-dev/subtask/internal/uuid"
	"github.com/subtask-dev/subtask/session"
)

const (
	maxPasswordLen    = 1024
	maxDisplayNameLen = 128
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{2,31}$`)

// Service implements account registration, authentication and the
// identity checks used to guard requests.
type Service struct {
	store  Store
	hasher Hasher
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHasher overrides DefaultHasher.
func WithHasher(h Hasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		hasher: DefaultHasher(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new account. The display name defaults to the
// username.
func (s *Service) Create(ctx context.Context, username, displayName, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = username
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateDisplayName(displayName); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	// Fast path; the store enforces uniqueness again on write.
	if _, err := s.store.FindByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, salt, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &Account{
		ID:           uuid.New(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		PasswordSalt: salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate returns the account matching username and password. Unknown
// usernames and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	a, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// Spend the same hashing work so response time does not reveal
		// whether the username exists.
		s.hasher.Verify(password, strings.Repeat("0", 2*s.hasher.params.KeyLen), strings.Repeat("0", 2*s.hasher.params.SaltLen))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(password, a.PasswordHash, a.PasswordSalt) {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// Get returns the account with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

// CurrentAccount resolves sess to its account. It returns nil without error
// when the session is anonymous or names an account that no longer exists.
// It never mutates the session.
func (s *Service) CurrentAccount(ctx context.Context, sess *session.Session) (*Account, error) {
	if !sess.Authenticated() {
		return nil, nil
	}
	a, err := s.store.Get(ctx, sess.AccountID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RequireLoggedIn is CurrentAccount that fails with ErrUnauthorized when no
// account is present.
func (s *Service) RequireLoggedIn(ctx context.Context, sess *session.Session) (*Account, error) {
	a, err := s.CurrentAccount(ctx, sess)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrUnauthorized
	}
	return a, nil
}

// ChangePassword replaces the password of account id after verifying the
// current one.
func (s *Service) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(currentPassword, a.PasswordHash, a.PasswordSalt) {
		return ErrIncorrectPassword
	}
	hash, salt, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	a.PasswordHash, a.PasswordSalt = hash, salt
	a.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, a)
}

// ChangeUsername renames account id.
func (s *Service) ChangeUsername(ctx context.Context, id, username string) (*Account, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Username == username {
		return a, nil
	}
	if UsernameKey(a.Username) != UsernameKey(username) {
		if _, err := s.store.FindByUsername(ctx, username); err == nil {
			return nil, ErrUsernameTaken
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	a.Username = username
	a.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ChangeDisplayName updates the display name of account id.
func (s *Service) ChangeDisplayName(ctx context.Context, id, displayName string) (*Account, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if err := validateDisplayName(displayName); err != nil {
		return nil, err
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	a.DisplayName = displayName
	a.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-' and start with a letter or digit", ErrInvalidInput)
	}
	return nil
}

func validateDisplayName(name string) error {
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return fmt.Errorf("%w: display name must be at most %d characters", ErrInvalidInput, maxDisplayNameLen)
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d characters", ErrInvalidInput, maxPasswordLen)
	}
	return nil
}
