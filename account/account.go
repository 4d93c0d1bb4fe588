// Package account manages local accounts: registration, password
// verification, profile settings and resolving a session to its account.
package account

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidCredentials is returned for an unknown username or a wrong
	// password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("username or password is incorrect")
	// ErrIncorrectPassword is returned when a password change supplies the
	// wrong current password.
	ErrIncorrectPassword = errors.New("incorrect password supplied")
	// ErrUsernameTaken is returned when a username is already registered.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrUnauthorized is returned when an operation requires a logged-in
	// session and none is present.
	ErrUnauthorized = errors.New("login required")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when an account changed between read and write.
	ErrConflict = errors.New("account was modified concurrently")
)

// Account is a locally registered user.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"password_hash"`
	PasswordSalt string    `json:"password_salt"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Version is the storage revision the account was read at.
	Version uint64 `json:"-"`
}

// Redacted is the caller-facing view of an Account. It never carries
// password material.
type Redacted struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Redact returns the caller-facing view of a.
func (a *Account) Redact() Redacted {
	return Redacted{
		ID:          a.ID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
	}
}
