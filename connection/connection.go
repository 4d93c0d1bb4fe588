// Package connection manages identities linked from external OAuth
// providers and the lifecycle of their tokens.
//
// Providers are looked up by key in a Registry. All token-authenticated work
// goes through Service.Open, which refreshes an expired access token first,
// so refresh logic lives in exactly one place (Service.EnsureFresh).
package connection

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for a connection that does not exist or is
	// not owned by the caller. The two cases are indistinguishable.
	ErrNotFound = errors.New("connection not found")
	// ErrUnknownProvider is returned for a provider key that is not registered.
	ErrUnknownProvider = errors.New("unknown connection provider")
	// ErrUpstream wraps failures reported by, or talking to, a provider.
	ErrUpstream = errors.New("connection provider request failed")
	// ErrReauthorizationRequired is returned when a connection's tokens can
	// no longer be refreshed. The user must link the account again.
	ErrReauthorizationRequired = errors.New("connection must be re-authorized")
	// ErrLocationsUnsupported is returned by providers without a locations
	// capability.
	ErrLocationsUnsupported = errors.New("provider does not support locations")
	// ErrConflict is returned when a connection changed between read and write.
	ErrConflict = errors.New("connection was modified concurrently")
)

// Connection is an external identity linked to an account, together with
// the tokens issued for it. A zero expiry means the provider did not set one.
type Connection struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Type          string    `json:"type"`
	AccessToken   string    `json:"access_token"`
	AccessExpire  time.Time `json:"access_expire"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	RefreshExpire time.Time `json:"refresh_expire"`
	AccountName   string    `json:"account_name,omitempty"`
	AccountImage  string    `json:"account_image,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Version is the storage revision the connection was read at.
	Version uint64 `json:"-"`
}

// AccessExpired reports whether the access token must be refreshed before use.
func (c *Connection) AccessExpired(now time.Time) bool {
	return !c.AccessExpire.IsZero() && !now.Before(c.AccessExpire)
}

// Refreshable reports whether the refresh token can still be redeemed.
func (c *Connection) Refreshable(now time.Time) bool {
	if c.RefreshToken == "" {
		return false
	}
	return c.RefreshExpire.IsZero() || now.Before(c.RefreshExpire)
}

// Apply folds provider profile metadata into c.
func (c *Connection) Apply(info ProfileInfo) {
	c.AccountName = info.AccountName
	c.AccountImage = info.AccountImage
}

// Redacted is the caller-facing view of a Connection. It never carries
// tokens or expiry data.
type Redacted struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	Type         string `json:"type"`
	AccountName  string `json:"account_name"`
	AccountImage string `json:"account_image"`
}

// Redact returns the caller-facing view of c.
func (c *Connection) Redact() Redacted {
	return Redacted{
		ID:           c.ID,
		AccountID:    c.AccountID,
		Type:         c.Type,
		AccountName:  c.AccountName,
		AccountImage: c.AccountImage,
	}
}

// ProfileInfo is the display metadata a provider reports for an identity.
type ProfileInfo struct {
	AccountName  string `json:"account_name"`
	AccountImage string `json:"account_image"`
}

// Location is a provider-specific target an identity can act on, such as a
// repository.
type Location struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Private     bool   `json:"private"`
}
