package connection

import (
	"context"
	"fmt"
	"slices"
)

// Provider is an external identity provider.
type Provider interface {
	// Key is the stable provider identifier, e.g. "github".
	Key() string
	// AuthorizationURL returns the consent page to redirect a user to. It
	// does not touch the network.
	AuthorizationURL(state string) string
	// Exchange trades an authorization code for tokens. The returned
	// Connection carries tokens and expiries only.
	Exchange(ctx context.Context, code string) (Connection, error)
	// Refresh redeems c's refresh token. The result keeps every field of c
	// except tokens and expiries.
	Refresh(ctx context.Context, c Connection) (Connection, error)
	// ProfileInfo fetches display metadata using c's access token.
	ProfileInfo(ctx context.Context, c Connection) (ProfileInfo, error)
	// Locations lists targets c can act on, or returns ErrLocationsUnsupported.
	Locations(ctx context.Context, c Connection) ([]Location, error)
}

// Registry maps provider keys to providers. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns a Registry holding providers. A later provider with a
// duplicate key replaces an earlier one.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Key()] = p
	}
	return r
}

// Get returns the provider registered under key.
func (r *Registry) Get(key string) (Provider, error) {
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return p, nil
}

// Keys returns the registered provider keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
