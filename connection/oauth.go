package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2 implements the token half of Provider (authorization URL, code
// exchange and refresh) on top of golang.org/x/oauth2. Providers embed it
// and add ProfileInfo and Locations.
type OAuth2 struct {
	Config *oauth2.Config
	// AuthOptions are appended to every authorization URL.
	AuthOptions []oauth2.AuthCodeOption
	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
	// Now is the time source for relative expiries. Defaults to time.Now.
	Now func() time.Time
	// VerifyToken, when set, checks a token response before it is accepted.
	VerifyToken func(ctx context.Context, tok *oauth2.Token) error
}

func (o *OAuth2) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Context returns ctx carrying the configured HTTP client for oauth2.
func (o *OAuth2) Context(ctx context.Context) context.Context {
	if o.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.HTTPClient)
}

// AuthorizationURL returns the provider consent URL.
func (o *OAuth2) AuthorizationURL(state string) string {
	return o.Config.AuthCodeURL(state, o.AuthOptions...)
}

// Exchange trades code for a token-bearing Connection.
func (o *OAuth2) Exchange(ctx context.Context, code string) (Connection, error) {
	tok, err := o.Config.Exchange(o.Context(ctx), code)
	if err != nil {
		return Connection{}, fmt.Errorf("%w: exchanging authorization code: %w", ErrUpstream, err)
	}
	if tok.AccessToken == "" {
		return Connection{}, fmt.Errorf("%w: token response carried no access token", ErrUpstream)
	}
	if o.VerifyToken != nil {
		if err := o.VerifyToken(o.Context(ctx), tok); err != nil {
			return Connection{}, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
	}
	var c Connection
	o.applyToken(&c, tok)
	return c, nil
}

// Refresh redeems c's refresh token.
func (o *OAuth2) Refresh(ctx context.Context, c Connection) (Connection, error) {
	if c.RefreshToken == "" {
		return Connection{}, fmt.Errorf("%w: no refresh token", ErrUpstream)
	}
	// A past expiry forces the token source to hit the token endpoint.
	src := o.Config.TokenSource(o.Context(ctx), &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return Connection{}, fmt.Errorf("%w: refreshing token: %w", ErrUpstream, err)
	}
	o.applyToken(&c, tok)
	return c, nil
}

// Client returns an HTTP client authenticating with c's access token. It
// never refreshes; callers obtain c through Service.Open.
func (o *OAuth2) Client(ctx context.Context, c Connection) *http.Client {
	return oauth2.NewClient(o.Context(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.AccessToken,
		TokenType:   "Bearer",
	}))
}

func (o *OAuth2) applyToken(c *Connection, tok *oauth2.Token) {
	now := o.now()
	c.AccessToken = tok.AccessToken
	c.AccessExpire = time.Time{}
	if !tok.Expiry.IsZero() {
		c.AccessExpire = tok.Expiry.UTC()
	}
	if tok.RefreshToken != "" {
		c.RefreshToken = tok.RefreshToken
	}
	if d, ok := extraSeconds(tok, "refresh_token_expires_in"); ok {
		c.RefreshExpire = now.Add(d).UTC()
	}
}

// extraSeconds reads a lifetime in seconds from the raw token response. Form
// encoded responses yield int64 for integers, JSON responses yield numbers.
func extraSeconds(tok *oauth2.Token, key string) (time.Duration, bool) {
	var secs int64
	switch v := tok.Extra(key).(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		secs = n
	case int64:
		secs = v
	case int:
		secs = int64(v)
	case float64:
		secs = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		secs = n
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
