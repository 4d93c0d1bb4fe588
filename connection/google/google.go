// Package google links Google accounts through OpenID Connect.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/subtask-dev/subtask/connection"
)

// Key is the registry key of the Google provider.
const Key = "google"

// DefaultIssuer is Google's OpenID Connect issuer.
const DefaultIssuer = "https://accounts.google.com"

// Config holds the OAuth client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Issuer overrides DefaultIssuer. Discovery is performed against it.
	Issuer     string
	Scopes     []string
	HTTPClient *http.Client
}

// Provider implements connection.Provider for Google.
type Provider struct {
	connection.OAuth2
	oidc     *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

var _ connection.Provider = (*Provider)(nil)

// New performs OIDC discovery and returns a Google provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google: client id and secret are required")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	op, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("google: discovering %s: %w", issuer, err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	p := &Provider{
		oidc:     op,
		verifier: op.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}
	p.OAuth2 = connection.OAuth2{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     op.Endpoint(),
			Scopes:       scopes,
		},
		// Offline access plus forced consent makes Google issue a refresh
		// token on every authorization, not only the first.
		AuthOptions: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
		HTTPClient:  cfg.HTTPClient,
		VerifyToken: p.verifyIDToken,
	}
	return p, nil
}

func (p *Provider) Key() string { return Key }

func (p *Provider) verifyIDToken(ctx context.Context, tok *oauth2.Token) error {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil
	}
	if _, err := p.verifier.Verify(ctx, raw); err != nil {
		return fmt.Errorf("google id_token verification failed: %w", err)
	}
	return nil
}

// ProfileInfo reads the name and picture claims from the UserInfo endpoint.
func (p *Provider) ProfileInfo(ctx context.Context, c connection.Connection) (connection.ProfileInfo, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"})
	info, err := p.oidc.UserInfo(p.Context(ctx), src)
	if err != nil {
		return connection.ProfileInfo{}, fmt.Errorf("%w: google userinfo: %w", connection.ErrUpstream, err)
	}
	var claims struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := info.Claims(&claims); err != nil {
		return connection.ProfileInfo{}, fmt.Errorf("%w: decoding google userinfo: %w", connection.ErrUpstream, err)
	}
	name := claims.Name
	if name == "" {
		name = info.Email
	}
	return connection.ProfileInfo{AccountName: name, AccountImage: claims.Picture}, nil
}

// Locations is not supported for Google identities.
func (p *Provider) Locations(context.Context, connection.Connection) ([]connection.Location, error) {
	return nil, connection.ErrLocationsUnsupported
}
