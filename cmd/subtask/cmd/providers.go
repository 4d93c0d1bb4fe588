package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/subtask-dev/subtask/connection"
	"github.com/subtask-dev/subtask/connection/github"
	"github.com/subtask-dev/subtask/connection/google"
	"github.com/subtask-dev/subtask/internal/config"
)

// buildRegistry constructs the providers enabled in cfg. Google discovery
// runs here, so a misconfigured issuer fails startup.
func buildRegistry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*connection.Registry, error) {
	var providers []connection.Provider
	for key, pc := range cfg.Providers() {
		switch key {
		case github.Key:
			p, err := github.New(github.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  pc.RedirectURL,
				Scopes:       pc.Scopes,
				AuthURL:      pc.AuthURL,
				TokenURL:     pc.TokenURL,
				APIURL:       pc.APIURL,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case google.Key:
			p, err := google.New(ctx, google.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  pc.RedirectURL,
				Issuer:       pc.Issuer,
				Scopes:       pc.Scopes,
			})
			if err != nil {
				return nil, fmt.Errorf("google: %w", err)
			}
			providers = append(providers, p)
		default:
			return nil, fmt.Errorf("%w: %q", connection.ErrUnknownProvider, key)
		}
	}
	registry := connection.NewRegistry(providers...)
	if len(providers) == 0 {
		logger.Warn("no connection providers configured")
	} else {
		logger.Info("connection providers configured", "providers", registry.Keys())
	}
	return registry, nil
}
