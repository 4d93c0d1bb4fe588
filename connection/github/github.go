// Package github links GitHub accounts through GitHub's OAuth app flow.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/subtask-dev/subtask/connection"
)

// Key is the registry key of the GitHub provider.
const Key = "github"

const defaultAPIURL = "https://api.github.com/"

// Config holds the OAuth app credentials. The URL fields default to
// github.com and are set for GitHub Enterprise or tests.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	APIURL   string

	HTTPClient *http.Client
}

// Provider implements connection.Provider for GitHub.
type Provider struct {
	connection.OAuth2
	apiURL *url.URL
}

var _ connection.Provider = (*Provider)(nil)

// New returns a GitHub provider.
func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("github: client id and secret are required")
	}
	endpoint := oauthgithub.Endpoint
	if cfg.AuthURL != "" || cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "repo"}
	}
	rawAPI := cfg.APIURL
	if rawAPI == "" {
		rawAPI = defaultAPIURL
	}
	apiURL, err := url.Parse(rawAPI)
	if err != nil {
		return nil, fmt.Errorf("github: api url: %w", err)
	}
	if !strings.HasSuffix(apiURL.Path, "/") {
		apiURL.Path += "/"
	}
	return &Provider{
		OAuth2: connection.OAuth2{
			Config: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				RedirectURL:  cfg.RedirectURL,
				Endpoint:     endpoint,
				Scopes:       scopes,
			},
			HTTPClient: cfg.HTTPClient,
		},
		apiURL: apiURL,
	}, nil
}

func (p *Provider) Key() string { return Key }

// ProfileInfo reads the authenticated user. The display name falls back to
// the login when the user has not set one.
func (p *Provider) ProfileInfo(ctx context.Context, c connection.Connection) (connection.ProfileInfo, error) {
	u, _, err := p.client(ctx, c).Users.Get(ctx, "")
	if err != nil {
		return connection.ProfileInfo{}, fmt.Errorf("%w: github user: %w", connection.ErrUpstream, err)
	}
	name := u.GetName()
	if name == "" {
		name = u.GetLogin()
	}
	return connection.ProfileInfo{AccountName: name, AccountImage: u.GetAvatarURL()}, nil
}

// Locations lists the repositories the user can access, most recently
// updated first.
func (p *Provider) Locations(ctx context.Context, c connection.Connection) ([]connection.Location, error) {
	client := p.client(ctx, c)
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var locs []connection.Location
	for {
		repos, resp, err := client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: github repositories: %w", connection.ErrUpstream, err)
		}
		for _, r := range repos {
			locs = append(locs, connection.Location{
				ID:          strconv.FormatInt(r.GetID(), 10),
				Name:        r.GetFullName(),
				Description: r.GetDescription(),
				URL:         r.GetHTMLURL(),
				Private:     r.GetPrivate(),
			})
		}
		if resp.NextPage == 0 {
			return locs, nil
		}
		opts.Page = resp.NextPage
	}
}

// client returns a REST client authorized with the connection's token.
func (p *Provider) client(ctx context.Context, c connection.Connection) *gh.Client {
	hc := p.Client(ctx, c)
	hc.Timeout = 30 * time.Second
	client := gh.NewClient(hc)
	client.BaseURL = p.apiURL
	return client
}
