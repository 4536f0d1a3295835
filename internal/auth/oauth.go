package auth

import (
	"context"
	"fmt"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/models"
	"golang.org/x/oauth2"
)

// TokenExchanger turns an authorization code into tokens for a platform
type TokenExchanger interface {
	AuthCodeURL(platform models.Platform, state string) (string, error)
	Exchange(ctx context.Context, platform models.Platform, code string) (*oauth2.Token, error)
}

// OAuthExchanger implements TokenExchanger with one oauth2.Config per platform
type OAuthExchanger struct {
	configs map[models.Platform]*oauth2.Config
}

var _ TokenExchanger = (*OAuthExchanger)(nil)

// NewOAuthExchanger builds the per-platform OAuth apps from configuration
func NewOAuthExchanger(cfg config.OAuthConfig) (*OAuthExchanger, error) {
	configs := make(map[models.Platform]*oauth2.Config, len(cfg.Providers))
	for name, p := range cfg.Providers {
		platform, ok := models.ParsePlatform(name)
		if !ok {
			return nil, fmt.Errorf("unknown oauth platform %q", name)
		}
		configs[platform] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       p.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  p.AuthURL,
				TokenURL: p.TokenURL,
			},
		}
	}
	return &OAuthExchanger{configs: configs}, nil
}

// Supports reports whether platform has an OAuth app configured
func (e *OAuthExchanger) Supports(platform models.Platform) bool {
	_, ok := e.configs[platform]
	return ok
}

// AuthCodeURL returns the consent URL carrying state
func (e *OAuthExchanger) AuthCodeURL(platform models.Platform, state string) (string, error) {
	cfg, ok := e.configs[platform]
	if !ok {
		return "", fmt.Errorf("%w: no oauth app for %s", models.ErrNotFound, platform)
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange trades code for tokens at the platform's token endpoint
func (e *OAuthExchanger) Exchange(ctx context.Context, platform models.Platform, code string) (*oauth2.Token, error) {
	cfg, ok := e.configs[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no oauth app for %s", models.ErrNotFound, platform)
	}
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange failed: %v", models.ErrUpstreamUnavailable, err)
	}
	return token, nil
}
