// Package oauthcred refreshes OAuth-issued access tokens for hosted
// LLM providers whose device profile is configured to use an
// OAuth-issued credential instead of a static API key.
package oauthcred

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

var ErrSourceDisabled = errors.New("oauthcred: no token source configured")

// Source supplies a provider API credential, refreshing it as needed.
// Providers call Token before issuing a request rather than caching
// the credential themselves.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Config describes a refresh-token-based OAuth2 client credential flow
// for a single LLM provider.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RefreshToken string
	Scopes       []string
}

// TokenSource wraps an oauth2.TokenSource, caching and refreshing the
// underlying access token on demand.
type TokenSource struct {
	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewTokenSource builds a Source from cfg. The initial token is seeded
// from cfg.RefreshToken; oauth2.ReuseTokenSource transparently
// refreshes it once it expires.
func NewTokenSource(cfg Config) (*TokenSource, error) {
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return nil, errors.New("oauthcred: refresh token required")
	}
	oauthCfg := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	seed := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	return &TokenSource{
		source: oauthCfg.TokenSource(context.Background(), seed),
	}, nil
}

// Token returns the current access token, refreshing it first if it
// has expired.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if t == nil || t.source == nil {
		return "", ErrSourceDisabled
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	tok, err := t.source.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Static wraps a fixed credential string in the Source interface, for
// configurations that want CredentialSource wiring without an actual
// OAuth flow (e.g. tests, or a statically-provisioned service token).
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrSourceDisabled
	}
	return string(s), nil
}
