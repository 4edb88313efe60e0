// Package social verifies identities asserted by OpenID Connect providers
// (Google, Microsoft, any discovery-capable issuer).
package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	// ErrUnknownProvider is returned for a provider name not configured.
	ErrUnknownProvider = errors.New("social: unknown provider")
	// ErrInvalidToken is returned when an ID token fails verification.
	ErrInvalidToken = errors.New("social: invalid id token")
	// ErrEmailRequired is returned when the token carries no email.
	ErrEmailRequired = errors.New("social: email claim required")
)

// Identity is a verified social login.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// ProviderConfig configures one OIDC provider.
type ProviderConfig struct {
	Name         string   `mapstructure:"name"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type provider struct {
	name     string
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// Verifier checks ID tokens from a fixed set of providers.
type Verifier struct {
	providers map[string]*provider
}

// NewVerifier runs OIDC discovery for each provider.
func NewVerifier(ctx context.Context, configs []ProviderConfig) (*Verifier, error) {
	v := &Verifier{providers: make(map[string]*provider, len(configs))}
	for _, cfg := range configs {
		if cfg.Name == "" || cfg.IssuerURL == "" || cfg.ClientID == "" {
			return nil, errors.New("social: provider requires name, issuer_url and client_id")
		}
		p, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("social: discover %s: %w", cfg.Name, err)
		}
		v.add(cfg, p.Verifier(&oidc.Config{ClientID: cfg.ClientID}), p.Endpoint())
	}
	return v, nil
}

// NewStaticVerifier builds a single-provider verifier against a fixed key
// set, for issuers without discovery.
func NewStaticVerifier(cfg ProviderConfig, keys oidc.KeySet, endpoint oauth2.Endpoint) *Verifier {
	v := &Verifier{providers: make(map[string]*provider, 1)}
	v.add(cfg, oidc.NewVerifier(cfg.IssuerURL, keys, &oidc.Config{ClientID: cfg.ClientID}), endpoint)
	return v
}

func (v *Verifier) add(cfg ProviderConfig, idv *oidc.IDTokenVerifier, endpoint oauth2.Endpoint) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	v.providers[cfg.Name] = &provider{
		name:     cfg.Name,
		verifier: idv,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
	}
}

// Verify checks a raw ID token issued by the named provider.
func (v *Verifier) Verify(ctx context.Context, providerName, rawIDToken string) (*Identity, error) {
	p, ok := v.providers[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}
	tok, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Email == "" {
		return nil, ErrEmailRequired
	}
	return &Identity{
		Provider:      p.name,
		Subject:       tok.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

// AuthCodeURL returns the provider's consent URL for state.
func (v *Verifier) AuthCodeURL(providerName, state string) (string, error) {
	p, ok := v.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.oauth.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for tokens and verifies the
// returned ID token.
func (v *Verifier) Exchange(ctx context.Context, providerName, code string) (*Identity, error) {
	p, ok := v.providers[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("social: exchange code: %w", err)
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: missing id_token in response", ErrInvalidToken)
	}
	return v.Verify(ctx, providerName, raw)
}
