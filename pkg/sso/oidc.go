package sso

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Provider implements the OpenID Connect authorization code flow against one issuer.
type Provider struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewProvider discovers the issuer's endpoints and signing keys.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC config: %w", err)
	}
	config = config.withDefaults()

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})
	return newProvider(config, verifier, provider.Endpoint()), nil
}

func newProvider(config Config, verifier *oidc.IDTokenVerifier, endpoint oauth2.Endpoint) *Provider {
	return &Provider{
		verifier: verifier,
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
		},
	}
}

// AuthCodeURL returns the issuer's authorization URL for state and nonce.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades an authorization code for a verified identity. The ID token must carry
// the nonce issued with the authorization request.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (auth.ExternalIdentity, error) {
	if code == "" {
		return auth.ExternalIdentity{}, apperr.New(apperr.KindInvalid, "missing authorization code")
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return auth.ExternalIdentity{}, &apperr.Error{Kind: apperr.KindUnauthenticated, Op: "sso.Exchange", Msg: "identity provider rejected the login", Err: err}
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return auth.ExternalIdentity{}, apperr.New(apperr.KindUnauthenticated, "missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return auth.ExternalIdentity{}, &apperr.Error{Kind: apperr.KindUnauthenticated, Op: "sso.Exchange", Msg: "invalid ID token", Err: err}
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return auth.ExternalIdentity{}, apperr.Internal("sso.Exchange", fmt.Errorf("failed to parse claims: %w", err))
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(nonce)) != 1 {
		return auth.ExternalIdentity{}, apperr.New(apperr.KindUnauthenticated, "ID token nonce mismatch")
	}
	if claims.Email == "" {
		return auth.ExternalIdentity{}, apperr.New(apperr.KindUnauthenticated, "missing email in OIDC token")
	}

	return auth.ExternalIdentity{
		ProviderID:    ProviderID,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
