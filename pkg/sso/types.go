package sso

import (
	"fmt"
	"slices"
)

// ProviderID is the account provider recorded for OIDC identities.
const ProviderID = "oidc"

// Config holds OpenID Connect configuration
type Config struct {
	IssuerURL    string   `yaml:"issuer_url"` // Discovery endpoint
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"-"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether an identity provider is configured at all.
func (c Config) Enabled() bool {
	return c.IssuerURL != ""
}

// withDefaults fills in the standard scopes.
func (c Config) withDefaults() Config {
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "email", "profile"}
	}
	return c
}

// Validate validates the OIDC configuration
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if !slices.Contains(c.Scopes, "openid") {
		return fmt.Errorf("'openid' scope is required for OIDC")
	}
	return nil
}

// idTokenClaims are the ID token claims mapped onto a local user.
type idTokenClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
}
