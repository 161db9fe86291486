// Package oauth runs the authorization code redirect flow that produces a
// federated credential for Google or Facebook sign-in.
//
// The browser is sent to the provider with a random state value stored in
// its session. The callback must echo that state before the code is
// exchanged for tokens.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"github.com/JonMunkholm/mp3portal/internal/config"
	"github.com/JonMunkholm/mp3portal/internal/core"
)

var (
	ErrStateMismatch    = errors.New("oauth state mismatch")
	ErrProviderDisabled = errors.New("oauth provider not configured")
)

// CallbackPath returns the redirect path registered for p.
func CallbackPath(p core.Provider) string {
	return "/auth/" + p.String() + "/callback"
}

// Flow holds one oauth2.Config per enabled provider.
type Flow struct {
	configs map[core.Provider]*oauth2.Config
}

// New builds a flow for every provider configured in cfg. Redirect URLs are
// resolved against the server's BaseURL.
func New(cfg config.OAuthConfig, server config.ServerConfig) *Flow {
	configs := make(map[core.Provider]*oauth2.Config)

	if cfg.GoogleEnabled() {
		configs[core.ProviderGoogle] = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  server.URL(CallbackPath(core.ProviderGoogle)),
			Scopes:       []string{"openid", "email", "profile"},
		}
	}
	if cfg.FacebookEnabled() {
		configs[core.ProviderFacebook] = &oauth2.Config{
			ClientID:     cfg.FacebookClientID,
			ClientSecret: cfg.FacebookClientSecret,
			Endpoint:     facebook.Endpoint,
			RedirectURL:  server.URL(CallbackPath(core.ProviderFacebook)),
			Scopes:       []string{"email", "public_profile"},
		}
	}

	return NewFlow(configs)
}

// NewFlow creates a flow from explicit configs.
func NewFlow(configs map[core.Provider]*oauth2.Config) *Flow {
	if configs == nil {
		configs = make(map[core.Provider]*oauth2.Config)
	}
	return &Flow{configs: configs}
}

// Enabled reports whether p can be used.
func (f *Flow) Enabled(p core.Provider) bool {
	_, ok := f.configs[p]
	return ok
}

// Providers lists the enabled providers in display order.
func (f *Flow) Providers() []core.Provider {
	var out []core.Provider
	for _, p := range core.Providers {
		if f.Enabled(p) {
			out = append(out, p)
		}
	}
	return out
}

// NewState returns a random state token.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeURL returns the provider consent URL carrying state.
func (f *Flow) AuthCodeURL(p core.Provider, state string) (string, error) {
	cfg, ok := f.configs[p]
	if !ok {
		return "", fmt.Errorf("%s: %w", p, ErrProviderDisabled)
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Callback carries the query parameters of a provider redirect.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Exchange validates a callback against the expected state and trades its
// code for a credential.
func (f *Flow) Exchange(ctx context.Context, p core.Provider, cb Callback, expectedState string) (core.Credential, error) {
	cfg, ok := f.configs[p]
	if !ok {
		return core.Credential{}, fmt.Errorf("%s: %w", p, ErrProviderDisabled)
	}

	if expectedState == "" || subtle.ConstantTimeCompare([]byte(cb.State), []byte(expectedState)) != 1 {
		return core.Credential{}, ErrStateMismatch
	}

	if cb.Code == "" {
		return core.Credential{}, fmt.Errorf("authorization failed: %s - %s", cb.Error, cb.ErrorDescription)
	}

	token, err := cfg.Exchange(ctx, cb.Code)
	if err != nil {
		return core.Credential{}, fmt.Errorf("token exchange failed: %w", err)
	}

	cred := core.Credential{Provider: p, AccessToken: token.AccessToken}
	if idToken, ok := token.Extra("id_token").(string); ok {
		cred.IDToken = idToken
	}
	return cred, nil
}
