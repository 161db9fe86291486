package core

// identity.go declares the capabilities the auth container needs from the
// hosted backend: an identity provider for accounts and sign-in, and a
// profile store keyed by uid. Concrete adapters live in internal/firebase.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when an email/password pair is rejected
	// or the provider answers without a uid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailInUse is returned when sign-up targets an existing account.
	ErrEmailInUse = errors.New("email already in use")

	// ErrProfileNotFound is returned when no profile document exists for a uid.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrUnknownProvider is returned for provider names other than google or facebook.
	ErrUnknownProvider = errors.New("unknown identity provider")
)

// Provider names a federated identity provider.
type Provider int

const (
	ProviderGoogle Provider = iota
	ProviderFacebook
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderGoogle, ProviderFacebook}

func (p Provider) String() string {
	switch p {
	case ProviderGoogle:
		return "google"
	case ProviderFacebook:
		return "facebook"
	default:
		return fmt.Sprintf("provider(%d)", int(p))
	}
}

// Label returns the human readable provider name.
func (p Provider) Label() string {
	switch p {
	case ProviderGoogle:
		return "Google"
	case ProviderFacebook:
		return "Facebook"
	default:
		return p.String()
	}
}

// ProviderID returns the identity toolkit provider id (google.com, facebook.com).
func (p Provider) ProviderID() string {
	return p.String() + ".com"
}

// ParseProvider maps a URL segment such as "google" to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google":
		return ProviderGoogle, nil
	case "facebook":
		return ProviderFacebook, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Credential is the token set obtained from a provider's OAuth flow.
type Credential struct {
	Provider    Provider
	AccessToken string
	IDToken     string
}

// FederatedAccount is the result of a successful provider sign-in.
type FederatedAccount struct {
	UID         string
	DisplayName string
	Email       string
	IsNewUser   bool
}

// IdentityProvider is the hosted identity backend.
type IdentityProvider interface {
	// CreateAccount registers an email/password account and returns its uid.
	CreateAccount(ctx context.Context, email, password string) (string, error)

	// SignInWithPassword verifies an email/password pair and returns the uid.
	SignInWithPassword(ctx context.Context, email, password string) (string, error)

	// SignInWithIdp exchanges a provider credential for a backend account.
	SignInWithIdp(ctx context.Context, cred Credential) (FederatedAccount, error)

	// SignOut ends every backend session of uid.
	SignOut(ctx context.Context, uid string) error

	// UpdateDisplayName sets the account's display name.
	UpdateDisplayName(ctx context.Context, uid, name string) error
}

// Profile is the document stored per uid in the "user" collection.
type Profile struct {
	Name        string `firestore:"name" json:"name"`
	Email       string `firestore:"email" json:"email"`
	DOB         string `firestore:"dob,omitempty" json:"dob,omitempty"`
	PhoneNumber string `firestore:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
}

// ProfileStore reads and writes profile documents.
type ProfileStore interface {
	// Get returns ErrProfileNotFound when uid has no document.
	Get(ctx context.Context, uid string) (Profile, error)
	Put(ctx context.Context, uid string, p Profile) error
}
