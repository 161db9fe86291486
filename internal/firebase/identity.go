package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"

	"github.com/JonMunkholm/mp3portal/internal/core"
)

// adminAuth is the part of *auth.Client the identity adapter uses.
type adminAuth interface {
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// Identity implements core.IdentityProvider on Firebase Auth.
//
// Account management goes through the Admin SDK. Sign-in has no Admin SDK
// equivalent, so it goes through the Identity Toolkit relying party API
// with the project's web API key.
type Identity struct {
	admin      adminAuth
	relying    *identitytoolkit.RelyingpartyService
	requestURI string
}

var _ core.IdentityProvider = (*Identity)(nil)

// NewIdentity creates the adapter. requestURI is sent as the continue URI of
// IdP assertions and must be an absolute URL of this site.
func NewIdentity(admin adminAuth, toolkit *identitytoolkit.Service, requestURI string) *Identity {
	return &Identity{
		admin:      admin,
		relying:    toolkit.Relyingparty,
		requestURI: requestURI,
	}
}

func (i *Identity) CreateAccount(ctx context.Context, email, password string) (string, error) {
	params := (&auth.UserToCreate{}).Email(email).Password(password)
	rec, err := i.admin.CreateUser(ctx, params)
	if err != nil {
		return "", mapAuthError(err)
	}
	return rec.UID, nil
}

func (i *Identity) SignInWithPassword(ctx context.Context, email, password string) (string, error) {
	resp, err := i.relying.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return "", mapAuthError(err)
	}
	return resp.LocalId, nil
}

func (i *Identity) SignInWithIdp(ctx context.Context, cred core.Credential) (core.FederatedAccount, error) {
	body, err := assertionBody(cred)
	if err != nil {
		return core.FederatedAccount{}, err
	}

	resp, err := i.relying.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          body,
		RequestUri:        i.requestURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return core.FederatedAccount{}, mapAuthError(err)
	}

	name := resp.DisplayName
	if name == "" {
		name = resp.FullName
	}
	return core.FederatedAccount{
		UID:         resp.LocalId,
		DisplayName: name,
		Email:       resp.Email,
		IsNewUser:   resp.IsNewUser,
	}, nil
}

// SignOut revokes the user's refresh tokens. A user that no longer exists
// is already signed out.
func (i *Identity) SignOut(ctx context.Context, uid string) error {
	if err := i.admin.RevokeRefreshTokens(ctx, uid); err != nil {
		if auth.IsUserNotFound(err) {
			return nil
		}
		return mapAuthError(err)
	}
	return nil
}

func (i *Identity) UpdateDisplayName(ctx context.Context, uid, name string) error {
	_, err := i.admin.UpdateUser(ctx, uid, (&auth.UserToUpdate{}).DisplayName(name))
	if err != nil {
		return mapAuthError(err)
	}
	return nil
}

// assertionBody encodes a provider credential the way the relying party
// API expects it.
func assertionBody(cred core.Credential) (string, error) {
	v := url.Values{}
	v.Set("providerId", cred.Provider.ProviderID())
	switch {
	case cred.IDToken != "":
		v.Set("id_token", cred.IDToken)
	case cred.AccessToken != "":
		v.Set("access_token", cred.AccessToken)
	default:
		return "", fmt.Errorf("%s credential has no token: %w", cred.Provider, core.ErrInvalidCredentials)
	}
	return v.Encode(), nil
}

// credentialFailures are relying party error codes meaning the user
// supplied something wrong.
var credentialFailures = []string{
	"INVALID_PASSWORD",
	"EMAIL_NOT_FOUND",
	"INVALID_LOGIN_CREDENTIALS",
	"INVALID_EMAIL",
	"USER_DISABLED",
	"INVALID_IDP_RESPONSE",
	"MISSING_PASSWORD",
}

// mapAuthError wraps backend errors with the matching core sentinel so
// handlers and error_messages can classify them.
func mapAuthError(err error) error {
	if err == nil {
		return nil
	}
	if auth.IsEmailAlreadyExists(err) {
		return fmt.Errorf("%w: %v", core.ErrEmailInUse, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		code := strings.ToUpper(gerr.Message)
		if strings.HasPrefix(code, "EMAIL_EXISTS") {
			return fmt.Errorf("%w: %v", core.ErrEmailInUse, err)
		}
		for _, c := range credentialFailures {
			if strings.HasPrefix(code, c) {
				return fmt.Errorf("%w: %s", core.ErrInvalidCredentials, c)
			}
		}
	}
	return err
}
