package core

// auth.go implements the authentication state container.
//
// AuthService owns the AuthState of each session. Every operation goes through
// the same three phases, each applied with one SessionStore.Update:
//
//  1. pending: IsLoading is set
//  2. fulfilled: the operation's result is merged in and IsLoading cleared
//  3. rejected: only IsLoading is cleared
//
// Operations are single-flight per session and run under a timeout, so a
// stalled backend call turns into a rejection rather than a stuck loading flag.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/mp3portal/internal/logging"
)

// DefaultOperationTimeout bounds every auth operation.
const DefaultOperationTimeout = 15 * time.Second

// User-visible notices raised by auth operations.
const (
	MsgAccountCreated    = "Account created successfully"
	MsgLoggedIn          = "Logged in successfully"
	MsgInvalidCreds      = "Invalid credentials"
	MsgLoggedOut         = "Logout Successful"
	MsgLogoutFailed      = "Failed to logout"
	MsgProfileFailed     = "Failed to get user data"
	MsgSignUpFailed      = "Failed to create account"
	MsgAuthInProgress    = "Another request is already in progress"
	msgProviderFailedFmt = "Failed to login using %s"
)

// ProviderFailureMessage is the notice raised when sign-in with p fails.
func ProviderFailureMessage(p Provider) string {
	return fmt.Sprintf(msgProviderFailedFmt, p)
}

// AuthState is the authentication state of one session.
// IsLoggedIn implies UID is non-empty.
type AuthState struct {
	IsLoggedIn  bool   `json:"isLoggedIn"`
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	DOB         string `json:"dob"`
	PhoneNumber string `json:"phoneNumber"`
	IsLoading   bool   `json:"isLoading"`
}

// HasProfile reports whether profile fields have been loaded.
func (s AuthState) HasProfile() bool {
	return s.Name != "" || s.Email != ""
}

// SignUp carries the registration form fields.
type SignUp struct {
	Name        string
	Email       string
	Password    string
	DOB         string
	PhoneNumber string
}

// AuthService runs auth operations against the identity backend and records
// their outcome in the session store.
type AuthService struct {
	identity IdentityProvider
	profiles ProfileStore
	sessions SessionStore
	notifier Notifier
	limiter  *OpLimiter
	timeout  time.Duration
}

// NewAuthService wires the auth container. A nil limiter gets a default one
// and a non-positive timeout falls back to DefaultOperationTimeout.
func NewAuthService(identity IdentityProvider, profiles ProfileStore, sessions SessionStore, notifier Notifier, limiter *OpLimiter, timeout time.Duration) *AuthService {
	if limiter == nil {
		limiter = NewOpLimiter(0, 0)
	}
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &AuthService{
		identity: identity,
		profiles: profiles,
		sessions: sessions,
		notifier: notifier,
		limiter:  limiter,
		timeout:  timeout,
	}
}

// Limiter exposes the operation limiter for status reporting and shutdown.
func (a *AuthService) Limiter() *OpLimiter {
	return a.limiter
}

// State returns a snapshot of the session's AuthState.
func (a *AuthService) State(ctx context.Context, sessionID string) (AuthState, error) {
	s, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return AuthState{}, err
	}
	return s.Auth, nil
}

// opFunc performs the backend work of an operation. It receives the state as
// it was when the pending phase began and returns the change to apply on
// fulfillment.
type opFunc func(ctx context.Context, current AuthState) (func(*AuthState), error)

// run drives one operation through its pending, fulfilled and rejected phases.
func (a *AuthService) run(ctx context.Context, sessionID, op string, fn opFunc) error {
	if logging.SessionID(ctx) == "" {
		ctx = logging.ContextWithSessionID(ctx, sessionID)
	}
	logger := logging.WithFields(ctx, "op", op)

	done, ok := a.limiter.Begin(sessionID)
	if !ok {
		logger.Warn("auth operation rejected", "reason", "in progress")
		return ErrAuthInProgress
	}
	defer done()

	pending, err := a.sessions.Update(ctx, sessionID, func(s *Session) error {
		s.Auth.IsLoading = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	logger.Debug("auth operation pending")

	// The settle phase must run even if the request context is gone, or
	// IsLoading would stay set.
	settleCtx := context.WithoutCancel(ctx)

	apply, opErr := a.call(ctx, pending.Auth, fn)

	_, err = a.sessions.Update(settleCtx, sessionID, func(s *Session) error {
		if opErr == nil && apply != nil {
			apply(&s.Auth)
		}
		s.Auth.IsLoading = false
		return nil
	})
	if opErr != nil {
		logger.Info("auth operation rejected", "error", opErr)
		return fmt.Errorf("%s: %w", op, opErr)
	}
	if err != nil {
		logger.Error("auth operation settle failed", "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	logger.Info("auth operation fulfilled")
	return nil
}

// call acquires a backend slot and runs fn under the operation timeout.
func (a *AuthService) call(ctx context.Context, current AuthState, fn opFunc) (func(*AuthState), error) {
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Acquire(opCtx); err != nil {
		return nil, err
	}
	defer a.limiter.Release()

	type result struct {
		apply func(*AuthState)
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		apply, err := fn(opCtx, current)
		ch <- result{apply, err}
	}()

	select {
	case r := <-ch:
		return r.apply, r.err
	case <-opCtx.Done():
		return nil, opCtx.Err()
	}
}

func (a *AuthService) notify(ctx context.Context, sessionID string, level NoticeLevel, msg string) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(context.WithoutCancel(ctx), sessionID, Notice{Level: level, Message: msg})
}

// fail reports a rejection. Single-flight rejections always use the
// in-progress message.
func (a *AuthService) fail(ctx context.Context, sessionID string, err error, msg string) error {
	if errors.Is(err, ErrAuthInProgress) {
		msg = MsgAuthInProgress
	}
	a.notify(ctx, sessionID, NoticeError, msg)
	return err
}

// SignUpWithEmail creates an account, sets its display name and writes the
// profile document. The session stays signed out.
func (a *AuthService) SignUpWithEmail(ctx context.Context, sessionID string, in SignUp) error {
	err := a.run(ctx, sessionID, "sign_up_email", func(ctx context.Context, _ AuthState) (func(*AuthState), error) {
		uid, err := a.identity.CreateAccount(ctx, in.Email, in.Password)
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		if err := a.identity.UpdateDisplayName(ctx, uid, in.Name); err != nil {
			return nil, fmt.Errorf("set display name: %w", err)
		}
		profile := Profile{
			Name:        in.Name,
			Email:       in.Email,
			DOB:         in.DOB,
			PhoneNumber: in.PhoneNumber,
		}
		if err := a.profiles.Put(ctx, uid, profile); err != nil {
			return nil, fmt.Errorf("write profile: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		msg := MsgSignUpFailed
		if IsUserFacing(err) {
			msg = MapError(err).Message
		}
		return a.fail(ctx, sessionID, err, msg)
	}

	a.notify(ctx, sessionID, NoticeSuccess, MsgAccountCreated)
	return nil
}

// SignInWithEmail verifies an email/password pair. Any backend failure is
// returned to the caller and reported once as invalid credentials.
func (a *AuthService) SignInWithEmail(ctx context.Context, sessionID, email, password string) error {
	err := a.run(ctx, sessionID, "sign_in_email", func(ctx context.Context, _ AuthState) (func(*AuthState), error) {
		uid, err := a.identity.SignInWithPassword(ctx, email, password)
		if err != nil {
			return nil, err
		}
		if uid == "" {
			return nil, ErrInvalidCredentials
		}
		return func(s *AuthState) {
			s.IsLoggedIn = true
			s.UID = uid
		}, nil
	})
	if err != nil {
		return a.fail(ctx, sessionID, err, MsgInvalidCreds)
	}

	a.notify(ctx, sessionID, NoticeSuccess, MsgLoggedIn)
	return nil
}

// SignInWithProvider signs in with a federated credential. First-time users
// get their display name set and a profile with name and email written.
func (a *AuthService) SignInWithProvider(ctx context.Context, sessionID string, provider Provider, cred Credential) error {
	op := "sign_in_" + provider.String()
	cred.Provider = provider

	err := a.run(ctx, sessionID, op, func(ctx context.Context, _ AuthState) (func(*AuthState), error) {
		acct, err := a.identity.SignInWithIdp(ctx, cred)
		if err != nil {
			return nil, err
		}
		if acct.UID == "" {
			return nil, ErrInvalidCredentials
		}
		if acct.IsNewUser {
			if err := a.identity.UpdateDisplayName(ctx, acct.UID, acct.DisplayName); err != nil {
				return nil, fmt.Errorf("set display name: %w", err)
			}
			if err := a.profiles.Put(ctx, acct.UID, Profile{Name: acct.DisplayName, Email: acct.Email}); err != nil {
				return nil, fmt.Errorf("write profile: %w", err)
			}
		}
		return func(s *AuthState) {
			s.IsLoggedIn = true
			s.UID = acct.UID
		}, nil
	})
	if err != nil {
		return a.fail(ctx, sessionID, err, ProviderFailureMessage(provider))
	}

	a.notify(ctx, sessionID, NoticeSuccess, MsgLoggedIn)
	return nil
}

// SignOut ends the backend session and resets the AuthState. On failure the
// state is left as it was.
func (a *AuthService) SignOut(ctx context.Context, sessionID string) error {
	err := a.run(ctx, sessionID, "sign_out", func(ctx context.Context, cur AuthState) (func(*AuthState), error) {
		if cur.UID != "" {
			if err := a.identity.SignOut(ctx, cur.UID); err != nil {
				return nil, err
			}
		}
		return func(s *AuthState) {
			*s = AuthState{}
		}, nil
	})
	if err != nil {
		return a.fail(ctx, sessionID, err, MsgLogoutFailed)
	}

	a.notify(ctx, sessionID, NoticeSuccess, MsgLoggedOut)
	return nil
}

// FetchProfile loads the profile document for uid into the session.
func (a *AuthService) FetchProfile(ctx context.Context, sessionID, uid string) error {
	err := a.run(ctx, sessionID, "fetch_profile", func(ctx context.Context, _ AuthState) (func(*AuthState), error) {
		if uid == "" {
			return nil, ErrProfileNotFound
		}
		p, err := a.profiles.Get(ctx, uid)
		if err != nil {
			return nil, err
		}
		return func(s *AuthState) {
			s.IsLoggedIn = true
			s.UID = uid
			s.Name = p.Name
			s.Email = p.Email
			s.DOB = p.DOB
			s.PhoneNumber = p.PhoneNumber
		}, nil
	})
	if err != nil {
		return a.fail(ctx, sessionID, err, MsgProfileFailed)
	}
	return nil
}
