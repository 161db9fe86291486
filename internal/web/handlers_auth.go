package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/logging"
	"github.com/JonMunkholm/mp3portal/internal/oauth"
	"github.com/JonMunkholm/mp3portal/internal/web/middleware"
	"github.com/JonMunkholm/mp3portal/internal/web/templates"
)

// Where users land after each auth step.
const (
	pathAfterLogin    = "/upload"
	pathAfterRegister = "/login"
	pathAfterLogout   = "/login"
)

// providerLinks lists the federated sign-in buttons that are configured.
func (s *Server) providerLinks() []templates.ProviderLink {
	if s.oauth == nil {
		return nil
	}
	var links []templates.ProviderLink
	for _, p := range s.oauth.Providers() {
		links = append(links, templates.ProviderLink{
			Label: p.Label(),
			URL:   "/auth/" + p.String(),
		})
	}
	return links
}

// handleLoginPage renders the sign-in form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, templates.Login(templates.LoginPage{
		Page:      s.page(r, "Login"),
		Providers: s.providerLinks(),
	}))
}

// handleLogin signs in with email and password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	form := core.LoginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	renderForm := func(status int, errs core.FormErrors) {
		s.render(w, r, status, templates.Login(templates.LoginPage{
			Page:      s.page(r, "Login"),
			Email:     form.Email,
			Errors:    errs,
			Providers: s.providerLinks(),
		}))
	}

	if err := core.ValidateLogin(form); err != nil {
		fields, _ := core.AsFormErrors(err)
		if errors.Is(err, core.ErrFieldsRequired) {
			s.notify(r, core.NoticeError, core.MsgAllFieldsRequired)
		}
		renderForm(http.StatusUnprocessableEntity, fields)
		return
	}

	sid := sessionID(r)
	if err := s.auth.SignInWithEmail(ctx, sid, form.Email, form.Password); err != nil {
		logging.FromContext(ctx).Info("login failed", "error", err)
		renderForm(authStatus(err), nil)
		return
	}

	r, ok := s.rotateSession(w, r)
	if !ok {
		return
	}
	s.loadProfile(r)
	http.Redirect(w, r, pathAfterLogin, http.StatusSeeOther)
}

// handleRegisterPage renders the registration form.
func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, templates.Register(templates.RegisterPage{
		Page:      s.page(r, "Register"),
		Providers: s.providerLinks(),
	}))
}

// handleRegister creates an email/password account. The user signs in
// separately afterwards.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	form := core.RegisterForm{
		Name:            r.PostFormValue("name"),
		Email:           strings.TrimSpace(r.PostFormValue("email")),
		PhoneNumber:     r.PostFormValue("phoneNumber"),
		DOB:             r.PostFormValue("dob"),
		Password:        r.PostFormValue("password"),
		PasswordConfirm: r.PostFormValue("passwordConfirm"),
	}
	renderForm := func(status int, errs core.FormErrors) {
		s.render(w, r, status, templates.Register(templates.RegisterPage{
			Page:      s.page(r, "Register"),
			Form:      core.RegisterForm{Name: form.Name, Email: form.Email, PhoneNumber: form.PhoneNumber, DOB: form.DOB},
			Errors:    errs,
			Providers: s.providerLinks(),
		}))
	}

	if err := core.ValidateRegister(form); err != nil {
		fields, _ := core.AsFormErrors(err)
		if errors.Is(err, core.ErrFieldsRequired) {
			s.notify(r, core.NoticeError, core.MsgAllFieldsRequired)
		}
		renderForm(http.StatusUnprocessableEntity, fields)
		return
	}

	if err := s.auth.SignUpWithEmail(ctx, sessionID(r), form.SignUp()); err != nil {
		logging.FromContext(ctx).Info("registration failed", "error", err)
		renderForm(authStatus(err), nil)
		return
	}

	http.Redirect(w, r, pathAfterRegister, http.StatusSeeOther)
}

// handleLogout ends the session's sign-in and releases its audio previews.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := sessionID(r)

	if err := s.auth.SignOut(ctx, sid); err != nil {
		logging.FromContext(ctx).Warn("logout failed", "error", err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if n := s.previews.Release(sid); n > 0 {
		logging.FromContext(ctx).Debug("released previews on logout", "entries", n)
	}
	http.Redirect(w, r, pathAfterLogout, http.StatusSeeOther)
}

// handleProviderStart sends the browser to the provider's consent page.
func (s *Server) handleProviderStart(w http.ResponseWriter, r *http.Request) {
	p, err := s.enabledProvider(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	state, err := oauth.NewState()
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	_, err = s.sessions.Update(r.Context(), sessionID(r), func(sess *core.Session) error {
		sess.OAuthState = state
		return nil
	})
	if err != nil {
		s.respondError(w, r, fmt.Errorf("store oauth state: %w", err), http.StatusInternalServerError)
		return
	}

	target, err := s.oauth.AuthCodeURL(p, state)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleProviderCallback completes a federated sign-in. The stored state is
// consumed whatever the outcome, so a callback URL works at most once.
func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	p, err := s.enabledProvider(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	sid := sessionID(r)
	var expected string
	_, err = s.sessions.Update(ctx, sid, func(sess *core.Session) error {
		expected = sess.OAuthState
		sess.OAuthState = ""
		return nil
	})
	if err != nil {
		s.respondError(w, r, fmt.Errorf("load oauth state: %w", err), http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	cred, err := s.oauth.Exchange(ctx, p, oauth.Callback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, expected)
	if err != nil {
		logger.Warn("oauth callback rejected", "provider", p.String(), "error", err)
		s.notify(r, core.NoticeError, core.ProviderFailureMessage(p))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if err := s.auth.SignInWithProvider(ctx, sid, p, cred); err != nil {
		logger.Info("provider sign-in failed", "provider", p.String(), "error", err)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	r, ok := s.rotateSession(w, r)
	if !ok {
		return
	}
	s.loadProfile(r)
	http.Redirect(w, r, pathAfterLogin, http.StatusSeeOther)
}

// rotateSession moves a freshly signed-in session to a new id. If that fails
// the session is dropped rather than left signed in under the old id.
func (s *Server) rotateSession(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	ctx := r.Context()
	rotated, err := middleware.RotateSession(w, r, s.sessions, s.cfg.Session)
	if err != nil {
		if delErr := s.sessions.Delete(ctx, sessionID(r)); delErr != nil {
			logging.FromContext(ctx).Warn("failed to drop session", "error", delErr)
		}
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return r, false
	}
	return rotated, true
}

func (s *Server) enabledProvider(r *http.Request) (core.Provider, error) {
	p, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		return 0, err
	}
	if s.oauth == nil || !s.oauth.Enabled(p) {
		return 0, fmt.Errorf("%s: %w", p, oauth.ErrProviderDisabled)
	}
	return p, nil
}

// loadProfile fills the session's profile fields after a sign-in. A failure
// has already been reported to the user by FetchProfile.
func (s *Server) loadProfile(r *http.Request) {
	ctx := r.Context()
	sid := sessionID(r)

	state, err := s.auth.State(ctx, sid)
	if err != nil || !state.IsLoggedIn || state.HasProfile() {
		return
	}
	if err := s.auth.FetchProfile(ctx, sid, state.UID); err != nil {
		logging.FromContext(ctx).Info("profile not loaded", "error", err)
	}
}
