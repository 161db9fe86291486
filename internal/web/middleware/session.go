package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/mp3portal/internal/config"
	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/logging"
)

type sessionKey struct{}

// Sessions loads the browser's session from its cookie. A missing, unknown or
// expired cookie gets a fresh session and a new cookie.
//
// The session placed in the context is a snapshot taken when the request
// arrived. Handlers that need state written during the request read it back
// from the store.
func Sessions(store core.SessionStore, cfg config.SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := logging.FromContext(ctx)

			var sess *core.Session
			if c, err := r.Cookie(cfg.CookieName); err == nil && c.Value != "" {
				s, err := store.Get(ctx, c.Value)
				switch {
				case err == nil:
					sess = s
				case errors.Is(err, core.ErrSessionNotFound):
					logger.Debug("session: cookie refers to unknown session")
				default:
					logger.Error("session: load failed", "error", err)
					http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
					return
				}
			}

			if sess == nil {
				s, err := store.Create(ctx)
				if err != nil {
					logger.Error("session: create failed", "error", err)
					http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
					return
				}
				sess = s
				setSessionCookie(w, cfg, sess.ID)
			}

			noteSessionID(ctx, sess.ID)
			next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
		})
	}
}

// RotateSession moves the request's session to a new id, sends the new
// cookie and returns r carrying the moved session. Call it whenever the
// session gains privileges so an id issued before sign-in is worthless after.
func RotateSession(w http.ResponseWriter, r *http.Request, store core.SessionStore, cfg config.SessionConfig) (*http.Request, error) {
	ctx := r.Context()
	sess, err := store.Rotate(ctx, SessionID(ctx))
	if err != nil {
		return r, fmt.Errorf("rotate session: %w", err)
	}
	setSessionCookie(w, cfg, sess.ID)
	noteSessionID(ctx, sess.ID)
	return r.WithContext(WithSession(ctx, sess)), nil
}

func setSessionCookie(w http.ResponseWriter, cfg config.SessionConfig, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// WithSession returns a context carrying sess, as Sessions does.
func WithSession(ctx context.Context, sess *core.Session) context.Context {
	ctx = logging.ContextWithSessionID(ctx, sess.ID)
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session loaded by Sessions.
func SessionFromContext(ctx context.Context) (*core.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*core.Session)
	return sess, ok && sess != nil
}

// SessionID returns the id of the request's session, or "".
func SessionID(ctx context.Context) string {
	if sess, ok := SessionFromContext(ctx); ok {
		return sess.ID
	}
	return ""
}
