package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// RequireAuth sends visitors without a signed-in session to loginPath.
// Requests that asked for JSON get a 401 instead of a redirect.
func RequireAuth(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if ok && sess.Auth.IsLoggedIn {
				next.ServeHTTP(w, r)
				return
			}

			slog.Debug("auth: anonymous request to protected page",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			if acceptsJSON(r) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"sign in required","code":"AUTH_REQUIRED"}`))
				return
			}
			http.Redirect(w, r, loginPath, http.StatusSeeOther)
		})
	}
}

// RequireAnon sends signed-in visitors to homePath. It guards the login and
// registration pages.
func RequireAnon(homePath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess, ok := SessionFromContext(r.Context()); ok && sess.Auth.IsLoggedIn {
				http.Redirect(w, r, homePath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func acceptsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.URL.Path, "/api/")
}
