// Package web provides the HTTP server and handlers for the audio portal.
package web

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/JonMunkholm/mp3portal/internal/config"
	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/oauth"
	"github.com/JonMunkholm/mp3portal/internal/web/middleware"
)

//go:embed static
var staticFiles embed.FS

// Deps are the services the handlers run on.
type Deps struct {
	Auth     *core.AuthService
	Sessions core.SessionStore
	Notifier core.Notifier
	Previews *core.PreviewRegistry
	CSV      *core.CSVImporter
	OAuth    *oauth.Flow
}

// Server is the HTTP server for the portal.
type Server struct {
	cfg      *config.Config
	auth     *core.AuthService
	sessions core.SessionStore
	notifier core.Notifier
	previews *core.PreviewRegistry
	csv      *core.CSVImporter
	oauth    *oauth.Flow

	router      *chi.Mux
	server      *http.Server
	limiter     *middleware.RateLimiter
	authLimiter *middleware.RateLimiter
	csrf        func(http.Handler) http.Handler
}

// NewServer creates a Server and registers its routes.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		auth:     deps.Auth,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		previews: deps.Previews,
		csv:      deps.CSV,
		oauth:    deps.OAuth,
		router:   chi.NewRouter(),
	}
	if s.notifier == nil {
		s.notifier = core.NewFlashNotifier(s.sessions)
	}
	if s.csv == nil {
		s.csv = core.NewCSVImporter(cfg.Upload.CSVSoftLimit)
	}
	if s.previews == nil {
		s.previews = core.NewPreviewRegistry(cfg.Upload.AudioMaxFileSize)
	}

	if cfg.Security.EnableCSRF {
		protect, err := s.newCSRF()
		if err != nil {
			return nil, err
		}
		s.csrf = protect
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// newCSRF builds the gorilla/csrf middleware. Without a configured key a
// random one is generated, so tokens do not survive a restart.
func (s *Server) newCSRF() (func(http.Handler) http.Handler, error) {
	key := []byte(s.cfg.Security.CSRFKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate csrf key: %w", err)
		}
		slog.Warn("CSRF_KEY not set, using a per-process key")
	}

	protect := csrf.Protect(key,
		csrf.Secure(s.cfg.Session.Secure),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.respondError(w, r, csrf.FailureReason(r), http.StatusForbidden)
		})),
	)

	// Plain HTTP deployments must be marked, or the strict referer check
	// for TLS requests rejects every form post.
	secure := s.cfg.Session.Secure
	return func(next http.Handler) http.Handler {
		h := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secure && r.TLS == nil {
				r = csrf.PlaintextHTTPRequest(r)
			}
			h.ServeHTTP(w, r)
		})
	}, nil
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}

	// Security hardening
	s.router.Use(s.securityHeaders)

	if s.cfg.Rate.Enabled {
		s.limiter = middleware.NewRateLimiter(s.cfg.Rate.RequestsPerMinute, s.cfg.Rate.Burst)
		s.router.Use(s.limiter.Middleware)

		// Credential posts get a much smaller bucket per IP.
		s.authLimiter = middleware.NewRateLimiter(s.cfg.Rate.AuthLimit, s.cfg.Rate.AuthLimit)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Sessions(s.sessions, s.cfg.Session))
		if s.csrf != nil {
			r.Use(s.csrf)
		}

		r.Get("/", s.handleHome)
		r.Get("/api/session", s.handleSessionState)
		r.Post("/logout", s.handleLogout)

		// Anonymous only
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAnon("/"))

			r.Get("/login", s.handleLoginPage)
			r.With(s.limitAuth).Post("/login", s.handleLogin)
			r.Get("/register", s.handleRegisterPage)
			r.With(s.limitAuth).Post("/register", s.handleRegister)
			r.With(s.limitAuth).Get("/auth/{provider}", s.handleProviderStart)
			r.Get("/auth/{provider}/callback", s.handleProviderCallback)
		})

		// Signed in only
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth("/login"))

			r.Get("/upload", s.handleUploadPage)
			r.Post("/upload", s.handleAudioUpload)
			r.Post("/upload/clear", s.handleAudioClear)
			r.Get(core.PreviewPathPrefix+"{id}", s.handlePreview)
			r.Post("/api/audio/{id}/{action}", s.handlePlayback)

			r.Get("/csv-import", s.handleCSVPage)
			r.Post("/csv-import", s.handleCSVImport)
		})
	})
}

// limitAuth applies the auth rate limiter when rate limiting is enabled.
func (s *Server) limitAuth(next http.Handler) http.Handler {
	if s.authLimiter == nil {
		return next
	}
	return s.authLimiter.Middleware(next)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr, "base_url", s.cfg.Server.BaseURL)
	return s.server.ListenAndServe()
}

// RunLimiterCleanup prunes idle rate limiter clients until ctx is done.
func (s *Server) RunLimiterCleanup(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	go s.authLimiter.Run(ctx, time.Minute)
	s.limiter.Run(ctx, time.Minute)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

const contentSecurityPolicy = "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data:; media-src 'self' blob:; font-src 'self'; form-action 'self'; frame-ancestors 'none'"

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
		}

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
