package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/logging"
	"github.com/JonMunkholm/mp3portal/internal/web/templates"
)

// handleHome renders the landing page.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, templates.Home(templates.HomePage{
		Page: s.page(r, ""),
	}))
}

// handleSessionState returns the session's current AuthState.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	state, err := s.auth.State(r.Context(), sessionID(r))
	if err != nil {
		s.respondError(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// pinger is implemented by session stores backed by a remote service.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string               `json:"status"`
	Sessions string               `json:"sessions"`
	Previews core.RegistryStats   `json:"previews"`
	Auth     core.OpLimiterStatus `json:"auth"`
}

// handleHealth reports whether the session store is reachable, along with
// preview and auth operation totals.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Sessions: "ok",
		Previews: s.previews.Stats(),
	}
	if s.auth != nil {
		resp.Auth = s.auth.Limiter().Status()
	}

	status := http.StatusOK
	if p, ok := s.sessions.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Sessions = "unavailable"
			logging.FromContext(r.Context()).Error("health: session store ping failed", "error", err)
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
