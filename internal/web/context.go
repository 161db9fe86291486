package web

import (
	"bytes"
	"context"
	"net/http"

	"github.com/a-h/templ"
	"github.com/gorilla/csrf"

	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/logging"
	"github.com/JonMunkholm/mp3portal/internal/web/middleware"
	"github.com/JonMunkholm/mp3portal/internal/web/templates"
)

// sessionID returns the id of the request's session.
func sessionID(r *http.Request) string {
	return middleware.SessionID(r.Context())
}

// authState returns the AuthState as loaded when the request arrived.
func authState(r *http.Request) core.AuthState {
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		return sess.Auth
	}
	return core.AuthState{}
}

// basePage fills the layout fields without consuming pending notices.
func (s *Server) basePage(r *http.Request, title string) templates.Page {
	p := templates.Page{
		Title: title,
		Auth:  authState(r),
	}
	if s.csrf != nil {
		p.CSRFField = csrf.TemplateField(r)
		p.CSRFToken = csrf.Token(r)
	}
	return p
}

// page is basePage plus the notices queued for this session, which are
// removed from the session so each is shown once.
func (s *Server) page(r *http.Request, title string) templates.Page {
	p := s.basePage(r, title)

	sid := sessionID(r)
	if sid == "" {
		return p
	}
	notices, err := core.TakeNotices(r.Context(), s.sessions, sid)
	if err != nil {
		logging.FromContext(r.Context()).Warn("take notices", "error", err)
		return p
	}
	p.Notices = notices
	return p
}

// notify queues a notice for the request's session.
func (s *Server) notify(r *http.Request, level core.NoticeLevel, msg string) {
	s.notifier.Notify(context.WithoutCancel(r.Context()), sessionID(r), core.Notice{Level: level, Message: msg})
}

// render writes c with status. The component is rendered to a buffer first so
// a template failure still produces a clean error response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	var buf bytes.Buffer
	if err := c.Render(r.Context(), &buf); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
