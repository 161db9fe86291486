package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly messages with action suggestions
//   - Formatted as JSON for API callers and as a full page otherwise
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, statusCode)
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request and session ids
//  5. User message is rendered in appropriate format for the client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/logging"
	"github.com/JonMunkholm/mp3portal/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError handles error responses with user-friendly messages.
// It logs the technical error server-side and returns JSON or an HTML page
// depending on what the client asked for.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if err == nil {
		err = errors.New(http.StatusText(statusCode))
	}
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if wantsJSON(r) {
		writeJSON(w, statusCode, ErrorResponse{
			Error:   userMsg.Message,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
		})
		return
	}
	s.renderErrorPage(w, r, userMsg, statusCode)
}

// renderErrorPage renders the error inside the site layout, falling back to
// plain text if the page itself cannot be rendered.
func (s *Server) renderErrorPage(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	page := templates.ErrorPage{
		Page:    s.basePage(r, "Error"),
		Status:  statusCode,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}

	var buf bytes.Buffer
	if err := templates.Error(page).Render(r.Context(), &buf); err != nil {
		logging.FromContext(r.Context()).Error("render error page", "error", err)
		http.Error(w, msg.Message+" ("+msg.Code+")", statusCode)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(buf.Bytes())
}

// authStatus picks the HTTP status for a failed auth operation.
func authStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrEmailInUse), errors.Is(err, core.ErrAuthInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyAuthRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	contentType := r.Header.Get("Content-Type")

	// Check Accept header
	if strings.Contains(accept, "application/json") {
		return true
	}

	// Check if request is sending JSON
	if strings.Contains(contentType, "application/json") {
		return true
	}

	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
