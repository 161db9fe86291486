package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/mp3portal/internal/config"
	"github.com/JonMunkholm/mp3portal/internal/core"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func sessionCfg() config.SessionConfig {
	return config.SessionConfig{CookieName: "sid", TTL: time.Hour}
}

func TestSessions_CreatesAndReuses(t *testing.T) {
	store := core.NewMemorySessionStore(time.Hour)

	var seen string
	h := Sessions(store, sessionCfg())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" {
		t.Fatalf("cookies = %+v, want one sid cookie", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if seen == "" || seen != cookies[0].Value {
		t.Errorf("SessionID() = %q, cookie = %q", seen, cookies[0].Value)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Error("known session got a new cookie")
	}
	if seen != cookies[0].Value {
		t.Errorf("second request session = %q, want %q", seen, cookies[0].Value)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
}

func TestSessions_UnknownCookieGetsFreshSession(t *testing.T) {
	store := core.NewMemorySessionStore(time.Hour)
	h := Sessions(store, sessionCfg())(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value == "forged" {
		t.Errorf("cookies = %+v, want a fresh session id", cookies)
	}
}

func withSession(r *http.Request, loggedIn bool) *http.Request {
	sess := core.NewSession(time.Now())
	if loggedIn {
		sess.Auth = core.AuthState{IsLoggedIn: true, UID: "uid-1"}
	}
	return r.WithContext(WithSession(r.Context(), sess))
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name     string
		loggedIn bool
		accept   string
		path     string
		want     int
		location string
	}{
		{name: "signed in", loggedIn: true, path: "/upload", want: http.StatusNoContent},
		{name: "anonymous page", path: "/upload", want: http.StatusSeeOther, location: "/login"},
		{name: "anonymous json", path: "/upload", accept: "application/json", want: http.StatusUnauthorized},
		{name: "anonymous api", path: "/api/audio/x/play", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			RequireAuth("/login")(ok).ServeHTTP(rec, withSession(req, tt.loggedIn))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := rec.Header().Get("Location"); got != tt.location {
				t.Errorf("Location = %q, want %q", got, tt.location)
			}
		})
	}
}

func TestRequireAnon(t *testing.T) {
	tests := []struct {
		name     string
		loggedIn bool
		want     int
	}{
		{name: "anonymous", want: http.StatusNoContent},
		{name: "signed in", loggedIn: true, want: http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withSession(httptest.NewRequest(http.MethodGet, "/login", nil), tt.loggedIn)
			rec := httptest.NewRecorder()
			RequireAnon("/")(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		realIP  string
		xff     string
		want    string
	}{
		{name: "untrusted keeps remote", remote: "203.0.113.9:4000", realIP: "1.2.3.4", want: "203.0.113.9:4000"},
		{name: "trusted real ip", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:4000", realIP: "1.2.3.4", want: "1.2.3.4"},
		{name: "trusted bare address", trusted: []string{"10.1.2.3"}, remote: "10.1.2.3:4000", realIP: "1.2.3.4", want: "1.2.3.4"},
		{name: "xff skips trusted hops", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:4000", xff: "5.6.7.8, 10.9.9.9", want: "5.6.7.8"},
		{name: "xff rightmost untrusted", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:4000", xff: "9.9.9.9, 5.6.7.8", want: "5.6.7.8"},
		{name: "invalid real ip ignored", trusted: []string{"10.0.0.0/8"}, remote: "10.1.2.3:4000", realIP: "nope", want: "10.1.2.3:4000"},
		{name: "invalid cidr skipped", trusted: []string{"bogus"}, remote: "10.1.2.3:4000", realIP: "1.2.3.4", want: "10.1.2.3:4000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	h := rl.Middleware(ok)
	hit := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := hit("192.0.2.1:1000"); code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204", i, code)
		}
	}
	if code := hit("192.0.2.1:2000"); code != http.StatusTooManyRequests {
		t.Errorf("over burst status = %d, want 429", code)
	}
	if code := hit("192.0.2.2:1000"); code != http.StatusNoContent {
		t.Errorf("other client status = %d, want 204", code)
	}

	now = now.Add(time.Second)
	if code := hit("192.0.2.1:1000"); code != http.StatusNoContent {
		t.Errorf("after refill status = %d, want 204", code)
	}

	now = now.Add(10 * time.Minute)
	if n := rl.Prune(); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
	if rl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rl.Len())
	}
}

func TestRateLimiter_Run(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestLogger_PassesStatus(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		noteSessionID(r.Context(), "s-1")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
