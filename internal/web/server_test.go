package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/JonMunkholm/mp3portal/internal/config"
	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/oauth"
)

type fakeIdentity struct {
	mu        sync.Mutex
	passwords map[string]string
	names     map[string]string
	calls     int
	signOuts  int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{passwords: map[string]string{}, names: map[string]string{}}
}

func (f *fakeIdentity) CreateAccount(ctx context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := f.passwords[email]; ok {
		return "", core.ErrEmailInUse
	}
	f.passwords[email] = password
	return "uid-" + email, nil
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if pw, ok := f.passwords[email]; !ok || pw != password {
		return "", core.ErrInvalidCredentials
	}
	return "uid-" + email, nil
}

func (f *fakeIdentity) SignInWithIdp(ctx context.Context, cred core.Credential) (core.FederatedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if cred.AccessToken == "" {
		return core.FederatedAccount{}, core.ErrInvalidCredentials
	}
	return core.FederatedAccount{UID: "fed-1", DisplayName: "Grace", Email: "grace@example.com", IsNewUser: true}, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	return nil
}

func (f *fakeIdentity) UpdateDisplayName(ctx context.Context, uid, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[uid] = name
	return nil
}

func (f *fakeIdentity) addAccount(email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[email] = password
}

func (f *fakeIdentity) displayName(uid string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[uid]
}

func (f *fakeIdentity) signOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func (f *fakeIdentity) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeProfiles struct {
	mu   sync.Mutex
	docs map[string]core.Profile
}

func (f *fakeProfiles) Get(ctx context.Context, uid string) (core.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.docs[uid]
	if !ok {
		return core.Profile{}, core.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeProfiles) Put(ctx context.Context, uid string, p core.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[uid] = p
	return nil
}

func (f *fakeProfiles) doc(uid string) (core.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.docs[uid]
	return p, ok
}

type fixture struct {
	srv      *Server
	http     *httptest.Server
	identity *fakeIdentity
	profiles *fakeProfiles
	previews *core.PreviewRegistry
	sessions *core.MemorySessionStore
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: 5 * time.Second,
		},
		Session: config.SessionConfig{CookieName: "sid", TTL: time.Hour},
		Auth:    config.AuthConfig{OperationTimeout: time.Second, MaxConcurrent: 4, MaxWaitTime: time.Second},
		Upload: config.UploadConfig{
			CSVSoftLimit:        core.DefaultCSVSoftLimit,
			CSVMaxRequestSize:   10 << 20,
			AudioMaxFileSize:    core.DefaultAudioMaxFileSize,
			AudioMaxRequestSize: 50 << 20,
		},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newFixture(t *testing.T, cfg *config.Config, flow *oauth.Flow) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	sessions := core.NewMemorySessionStore(time.Hour)
	identity := newFakeIdentity()
	profiles := &fakeProfiles{docs: map[string]core.Profile{}}
	notifier := core.NewFlashNotifier(sessions)
	limiter := core.NewOpLimiter(cfg.Auth.MaxConcurrent, cfg.Auth.MaxWaitTime)
	previews := core.NewPreviewRegistry(cfg.Upload.AudioMaxFileSize)

	srv, err := NewServer(cfg, Deps{
		Auth:     core.NewAuthService(identity, profiles, sessions, notifier, limiter, cfg.Auth.OperationTimeout),
		Sessions: sessions,
		Notifier: notifier,
		Previews: previews,
		CSV:      core.NewCSVImporter(cfg.Upload.CSVSoftLimit),
		OAuth:    flow,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, http: ts, identity: identity, profiles: profiles, previews: previews, sessions: sessions}
}

// browser is a cookie-keeping client that does not follow redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (f *fixture) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &browser{
		t:    t,
		base: f.http.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type response struct {
	status   int
	location string
	header   http.Header
	body     string
}

func (b *browser) do(req *http.Request) response {
	b.t.Helper()
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return response{
		status:   resp.StatusCode,
		location: resp.Header.Get("Location"),
		header:   resp.Header,
		body:     string(body),
	}
}

func (b *browser) get(path string, header ...string) response {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, b.base+path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return b.do(req)
}

func (b *browser) postForm(path string, form url.Values, header ...string) response {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return b.do(req)
}

type upload struct {
	name string
	data []byte
}

func (b *browser) postFiles(path, field string, files []upload, header ...string) response {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			b.t.Fatal(err)
		}
		part.Write(f.data)
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, b.base+path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return b.do(req)
}

// cookie returns the value of the named cookie the browser would send.
func (b *browser) cookie(name string) string {
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (b *browser) authState() core.AuthState {
	b.t.Helper()
	resp := b.get("/api/session")
	if resp.status != http.StatusOK {
		b.t.Fatalf("GET /api/session status = %d, body = %s", resp.status, resp.body)
	}
	var state core.AuthState
	if err := json.Unmarshal([]byte(resp.body), &state); err != nil {
		b.t.Fatalf("decode session: %v", err)
	}
	return state
}

func loginForm(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

// signIn registers an account directly with the fakes and logs the browser in.
func (f *fixture) signIn(t *testing.T, b *browser, name string) {
	t.Helper()
	email := strings.ToLower(name) + "@example.com"
	f.identity.addAccount(email, "password123")
	f.profiles.Put(context.Background(), "uid-"+email, core.Profile{Name: name, Email: email})

	resp := b.postForm("/login", loginForm(email, "password123"))
	if resp.status != http.StatusSeeOther || resp.location != "/upload" {
		t.Fatalf("login status = %d location = %q body = %s", resp.status, resp.location, resp.body)
	}
}

func TestHome(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)

	resp := b.get("/")
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.status)
	}
	for _, want := range []string{"My Website", `href="/login"`, `href="/register"`} {
		if !strings.Contains(resp.body, want) {
			t.Errorf("anonymous home missing %q", want)
		}
	}
	if strings.Contains(resp.body, "Logout") {
		t.Error("anonymous home shows Logout")
	}
	if got := resp.header.Get("Content-Security-Policy"); got == "" {
		t.Error("missing Content-Security-Policy header")
	}

	f.signIn(t, b, "Ada")
	resp = b.get("/")
	for _, want := range []string{"Hello Ada", "Import CSV", "Upload audio", "Logout"} {
		if !strings.Contains(resp.body, want) {
			t.Errorf("signed-in home missing %q", want)
		}
	}
}

func TestRouteGuards(t *testing.T) {
	f := newFixture(t, nil, nil)
	anon := f.browser(t)
	user := f.browser(t)
	f.signIn(t, user, "Ada")

	tests := []struct {
		name     string
		b        *browser
		path     string
		want     int
		location string
	}{
		{name: "anonymous upload", b: anon, path: "/upload", want: http.StatusSeeOther, location: "/login"},
		{name: "anonymous csv", b: anon, path: "/csv-import", want: http.StatusSeeOther, location: "/login"},
		{name: "anonymous login", b: anon, path: "/login", want: http.StatusOK},
		{name: "anonymous register", b: anon, path: "/register", want: http.StatusOK},
		{name: "signed-in login", b: user, path: "/login", want: http.StatusSeeOther, location: "/"},
		{name: "signed-in register", b: user, path: "/register", want: http.StatusSeeOther, location: "/"},
		{name: "signed-in upload", b: user, path: "/upload", want: http.StatusOK},
		{name: "signed-in csv", b: user, path: "/csv-import", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.b.get(tt.path)
			if resp.status != tt.want {
				t.Errorf("status = %d, want %d", resp.status, tt.want)
			}
			if resp.location != tt.location {
				t.Errorf("Location = %q, want %q", resp.location, tt.location)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)

	if state := b.authState(); state.IsLoggedIn {
		t.Fatalf("fresh session is logged in: %+v", state)
	}

	f.signIn(t, b, "Ada")

	state := b.authState()
	if !state.IsLoggedIn || state.UID != "uid-ada@example.com" {
		t.Errorf("state = %+v, want logged in as uid-ada@example.com", state)
	}
	if state.Name != "Ada" || state.IsLoading {
		t.Errorf("state = %+v, want profile loaded and not loading", state)
	}

	resp := b.get("/upload")
	if !strings.Contains(resp.body, core.MsgLoggedIn) {
		t.Errorf("upload page missing %q notice", core.MsgLoggedIn)
	}
}

func TestLogin_RotatesSessionID(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)

	b.get("/login")
	before := b.cookie("sid")
	if before == "" {
		t.Fatal("no session cookie before login")
	}

	f.signIn(t, b, "Ada")

	after := b.cookie("sid")
	if after == "" || after == before {
		t.Fatalf("sid after login = %q, want a new id (was %q)", after, before)
	}
	if _, err := f.sessions.Get(context.Background(), before); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("old session Get() error = %v, want ErrSessionNotFound", err)
	}

	// A second browser replaying the pre-login id gets a fresh anonymous session.
	other := f.browser(t)
	u, _ := url.Parse(f.http.URL)
	other.client.Jar.SetCookies(u, []*http.Cookie{{Name: "sid", Value: before, Path: "/"}})
	if other.authState().IsLoggedIn {
		t.Error("pre-login session id is signed in")
	}

	if state := b.authState(); !state.IsLoggedIn || state.Name != "Ada" {
		t.Errorf("state after rotation = %+v", state)
	}
	if page := b.get("/upload"); !strings.Contains(page.body, core.MsgLoggedIn) {
		t.Errorf("login notice lost across rotation")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.identity.addAccount("ada@example.com", "password123")

	resp := b.postForm("/login", loginForm("ada@example.com", "wrong-password"))
	if resp.status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.status)
	}
	if n := strings.Count(resp.body, core.MsgInvalidCreds); n != 1 {
		t.Errorf("%q shown %d times, want 1", core.MsgInvalidCreds, n)
	}
	if !strings.Contains(resp.body, `value="ada@example.com"`) {
		t.Error("email not kept in the form")
	}
	if state := b.authState(); state.IsLoggedIn || state.IsLoading {
		t.Errorf("state = %+v, want signed out and idle", state)
	}
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)

	tests := []struct {
		name string
		form url.Values
		want []string
	}{
		{name: "empty", form: loginForm("", ""), want: []string{core.MsgAllFieldsRequired, "Email is required"}},
		{name: "bad email", form: loginForm("nope", "password123"), want: []string{"Email is invalid"}},
		{name: "short password", form: loginForm("ada@example.com", "short"), want: []string{"Password must be more than 8 characters"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := b.postForm("/login", tt.form)
			if resp.status != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", resp.status)
			}
			for _, want := range tt.want {
				if !strings.Contains(resp.body, want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}

	if n := f.identity.callCount(); n != 0 {
		t.Errorf("identity called %d times, want 0", n)
	}
}

func registerForm(name, email string) url.Values {
	return url.Values{
		"name":            {name},
		"email":           {email},
		"phoneNumber":     {"5551234567"},
		"dob":             {"1990-12-10"},
		"password":        {"password123"},
		"passwordConfirm": {"password123"},
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)

	resp := b.postForm("/register", registerForm("Ada", "ada@example.com"))
	if resp.status != http.StatusSeeOther || resp.location != "/login" {
		t.Fatalf("status = %d location = %q body = %s", resp.status, resp.location, resp.body)
	}

	p, ok := f.profiles.doc("uid-ada@example.com")
	if !ok || p.Name != "Ada" || p.PhoneNumber != "5551234567" || p.DOB != "1990-12-10" {
		t.Errorf("profile = %+v, ok = %v", p, ok)
	}
	if got := f.identity.displayName("uid-ada@example.com"); got != "Ada" {
		t.Errorf("display name = %q, want Ada", got)
	}
	if state := b.authState(); state.IsLoggedIn {
		t.Error("registration signed the user in")
	}

	resp = b.get("/login")
	if !strings.Contains(resp.body, core.MsgAccountCreated) {
		t.Errorf("login page missing %q", core.MsgAccountCreated)
	}

	resp = b.postForm("/register", registerForm("Ada", "ada@example.com"))
	if resp.status != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.status)
	}
	if !strings.Contains(resp.body, "Email is already registered") {
		t.Error("duplicate registration missing email-in-use notice")
	}
}

func TestRegister_PasswordMismatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)

	form := registerForm("Ada", "ada@example.com")
	form.Set("passwordConfirm", "password124")

	resp := b.postForm("/register", form)
	if resp.status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.status)
	}
	if !strings.Contains(resp.body, "Passwords do not match") {
		t.Error("missing mismatch message")
	}
	if strings.Contains(resp.body, "password124") {
		t.Error("password echoed back into the form")
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")

	resp := b.postFiles("/upload", audioField, []upload{{name: "a.mp3", data: []byte("abc")}})
	if resp.status != http.StatusSeeOther {
		t.Fatalf("upload status = %d", resp.status)
	}

	resp = b.postForm("/logout", nil)
	if resp.status != http.StatusSeeOther || resp.location != "/login" {
		t.Fatalf("logout status = %d location = %q", resp.status, resp.location)
	}

	want := core.AuthState{}
	if got := b.authState(); got != want {
		t.Errorf("state after logout = %+v, want zero", got)
	}
	if st := f.previews.Stats(); st.Entries != 0 {
		t.Errorf("previews after logout = %+v, want none", st)
	}
	if n := f.identity.signOutCount(); n != 1 {
		t.Errorf("backend sign-outs = %d, want 1", n)
	}

	resp = b.get("/login")
	if !strings.Contains(resp.body, core.MsgLoggedOut) {
		t.Errorf("login page missing %q", core.MsgLoggedOut)
	}
}

var previewURL = regexp.MustCompile(`src="(/preview/[0-9a-f-]+)"`)

func TestAudioUpload(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")

	resp := b.postFiles("/upload", audioField, []upload{
		{name: "a.mp3", data: []byte("mp3-bytes")},
		{name: "b.wav", data: []byte("wav-bytes")},
	})
	if resp.status != http.StatusSeeOther || resp.location != "/upload" {
		t.Fatalf("status = %d location = %q body = %s", resp.status, resp.location, resp.body)
	}

	page := b.get("/upload")
	for _, want := range []string{"Upload your audio files", "a.mp3", "b.wav", `accept=".mp3, .wav"`} {
		if !strings.Contains(page.body, want) {
			t.Errorf("upload page missing %q", want)
		}
	}

	urls := previewURL.FindAllStringSubmatch(page.body, -1)
	if len(urls) != 2 {
		t.Fatalf("preview urls = %v, want 2", urls)
	}

	audio := b.get(urls[0][1])
	if audio.status != http.StatusOK {
		t.Fatalf("preview status = %d", audio.status)
	}
	if audio.body != "mp3-bytes" {
		t.Errorf("preview body = %q", audio.body)
	}
	if ct := audio.header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("preview Content-Type = %q, want audio/mpeg", ct)
	}

	other := f.browser(t)
	f.signIn(t, other, "Grace")
	if resp := other.get(urls[0][1]); resp.status != http.StatusNotFound {
		t.Errorf("other session preview status = %d, want 404", resp.status)
	}

	// Replacing the batch releases the old previews.
	b.postFiles("/upload", audioField, []upload{{name: "c.mp3", data: []byte("c")}})
	if resp := b.get(urls[0][1]); resp.status != http.StatusNotFound {
		t.Errorf("replaced preview status = %d, want 404", resp.status)
	}

	b.postForm("/upload/clear", nil)
	if st := f.previews.Stats(); st.Entries != 0 {
		t.Errorf("after clear Stats() = %+v", st)
	}
}

func TestAudioUpload_OversizeClearsEverything(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")

	b.postFiles("/upload", audioField, []upload{{name: "keep.mp3", data: []byte("k")}})

	resp := b.postFiles("/upload", audioField, []upload{
		{name: "small.mp3", data: []byte("s")},
		{name: "huge.wav", data: make([]byte, 4_000_000)},
	})
	if resp.status != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.status)
	}

	page := b.get("/upload")
	if !strings.Contains(page.body, core.MsgAudioTooBig) {
		t.Errorf("upload page missing %q", core.MsgAudioTooBig)
	}
	for _, gone := range []string{"keep.mp3", "small.mp3", "huge.wav"} {
		if strings.Contains(page.body, gone) {
			t.Errorf("upload page still lists %q", gone)
		}
	}
	if st := f.previews.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("Stats() = %+v, want empty", st)
	}
}

func TestAudioUpload_JSON(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")

	resp := b.postFiles("/upload", audioField, []upload{{name: "notes.txt", data: []byte("x")}}, "Accept", "application/json")
	if resp.status != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.status)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal([]byte(resp.body), &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != "AUD002" || errResp.Message != core.MsgUnsupportedAudio {
		t.Errorf("error = %+v", errResp)
	}

	resp = b.postFiles("/upload", audioField, []upload{{name: "a.mp3", data: []byte("x")}}, "Accept", "application/json")
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.status)
	}
	var entries []core.AudioPreviewEntry
	if err := json.Unmarshal([]byte(resp.body), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.mp3" || entries[0].ContentType != "audio/mpeg" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestPlayback(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")

	resp := b.postFiles("/upload", audioField, []upload{{name: "a.mp3", data: []byte("x")}}, "Accept", "application/json")
	var entries []core.AudioPreviewEntry
	if err := json.Unmarshal([]byte(resp.body), &entries); err != nil || len(entries) != 1 {
		t.Fatalf("stage: %v %s", err, resp.body)
	}
	id := entries[0].ID

	steps := []struct {
		action string
		status int
		want   core.PlaybackState
	}{
		{action: "play", status: http.StatusOK, want: core.PlaybackState{Playing: true}},
		{action: "loop", status: http.StatusOK, want: core.PlaybackState{Playing: true, Loop: true}},
		{action: "pause", status: http.StatusOK, want: core.PlaybackState{Loop: true}},
		{action: "stop", status: http.StatusOK, want: core.PlaybackState{Loop: true}},
		{action: "loop", status: http.StatusOK, want: core.PlaybackState{}},
	}
	for _, step := range steps {
		resp := b.postForm("/api/audio/"+id+"/"+step.action, nil, "Accept", "application/json")
		if resp.status != step.status {
			t.Fatalf("%s status = %d, body = %s", step.action, resp.status, resp.body)
		}
		var got core.PlaybackState
		if err := json.Unmarshal([]byte(resp.body), &got); err != nil {
			t.Fatalf("%s decode: %v", step.action, err)
		}
		if got != step.want {
			t.Errorf("%s state = %+v, want %+v", step.action, got, step.want)
		}
	}

	// A reload renders the player with the loop state the server holds.
	b.postForm("/api/audio/"+id+"/loop", nil, "Accept", "application/json")
	page := b.get("/upload")
	if !strings.Contains(page.body, `<tr data-entry="`+id+`" class="looping">`) || !strings.Contains(page.body, `preload="none" loop>`) {
		t.Error("reloaded page does not show the entry as looping")
	}

	if resp := b.postForm("/api/audio/"+id+"/rewind", nil, "Accept", "application/json"); resp.status != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", resp.status)
	}
	if resp := b.postForm("/api/audio/missing/play", nil, "Accept", "application/json"); resp.status != http.StatusNotFound {
		t.Errorf("unknown entry status = %d, want 404", resp.status)
	}
}

func csvFile(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func TestCSVImport(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")
	b.get("/upload") // drain the sign-in notice

	valid := csvFile("S NO,File Name,Duration,Size (KB)", "1,song.mp3,180,4096")
	big := append(csvFile("Size (KB),Duration,File Name,S NO,Extra"), bytes.Repeat([]byte("4096,180,song.mp3,1,x\n"), 12_000)...)

	tests := []struct {
		name    string
		data    []byte
		status  int
		want    []string
		notWant []string
	}{
		{
			name:    "valid",
			data:    valid,
			status:  http.StatusOK,
			want:    []string{"<th>S NO</th>", "<td>song.mp3</td>", "<td>4096</td>"},
			notWant: []string{core.MsgInvalidHeaders, core.MsgCSVTooLarge},
		},
		{
			name:    "missing header",
			data:    csvFile("S NO,File Name,Duration", "1,song.mp3,180"),
			status:  http.StatusUnprocessableEntity,
			want:    []string{core.MsgInvalidHeaders},
			notWant: []string{"<td>song.mp3</td>"},
		},
		{
			name:   "empty",
			data:   nil,
			status: http.StatusUnprocessableEntity,
			want:   []string{core.MsgInvalidHeaders},
		},
		{
			name:   "oversize still renders",
			data:   big,
			status: http.StatusOK,
			want:   []string{core.MsgCSVTooLarge, "<td>song.mp3</td>", "<th>Extra</th>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := b.postFiles("/csv-import", csvField, []upload{{name: "tracks.csv", data: tt.data}})
			if resp.status != tt.status {
				t.Errorf("status = %d, want %d", resp.status, tt.status)
			}
			for _, want := range tt.want {
				if !strings.Contains(resp.body, want) {
					t.Errorf("body missing %q", want)
				}
			}
			for _, bad := range tt.notWant {
				if strings.Contains(resp.body, bad) {
					t.Errorf("body contains %q", bad)
				}
			}
		})
	}
}

func TestCSVImport_JSON(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")

	data := csvFile("S NO,File Name,Duration,Size (KB)", "1,song.mp3,180,4096", `2,"bad"x,1,2`)
	resp := b.postFiles("/csv-import", csvField, []upload{{name: "tracks.csv", data: data}}, "Accept", "application/json")
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.status, resp.body)
	}

	var got CSVImportResponse
	if err := json.Unmarshal([]byte(resp.body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Valid || got.Oversize {
		t.Errorf("valid = %v oversize = %v", got.Valid, got.Oversize)
	}
	if len(got.Rows) != 1 || got.Rows[0][1] != "song.mp3" {
		t.Errorf("rows = %v", got.Rows)
	}
	if len(got.Errors) != 1 || got.Errors[0].Line != 3 {
		t.Errorf("errors = %+v, want one on line 3", got.Errors)
	}

	resp = b.postFiles("/csv-import", csvField, []upload{{name: "x.csv", data: csvFile("a,b")}}, "Accept", "application/json")
	if err := json.Unmarshal([]byte(resp.body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.status != http.StatusUnprocessableEntity || got.Valid || len(got.Missing) != 4 {
		t.Errorf("status = %d valid = %v missing = %v", resp.status, got.Valid, got.Missing)
	}
}

func TestCSVImport_NoFile(t *testing.T) {
	f := newFixture(t, nil, nil)
	b := f.browser(t)
	f.signIn(t, b, "Ada")

	// A urlencoded body is not a multipart form.
	resp := b.postForm("/csv-import", url.Values{"other": {"x"}})
	if resp.status != http.StatusBadRequest {
		t.Errorf("urlencoded status = %d, want 400", resp.status)
	}

	resp = b.postFiles("/csv-import", "wrong-field", []upload{{name: "x.csv", data: []byte("a")}})
	if resp.status != http.StatusSeeOther || resp.location != "/csv-import" {
		t.Fatalf("status = %d location = %q", resp.status, resp.location)
	}
	if page := b.get("/csv-import"); !strings.Contains(page.body, "No file was selected") {
		t.Error("missing no-file notice")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, nil)
	resp := f.browser(t).get("/health")
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d", resp.status)
	}
	var got HealthResponse
	if err := json.Unmarshal([]byte(resp.body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Auth.MaxConcurrent != 4 {
		t.Errorf("health = %+v", got)
	}
}

var csrfMeta = regexp.MustCompile(`<meta name="csrf-token" content="([^"]*)">`)

func TestCSRF(t *testing.T) {
	cfg := testConfig()
	cfg.Security.EnableCSRF = true
	cfg.Security.CSRFKey = "0123456789abcdef0123456789abcdef"
	f := newFixture(t, cfg, nil)
	b := f.browser(t)

	if resp := b.postForm("/login", loginForm("", "")); resp.status != http.StatusForbidden {
		t.Fatalf("tokenless post status = %d, want 403", resp.status)
	}

	page := b.get("/login")
	m := csrfMeta.FindStringSubmatch(page.body)
	if m == nil || m[1] == "" {
		t.Fatal("login page has no csrf token")
	}
	if !strings.Contains(page.body, `name="gorilla.csrf.Token"`) {
		t.Error("login form has no hidden csrf field")
	}
	token := html.UnescapeString(m[1])

	form := loginForm("", "")
	form.Set("gorilla.csrf.Token", token)
	if resp := b.postForm("/login", form); resp.status != http.StatusUnprocessableEntity {
		t.Errorf("post with token status = %d, want 422", resp.status)
	}
}

func TestProviderSignIn(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","id_token":"idt-1"}`))
	}))
	defer tokens.Close()

	flow := oauth.NewFlow(map[core.Provider]*oauth2.Config{
		core.ProviderGoogle: {
			ClientID:    "client",
			RedirectURL: "http://localhost:8080/auth/google/callback",
			Endpoint:    oauth2.Endpoint{AuthURL: tokens.URL + "/auth", TokenURL: tokens.URL + "/token"},
		},
	})
	f := newFixture(t, nil, flow)

	t.Run("disabled provider", func(t *testing.T) {
		b := f.browser(t)
		if resp := b.get("/auth/facebook"); resp.status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.status)
		}
		if resp := b.get("/auth/myspace"); resp.status != http.StatusNotFound {
			t.Errorf("unknown provider status = %d, want 404", resp.status)
		}
	})

	t.Run("login page offers configured providers", func(t *testing.T) {
		page := f.browser(t).get("/login")
		if !strings.Contains(page.body, "Continue with Google") || strings.Contains(page.body, "Continue with Facebook") {
			t.Error("provider buttons do not match configuration")
		}
	})

	t.Run("state mismatch", func(t *testing.T) {
		b := f.browser(t)
		b.get("/auth/google")
		resp := b.get("/auth/google/callback?state=forged&code=good-code")
		if resp.status != http.StatusSeeOther || resp.location != "/login" {
			t.Fatalf("status = %d location = %q", resp.status, resp.location)
		}
		if page := b.get("/login"); !strings.Contains(page.body, "Failed to login using google") {
			t.Error("missing provider failure notice")
		}
		if b.authState().IsLoggedIn {
			t.Error("signed in despite state mismatch")
		}
	})

	t.Run("success", func(t *testing.T) {
		b := f.browser(t)
		resp := b.get("/auth/google")
		if resp.status != http.StatusFound {
			t.Fatalf("start status = %d", resp.status)
		}
		consent, err := url.Parse(resp.location)
		if err != nil || !strings.HasPrefix(resp.location, tokens.URL+"/auth") {
			t.Fatalf("consent location = %q", resp.location)
		}
		state := consent.Query().Get("state")
		before := b.cookie("sid")

		resp = b.get("/auth/google/callback?state=" + url.QueryEscape(state) + "&code=good-code")
		if resp.status != http.StatusSeeOther || resp.location != "/upload" {
			t.Fatalf("callback status = %d location = %q", resp.status, resp.location)
		}

		got := b.authState()
		if !got.IsLoggedIn || got.UID != "fed-1" || got.Name != "Grace" {
			t.Errorf("state = %+v", got)
		}
		if p, _ := f.profiles.doc("fed-1"); p.Email != "grace@example.com" {
			t.Errorf("profile = %+v", p)
		}
		if after := b.cookie("sid"); after == before {
			t.Error("session id not rotated on provider sign-in")
		}
		if _, err := f.sessions.Get(context.Background(), before); !errors.Is(err, core.ErrSessionNotFound) {
			t.Errorf("old session Get() error = %v, want ErrSessionNotFound", err)
		}

		// The state is single use.
		b.postForm("/logout", nil)
		resp = b.get("/auth/google/callback?state=" + url.QueryEscape(state) + "&code=good-code")
		if resp.location != "/login" {
			t.Errorf("replayed callback location = %q, want /login", resp.location)
		}
	})
}
