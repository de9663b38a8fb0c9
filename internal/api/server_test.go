package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/authn"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/database"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeeper/internal/session"
	"github.com/nerrad567/gatekeeper/internal/throttle"
	_ "github.com/nerrad567/gatekeeper/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "Correct-Horse-9!"
)

var fastHasher = auth.NewHasher(auth.HashParams{Time: 1, Memory: 1024})

// recorder is an audit.Emitter that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofKind(kind audit.Kind) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) anomalies(kind audit.Anomaly) []audit.Event {
	var out []audit.Event
	for _, ev := range r.ofKind(audit.KindAnomaly) {
		if ev.Details["anomaly"] == string(kind) {
			out = append(out, ev)
		}
	}
	return out
}

// testEnv is a fully wired server over a temporary SQLite database.
type testEnv struct {
	srv       *Server
	handler   http.Handler
	db        *database.DB
	users     *auth.SQLiteUserRepository
	auditRepo *audit.SQLiteRepository
	audit     *recorder
}

type envOption func(*Deps)

func withAPIKeys(keys ...string) envOption {
	return func(d *Deps) {
		d.Security.APIKeys = config.APIKeyConfig{Enabled: true, Keys: keys}
	}
}

func withMaxDepth(n int) envOption {
	return func(d *Deps) { d.Security.Guard.MaxDepth = n }
}

func withHealth(name string, hc HealthChecker) envOption {
	return func(d *Deps) {
		if d.Health == nil {
			d.Health = map[string]HealthChecker{}
		}
		d.Health[name] = hc
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(t.Context(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	log := logging.Discard()
	rec := &recorder{}
	users := auth.NewUserRepository(db.DB)

	tokens, err := auth.NewTokenService(testSecret, log.Logger)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	enforcer, err := authn.New(authn.Deps{
		Users:    users,
		Sessions: session.NewMemoryStore(),
		Throttle: throttle.New(throttle.NewMemoryStore()),
		Tokens:   tokens,
		Hasher:   fastHasher,
		Audit:    rec,
		Logger:   log,
	})
	if err != nil {
		t.Fatalf("authn.New: %v", err)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	deps := Deps{
		Config: config.APIConfig{
			Host:          "127.0.0.1",
			Port:          0,
			Timeouts:      config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			CORS:          config.CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}},
			SessionCookie: "sessionId",
		},
		WS:        config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:  config.SecurityConfig{Guard: config.GuardConfig{MaxDepth: 32}},
		Logger:    log,
		Users:     users,
		Hasher:    fastHasher,
		Tokens:    tokens,
		Authn:     enforcer,
		Audit:     rec,
		AuditRepo: auditRepo,
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:       srv,
		handler:   srv.Handler(),
		db:        db,
		users:     users,
		auditRepo: auditRepo,
		audit:     rec,
	}
}

// addUser stores an account with testPassword.
func (e *testEnv) addUser(t *testing.T, email string, role auth.Role) *auth.User {
	t.Helper()
	hash, err := fastHasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u := &auth.User{Email: email, Username: strings.Split(email, "@")[0], PasswordHash: hash, Role: role}
	if err := e.users.Create(t.Context(), u); err != nil {
		t.Fatalf("Create(%s): %v", email, err)
	}
	return u
}

// do sends a request through the router. Headers are given as name/value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// login signs in and returns the decoded response.
func (e *testEnv) login(t *testing.T, email string) loginResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": email, "password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", email, w.Code, w.Body.String())
	}
	var resp loginResponse
	decodeBody(t, w, &resp)
	return resp
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	decodeBody(t, w, &e)
	return e
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

// ─── Health ────────────────────────────────────────────────────────

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, withHealth("database", fakeHealth{}))

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("database check = %q, want ok", resp.Checks["database"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t,
		withHealth("database", fakeHealth{}),
		withHealth("mqtt", fakeHealth{err: errors.New("not connected")}),
	)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if strings.Contains(w.Body.String(), "not connected") {
		t.Error("health response leaks the dependency error")
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	w = env.do(t, http.MethodGet, "/api/v1/health", nil, "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		origin    string
		wantAllow string
	}{
		{"allowed origin", "https://admin.example.com", "https://admin.example.com"},
		{"other origin", "https://evil.example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodOptions, "/api/v1/auth/login", nil, "Origin", tt.origin)
			if w.Code != http.StatusNoContent {
				t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if tt.wantAllow != "" {
				headers := w.Header().Get("Access-Control-Allow-Headers")
				for _, h := range []string{"X-Session-Id", "X-Api-Key", "Authorization"} {
					if !strings.Contains(headers, h) {
						t.Errorf("Allow-Headers %q missing %s", headers, h)
					}
				}
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeInternal)
	}
}

func TestAPIKey(t *testing.T) {
	env := newTestEnv(t, withAPIKeys("key-one", "key-two"))
	env.addUser(t, "alice@example.com", auth.RoleUser)
	body := map[string]any{"email": "alice@example.com", "password": testPassword}

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", body)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without key: status = %d, want 401", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeInvalidKey {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeInvalidKey)
	}
	if got := len(env.audit.ofKind(audit.KindUnauthorizedAccess)); got != 1 {
		t.Errorf("unauthorized events = %d, want 1", got)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", body, "X-Api-Key", "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", body, "X-Api-Key", "key-two")
	if w.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health without key: status = %d, want 200", w.Code)
	}
}

func TestOriginOf(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"},
		{"", unknownOrigin},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		if got := originOf(r); got != tt.want {
			t.Errorf("originOf(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestCredentialsOf(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer  tok.en.sig")
	r.Header.Set("X-Session-Id", " sid-header ")
	r.AddCookie(&http.Cookie{Name: "sessionId", Value: "sid-cookie"})

	c := credentialsOf(r, "sessionId")
	if c.BearerToken != "tok.en.sig" || c.SessionHeader != "sid-header" || c.SessionCookie != "sid-cookie" {
		t.Errorf("credentials = %+v", c)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if c := credentialsOf(r, "sessionId"); c.BearerToken != "" {
		t.Errorf("basic auth read as bearer: %+v", c)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.Start(t.Context()); err == nil {
		t.Error("second Start() should fail")
	}

	addr := env.srv.Addr()
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := client.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still answering after Close")
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v, want nil", err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) should fail without a logger")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New without a user repository should fail")
	}
}
