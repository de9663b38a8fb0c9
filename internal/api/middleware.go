package api

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/authn"
	"github.com/nerrad567/gatekeeper/internal/guard"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"
)

// Credential headers.
const (
	headerSessionID = "X-Session-Id"
	headerAPIKey    = "X-Api-Key"
	unknownOrigin   = "unknown-ip"
)

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value, not a wrapped error
					panic(err)
				}
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Session-Id, X-Api-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is in the allowed list. An empty
// list allows none, since credentials ride along on cross-origin calls.
func (s *Server) isAllowedOrigin(origin string) bool {
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// bodySizeLimitMiddleware caps request bodies at api.max_body_bytes.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware requires a configured key in X-Api-Key. It is a no-op
// when api keys are disabled.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.secCfg.APIKeys.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		if !s.validAPIKey(r.Header.Get(headerAPIKey)) {
			s.audit.Emit(audit.UnauthorizedAccess("", originOf(r), r.URL.Path, "missing or invalid api key", nil))
			writeError(w, http.StatusUnauthorized, ErrCodeInvalidKey, "missing or invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validAPIKey(key string) bool {
	if key == "" {
		return false
	}
	found := 0
	for _, k := range s.secCfg.APIKeys.Keys {
		found |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
	}
	return found == 1
}

// guardMiddleware screens JSON bodies for injection signatures before any
// handler decodes them. The body is restored for the handler.
func (s *Server) guardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
				return
			}
			writeBadRequest(w, "unreadable request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if len(bytes.TrimSpace(body)) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		match, err := s.guard.ScanJSON(body)
		if err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		if match != nil {
			s.rejectPayload(w, r, match, body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rejectPayload records the anomaly and answers 400.
func (s *Server) rejectPayload(w http.ResponseWriter, r *http.Request, m *guard.Match, body []byte) {
	kind := audit.AnomalyInjectionAttempt
	if m.Vector == guard.VectorDepth {
		kind = audit.AnomalyPayloadTooDeep
	}
	origin := originOf(r)
	user := claimedEmail(body)

	s.logger.Warn("payload rejected",
		"vector", m.Vector,
		"field", m.Field,
		"origin", origin,
		"path", r.URL.Path,
		"request_id", requestIDFrom(r.Context()),
	)
	s.audit.Emit(audit.NewAnomaly(kind, user, origin, map[string]any{
		"field":    m.Field,
		"pattern":  m.Pattern,
		"vector":   string(m.Vector),
		"resource": r.URL.Path,
	}))
	s.writeAuthError(w, r, auth.InjectionDetected(m.Field, string(m.Vector)))
}

// authenticateMiddleware resolves the caller's identity and attaches it to
// the request context. Failures have already been audited by the enforcer.
func (s *Server) authenticateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authn.Authenticate(r.Context(), credentialsOf(r, s.cfg.SessionCookie), originOf(r), r.URL.Path)
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(authn.WithIdentity(r.Context(), id)))
	})
}

// requirePermission returns middleware that admits only identities whose
// role grants action. It must run after authenticateMiddleware.
func (s *Server) requirePermission(action auth.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := s.authz.RequirePermission(userOf(r), action, r.URL.Path, originOf(r)); err != nil {
				s.writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userOf returns the authenticated user of r, or nil.
func userOf(r *http.Request) *auth.User {
	id := authn.IdentityFrom(r.Context())
	if id == nil {
		return nil
	}
	return &id.User
}

// credentialsOf collects every credential r carries.
func credentialsOf(r *http.Request, cookieName string) authn.Credentials {
	var c authn.Credentials
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			c.BearerToken = strings.TrimSpace(token)
		}
	}
	c.SessionHeader = strings.TrimSpace(r.Header.Get(headerSessionID))
	if ck, err := r.Cookie(cookieName); err == nil {
		c.SessionCookie = ck.Value
	}
	return c
}

// originOf is the client address used for throttling and audit. Forwarded
// headers are ignored: a client could rotate them to mint fresh throttle keys.
func originOf(r *http.Request) string {
	if r.RemoteAddr == "" {
		return unknownOrigin
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if host == "" {
		return unknownOrigin
	}
	return host
}

// claimedEmail pulls a top-level "email" string from a body for audit
// attribution. Any failure yields "".
func claimedEmail(body []byte) string {
	var probe struct {
		Email any `json:"email"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	email, _ := probe.Email.(string)
	return auth.NormalizeEmail(email)
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is needed by the websocket upgrader.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack() //nolint:wrapcheck // passthrough
}
