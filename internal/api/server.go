package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/authn"
	"github.com/nerrad567/gatekeeper/internal/authz"
	"github.com/nerrad567/gatekeeper/internal/guard"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultMaxBodyBytes applies when api.max_body_bytes is unset.
const defaultMaxBodyBytes = 1 << 20

// HealthChecker is a dependency reported by GET /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TokenIssuer signs bearer tokens for new sessions.
type TokenIssuer interface {
	Issue(p auth.TokenPayload, ttl time.Duration) (string, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Users  auth.UserRepository
	Hasher *auth.Hasher
	Tokens TokenIssuer
	Authn  *authn.Enforcer
	Authz  *authz.Enforcer
	Guard  *guard.Guard

	// Audit receives events raised by handlers. AuditRepo backs GET /audit.
	Audit     audit.Emitter
	AuditRepo audit.Repository

	// Hub is the live audit feed. It is normally also registered as an
	// audit sink so every event reaches connected admins.
	Hub *Hub

	// Health lists named dependencies probed by GET /health.
	Health map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	users     auth.UserRepository
	hasher    *auth.Hasher
	tokens    TokenIssuer
	authn     *authn.Enforcer
	authz     *authz.Enforcer
	guard     *guard.Guard
	audit     audit.Emitter
	auditRepo audit.Repository
	hub       *Hub
	health    map[string]HealthChecker
	version   string
	maxBody   int64
	validate  *validator.Validate
	dashboard *template.Template

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user repository is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token issuer is required")
	case deps.Authn == nil:
		return nil, fmt.Errorf("authentication enforcer is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger.With("component", "api"),
		users:     deps.Users,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		authn:     deps.Authn,
		authz:     deps.Authz,
		guard:     deps.Guard,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		hub:       deps.Hub,
		health:    deps.Health,
		version:   deps.Version,
		maxBody:   deps.Config.MaxBodyBytes,
		validate:  newValidator(),
		dashboard: dashboardTemplate,
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.authz == nil {
		s.authz = authz.New(s.audit, deps.Logger)
	}
	if s.guard == nil {
		s.guard = guard.New(deps.Security.Guard.MaxDepth)
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	if s.cfg.SessionCookie == "" {
		s.cfg.SessionCookie = "sessionId"
	}

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background. A bind failure
// (port in use, bad address) is returned; later serve errors are logged.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", srv.Addr, err)
	}
	s.server = srv
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests, and disconnects websocket clients.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	s.hub.closeAll()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
