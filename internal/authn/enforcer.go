package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeeper/internal/session"
	"github.com/nerrad567/gatekeeper/internal/throttle"
)

// Login failure reasons recorded on the audit log. Callers only ever see
// InvalidCredentials or TooManyAttempts.
const (
	ReasonBlocked         = "BLOCKED"
	ReasonUnknownUser     = "UNKNOWN_USER"
	ReasonInvalidPassword = "INVALID_PASSWORD"
)

// dummyPassword is hashed once and verified against when the email is
// unknown, so both failure paths cost one Argon2 run.
const dummyPassword = "gatekeeper-timing-equaliser"

// UserStore is the part of the user directory the enforcer reads.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*auth.User, error)
	GetByID(ctx context.Context, id string) (*auth.User, error)
}

// PasswordHasher hashes and verifies PHC-encoded passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Deps are the collaborators of an Enforcer. All are required except Clock
// and SessionTTL.
type Deps struct {
	Users    UserStore
	Sessions session.Store
	Throttle *throttle.Throttle
	Tokens   TokenVerifier
	Hasher   PasswordHasher
	Audit    audit.Emitter
	Logger   *logging.Logger

	Clock      func() time.Time
	SessionTTL time.Duration
}

// Enforcer is the authentication enforcer. Safe for concurrent use.
type Enforcer struct {
	users    UserStore
	sessions session.Store
	throttle *throttle.Throttle
	tokens   TokenVerifier
	hasher   PasswordHasher
	audit    audit.Emitter
	logger   *logging.Logger
	now      func() time.Time
	ttl      time.Duration

	dummyHash func() (string, error)
}

// New creates an Enforcer.
func New(d Deps) (*Enforcer, error) {
	switch {
	case d.Users == nil:
		return nil, errors.New("authn: user store is required")
	case d.Sessions == nil:
		return nil, errors.New("authn: session store is required")
	case d.Throttle == nil:
		return nil, errors.New("authn: throttle is required")
	case d.Tokens == nil:
		return nil, errors.New("authn: token verifier is required")
	case d.Hasher == nil:
		return nil, errors.New("authn: password hasher is required")
	}

	e := &Enforcer{
		users:    d.Users,
		sessions: d.Sessions,
		throttle: d.Throttle,
		tokens:   d.Tokens,
		hasher:   d.Hasher,
		audit:    d.Audit,
		logger:   d.Logger,
		now:      d.Clock,
		ttl:      d.SessionTTL,
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	e.logger = e.logger.With("component", "authn")
	if e.now == nil {
		e.now = time.Now
	}
	if e.ttl <= 0 {
		e.ttl = session.DefaultTTL
	}
	e.dummyHash = sync.OnceValues(func() (string, error) {
		return e.hasher.Hash(dummyPassword)
	})
	return e, nil
}

// SessionTTL returns the sliding session lifetime.
func (e *Enforcer) SessionTTL() time.Duration { return e.ttl }

// Login authenticates email and password from origin and opens a session.
func (e *Enforcer) Login(ctx context.Context, email, password, origin string) (*LoginResult, error) {
	now := e.now()
	e.sweep(now)

	email = auth.NormalizeEmail(email)
	key := throttle.Key(email, origin)

	if err := e.throttle.EnsureNotBlocked(ctx, key); err != nil {
		ae, ok := auth.AsError(err)
		if !ok {
			return nil, fmt.Errorf("checking throttle: %w", err)
		}
		e.logger.Warn("login refused, key blocked", "email", email, "origin", origin, "retry_after", ae.RetryAfter)
		e.audit.Emit(audit.LoginAttempt(email, origin, false, ReasonBlocked, map[string]any{
			"remaining_seconds": ae.RetryAfter,
		}))
		e.audit.Emit(audit.NewAnomaly(audit.AnomalyBruteForceBlock, email, origin, map[string]any{
			"blocked_until": now.Add(time.Duration(ae.RetryAfter) * time.Second).UTC().Format(time.RFC3339),
		}))
		return nil, ae
	}

	user, err := e.users.GetByEmail(ctx, email)
	if errors.Is(err, auth.ErrUserNotFound) {
		e.burnDummyVerify(password)
		return nil, e.loginFailed(ctx, key, email, origin, ReasonUnknownUser)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		// A corrupt stored hash is an operator problem, not a reason to let
		// the caller distinguish this account.
		e.logger.Error("stored password hash unusable", "user_id", user.ID, "error", err)
	}
	if !ok {
		return nil, e.loginFailed(ctx, key, email, origin, ReasonInvalidPassword)
	}

	if err := e.throttle.Reset(ctx, key); err != nil {
		e.logger.Error("clearing throttle after login failed", "email", email, "error", err)
	}

	s := session.New(*user, now, e.ttl)
	e.sessions.Put(s)

	e.logger.Info("login succeeded", "user_id", user.ID, "session", sessionRef(s.ID))
	e.audit.Emit(audit.LoginAttempt(user.Email, origin, true, "", map[string]any{"session": sessionRef(s.ID)}))

	return &LoginResult{SessionID: s.ID, User: s.User, ExpiresAt: s.ExpiresAt}, nil
}

func (e *Enforcer) burnDummyVerify(password string) {
	hash, err := e.dummyHash()
	if err != nil {
		e.logger.Error("dummy hash unavailable", "error", err)
		return
	}
	e.hasher.Verify(password, hash) //nolint:errcheck // result is discarded on purpose
}

// loginFailed counts the failure and returns the caller-visible error.
func (e *Enforcer) loginFailed(ctx context.Context, key, email, origin, reason string) error {
	blocked, err := e.throttle.RegisterFailure(ctx, key)
	e.audit.Emit(audit.LoginAttempt(email, origin, false, reason, nil))
	e.logger.Warn("login failed", "email", email, "origin", origin, "reason", reason)
	if err != nil {
		return fmt.Errorf("recording failed login: %w", err)
	}

	if blocked {
		p := e.throttle.Policy()
		e.audit.Emit(audit.NewAnomaly(audit.AnomalyBruteForceThreshold, email, origin, map[string]any{
			"attempts":       p.MaxAttempts,
			"window_seconds": int(p.Window.Seconds()),
		}))
		e.logger.Warn("throttle threshold reached", "email", email, "origin", origin)
		return auth.TooManyAttempts(e.throttle.RetryAfter())
	}
	return auth.InvalidCredentials()
}

// resolved is the session id picked from a request's credentials.
type resolved struct {
	sessionID string
	source    CredentialSource
	claims    *auth.Claims
}

// extract applies the credential priority. A bearer token that does not
// verify is skipped in favour of the next source.
func (e *Enforcer) extract(c Credentials) (resolved, bool) {
	if token := strings.TrimSpace(c.BearerToken); token != "" {
		if claims, err := e.tokens.Verify(token); err == nil {
			return resolved{sessionID: claims.SessionID, source: SourceBearer, claims: claims}, true
		}
	}
	if id := strings.TrimSpace(c.SessionHeader); id != "" {
		return resolved{sessionID: id, source: SourceHeader}, true
	}
	if id := strings.TrimSpace(c.SessionCookie); id != "" {
		return resolved{sessionID: id, source: SourceCookie}, true
	}
	return resolved{}, false
}

// Authenticate validates the credentials of a request from origin for
// resource and slides the session forward.
func (e *Enforcer) Authenticate(ctx context.Context, c Credentials, origin, resource string) (*Identity, error) {
	now := e.now()
	e.sweep(now)

	r, ok := e.extract(c)
	if !ok {
		return nil, e.reject("", origin, resource, "session missing",
			auth.Unauthenticated("authorization", "authentication required"))
	}

	s, ok := e.sessions.Get(r.sessionID)
	if !ok {
		return nil, e.reject("", origin, resource, "session unknown",
			auth.Unauthenticated("session", "session invalid"))
	}

	if s.Expired(now) {
		e.sessions.Delete(s.ID)
		return nil, e.reject(s.User.Email, origin, resource, "session expired",
			auth.Unauthenticated("session", "session expired"))
	}

	current, err := e.users.GetByID(ctx, s.User.ID)
	if errors.Is(err, auth.ErrUserNotFound) {
		e.sessions.Delete(s.ID)
		return nil, e.reject(s.User.Email, origin, resource, "user not found for session",
			auth.Unauthenticated("session", "session invalid"))
	}
	if err != nil {
		return nil, fmt.Errorf("loading session user: %w", err)
	}

	if s.Stale(*current) {
		s.User = current.Public()
		e.sessions.Replace(s)
		e.logger.Info("session user resynchronised", "session", sessionRef(s.ID), "user_id", s.User.ID)
	}

	if r.claims != nil && r.claims.Email != s.User.Email {
		return nil, e.reject(s.User.Email, origin, resource, "token email mismatch", auth.TokenIdentityMismatch())
	}

	s.Touch(now, e.ttl)
	if !e.sessions.Replace(s) {
		// Logged out while this request was in flight.
		return nil, e.reject(s.User.Email, origin, resource, "session unknown",
			auth.Unauthenticated("session", "session invalid"))
	}

	return &Identity{
		SessionID: s.ID,
		User:      s.User,
		ExpiresAt: s.ExpiresAt,
		Source:    r.source,
		Claims:    r.claims,
	}, nil
}

// reject records one UNAUTHORIZED_ACCESS event and returns err.
func (e *Enforcer) reject(user, origin, resource, reason string, err *auth.Error) error {
	e.logger.Warn("access refused", "reason", reason, "user", user, "origin", origin, "resource", resource)
	e.audit.Emit(audit.UnauthorizedAccess(user, origin, resource, reason, nil))
	return err
}

// Logout deletes the session. An unknown id is not an error.
func (e *Enforcer) Logout(sessionID string) {
	if _, ok := e.sessions.Get(sessionID); !ok {
		e.logger.Warn("logout of unknown session", "session", sessionRef(sessionID))
		return
	}
	e.sessions.Delete(sessionID)
	e.logger.Info("session closed", "session", sessionRef(sessionID))
}

// Session returns the live session with id. Expired sessions are removed
// and reported absent.
func (e *Enforcer) Session(id string) (session.Session, bool) {
	now := e.now()
	e.sweep(now)

	s, ok := e.sessions.Get(id)
	if !ok {
		return session.Session{}, false
	}
	if s.Expired(now) {
		e.sessions.Delete(id)
		return session.Session{}, false
	}
	return s, true
}

// Sweep deletes every expired session and returns how many were removed.
func (e *Enforcer) Sweep() int {
	return e.sweep(e.now())
}

func (e *Enforcer) sweep(now time.Time) int {
	removed := 0
	for _, s := range e.sessions.All() {
		if s.Expired(now) {
			e.sessions.Delete(s.ID)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("expired sessions removed", "count", removed)
	}
	return removed
}

// sessionRefLen is how much of a session id appears in logs and audit
// details. A full id is a credential.
const sessionRefLen = 8

// sessionRef shortens a session id for logging.
func sessionRef(id string) string {
	if len(id) <= sessionRefLen {
		return id
	}
	return id[:sessionRefLen]
}
