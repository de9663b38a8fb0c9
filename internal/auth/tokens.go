package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetimes accepted by TokenService.Issue.
const (
	TokenTTLShort    = 15 * time.Minute
	TokenTTLWorkday  = 12 * time.Hour
	TokenTTLDay      = 24 * time.Hour
	TokenTTLRemember = 30 * 24 * time.Hour
)

// tokenTTLLabels names each accepted lifetime. Anything not listed is rejected.
var tokenTTLLabels = map[time.Duration]string{
	TokenTTLShort:    "15m",
	TokenTTLWorkday:  "12h",
	TokenTTLDay:      "1d",
	TokenTTLRemember: "30d",
}

// TTLLabel returns the short label for an accepted lifetime ("15m", "1d" ...).
func TTLLabel(ttl time.Duration) (string, bool) {
	label, ok := tokenTTLLabels[ttl]
	return label, ok
}

// TokenPayload is the identity carried inside a bearer token.
type TokenPayload struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
}

// Claims is the JWT claim set issued by TokenService.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Email     string `json:"email"`
}

// Payload returns the identity portion of the claims.
func (c *Claims) Payload() TokenPayload {
	return TokenPayload{SessionID: c.SessionID, Email: c.Email}
}

// TokenService issues and verifies HS256 bearer tokens bound to a session.
// It holds the signing key for its lifetime and is safe for concurrent use.
type TokenService struct {
	key    []byte
	logger *slog.Logger
	now    func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenClock overrides the clock used for issuing and validating.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a TokenService. An empty secret is a startup
// error: no process-wide fallback key exists.
func NewTokenService(secret string, logger *slog.Logger, opts ...TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &TokenService{
		key:    []byte(secret),
		logger: logger.With("component", "tokens"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token carrying p that expires after ttl.
// ttl must be one of the TokenTTL constants.
func (s *TokenService) Issue(p TokenPayload, ttl time.Duration) (string, error) {
	if _, ok := tokenTTLLabels[ttl]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedTTL, ttl)
	}
	if p.SessionID == "" || p.Email == "" {
		return "", fmt.Errorf("issuing token: session id and email are required")
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		SessionID: p.SessionID,
		Email:     p.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its claims.
// Every failure yields ErrTokenInvalid; the cause is only logged.
func (s *TokenService) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		s.logger.Warn("token rejected", "error", err)
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.SessionID == "" || claims.Email == "" {
		s.logger.Warn("token rejected", "error", "missing session id or email")
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
