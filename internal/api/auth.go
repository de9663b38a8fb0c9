package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/authn"
)

// registerRequest is the request body for POST /auth/register.
type registerRequest struct {
	Email    string `json:"email" validate:"required,account_email"`
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,strong_password"`
}

// loginRequest is the request body for POST /auth/login. Only the shape of
// the password is checked here, so weak wrong guesses still count against
// the throttle.
type loginRequest struct {
	Email      string `json:"email" validate:"required,account_email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	TokenExpiresIn   string    `json:"token_expires_in"`
	SessionID        string    `json:"session_id"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	User             auth.User `json:"user"`
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v) //nolint:wrapcheck // reported as a 400 by callers
}

// handleRegister creates a USER account. Elevated roles are only granted
// by an administrator through POST /users.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if fields := s.validateRequest(&req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	user, ok := s.createUser(w, r, req.Email, req.Username, req.Password, auth.DefaultRole)
	if !ok {
		return
	}
	s.logger.Info("user registered", "user_id", user.ID, "origin", originOf(r))
	writeJSON(w, http.StatusCreated, user.Public())
}

// createUser hashes password and stores the account. On failure it has
// already written the response.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request, email, username, password string, role auth.Role) (*auth.User, bool) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return nil, false
	}

	user := &auth.User{
		Email:        auth.NormalizeEmail(email),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already registered")
			return nil, false
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return nil, false
	}
	return user, true
}

// handleLogin authenticates email and password, opens a session and
// returns a bearer token bound to it. The session id is also set as an
// HttpOnly cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if fields := s.validateRequest(&req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	res, err := s.authn.Login(r.Context(), req.Email, req.Password, originOf(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	ttl := auth.TokenTTLDay
	if req.RememberMe {
		ttl = auth.TokenTTLRemember
	}
	token, err := s.tokens.Issue(auth.TokenPayload{SessionID: res.SessionID, Email: res.User.Email}, ttl)
	if err != nil {
		s.logger.Error("issue token failed", "error", err)
		s.authn.Logout(res.SessionID)
		writeInternalError(w, "failed to issue token")
		return
	}
	label, _ := auth.TTLLabel(ttl)

	s.setSessionCookie(w, res.SessionID)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:      token,
		TokenType:        "Bearer",
		TokenExpiresIn:   label,
		SessionID:        res.SessionID,
		SessionExpiresAt: res.ExpiresAt,
		User:             res.User,
	})
}

// handleLogout ends the caller's session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := authn.IdentityFrom(r.Context()); id != nil {
		s.authn.Logout(id.SessionID)
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleSession returns the caller's current session.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := authn.IdentityFrom(r.Context())
	if id == nil {
		s.writeAuthError(w, r, auth.NotFound("session", "session not found"))
		return
	}
	sess, ok := s.authn.Session(id.SessionID)
	if !ok {
		s.writeAuthError(w, r, auth.NotFound("session", "session not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"source":  id.Source,
	})
}

// setSessionCookie sets a browser-session cookie. The server-side expiry
// slides, so the cookie carries none of its own.
func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteStrictMode,
	})
}
