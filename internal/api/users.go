package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
)

type createUserRequest struct {
	Email    string `json:"email" validate:"required,account_email"`
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,strong_password"`
	Role     string `json:"role" validate:"omitempty,role"`
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	public := make([]auth.User, len(users))
	for i, u := range users {
		public[i] = u.Public()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": public,
		"count": len(public),
	})
}

// handleCreateUser creates an account with any role. A role other than the
// default is recorded as a permission change by the acting admin.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if fields := s.validateRequest(&req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	role := auth.DefaultRole
	if req.Role != "" {
		role = auth.Role(req.Role)
	}

	user, ok := s.createUser(w, r, req.Email, req.Username, req.Password, role)
	if !ok {
		return
	}

	actor := userOf(r)
	s.logger.Info("user created", "user_id", user.ID, "role", user.Role, "created_by", actor.ID)
	if role != auth.DefaultRole {
		s.audit.Emit(audit.PermissionChange(actor.Email, originOf(r), user.ID, string(auth.DefaultRole), string(role)))
	}

	writeJSON(w, http.StatusCreated, user.Public())
}

// handleGetUser returns one account. Users may always read their own
// record; anyone else needs the admin permission.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.authz.RequireSelfOrPermission(userOf(r), auth.ActionAdmin, r.URL.Path, originOf(r), id); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.writeAuthError(w, r, auth.NotFound("id", "user not found"))
			return
		}
		s.logger.Error("get user failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

// handleUpdateRole changes a user's role. The user's open sessions pick up
// the new role on their next request.
func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if fields := s.validateRequest(&req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	current, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.writeAuthError(w, r, auth.NotFound("id", "user not found"))
			return
		}
		s.logger.Error("get user failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to update role")
		return
	}

	role := auth.Role(req.Role)
	if role == current.Role {
		writeJSON(w, http.StatusOK, current.Public())
		return
	}

	if err := s.users.UpdateRole(r.Context(), id, role); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.writeAuthError(w, r, auth.NotFound("id", "user not found"))
			return
		}
		s.logger.Error("update role failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to update role")
		return
	}

	actor := userOf(r)
	s.logger.Info("role changed", "user_id", id, "from", current.Role, "to", role, "changed_by", actor.ID)
	s.audit.Emit(audit.PermissionChange(actor.Email, originOf(r), id, string(current.Role), string(role)))

	updated, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("reload user failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to update role")
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}
