// Package authz decides whether an authenticated user may perform an action.
//
// Decisions come from the fixed role matrix in package auth. Denials are
// recorded on the audit log as UNAUTHORIZED_ACCESS.
package authz

import (
	"fmt"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
)

// Enforcer checks permissions. It holds no mutable state.
type Enforcer struct {
	audit  audit.Emitter
	logger *logging.Logger
}

// New creates an Enforcer. A nil emitter discards events and a nil logger
// discards log output.
func New(emitter audit.Emitter, logger *logging.Logger) *Enforcer {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Enforcer{audit: emitter, logger: logger.With("component", "authz")}
}

// Can reports whether role is granted action. Unknown roles and actions
// are denied.
func (e *Enforcer) Can(role auth.Role, action auth.Action) bool {
	return auth.HasPermission(role, action)
}

// RequirePermission returns nil when user's role grants action on resource.
// A nil user is Unauthenticated; a role without the grant is Forbidden.
func (e *Enforcer) RequirePermission(user *auth.User, action auth.Action, resource, origin string) error {
	if user == nil || user.Role == "" {
		return e.deny(user, origin, resource,
			fmt.Sprintf("permission %s required, no authenticated user", action),
			auth.Unauthenticated("authorization", "authentication required"), nil)
	}
	if !e.Can(user.Role, action) {
		return e.deny(user, origin, resource,
			fmt.Sprintf("permission %s not granted to role %s", action, user.Role),
			auth.Forbidden(), map[string]any{"action": string(action), "role": string(user.Role)})
	}
	return nil
}

// RequireSelfOrPermission allows a user to act on their own record
// regardless of role; any other target needs action.
func (e *Enforcer) RequireSelfOrPermission(user *auth.User, action auth.Action, resource, origin, targetID string) error {
	if user == nil || user.Role == "" || user.ID == "" {
		return e.deny(user, origin, resource,
			fmt.Sprintf("permission %s required, no authenticated user", action),
			auth.Unauthenticated("authorization", "authentication required"), nil)
	}
	if targetID != "" && targetID == user.ID {
		return nil
	}
	if !e.Can(user.Role, action) {
		target := targetID
		if target == "" {
			target = "unknown"
		}
		return e.deny(user, origin, resource,
			fmt.Sprintf("permission %s not granted to role %s", action, user.Role),
			auth.Forbidden(), map[string]any{"action": string(action), "role": string(user.Role), "target": target})
	}
	return nil
}

func (e *Enforcer) deny(user *auth.User, origin, resource, reason string, err *auth.Error, extra map[string]any) error {
	email := ""
	if user != nil {
		email = user.Email
	}
	e.logger.Warn("access denied", "user", email, "origin", origin, "resource", resource, "reason", reason)
	e.audit.Emit(audit.UnauthorizedAccess(email, origin, resource, reason, extra))
	return err
}
