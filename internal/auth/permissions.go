package auth

// Action is an operation a role may be granted.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Actions lists every action in the matrix.
var Actions = []Action{ActionRead, ActionWrite, ActionDelete, ActionAdmin}

// rolePermissions is the single source of truth for authorisation.
// Every role has an explicit entry for every action.
var rolePermissions = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionRead:   true,
		ActionWrite:  true,
		ActionDelete: true,
		ActionAdmin:  true,
	},
	RoleManager: {
		ActionRead:   true,
		ActionWrite:  true,
		ActionDelete: false,
		ActionAdmin:  false,
	},
	RoleUser: {
		ActionRead:   true,
		ActionWrite:  false,
		ActionDelete: false,
		ActionAdmin:  false,
	},
}

// HasPermission returns true if role is granted action.
// Unknown roles and actions are denied.
func HasPermission(role Role, action Action) bool {
	return rolePermissions[role][action]
}

// PermissionsForRole returns the granted actions for role in matrix order.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Action {
	grants, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	result := make([]Action, 0, len(Actions))
	for _, a := range Actions {
		if grants[a] {
			result = append(result, a)
		}
	}
	return result
}
