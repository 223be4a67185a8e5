package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleViewer Role = "VIEWER"
	RoleEditor Role = "EDITOR"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

const (
	ActionView       Action = "view"
	ActionEdit       Action = "edit"
	ActionAdminister Action = "administer"
	ActionOwn        Action = "own"
)

// rank orders roles for capability purposes: Owner > Admin > Editor > Viewer > none.
func rank(role Role) int {
	switch role {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

func Can(role Role, action Action) bool {
	switch action {
	case ActionView:
		return rank(role) >= rank(RoleViewer)
	case ActionEdit:
		return rank(role) >= rank(RoleEditor)
	case ActionAdminister:
		return rank(role) >= rank(RoleAdmin)
	case ActionOwn:
		return role == RoleOwner
	default:
		return false
	}
}

// Normalize maps a stored membership role string to a Role. Owner is
// implicit on the board record and is never a valid stored value.
func Normalize(role string) (Role, bool) {
	switch Role(role) {
	case RoleAdmin, RoleEditor, RoleViewer:
		return Role(role), true
	default:
		return RoleNone, false
	}
}
