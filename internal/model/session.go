package model

// Role is an authorization role name from a small closed set.
type Role string

const (
	// RoleAdmin can manage users and every back-office screen.
	RoleAdmin Role = "admin"
	// RoleOperador works the inventory, fuel, trip and label screens.
	RoleOperador Role = "operador"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleOperador}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Session is the authenticated identity of the current user.
// Role, Name and UserID are only meaningful when Token is set.
type Session struct {
	Token  string `json:"token" validate:"required"`
	Role   Role   `json:"role" validate:"required,oneof=admin operador"`
	Name   string `json:"name"`
	UserID int64  `json:"user_id" validate:"gt=0"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Identity is the public part of a session, safe to expose to the UI.
type Identity struct {
	Role   Role   `json:"role"`
	Name   string `json:"name"`
	UserID int64  `json:"user_id"`
}

// Identity drops the token.
func (s Session) Identity() Identity {
	return Identity{Role: s.Role, Name: s.Name, UserID: s.UserID}
}
