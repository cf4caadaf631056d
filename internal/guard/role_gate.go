package guard

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"fleetdesk/internal/model"
)

// RoleAllowed reports whether role is in the allow-list. An empty role
// never matches.
func RoleAllowed(role model.Role, allowed ...model.Role) bool {
	if role == "" {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// RoleGate renders content only for sessions holding one of its roles.
// It has no side effects: no redirect, no logging.
type RoleGate struct {
	state   StateReader
	allowed []model.Role
}

// NewRoleGate creates a gate over the given allow-list.
func NewRoleGate(state StateReader, allowed ...model.Role) *RoleGate {
	return &RoleGate{state: state, allowed: allowed}
}

// Allows evaluates the gate against the current state. Before
// initialization and without a session the role is unset, so nothing
// passes.
func (g *RoleGate) Allows() bool {
	snap := g.state.Snapshot()
	if !snap.IsAuthenticated() {
		return false
	}
	return RoleAllowed(snap.Session.Role, g.allowed...)
}

// Middleware answers 204 No Content when the gate does not allow the
// current role.
func (g *RoleGate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !g.Allows() {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// MenuEntry is one item of the shell navigation. Roles empty means every
// known role sees it.
type MenuEntry struct {
	Label string       `json:"label"`
	Path  string       `json:"path"`
	Roles []model.Role `json:"-"`
}

// DefaultMenu is the back-office navigation.
var DefaultMenu = []MenuEntry{
	{Label: "Materiales", Path: "/app/materials"},
	{Label: "Ajustes de stock", Path: "/app/stock-adjustments"},
	{Label: "Vehículos", Path: "/app/vehicles"},
	{Label: "Combustible", Path: "/app/fuel"},
	{Label: "Viajes", Path: "/app/trips"},
	{Label: "Etiquetas", Path: "/app/labels"},
	{Label: "Usuarios", Path: "/app/users", Roles: []model.Role{model.RoleAdmin}},
	{Label: "Sesiones", Path: "/app/sessions", Roles: []model.Role{model.RoleAdmin}},
}

// FilterMenu returns the entries role may see, preserving order.
func FilterMenu(role model.Role, entries []MenuEntry) []MenuEntry {
	out := make([]MenuEntry, 0, len(entries))
	for _, e := range entries {
		allowed := e.Roles
		if len(allowed) == 0 {
			allowed = model.Roles
		}
		if RoleAllowed(role, allowed...) {
			out = append(out, e)
		}
	}
	return out
}
