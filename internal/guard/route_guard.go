// Package guard gates content on the Auth State. It only reads the state;
// it never logs anyone in or out.
package guard

import (
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	apperrors "fleetdesk/internal/errors"
	"fleetdesk/internal/model"
	"fleetdesk/internal/session"
)

// ContextKeySession is the echo context key holding the guarded model.Session.
const ContextKeySession = "session"

// StateReader is the read side of session.State.
type StateReader interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
}

// Decision is the outcome of evaluating the guard.
type Decision int

const (
	// Loading: the state is not initialized. Show a loading indicator and
	// do not navigate.
	Loading Decision = iota
	// Redirect: initialized without a session. Navigate to the login path.
	Redirect
	// Render: authenticated. Show the guarded content.
	Render
)

func (d Decision) String() string {
	switch d {
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	default:
		return "loading"
	}
}

// Decide maps a snapshot to a guard decision.
func Decide(snap session.Snapshot) Decision {
	switch snap.Phase() {
	case session.Authenticated:
		return Render
	case session.Unauthenticated:
		return Redirect
	default:
		return Loading
	}
}

// Navigator transitions the visible screen to path.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// RouteGuard gates a subtree of content behind authentication.
type RouteGuard struct {
	state     StateReader
	loginPath string
}

// NewRouteGuard creates a guard redirecting to loginPath.
func NewRouteGuard(state StateReader, loginPath string) *RouteGuard {
	if loginPath == "" {
		loginPath = "/login"
	}
	return &RouteGuard{state: state, loginPath: loginPath}
}

// LoginPath returns the redirect destination.
func (g *RouteGuard) LoginPath() string {
	return g.loginPath
}

// Decide evaluates the guard against the current state.
func (g *RouteGuard) Decide() Decision {
	return Decide(g.state.Snapshot())
}

// Mount is one mounted instance of guarded content. It re-evaluates on
// every state transition until Unmount.
type Mount struct {
	guard *RouteGuard
	nav   Navigator

	mu          sync.Mutex
	decision    Decision
	redirected  bool
	unmounted   bool
	unsubscribe func()
}

// Mount evaluates the guard, navigates to the login path if needed, and
// keeps watching the state. nav is called with the mount lock held and
// must not call Unmount itself.
func (g *RouteGuard) Mount(nav Navigator) *Mount {
	m := &Mount{guard: g, nav: nav}

	m.mu.Lock()
	m.unsubscribe = g.state.Subscribe(func(session.Snapshot) { m.evaluate() })
	m.mu.Unlock()

	m.evaluate()
	return m
}

// evaluate always reads the latest snapshot, so a stale notification can
// never undo a newer decision.
func (m *Mount) evaluate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unmounted {
		// notification raced with Unmount
		return
	}

	m.decision = m.guard.Decide()
	if m.decision != Redirect {
		m.redirected = false
		return
	}
	if m.redirected {
		return
	}
	m.redirected = true
	if m.nav != nil {
		m.nav.Navigate(m.guard.loginPath)
	}
}

// Decision returns the latest evaluation.
func (m *Mount) Decision() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decision
}

// Unmount stops watching the state. No navigation happens after it
// returns. Calling it twice is harmless.
func (m *Mount) Unmount() {
	m.mu.Lock()
	m.unmounted = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Middleware gates echo routes on the Auth State.
//
// Loading answers 503 with Retry-After; Redirect answers 302 to the login
// path, or 401 for API and JSON clients; Render passes the session to the
// next handler under ContextKeySession.
func (g *RouteGuard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			snap := g.state.Snapshot()

			switch Decide(snap) {
			case Loading:
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "loading"})
			case Redirect:
				return redirectToLogin(c, g.loginPath)
			}

			c.Set(ContextKeySession, snap.Session)
			return next(c)
		}
	}
}

// SessionFromContext returns the session placed by a guard middleware.
func SessionFromContext(c echo.Context) (model.Session, bool) {
	sess, ok := c.Get(ContextKeySession).(model.Session)
	return sess, ok
}

type redirectResponse struct {
	apperrors.ErrorResponse
	Redirect string `json:"redirect"`
}

func redirectToLogin(c echo.Context, loginPath string) error {
	if wantsJSON(c.Request()) {
		return c.JSON(http.StatusUnauthorized, redirectResponse{
			ErrorResponse: apperrors.ErrorResponse{Error: "authentication required", Code: "UNAUTHENTICATED"},
			Redirect:      loginPath,
		})
	}
	return c.Redirect(http.StatusFound, loginPath)
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
