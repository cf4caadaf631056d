package handler

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"fleetdesk/internal/apiclient"
	"fleetdesk/internal/credstore"
	"fleetdesk/internal/errors"
	"fleetdesk/internal/guard"
	"fleetdesk/internal/idle"
	"fleetdesk/internal/model"
	"fleetdesk/internal/realtime"
	"fleetdesk/internal/session"
)

// UserLister fetches the user administration list with the session token.
type UserLister interface {
	ListUsers(ctx context.Context, token string) ([]apiclient.UserSummary, error)
}

// SessionHandler exposes the Auth State to the UI.
type SessionHandler struct {
	state    *session.State
	monitor  *idle.Monitor
	hub      *realtime.Hub
	users    UserLister
	cookies  credstore.CookieOptions
	homePath string
}

// NewSessionHandler creates the shell session handler.
func NewSessionHandler(
	state *session.State,
	monitor *idle.Monitor,
	hub *realtime.Hub,
	users UserLister,
	cookies credstore.CookieOptions,
	homePath string,
) *SessionHandler {
	return &SessionHandler{
		state:    state,
		monitor:  monitor,
		hub:      hub,
		users:    users,
		cookies:  cookies,
		homePath: homePath,
	}
}

// SessionLoginRequest represents a login submitted by the UI.
type SessionLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ActivityRequest carries one interaction signal.
type ActivityRequest struct {
	Signal string `json:"signal"`
}

// SessionResponse is the public view of the Auth State. It never contains
// the token.
type SessionResponse struct {
	Phase    string          `json:"phase"`
	Identity *model.Identity `json:"identity,omitempty"`
	Redirect string          `json:"redirect,omitempty"`
	Warning  string          `json:"warning,omitempty"`
}

func newSessionResponse(snap session.Snapshot) SessionResponse {
	resp := SessionResponse{Phase: snap.Phase().String()}
	if snap.IsAuthenticated() {
		id := snap.Session.Identity()
		resp.Identity = &id
	}
	return resp
}

// Login submits credentials to the Auth State.
func (h *SessionHandler) Login(c echo.Context) error {
	var req SessionLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "username and password are required",
			Code:  "INVALID_REQUEST",
		})
	}

	if err := h.state.Login(c.Request().Context(), req.Username, req.Password); err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		if stderrors.Is(err, errors.ErrAuthenticationRejected) {
			// shown as is in the login toast
			httpErr.Message = session.Message(err)
		}
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}

	snap := h.state.Snapshot()
	credstore.WriteSessionCookies(c.Response(), snap.Session, h.cookies)

	resp := newSessionResponse(snap)
	resp.Redirect = h.homePath
	return c.JSON(http.StatusOK, resp)
}

// Logout ends the session. A failed server-side invalidation is reported
// as a warning; the local session is gone either way.
func (h *SessionHandler) Logout(c echo.Context) error {
	err := h.state.Logout(c.Request().Context())
	credstore.ClearSessionCookies(c.Response(), h.cookies)

	resp := newSessionResponse(h.state.Snapshot())
	if err != nil {
		if !stderrors.Is(err, errors.ErrLogoutEndpoint) {
			return echo.NewHTTPError(http.StatusInternalServerError, errors.ErrorResponse{
				Error: "failed to logout",
				Code:  "LOGOUT_FAILED",
			})
		}
		resp.Warning = "the server could not be notified of the logout"
	}
	return c.JSON(http.StatusOK, resp)
}

// Get returns the current snapshot. Before initialization the phase is
// "uninitialized" and the UI keeps showing its loading indicator.
func (h *SessionHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, newSessionResponse(h.state.Snapshot()))
}

// Activity feeds one interaction signal to the Inactivity Monitor. An
// empty signal counts as generic activity.
func (h *SessionHandler) Activity(c echo.Context) error {
	var req ActivityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
	}

	if req.Signal == "" {
		h.monitor.Activity()
		return c.NoContent(http.StatusNoContent)
	}
	if !h.monitor.Signal(req.Signal) {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "unknown activity signal",
			Code:  "INVALID_REQUEST",
		})
	}
	return c.NoContent(http.StatusNoContent)
}

// Menu returns the navigation entries the current role may see.
func (h *SessionHandler) Menu(c echo.Context) error {
	sess, ok := guard.SessionFromContext(c)
	if !ok {
		return c.JSON(http.StatusOK, []guard.MenuEntry{})
	}
	return c.JSON(http.StatusOK, guard.FilterMenu(sess.Role, guard.DefaultMenu))
}

// AdminUsers returns the user list for the admin fragment.
func (h *SessionHandler) AdminUsers(c echo.Context) error {
	sess, ok := guard.SessionFromContext(c)
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}

	users, err := h.users.ListUsers(c.Request().Context(), sess.Token)
	if err != nil {
		if stderrors.Is(err, errors.ErrTokenRejected) {
			go func() { _ = h.state.Revalidate(context.Background()) }()
		}
		httpErr := errors.MapErrorToHTTP(err)
		if httpErr.StatusCode == http.StatusInternalServerError {
			httpErr = errors.NewHTTPError(http.StatusBadGateway, "user list unavailable", "UPSTREAM_ERROR")
		}
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}
	return c.JSON(http.StatusOK, users)
}

// WebSocket upgrades to the session event stream.
func (h *SessionHandler) WebSocket(c echo.Context) error {
	initial := func() realtime.SessionEvent {
		return realtime.NewSessionEvent(h.state.Snapshot())
	}
	if err := h.hub.ServeWS(c.Response(), c.Request(), initial); err != nil {
		c.Logger().Warnf("websocket upgrade: %v", err)
	}
	return nil
}
