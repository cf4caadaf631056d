package guard

import (
	"github.com/labstack/echo/v4"

	"fleetdesk/internal/credstore"
)

// RequireCookieSession guards server-rendered routes using only the
// request cookies. It cannot see the in-process Auth State, so it never
// reports Loading, and cookies left behind by an idle or revalidation
// logout still pass. Use RequireCookieSessionFor where the state is at hand.
func RequireCookieSession(loginPath string) echo.MiddlewareFunc {
	return requireCookieSession(nil, loginPath, credstore.CookieOptions{})
}

// RequireCookieSessionFor is RequireCookieSession cross-checked against
// state: once the state is initialized, a cookie token that is not the
// current session's token is cleared and the request redirected to login.
func RequireCookieSessionFor(state StateReader, loginPath string, cookies credstore.CookieOptions) echo.MiddlewareFunc {
	return requireCookieSession(state, loginPath, cookies)
}

func requireCookieSession(state StateReader, loginPath string, cookies credstore.CookieOptions) echo.MiddlewareFunc {
	if loginPath == "" {
		loginPath = "/login"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, ok := credstore.FromRequest(c.Request()).Session()
			if !ok {
				return redirectToLogin(c, loginPath)
			}
			if state != nil {
				snap := state.Snapshot()
				// before initialization the cookies are all there is
				if snap.Initialized && snap.Session.Token != sess.Token {
					credstore.ClearSessionCookies(c.Response(), cookies)
					return redirectToLogin(c, loginPath)
				}
			}
			c.Set(ContextKeySession, sess)
			return next(c)
		}
	}
}
