package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	"fleetdesk/internal/apiclient"
	"fleetdesk/internal/auth"
	"fleetdesk/internal/config"
	"fleetdesk/internal/credstore"
	"fleetdesk/internal/errors"
	"fleetdesk/internal/guard"
	"fleetdesk/internal/handler"
	"fleetdesk/internal/model"
	"fleetdesk/internal/service"
	"fleetdesk/internal/session"
)

// Shell groups what the shell routes need.
type Shell struct {
	Config   config.ShellConfig
	State    *session.State
	Guard    *guard.RouteGuard
	Sessions *handler.SessionHandler
	Logger   *slog.Logger
}

// RegisterShell wires the desktop shell routes and middleware.
func RegisterShell(e *echo.Echo, s Shell) error {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.Validator = &CustomValidator{validator: validator.New()}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// public session surface
	e.GET("/api/session", s.Sessions.Get)
	e.POST("/api/session/login", s.Sessions.Login, loginRateLimiter(s.Config.LoginAttemptsPerMinute))
	e.POST("/api/session/logout", s.Sessions.Logout)
	e.POST("/api/session/activity", s.Sessions.Activity)
	e.GET("/ws/session", s.Sessions.WebSocket)
	e.File(s.Config.LoginPath, filepath.Join(s.Config.StaticDir, "login.html"))

	// Routes below require the Auth State to be authenticated
	secured := e.Group("/api", s.Guard.Middleware())
	secured.GET("/menu", s.Sessions.Menu)

	admin := secured.Group("/admin", guard.NewRoleGate(s.State, model.RoleAdmin).Middleware())
	admin.GET("/users", s.Sessions.AdminUsers)

	proxy, err := backendProxy(s)
	if err != nil {
		return err
	}
	secured.Group("/backend", proxy)

	// Server-rendered pages check the request cookies against the state
	e.Group("/app",
		guard.RequireCookieSessionFor(s.State, s.Config.LoginPath, credstore.CookieOptions{
			Secure: s.Config.CookieSecure,
		}),
		middleware.StaticWithConfig(middleware.StaticConfig{
			Root:       s.Config.StaticDir,
			HTML5:      true,
			IgnoreBase: true,
		}),
	)
	return nil
}

// backendProxy forwards /api/backend/* to the REST API with the session
// token attached. A 401 from the API triggers a revalidation.
func backendProxy(s Shell) (echo.MiddlewareFunc, error) {
	target, err := url.Parse(s.Config.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}

	transport := &apiclient.BearerTransport{
		Token: func() string {
			return s.State.Snapshot().Session.Token
		},
		OnUnauthorized: func(string) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), s.Config.APITimeout)
				defer cancel()
				if err := s.State.Revalidate(ctx); err != nil && s.Logger != nil {
					s.Logger.Warn("revalidation after 401 failed", "error", err)
				}
			}()
		},
	}

	return middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{{URL: target}}),
		Rewrite: map[string]string{
			"/api/backend/*": "/api/$1",
		},
		Transport: transport,
	}), nil
}

func loginRateLimiter(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = 10
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMinute) / 60),
			Burst:     perMinute,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, errors.ErrorResponse{
				Error: "unable to identify client",
				Code:  "FORBIDDEN",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, errors.ErrorResponse{
				Error: "too many login attempts, try again later",
				Code:  "RATE_LIMITED",
			})
		},
	})
}

// RegisterAuthAPI wires the authentication endpoint routes and middleware.
func RegisterAuthAPI(
	e *echo.Echo,
	authService service.AuthService,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	// Add validator
	e.Validator = &CustomValidator{validator: validator.New()}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")

	// Public routes
	api.POST("/auth/login", authHandler.Login)

	// Secured routes (require a valid, unrevoked access token)
	secured := api.Group("", echojwt.WithConfig(echojwt.Config{
		ContextKey:  handler.ContextKeyClaims,
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			claims, err := authService.ParseToken(c.Request().Context(), token)
			if err != nil {
				return nil, err
			}
			return claims, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
				Error: "invalid or expired token",
				Code:  "TOKEN_REJECTED",
			})
		},
	}))

	secured.POST("/auth/logout", authHandler.Logout)
	secured.GET("/auth/me", authHandler.Me)

	// User administration
	users := secured.Group("/users", requireRole(model.RoleAdmin))
	users.GET("", userHandler.ListUsers)
	users.POST("", userHandler.CreateUser)
	users.GET("/:id", userHandler.GetUser)
	users.PATCH("/:id/active", userHandler.SetActive)
}

// requireRole rejects tokens whose role is outside roles.
func requireRole(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(handler.ContextKeyClaims).(*auth.Claims)
			if !ok || !guard.RoleAllowed(claims.Role, roles...) {
				return echo.NewHTTPError(http.StatusForbidden, errors.ErrorResponse{
					Error: "insufficient role",
					Code:  "FORBIDDEN",
				})
			}
			return next(c)
		}
	}
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
