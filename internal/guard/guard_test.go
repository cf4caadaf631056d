package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fleetdesk/internal/credstore"
	"fleetdesk/internal/model"
	"fleetdesk/internal/session"
)

// MockNavigator is a mock implementation of Navigator.
type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) Navigate(path string) {
	m.Called(path)
}

type stubAuthenticator struct {
	sess model.Session
}

func (s stubAuthenticator) Authenticate(context.Context, string, string) (model.Session, error) {
	return s.sess, nil
}

var (
	admin    = model.Session{Token: "t1", Role: model.RoleAdmin, Name: "Alice", UserID: 7}
	operador = model.Session{Token: "t2", Role: model.RoleOperador, Name: "Bob", UserID: 12}
)

func newState(t *testing.T, stored *model.Session) *session.State {
	t.Helper()
	store := credstore.NewMemoryStore()
	if stored != nil {
		credstore.SetAll(context.Background(), store, credstore.SessionEntries(*stored), 0)
	}
	auth := stubAuthenticator{sess: admin}
	if stored != nil {
		auth.sess = *stored
	}
	return session.New(store, auth)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		snap session.Snapshot
		want Decision
	}{
		{name: "uninitialized", snap: session.Snapshot{}, want: Loading},
		{name: "uninitialized ignores fields", snap: session.Snapshot{Session: admin}, want: Loading},
		{name: "unauthenticated", snap: session.Snapshot{Initialized: true}, want: Redirect},
		{name: "authenticated", snap: session.Snapshot{Initialized: true, Session: admin}, want: Render},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.snap))
		})
	}
}

func TestMount_EmptyStoreRedirectsImmediately(t *testing.T) {
	st := newState(t, nil)
	g := NewRouteGuard(st, "/login")

	nav := new(MockNavigator)
	m := g.Mount(nav)
	assert.Equal(t, Loading, m.Decision())
	nav.AssertNotCalled(t, "Navigate", mock.Anything)

	nav.On("Navigate", "/login").Return().Once()
	st.InitializeAuth(context.Background())

	assert.Equal(t, Redirect, m.Decision())
	nav.AssertExpectations(t)
}

func TestMount_LogoutWhileMountedRedirects(t *testing.T) {
	ctx := context.Background()
	st := newState(t, &admin)
	st.InitializeAuth(ctx)

	nav := new(MockNavigator)
	nav.On("Navigate", "/login").Return()

	m := NewRouteGuard(st, "/login").Mount(nav)
	assert.Equal(t, Render, m.Decision())

	require.NoError(t, st.Logout(ctx))
	assert.Equal(t, Redirect, m.Decision())

	// a second notification in the same unauthenticated episode does not
	// navigate again
	require.NoError(t, st.Logout(ctx))
	nav.AssertNumberOfCalls(t, "Navigate", 1)

	require.NoError(t, st.Login(ctx, "alice", "pw"))
	assert.Equal(t, Render, m.Decision())
	require.NoError(t, st.Logout(ctx))
	nav.AssertNumberOfCalls(t, "Navigate", 2)
}

func TestMount_NoNavigationAfterUnmount(t *testing.T) {
	ctx := context.Background()
	st := newState(t, &admin)
	st.InitializeAuth(ctx)

	nav := new(MockNavigator)
	m := NewRouteGuard(st, "/login").Mount(nav)
	m.Unmount()
	m.Unmount()

	require.NoError(t, st.Logout(ctx))
	nav.AssertNotCalled(t, "Navigate", mock.Anything)
}

func TestMount_UnmountRacingLogout(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		st := newState(t, &admin)
		st.InitializeAuth(ctx)

		var mu sync.Mutex
		unmounted := false
		late := false
		m := NewRouteGuard(st, "/login").Mount(NavigatorFunc(func(string) {
			mu.Lock()
			defer mu.Unlock()
			if unmounted {
				late = true
			}
		}))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = st.Logout(ctx)
		}()
		go func() {
			defer wg.Done()
			m.Unmount()
			mu.Lock()
			unmounted = true
			mu.Unlock()
		}()
		wg.Wait()

		assert.False(t, late, "navigation after unmount")
	}
}

func TestRouteGuard_Middleware(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		setup      func() *session.State
		path       string
		accept     string
		wantStatus int
		wantHeader map[string]string
	}{
		{
			name:       "loading",
			setup:      func() *session.State { return newState(t, nil) },
			path:       "/app/home",
			wantStatus: http.StatusServiceUnavailable,
			wantHeader: map[string]string{"Retry-After": "1"},
		},
		{
			name: "browser redirect",
			setup: func() *session.State {
				st := newState(t, nil)
				st.InitializeAuth(ctx)
				return st
			},
			path:       "/app/home",
			wantStatus: http.StatusFound,
			wantHeader: map[string]string{"Location": "/login"},
		},
		{
			name: "api client gets 401",
			setup: func() *session.State {
				st := newState(t, nil)
				st.InitializeAuth(ctx)
				return st
			},
			path:       "/api/menu",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "json accept gets 401",
			setup: func() *session.State {
				st := newState(t, nil)
				st.InitializeAuth(ctx)
				return st
			},
			path:       "/app/home",
			accept:     echo.MIMEApplicationJSON,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "authenticated",
			setup: func() *session.State {
				st := newState(t, &operador)
				st.InitializeAuth(ctx)
				return st
			},
			path:       "/app/home",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			g := NewRouteGuard(tt.setup(), "/login")
			e.GET(tt.path, func(c echo.Context) error {
				sess, ok := SessionFromContext(c)
				require.True(t, ok)
				return c.String(http.StatusOK, sess.Name)
			}, g.Middleware())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set(echo.HeaderAccept, tt.accept)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			for k, v := range tt.wantHeader {
				assert.Equal(t, v, rec.Header().Get(k))
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"redirect":"/login"`)
			}
		})
	}
}

func TestRequireCookieSession(t *testing.T) {
	e := echo.New()
	e.GET("/app/*", func(c echo.Context) error {
		sess, _ := SessionFromContext(c)
		return c.String(http.StatusOK, string(sess.Role))
	}, RequireCookieSession("/login"))

	req := httptest.NewRequest(http.MethodGet, "/app/index.html", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	cookies := httptest.NewRecorder()
	credstore.WriteSessionCookies(cookies, admin, credstore.CookieOptions{})
	req = httptest.NewRequest(http.MethodGet, "/app/index.html", nil)
	for _, c := range cookies.Result().Cookies() {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())
}

func TestRequireCookieSessionFor(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		stored     *model.Session
		init       bool
		cookie     model.Session
		wantStatus int
		wantClear  bool
	}{
		{name: "matching session", stored: &admin, init: true, cookie: admin, wantStatus: http.StatusOK},
		{name: "state logged out", init: true, cookie: admin, wantStatus: http.StatusFound, wantClear: true},
		{name: "state holds another session", stored: &operador, init: true, cookie: admin, wantStatus: http.StatusFound, wantClear: true},
		{name: "state not initialized", cookie: admin, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newState(t, tt.stored)
			if tt.init {
				st.InitializeAuth(ctx)
			}
			e := echo.New()
			e.GET("/app/*", func(c echo.Context) error {
				return c.String(http.StatusOK, "page")
			}, RequireCookieSessionFor(st, "/login", credstore.CookieOptions{}))

			jar := httptest.NewRecorder()
			credstore.WriteSessionCookies(jar, tt.cookie, credstore.CookieOptions{})
			req := httptest.NewRequest(http.MethodGet, "/app/index.html", nil)
			for _, c := range jar.Result().Cookies() {
				req.AddCookie(c)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			cleared := 0
			for _, c := range rec.Result().Cookies() {
				if c.MaxAge < 0 {
					cleared++
				}
			}
			if tt.wantClear {
				assert.Equal(t, "/login", rec.Header().Get("Location"))
				assert.Equal(t, len(credstore.ClearOrder()), cleared)
			} else {
				assert.Zero(t, cleared)
			}
		})
	}
}

func TestRoleGate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stored *model.Session
		init   bool
		want   bool
	}{
		{name: "admin", stored: &admin, init: true, want: true},
		{name: "operador", stored: &operador, init: true, want: false},
		{name: "unauthenticated", init: true, want: false},
		{name: "admin before initialization", stored: &admin, init: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newState(t, tt.stored)
			if tt.init {
				st.InitializeAuth(ctx)
			}
			gate := NewRoleGate(st, model.RoleAdmin)
			assert.Equal(t, tt.want, gate.Allows())

			e := echo.New()
			e.GET("/api/admin/users", func(c echo.Context) error {
				return c.String(http.StatusOK, "users")
			}, gate.Middleware())
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/users", nil))

			if tt.want {
				assert.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, "users", rec.Body.String())
			} else {
				assert.Equal(t, http.StatusNoContent, rec.Code)
				assert.Empty(t, rec.Body.String())
			}
		})
	}
}

func TestRoleAllowed(t *testing.T) {
	assert.True(t, RoleAllowed(model.RoleAdmin, model.RoleAdmin))
	assert.True(t, RoleAllowed(model.RoleOperador, model.RoleAdmin, model.RoleOperador))
	assert.False(t, RoleAllowed(model.RoleOperador, model.RoleAdmin))
	assert.False(t, RoleAllowed("", model.RoleAdmin))
	assert.False(t, RoleAllowed(model.RoleAdmin))
}

func TestFilterMenu(t *testing.T) {
	adminMenu := FilterMenu(model.RoleAdmin, DefaultMenu)
	assert.Len(t, adminMenu, len(DefaultMenu))

	opMenu := FilterMenu(model.RoleOperador, DefaultMenu)
	assert.Len(t, opMenu, len(DefaultMenu)-2)
	for _, e := range opMenu {
		assert.NotEqual(t, "/app/users", e.Path)
	}

	assert.Empty(t, FilterMenu("", DefaultMenu))
}
