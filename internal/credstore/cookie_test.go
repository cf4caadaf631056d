package credstore

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdesk/internal/model"
)

func TestCookieReader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/app/", nil)
	req.AddCookie(&http.Cookie{Name: KeyToken, Value: "t1"})
	req.AddCookie(&http.Cookie{Name: KeyRole, Value: "admin"})
	req.AddCookie(&http.Cookie{Name: KeyName, Value: "Alice"})
	req.AddCookie(&http.Cookie{Name: KeyUserID, Value: "7"})
	req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

	r := FromRequest(req)

	v, ok := r.Get(KeyRole)
	assert.True(t, ok)
	assert.Equal(t, "admin", v)

	_, ok = r.Get("theme")
	assert.False(t, ok, "only session cookies are exposed")

	all := r.GetAll()
	assert.Len(t, all, 4)
	all[KeyToken] = "changed"
	v, _ = r.Get(KeyToken)
	assert.Equal(t, "t1", v, "GetAll returns a copy")

	sess, ok := r.Session()
	require.True(t, ok)
	assert.Equal(t, model.Session{Token: "t1", Role: model.RoleAdmin, Name: "Alice", UserID: 7}, sess)
}

func TestCookieReader_LeftoversAreNoSession(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/app/", nil)
	req.AddCookie(&http.Cookie{Name: KeyRole, Value: "admin"})
	req.AddCookie(&http.Cookie{Name: KeyUserID, Value: "7"})

	_, ok := FromRequest(req).Session()
	assert.False(t, ok)
}

func TestWriteAndClearSessionCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	sess := model.Session{Token: "t1", Role: model.RoleOperador, Name: "Bob", UserID: 12}

	WriteSessionCookies(rec, sess, CookieOptions{ExpiryDays: 1})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 4)
	assert.Equal(t, KeyToken, cookies[3].Name, "token cookie is written last")
	for _, c := range cookies {
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.False(t, c.Expires.IsZero())
	}

	// feed the response cookies back as a request
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	got, ok := FromRequest(req).Session()
	require.True(t, ok)
	assert.Equal(t, sess, got)

	rec = httptest.NewRecorder()
	ClearSessionCookies(rec, CookieOptions{Secure: true})
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 4)
	assert.Equal(t, KeyToken, cleared[0].Name, "token cookie is cleared first")
	for _, c := range cleared {
		assert.Equal(t, "", c.Value)
		assert.Less(t, c.MaxAge, 0)
		assert.True(t, c.Secure)
	}
}
