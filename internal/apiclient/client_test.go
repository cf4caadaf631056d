package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fleetdesk/internal/errors"
	"fleetdesk/internal/model"
)

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case req.Username == "alice" && req.Password == "correct-pw":
			_, _ = w.Write([]byte(`{"token":"t1","role":"admin","name":"Alice","user_id":7}`))
		case req.Username == "ghost":
			_, _ = w.Write([]byte(`{"token":"","role":"admin","user_id":1}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Usuario o contraseña incorrectos","code":"INVALID_CREDENTIALS"}`))
		}
	})
	mux.HandleFunc(logoutPath, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer t1":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid or expired jwt"}`))
		}
	})
	mux.HandleFunc(mePath, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer t1":
			_, _ = w.Write([]byte(`{"role":"admin","name":"Alice","user_id":7}`))
		case "Bearer boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token revoked","code":"TOKEN_REJECTED"}`))
		}
	})
	mux.HandleFunc(usersPath, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer t1":
			_, _ = w.Write([]byte(`[{"id":7,"username":"alice","name":"Alice","role":"admin","active":true}]`))
		case "Bearer t2":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden","code":"FORBIDDEN"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ListUsers(t *testing.T) {
	srv := newAuthServer(t)
	c := New(srv.URL, time.Second)
	ctx := context.Background()

	users, err := c.ListUsers(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, UserSummary{ID: 7, Username: "alice", Name: "Alice", Role: model.RoleAdmin, Active: true}, users[0])

	_, err = c.ListUsers(ctx, "t2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")

	_, err = c.ListUsers(ctx, "nope")
	assert.True(t, errors.Is(err, apperrors.ErrTokenRejected))
}

func TestClient_Authenticate(t *testing.T) {
	srv := newAuthServer(t)
	c := New(srv.URL+"/", time.Second)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		want     model.Session
		wantMsg  string
	}{
		{
			name:     "success",
			username: "alice",
			password: "correct-pw",
			want:     model.Session{Token: "t1", Role: model.RoleAdmin, Name: "Alice", UserID: 7},
		},
		{
			name:     "wrong password",
			username: "alice",
			password: "wrong-pw",
			wantMsg:  "Usuario o contraseña incorrectos",
		},
		{
			name:     "invalid response",
			username: "ghost",
			password: "pw",
			wantMsg:  "invalid authentication response",
		},
		{
			name:     "missing password",
			username: "alice",
			wantMsg:  "username and password are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Authenticate(ctx, tt.username, tt.password)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrAuthenticationRejected))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, model.Session{}, got)
		})
	}
}

func TestClient_AuthenticateUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", 500*time.Millisecond)
	_, err := c.Authenticate(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAuthenticationRejected))
}

func TestClient_Invalidate(t *testing.T) {
	srv := newAuthServer(t)
	c := New(srv.URL, time.Second)

	assert.NoError(t, c.Invalidate(context.Background(), "t1"))

	err := c.Invalidate(context.Background(), "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid or expired jwt")
}

func TestClient_Validate(t *testing.T) {
	srv := newAuthServer(t)
	c := New(srv.URL, time.Second)
	ctx := context.Background()

	assert.NoError(t, c.Validate(ctx, "t1"))

	err := c.Validate(ctx, "revoked")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTokenRejected))

	err = c.Validate(ctx, "boom")
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrTokenRejected))

	id, err := c.Me(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.Identity{Role: model.RoleAdmin, Name: "Alice", UserID: 7}, id)
}

func TestClient_ValidateSharesConcurrentRequests(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		_, _ = w.Write([]byte(`{"role":"admin","name":"Alice","user_id":7}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Validate(context.Background(), "t1"))
		}()
	}
	// let the goroutines join the in-flight call
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&hits), int32(2))
}

func TestBearerTransport(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		if r.URL.Path == "/denied" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	token := "t1"
	var rejected []string
	hc := &http.Client{Transport: &BearerTransport{
		Token:          func() string { return token },
		OnUnauthorized: func(tok string) { rejected = append(rejected, tok) },
	}}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/vehicles", nil)
	resp, err := hc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer t1", seen)
	assert.Empty(t, req.Header.Get("Authorization"), "caller request is not modified")

	resp, err = hc.Get(srv.URL + "/denied")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []string{"t1"}, rejected)

	token = ""
	resp, err = hc.Get(srv.URL + "/denied")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, seen)
	assert.Len(t, rejected, 1, "anonymous 401s are not reported")
}
