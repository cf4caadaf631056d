// Package apiclient talks to the remote authentication endpoint.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	apperrors "fleetdesk/internal/errors"
	"fleetdesk/internal/logging"
	"fleetdesk/internal/model"
)

const (
	loginPath  = "/api/auth/login"
	logoutPath = "/api/auth/logout"
	mePath     = "/api/auth/me"
	usersPath  = "/api/users"

	maxErrorBody = 64 << 10
)

// LoginRequest is the body of the login exchange.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Client implements session.Authenticator, session.Invalidator and
// session.Validator over HTTP.
type Client struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
	logger   *slog.Logger
	group    singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the API at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		validate: validator.New(),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate exchanges credentials for a session. Every failure wraps
// ErrAuthenticationRejected and carries a message fit for display.
func (c *Client) Authenticate(ctx context.Context, username, password string) (model.Session, error) {
	body := LoginRequest{Username: username, Password: password}
	if err := c.validate.Struct(body); err != nil {
		return model.Session{}, fmt.Errorf("%w: username and password are required", apperrors.ErrAuthenticationRejected)
	}

	resp, err := c.do(ctx, http.MethodPost, loginPath, "", body)
	if err != nil {
		c.logger.Warn("authentication endpoint unreachable", "error", err)
		return model.Session{}, fmt.Errorf("%w: authentication service unavailable", apperrors.ErrAuthenticationRejected)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Session{}, fmt.Errorf("%w: %s", apperrors.ErrAuthenticationRejected, readError(resp))
	}

	var sess model.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return model.Session{}, fmt.Errorf("%w: malformed authentication response", apperrors.ErrAuthenticationRejected)
	}
	if err := c.validate.Struct(sess); err != nil {
		return model.Session{}, fmt.Errorf("%w: invalid authentication response", apperrors.ErrAuthenticationRejected)
	}
	return sess, nil
}

// Invalidate revokes token server-side.
func (c *Client) Invalidate(ctx context.Context, token string) error {
	resp, err := c.do(ctx, http.MethodPost, logoutPath, token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("logout returned %d: %s", resp.StatusCode, readError(resp))
	}
	return nil
}

// Validate reports whether token is still accepted. Concurrent checks of
// the same token share one request.
func (c *Client) Validate(ctx context.Context, token string) error {
	_, err, _ := c.group.Do(token, func() (interface{}, error) {
		_, err := c.Me(ctx, token)
		return nil, err
	})
	return err
}

// Me returns the identity behind token. A 401 wraps ErrTokenRejected.
func (c *Client) Me(ctx context.Context, token string) (model.Identity, error) {
	resp, err := c.do(ctx, http.MethodGet, mePath, token, nil)
	if err != nil {
		return model.Identity{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return model.Identity{}, fmt.Errorf("%w: %s", apperrors.ErrTokenRejected, readError(resp))
	case resp.StatusCode != http.StatusOK:
		return model.Identity{}, fmt.Errorf("me returned %d: %s", resp.StatusCode, readError(resp))
	}

	var id model.Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return model.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return id, nil
}

// UserSummary is one row of the user administration list.
type UserSummary struct {
	ID       uint       `json:"id"`
	Username string     `json:"username"`
	Name     string     `json:"name"`
	Role     model.Role `json:"role"`
	Active   bool       `json:"active"`
}

// ListUsers fetches the user list with token. Only admins are allowed by
// the endpoint; anything else comes back as an error.
func (c *Client) ListUsers(ctx context.Context, token string) ([]UserSummary, error) {
	resp, err := c.do(ctx, http.MethodGet, usersPath, token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTokenRejected, readError(resp))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("users returned %d: %s", resp.StatusCode, readError(resp))
	}

	var users []UserSummary
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

// readError extracts the human-readable message of an error response.
func readError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	var er apperrors.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
		return er.Error
	}
	// some endpoints answer {"message": "..."} (echo's default error body)
	var em struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &em); err == nil && em.Message != "" {
		return em.Message
	}
	return http.StatusText(resp.StatusCode)
}
