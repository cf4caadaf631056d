package errors

import (
	"errors"
	"net/http"
)

var (
	// ErrStorageUnavailable is reported when the persistence medium cannot be
	// read or written. It never crosses the credential store boundary.
	ErrStorageUnavailable = errors.New("credential storage unavailable")
	// ErrAuthenticationRejected is returned when the login exchange fails.
	ErrAuthenticationRejected = errors.New("authentication rejected")
	// ErrLogoutEndpoint is returned when server-side token invalidation fails.
	// The local session is already cleared when this is seen.
	ErrLogoutEndpoint = errors.New("logout endpoint failure")
	// ErrTokenRejected is returned when the API no longer accepts the bearer token.
	ErrTokenRejected = errors.New("token rejected")
	// ErrInvalidCredentials is returned by the authentication endpoint.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUserInactive is returned by the authentication endpoint for disabled users.
	ErrUserInactive = errors.New("user is not active")
)

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors. Wrapped errors keep
// their own message so the caller can show it as is.
func MapErrorToHTTP(err error) *HTTPError {
	switch {
	case errors.Is(err, ErrAuthenticationRejected):
		return NewHTTPError(http.StatusUnauthorized, err.Error(), "AUTHENTICATION_REJECTED")
	case errors.Is(err, ErrInvalidCredentials):
		return NewHTTPError(http.StatusUnauthorized, err.Error(), "INVALID_CREDENTIALS")
	case errors.Is(err, ErrUserInactive):
		return NewHTTPError(http.StatusForbidden, err.Error(), "USER_INACTIVE")
	case errors.Is(err, ErrTokenRejected):
		return NewHTTPError(http.StatusUnauthorized, err.Error(), "TOKEN_REJECTED")
	case errors.Is(err, ErrLogoutEndpoint):
		return NewHTTPError(http.StatusBadGateway, err.Error(), "LOGOUT_ENDPOINT_FAILURE")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
