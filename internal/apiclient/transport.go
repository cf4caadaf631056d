package apiclient

import (
	"net/http"
)

// TokenSource returns the current bearer token, or "" when there is none.
type TokenSource func() string

// BearerTransport attaches the current token to outgoing requests and
// reports 401 answers through OnUnauthorized.
type BearerTransport struct {
	Base           http.RoundTripper
	Token          TokenSource
	OnUnauthorized func(token string)
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	token := ""
	if t.Token != nil {
		token = t.Token()
	}
	if token != "" {
		// RoundTrippers must not modify the caller's request
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" && t.OnUnauthorized != nil {
		t.OnUnauthorized(token)
	}
	return resp, nil
}
