package credstore

import (
	"net/http"
	"time"

	"fleetdesk/internal/model"
)

// CookieReader is the read-only credential store of a single request.
// Server-side code cannot write client storage, so it has no Set or Remove.
type CookieReader struct {
	values map[string]string
}

// FromRequest captures the session cookies carried by r.
func FromRequest(r *http.Request) CookieReader {
	values := make(map[string]string, len(SessionKeys))
	for _, key := range SessionKeys {
		c, err := r.Cookie(key)
		if err != nil || c.Value == "" {
			continue
		}
		values[key] = c.Value
	}
	return CookieReader{values: values}
}

// Get returns the cookie value for key, or false when absent.
func (c CookieReader) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetAll returns a copy of every session cookie present on the request.
func (c CookieReader) GetAll() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Session decodes the request cookies. Leftover fields without a token
// read as no session.
func (c CookieReader) Session() (model.Session, bool) {
	return DecodeSession(c.values)
}

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Path       string
	Domain     string
	Secure     bool
	SameSite   http.SameSite
	ExpiryDays int
}

// normalize applies safe defaults without breaking callers
func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// WriteSessionCookies mirrors sess into response cookies, token last.
func WriteSessionCookies(w http.ResponseWriter, sess model.Session, opts CookieOptions) {
	opts = opts.normalize()

	var expires time.Time
	if opts.ExpiryDays > 0 {
		expires = time.Now().Add(time.Duration(opts.ExpiryDays) * day)
	}
	for _, e := range SessionEntries(sess) {
		http.SetCookie(w, &http.Cookie{
			Name:     e.Key,
			Value:    e.Value,
			Path:     opts.Path,
			Domain:   opts.Domain,
			Expires:  expires,
			HttpOnly: true,
			Secure:   opts.Secure,
			SameSite: opts.SameSite,
		})
	}
}

// ClearSessionCookies expires all session cookies, token first.
func ClearSessionCookies(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	for _, key := range ClearOrder() {
		http.SetCookie(w, &http.Cookie{
			Name:     key,
			Value:    "",
			Path:     opts.Path,
			Domain:   opts.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   opts.Secure,
			SameSite: opts.SameSite,
		})
	}
}
