package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
)

// HeaderAuth sends a fixed set of headers, such as API keys.
type HeaderAuth struct {
	mu      sync.RWMutex
	headers map[string]string
}

// NewHeaderAuth creates a static header provider.
func NewHeaderAuth(headers map[string]string) *HeaderAuth {
	h := &HeaderAuth{headers: make(map[string]string, len(headers))}
	for k, v := range headers {
		h.headers[k] = v
	}
	return h
}

// Authenticate is a no-op for static headers.
func (a *HeaderAuth) Authenticate(ctx context.Context) error {
	return nil
}

// Headers returns a copy of the configured headers.
func (a *HeaderAuth) Headers() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make(map[string]string, len(a.headers))
	for k, v := range a.headers {
		result[k] = v
	}
	return result
}

// Set adds or replaces one header.
func (a *HeaderAuth) Set(name, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.headers[name] = value
}

func (a *HeaderAuth) Cookies() []*http.Cookie {
	return nil
}

func (a *HeaderAuth) RefreshIfNeeded(ctx context.Context) error {
	return nil
}

// IsAuthenticated returns true if headers are set.
func (a *HeaderAuth) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.headers) > 0
}

func (a *HeaderAuth) Type() AuthType {
	return AuthTypeHeaders
}

// BasicAuth provides HTTP Basic authentication.
type BasicAuth struct {
	username string
	password string
}

// NewBasicAuth creates a new Basic authentication provider.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		username: username,
		password: password,
	}
}

func (b *BasicAuth) Authenticate(ctx context.Context) error {
	return nil
}

// Headers returns the Authorization header.
func (b *BasicAuth) Headers() map[string]string {
	if b.username == "" && b.password == "" {
		return nil
	}

	creds := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	return map[string]string{
		"Authorization": "Basic " + creds,
	}
}

func (b *BasicAuth) Cookies() []*http.Cookie {
	return nil
}

func (b *BasicAuth) RefreshIfNeeded(ctx context.Context) error {
	return nil
}

// IsAuthenticated returns true if credentials are set.
func (b *BasicAuth) IsAuthenticated() bool {
	return b.username != "" || b.password != ""
}

func (b *BasicAuth) Type() AuthType {
	return AuthTypeBasic
}

// CookieAuth replays session cookies captured outside the fuzzer, for APIs
// that sit behind a browser login. Cookies keep their first-seen order.
type CookieAuth struct {
	mu     sync.RWMutex
	names  []string
	values map[string]string
}

// NewCookieAuth creates a cookie provider. A later cookie with the same
// name replaces an earlier one.
func NewCookieAuth(cookies []*http.Cookie) *CookieAuth {
	a := &CookieAuth{values: make(map[string]string, len(cookies))}
	for _, c := range cookies {
		a.Set(c.Name, c.Value)
	}
	return a
}

func (a *CookieAuth) Authenticate(ctx context.Context) error {
	return nil
}

func (a *CookieAuth) Headers() map[string]string {
	return nil
}

// Cookies returns fresh cookie values, safe for the caller to modify.
func (a *CookieAuth) Cookies() []*http.Cookie {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*http.Cookie, 0, len(a.names))
	for _, name := range a.names {
		out = append(out, &http.Cookie{Name: name, Value: a.values[name]})
	}
	return out
}

// Set adds or replaces one cookie.
func (a *CookieAuth) Set(name, value string) {
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.values[name]; !ok {
		a.names = append(a.names, name)
	}
	a.values[name] = value
}

func (a *CookieAuth) RefreshIfNeeded(ctx context.Context) error {
	return nil
}

func (a *CookieAuth) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.names) > 0
}

func (a *CookieAuth) Type() AuthType {
	return AuthTypeSession
}
