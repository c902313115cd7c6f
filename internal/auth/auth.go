// Package auth supplies the credentials attached to every fuzz request.
// Credential headers always override headers generated from the definition.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AuthType represents the type of authentication.
type AuthType string

const (
	AuthTypeNone    AuthType = "none"
	AuthTypeHeaders AuthType = "headers"
	AuthTypeSession AuthType = "session"
	AuthTypeBearer  AuthType = "bearer"
	AuthTypeOAuth   AuthType = "oauth"
	AuthTypeBasic   AuthType = "basic"
)

// Credentials holds authentication credentials.
type Credentials struct {
	Type         AuthType
	Username     string
	Password     string
	Token        string
	RefreshToken string
	RefreshURL   string
	Headers      map[string]string
	Cookies      []*http.Cookie
	OAuthConfig  *OAuthConfig
}

// OAuthConfig holds OAuth 2.0 client credentials configuration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Provider supplies headers and cookies for outgoing requests.
type Provider interface {
	// Authenticate obtains credentials, if the provider needs to.
	Authenticate(ctx context.Context) error

	// Headers returns headers to include in requests.
	Headers() map[string]string

	// Cookies returns cookies to include in requests.
	Cookies() []*http.Cookie

	// RefreshIfNeeded refreshes expiring credentials.
	RefreshIfNeeded(ctx context.Context) error

	// IsAuthenticated returns true if credentials are available.
	IsAuthenticated() bool

	// Type returns the authentication type.
	Type() AuthType
}

// NewProvider creates an authentication provider based on credentials.
func NewProvider(creds Credentials) (Provider, error) {
	switch creds.Type {
	case AuthTypeNone, "":
		if len(creds.Headers) > 0 {
			return NewHeaderAuth(creds.Headers), nil
		}
		return &NoAuth{}, nil
	case AuthTypeHeaders:
		return NewHeaderAuth(creds.Headers), nil
	case AuthTypeSession:
		return NewCookieAuth(creds.Cookies), nil
	case AuthTypeBearer:
		if creds.RefreshToken != "" {
			return NewBearerAuthWithRefresh(creds.Token, creds.RefreshToken, creds.RefreshURL), nil
		}
		return NewBearerAuth(creds.Token), nil
	case AuthTypeOAuth:
		if creds.OAuthConfig == nil {
			return nil, fmt.Errorf("OAuth config is required")
		}
		return NewOAuthAuth(creds.OAuthConfig), nil
	case AuthTypeBasic:
		return NewBasicAuth(creds.Username, creds.Password), nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", creds.Type)
	}
}

// ParseHeaders decodes static auth headers given either as one JSON object
// or as a list of objects. Later objects override earlier ones.
func ParseHeaders(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var single map[string]any
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return flatten(single), nil
	}

	var list []map[string]any
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("headers must be a JSON object or a list of objects: %w", err)
	}
	out := make(map[string]string)
	for _, m := range list {
		for k, v := range flatten(m) {
			out[k] = v
		}
	}
	return out, nil
}

func flatten(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// tokenClient is used for refresh and token requests.
var tokenClient = &http.Client{Timeout: 30 * time.Second}

// NoAuth sends no credentials.
type NoAuth struct{}

func (n *NoAuth) Authenticate(ctx context.Context) error    { return nil }
func (n *NoAuth) Headers() map[string]string                { return nil }
func (n *NoAuth) Cookies() []*http.Cookie                   { return nil }
func (n *NoAuth) RefreshIfNeeded(ctx context.Context) error { return nil }
func (n *NoAuth) IsAuthenticated() bool                     { return false }
func (n *NoAuth) Type() AuthType                            { return AuthTypeNone }
