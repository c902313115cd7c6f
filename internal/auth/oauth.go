package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// oauthToken is a token endpoint response.
type oauthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// OAuthAuth obtains tokens with the OAuth 2.0 client credentials grant and
// keeps them fresh for the length of a fuzz run.
type OAuthAuth struct {
	config *OAuthConfig
	client *http.Client

	mu      sync.RWMutex
	access  string
	refresh string
	scheme  string
	expiry  time.Time
}

// NewOAuthAuth creates a new OAuth authentication provider.
func NewOAuthAuth(config *OAuthConfig) *OAuthAuth {
	return &OAuthAuth{config: config, client: tokenClient, scheme: "Bearer"}
}

// Authenticate performs the client credentials grant.
func (o *OAuthAuth) Authenticate(ctx context.Context) error {
	if o.config == nil || o.config.TokenURL == "" {
		return fmt.Errorf("OAuth token URL is required")
	}

	form := o.clientForm("client_credentials")
	if len(o.config.Scopes) > 0 {
		form.Set("scope", strings.Join(o.config.Scopes, " "))
	}
	return o.grant(ctx, form)
}

// RefreshIfNeeded renews the token close to expiry. The refresh token is
// used when the server issued one; otherwise the client grant is repeated.
func (o *OAuthAuth) RefreshIfNeeded(ctx context.Context) error {
	o.mu.RLock()
	stale := o.access == "" || (!o.expiry.IsZero() && time.Until(o.expiry) <= refreshWindow)
	refresh := o.refresh
	o.mu.RUnlock()

	switch {
	case !stale:
		return nil
	case refresh == "":
		return o.Authenticate(ctx)
	}

	form := o.clientForm("refresh_token")
	form.Set("refresh_token", refresh)
	return o.grant(ctx, form)
}

func (o *OAuthAuth) clientForm(grantType string) url.Values {
	form := url.Values{"grant_type": {grantType}}
	if o.config != nil {
		form.Set("client_id", o.config.ClientID)
		form.Set("client_secret", o.config.ClientSecret)
	}
	return form
}

// grant posts form to the token endpoint and stores the issued token.
func (o *OAuthAuth) grant(ctx context.Context, form url.Values) error {
	tok, err := o.fetch(ctx, form)
	if err != nil {
		return fmt.Errorf("%s grant: %w", form.Get("grant_type"), err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.access = tok.AccessToken
	if tok.RefreshToken != "" {
		o.refresh = tok.RefreshToken
	}
	if tok.TokenType != "" {
		o.scheme = tok.TokenType
	}
	o.expiry = time.Time{}
	if tok.ExpiresIn > 0 {
		o.expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return nil
}

func (o *OAuthAuth) fetch(ctx context.Context, form url.Values) (*oauthToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok oauthToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &tok, nil
}

// Headers returns the Authorization header once a token is held.
func (o *OAuthAuth) Headers() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.access == "" {
		return nil
	}
	return map[string]string{"Authorization": o.scheme + " " + o.access}
}

func (o *OAuthAuth) Cookies() []*http.Cookie {
	return nil
}

// IsAuthenticated returns true while an unexpired token is held.
func (o *OAuthAuth) IsAuthenticated() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.access != "" && (o.expiry.IsZero() || time.Now().Before(o.expiry))
}

func (o *OAuthAuth) Type() AuthType {
	return AuthTypeOAuth
}
