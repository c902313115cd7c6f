package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// refreshWindow is how close to expiry a token gets refreshed.
const refreshWindow = 5 * time.Minute

// BearerAuth sends an Authorization: Bearer token, refreshing it when it is
// a JWT close to expiry and a refresh endpoint is configured.
type BearerAuth struct {
	mu           sync.RWMutex
	token        string
	refreshToken string
	expiry       time.Time
	refreshURL   string
	client       *http.Client
}

// NewBearerAuth creates a bearer token provider.
func NewBearerAuth(token string) *BearerAuth {
	auth := &BearerAuth{token: token, client: tokenClient}
	if exp, err := parseExpiry(token); err == nil {
		auth.expiry = exp
	}
	return auth
}

// NewBearerAuthWithRefresh creates a bearer provider with refresh capability.
func NewBearerAuthWithRefresh(token, refreshToken, refreshURL string) *BearerAuth {
	auth := NewBearerAuth(token)
	auth.refreshToken = refreshToken
	auth.refreshURL = refreshURL
	return auth
}

// Authenticate refreshes an already expired token before the run starts.
func (j *BearerAuth) Authenticate(ctx context.Context) error {
	return j.RefreshIfNeeded(ctx)
}

// Headers returns the Authorization header.
func (j *BearerAuth) Headers() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.token == "" {
		return nil
	}
	return map[string]string{
		"Authorization": "Bearer " + j.token,
	}
}

func (j *BearerAuth) Cookies() []*http.Cookie {
	return nil
}

// RefreshIfNeeded refreshes the token if expired or expiring soon.
func (j *BearerAuth) RefreshIfNeeded(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.expiry.IsZero() && time.Until(j.expiry) > refreshWindow {
		return nil
	}
	if j.refreshToken == "" || j.refreshURL == "" {
		return nil
	}
	return j.doRefresh(ctx)
}

func (j *BearerAuth) doRefresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.refreshURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+j.refreshToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh failed with status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.AccessToken == "" {
		return fmt.Errorf("refresh response carries no access_token")
	}

	j.token = result.AccessToken
	if result.RefreshToken != "" {
		j.refreshToken = result.RefreshToken
	}
	if exp, err := parseExpiry(j.token); err == nil {
		j.expiry = exp
	} else {
		j.expiry = time.Time{}
	}
	return nil
}

// parseExpiry extracts the exp claim from a JWT.
func parseExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid JWT format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, err
		}
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}

// IsAuthenticated returns true if a non-expired token is held.
func (j *BearerAuth) IsAuthenticated() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.token == "" {
		return false
	}
	return j.expiry.IsZero() || time.Now().Before(j.expiry)
}

func (j *BearerAuth) Type() AuthType {
	return AuthTypeBearer
}

// Token returns the current token.
func (j *BearerAuth) Token() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.token
}

// Expiry returns the token expiry, zero when unknown.
func (j *BearerAuth) Expiry() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.expiry
}
