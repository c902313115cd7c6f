package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func createTestJWT(expiry time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":"fuzzer","exp":%d}`, expiry.Unix())))
	return header + "." + payload + ".signature"
}

// =============================================================================
// NewProvider Tests
// =============================================================================

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		wantType AuthType
		wantErr  bool
	}{
		{"none", Credentials{Type: AuthTypeNone}, AuthTypeNone, false},
		{"empty type with headers", Credentials{Headers: map[string]string{"X-API-Key": "k"}}, AuthTypeHeaders, false},
		{"headers", Credentials{Type: AuthTypeHeaders, Headers: map[string]string{"X-API-Key": "k"}}, AuthTypeHeaders, false},
		{"session", Credentials{Type: AuthTypeSession, Cookies: []*http.Cookie{{Name: "sid", Value: "1"}}}, AuthTypeSession, false},
		{"bearer", Credentials{Type: AuthTypeBearer, Token: "abc"}, AuthTypeBearer, false},
		{"bearer with refresh", Credentials{Type: AuthTypeBearer, Token: "abc", RefreshToken: "r", RefreshURL: "http://x"}, AuthTypeBearer, false},
		{"oauth", Credentials{Type: AuthTypeOAuth, OAuthConfig: &OAuthConfig{TokenURL: "http://x"}}, AuthTypeOAuth, false},
		{"oauth without config", Credentials{Type: AuthTypeOAuth}, "", true},
		{"basic", Credentials{Type: AuthTypeBasic, Username: "u", Password: "p"}, AuthTypeBasic, false},
		{"unknown", Credentials{Type: "kerberos"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.creds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Type() != tt.wantType {
				t.Errorf("Type() = %v, want %v", p.Type(), tt.wantType)
			}
		})
	}
}

// =============================================================================
// ParseHeaders Tests
// =============================================================================

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]string
		wantErr bool
	}{
		{"empty", "  ", nil, false},
		{"object", `{"Authorization": "Bearer x", "X-Retry": 3}`, map[string]string{"Authorization": "Bearer x", "X-Retry": "3"}, false},
		{"list merges in order", `[{"A": "1", "B": "1"}, {"B": "2"}]`, map[string]string{"A": "1", "B": "2"}, false},
		{"invalid", `Authorization: x`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeaders(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseHeaders() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

// =============================================================================
// Static Provider Tests
// =============================================================================

func TestHeaderAuth(t *testing.T) {
	src := map[string]string{"X-API-Key": "key123"}
	a := NewHeaderAuth(src)
	src["X-API-Key"] = "mutated"

	if a.Headers()["X-API-Key"] != "key123" {
		t.Error("provider should copy the header map")
	}
	if !a.IsAuthenticated() {
		t.Error("IsAuthenticated() = false with headers set")
	}

	h := a.Headers()
	h["X-API-Key"] = "changed"
	if a.Headers()["X-API-Key"] != "key123" {
		t.Error("Headers() should return a copy")
	}

	a.Set("X-Tenant", "t1")
	if a.Headers()["X-Tenant"] != "t1" {
		t.Error("Set() did not add header")
	}
	if NewHeaderAuth(nil).IsAuthenticated() {
		t.Error("empty header set should not count as authenticated")
	}
}

func TestBasicAuth(t *testing.T) {
	a := NewBasicAuth("user", "pass")
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))
	if got := a.Headers()["Authorization"]; got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
	if NewBasicAuth("", "").Headers() != nil {
		t.Error("empty credentials should produce no header")
	}
}

func TestCookieAuth(t *testing.T) {
	a := NewCookieAuth(nil)
	if a.IsAuthenticated() {
		t.Error("no cookies should not be authenticated")
	}

	a.Set("sid", "1")
	a.Set("sid", "2")
	a.Set("csrf", "x")
	a.Set("", "ignored")

	cookies := a.Cookies()
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}
	if cookies[0].Name != "sid" || cookies[0].Value != "2" {
		t.Errorf("cookies[0] = %s=%s, want sid=2", cookies[0].Name, cookies[0].Value)
	}

	cookies[1].Value = "tampered"
	if a.Cookies()[1].Value != "x" {
		t.Error("Cookies() should return copies")
	}
	if a.Type() != AuthTypeSession {
		t.Errorf("Type() = %q, want session", a.Type())
	}
}

func TestNewCookieAuth_Duplicates(t *testing.T) {
	a := NewCookieAuth([]*http.Cookie{
		{Name: "sid", Value: "old"},
		{Name: "sid", Value: "new"},
	})
	cookies := a.Cookies()
	if len(cookies) != 1 || cookies[0].Value != "new" {
		t.Errorf("Cookies() = %v, want single sid=new", cookies)
	}
}

// =============================================================================
// Bearer Tests
// =============================================================================

func TestBearerAuth_Headers(t *testing.T) {
	a := NewBearerAuth("abc")
	if a.Headers()["Authorization"] != "Bearer abc" {
		t.Errorf("Authorization = %q", a.Headers()["Authorization"])
	}
	if !a.IsAuthenticated() {
		t.Error("opaque token without expiry should be authenticated")
	}
	if NewBearerAuth("").Headers() != nil {
		t.Error("empty token should produce no header")
	}
}

func TestBearerAuth_Expiry(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	a := NewBearerAuth(createTestJWT(expiry))
	if a.Expiry().Unix() != expiry.Unix() {
		t.Errorf("Expiry() = %v, want %v", a.Expiry(), expiry)
	}

	expired := NewBearerAuth(createTestJWT(time.Now().Add(-time.Hour)))
	if expired.IsAuthenticated() {
		t.Error("expired token should not be authenticated")
	}
}

func TestParseExpiry_Invalid(t *testing.T) {
	for _, token := range []string{"opaque", "a.!!!.c", "a." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"x"}`)) + ".c"} {
		if _, err := parseExpiry(token); err == nil {
			t.Errorf("parseExpiry(%q) expected error", token)
		}
	}
}

func TestBearerAuth_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer refresh_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  createTestJWT(time.Now().Add(2 * time.Hour)),
			"refresh_token": "new_refresh_token",
		})
	}))
	defer server.Close()

	t.Run("near expiry refreshes", func(t *testing.T) {
		old := createTestJWT(time.Now().Add(time.Minute))
		a := NewBearerAuthWithRefresh(old, "refresh_token", server.URL)

		if err := a.Authenticate(context.Background()); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if a.Token() == old {
			t.Error("token should have been refreshed")
		}
		if time.Until(a.Expiry()) < time.Hour {
			t.Errorf("Expiry() = %v, want about two hours ahead", a.Expiry())
		}
	})

	t.Run("fresh token untouched", func(t *testing.T) {
		fresh := createTestJWT(time.Now().Add(time.Hour))
		a := NewBearerAuthWithRefresh(fresh, "refresh_token", server.URL)

		if err := a.RefreshIfNeeded(context.Background()); err != nil {
			t.Fatal(err)
		}
		if a.Token() != fresh {
			t.Error("fresh token should not be refreshed")
		}
	})

	t.Run("rejected refresh", func(t *testing.T) {
		a := NewBearerAuthWithRefresh(createTestJWT(time.Now()), "wrong", server.URL)
		if err := a.RefreshIfNeeded(context.Background()); err == nil {
			t.Error("expected error from rejected refresh")
		}
	})
}

// =============================================================================
// OAuth Tests
// =============================================================================

func TestOAuthAuth_ClientCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "client123" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Form.Get("scope") != "read write" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new_access_token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	a := NewOAuthAuth(&OAuthConfig{
		ClientID:     "client123",
		ClientSecret: "secret456",
		TokenURL:     server.URL,
		Scopes:       []string{"read", "write"},
	})

	if err := a.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !a.IsAuthenticated() {
		t.Error("should be authenticated after a successful grant")
	}
	if got := a.Headers()["Authorization"]; got != "Bearer new_access_token" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestOAuthAuth_NoTokenURL(t *testing.T) {
	if err := NewOAuthAuth(&OAuthConfig{}).Authenticate(context.Background()); err == nil {
		t.Error("expected error without token URL")
	}
}

func TestOAuthAuth_RefreshIfNeeded(t *testing.T) {
	var grants []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mu.Lock()
		grants = append(grants, r.Form.Get("grant_type"))
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-" + r.Form.Get("grant_type"),
			"refresh_token": "refresh",
			"expires_in":    60,
		})
	}))
	defer server.Close()

	a := NewOAuthAuth(&OAuthConfig{TokenURL: server.URL})

	// No token yet: a client credentials grant is made.
	if err := a.RefreshIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Token expires within the refresh window: the refresh token is used.
	if err := a.RefreshIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(grants) != 2 || grants[0] != "client_credentials" || grants[1] != "refresh_token" {
		t.Errorf("grants = %v", grants)
	}
	if a.Headers()["Authorization"] != "Bearer token-refresh_token" {
		t.Errorf("Authorization = %q", a.Headers()["Authorization"])
	}
}

func TestOAuthAuth_FailedGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	a := NewOAuthAuth(&OAuthConfig{TokenURL: server.URL})
	if err := a.Authenticate(context.Background()); err == nil {
		t.Error("expected error on 401")
	}
	if a.IsAuthenticated() {
		t.Error("failed grant should leave provider unauthenticated")
	}
}
