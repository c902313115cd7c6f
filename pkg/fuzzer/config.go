package fuzzer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/auth"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/mutator"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/sequencer"
)

// HeadersEnvVar names the environment variable holding static auth headers
// as a JSON object or a list of objects.
const HeadersEnvVar = "APIFUZZER_HEADERS"

// Config holds all fuzzer configuration.
type Config struct {
	// Source is the definition file path or URL.
	Source string `json:"source" yaml:"source"`

	// SourceURL is where a local Source was downloaded from. It anchors
	// relative references and relative server URLs.
	SourceURL string `json:"source_url" yaml:"source_url"`

	// Discover probes this base URL for a definition when Source is empty.
	Discover string `json:"discover" yaml:"discover"`

	// TargetURL replaces the scheme and host declared by the definition.
	TargetURL string `json:"target_url" yaml:"target_url"`

	// Number of concurrent workers
	Workers int `json:"workers" yaml:"workers"`

	// Ceiling caps mutators that never exhaust on their own.
	Ceiling int `json:"ceiling" yaml:"ceiling"`

	// Methods restricts fuzzing to these HTTP methods.
	Methods []string `json:"methods" yaml:"methods"`

	// Mutator forces one strategy for non-enum fields ("auto" picks at random).
	Mutator string `json:"mutator" yaml:"mutator"`

	// Request timeout per attempt
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Scope     ScopeConfig     `json:"scope" yaml:"scope"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Report    ReportConfig    `json:"report" yaml:"report"`
	State     StateConfig     `json:"state" yaml:"state"`

	UserAgent       string `json:"user_agent" yaml:"user_agent"`
	SkipTLSVerify   bool   `json:"skip_tls_verify" yaml:"skip_tls_verify"`
	FollowRedirects bool   `json:"follow_redirects" yaml:"follow_redirects"`
	MaxResponseSize int64  `json:"max_response_size" yaml:"max_response_size"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// ScopeConfig selects operations by "METHOD /path" regular expressions.
type ScopeConfig struct {
	Include         []string `json:"include" yaml:"include"`
	Exclude         []string `json:"exclude" yaml:"exclude"`
	SkipDestructive bool     `json:"skip_destructive" yaml:"skip_destructive"`
}

// RateLimitConfig paces requests. A zero rate sends as fast as possible.
type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	DelayBetween      time.Duration `json:"delay_between" yaml:"delay_between"`
	// Adaptive lowers the rate while the target returns 5xx or drops connections.
	Adaptive bool    `json:"adaptive" yaml:"adaptive"`
	MinRate  float64 `json:"min_rate" yaml:"min_rate"`
}

// AuthConfig holds credentials attached to every request.
type AuthConfig struct {
	Type         string            `json:"type" yaml:"type"`
	Headers      map[string]string `json:"headers" yaml:"headers"`
	Cookies      map[string]string `json:"cookies" yaml:"cookies"`
	Username     string            `json:"username" yaml:"username"`
	Password     string            `json:"password" yaml:"password"`
	Token        string            `json:"token" yaml:"token"`
	RefreshToken string            `json:"refresh_token" yaml:"refresh_token"`
	RefreshURL   string            `json:"refresh_url" yaml:"refresh_url"`
	OAuth        *OAuthConfig      `json:"oauth,omitempty" yaml:"oauth,omitempty"`
}

// OAuthConfig holds OAuth 2.0 client credentials.
type OAuthConfig struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	Scopes       []string `json:"scopes" yaml:"scopes"`
}

// ReportConfig holds report output configuration.
type ReportConfig struct {
	// Dir receives one JSON file per non-passing test.
	Dir string `json:"dir" yaml:"dir"`
	// JUnit is the path of the JUnit XML document written at the end.
	JUnit string `json:"junit" yaml:"junit"`
	// Stream writes every report to stdout as JSON lines.
	Stream bool `json:"stream" yaml:"stream"`
}

// StateConfig holds session persistence configuration.
type StateConfig struct {
	// Path of the state store: .db/.bolt for BoltDB, anything else for JSON.
	Path string `json:"path" yaml:"path"`
	// Resume continues an unfinished session for the same definition.
	Resume          bool `json:"resume" yaml:"resume"`
	CheckpointEvery int  `json:"checkpoint_every" yaml:"checkpoint_every"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers: 1,
		Ceiling: sequencer.DefaultCeiling,
		Mutator: mutator.Auto.String(),
		Timeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:   1,
			MinRate: 1,
		},
		Scope: ScopeConfig{
			SkipDestructive: true,
		},
		Auth: AuthConfig{
			Type: string(auth.AuthTypeNone),
		},
		Report: ReportConfig{
			Dir: "reports",
		},
		State: StateConfig{
			CheckpointEvery: 25,
		},
		UserAgent:       "OpenAPIFuzzer",
		SkipTLSVerify:   true,
		MaxResponseSize: 1 << 20,
	}
}

// LoadFromFile loads configuration from a YAML or JSON file. Fields missing
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile writes the configuration as JSON or YAML by extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadEnvFile reads an env file and merges the headers it declares in
// APIFUZZER_HEADERS into the auth headers. Existing headers win.
func (c *Config) LoadEnvFile(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}
	return c.mergeHeaders(env[HeadersEnvVar])
}

// LoadEnv merges APIFUZZER_HEADERS from the process environment.
func (c *Config) LoadEnv() error {
	return c.mergeHeaders(os.Getenv(HeadersEnvVar))
}

func (c *Config) mergeHeaders(raw string) error {
	headers, err := auth.ParseHeaders(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", HeadersEnvVar, err)
	}
	if len(headers) == 0 {
		return nil
	}
	if c.Auth.Headers == nil {
		c.Auth.Headers = make(map[string]string, len(headers))
	}
	for k, v := range headers {
		if _, ok := c.Auth.Headers[k]; !ok {
			c.Auth.Headers[k] = v
		}
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Source == "" && c.Discover == "" {
		return fmt.Errorf("a definition source or discovery URL is required")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.Ceiling < 1 {
		return fmt.Errorf("ceiling must be at least 1")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if _, err := mutator.ParseKind(c.mutatorName()); err != nil {
		return err
	}

	for _, p := range append(append([]string(nil), c.Scope.Include...), c.Scope.Exclude...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid scope pattern %q: %w", p, err)
		}
	}

	for _, m := range c.Methods {
		if !isMethod(m) {
			return fmt.Errorf("unsupported method %q", m)
		}
	}

	for _, u := range []string{c.TargetURL, c.Discover, c.SourceURL} {
		if u == "" {
			continue
		}
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("invalid URL %q", u)
		}
	}

	return nil
}

func (c *Config) mutatorName() string {
	if c.Mutator == "" {
		return mutator.Auto.String()
	}
	return strings.ToLower(c.Mutator)
}

func isMethod(m string) bool {
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete,
		http.MethodOptions, http.MethodHead, http.MethodPatch, http.MethodTrace:
		return true
	}
	return false
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// credentials converts the auth section for the auth package.
func (c *Config) credentials() auth.Credentials {
	creds := auth.Credentials{
		Type:         auth.AuthType(strings.ToLower(c.Auth.Type)),
		Username:     c.Auth.Username,
		Password:     c.Auth.Password,
		Token:        c.Auth.Token,
		RefreshToken: c.Auth.RefreshToken,
		RefreshURL:   c.Auth.RefreshURL,
		Headers:      c.Auth.Headers,
	}
	for name, value := range c.Auth.Cookies {
		creds.Cookies = append(creds.Cookies, &http.Cookie{Name: name, Value: value})
	}
	if c.Auth.OAuth != nil {
		creds.OAuthConfig = &auth.OAuthConfig{
			ClientID:     c.Auth.OAuth.ClientID,
			ClientSecret: c.Auth.OAuth.ClientSecret,
			TokenURL:     c.Auth.OAuth.TokenURL,
			Scopes:       c.Auth.OAuth.Scopes,
		}
	}
	return creds
}
