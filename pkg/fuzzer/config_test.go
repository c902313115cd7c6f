package fuzzer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/auth"
)

// =============================================================================
// DefaultConfig Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if config.Workers != 1 {
		t.Errorf("Workers = %d, want 1", config.Workers)
	}
	if config.Ceiling != 100 {
		t.Errorf("Ceiling = %d, want 100", config.Ceiling)
	}
	if config.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", config.Timeout)
	}
	if config.Mutator != "auto" {
		t.Errorf("Mutator = %q, want auto", config.Mutator)
	}
	if config.Report.Dir != "reports" {
		t.Errorf("Report.Dir = %q, want reports", config.Report.Dir)
	}
	if config.State.CheckpointEvery != 25 {
		t.Errorf("State.CheckpointEvery = %d, want 25", config.State.CheckpointEvery)
	}
	if config.RateLimit.RequestsPerSecond != 0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want unlimited", config.RateLimit.RequestsPerSecond)
	}
	if !config.Scope.SkipDestructive {
		t.Error("Scope.SkipDestructive should be true")
	}
	if config.Auth.Type != string(auth.AuthTypeNone) {
		t.Errorf("Auth.Type = %q, want none", config.Auth.Type)
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"discovery only", func(c *Config) { c.Source = ""; c.Discover = "http://api.test" }, false},
		{"no source", func(c *Config) { c.Source = "" }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"zero ceiling", func(c *Config) { c.Ceiling = 0 }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"negative rate", func(c *Config) { c.RateLimit.RequestsPerSecond = -1 }, true},
		{"unknown mutator", func(c *Config) { c.Mutator = "bitflip" }, true},
		{"forced mutator", func(c *Config) { c.Mutator = "UTF8-Chars" }, false},
		{"lower-case method", func(c *Config) { c.Methods = []string{"get", "post"} }, false},
		{"unknown method", func(c *Config) { c.Methods = []string{"FETCH"} }, true},
		{"bad scope pattern", func(c *Config) { c.Scope.Exclude = []string{"[a"} }, true},
		{"ftp target", func(c *Config) { c.TargetURL = "ftp://api.test" }, true},
		{"target without host", func(c *Config) { c.TargetURL = "http://" }, true},
		{"https target", func(c *Config) { c.TargetURL = "https://api.test:8443" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Source = "petstore.json"
			tt.modify(config)

			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fuzz.yaml")
	data := `
source: petstore.yaml
target_url: http://localhost:8080
workers: 4
ceiling: 20
methods: [GET, POST]
timeout: 5s
rate_limit:
  requests_per_second: 50
  adaptive: true
report:
  dir: out
  junit: out/junit.xml
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if config.Source != "petstore.yaml" {
		t.Errorf("Source = %q", config.Source)
	}
	if config.Workers != 4 || config.Ceiling != 20 {
		t.Errorf("Workers/Ceiling = %d/%d, want 4/20", config.Workers, config.Ceiling)
	}
	if config.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", config.Timeout)
	}
	if len(config.Methods) != 2 {
		t.Errorf("Methods = %v", config.Methods)
	}
	if !config.RateLimit.Adaptive || config.RateLimit.RequestsPerSecond != 50 {
		t.Errorf("RateLimit = %+v", config.RateLimit)
	}
	if config.Report.JUnit != "out/junit.xml" {
		t.Errorf("Report.JUnit = %q", config.Report.JUnit)
	}
	// Untouched fields keep their defaults.
	if config.State.CheckpointEvery != 25 {
		t.Errorf("State.CheckpointEvery = %d, want default 25", config.State.CheckpointEvery)
	}
	if config.UserAgent != "OpenAPIFuzzer" {
		t.Errorf("UserAgent = %q, want default", config.UserAgent)
	}
}

func TestConfig_SaveToFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fuzz.json")

	config := DefaultConfig()
	config.Source = "https://api.test/openapi.json"
	config.Workers = 8
	config.Auth.Headers = map[string]string{"X-API-Key": "secret"}

	if err := config.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Source != config.Source {
		t.Errorf("Source = %q, want %q", loaded.Source, config.Source)
	}
	if loaded.Workers != 8 {
		t.Errorf("Workers = %d, want 8", loaded.Workers)
	}
	if loaded.Timeout != config.Timeout {
		t.Errorf("Timeout = %v, want %v", loaded.Timeout, config.Timeout)
	}
	if loaded.Auth.Headers["X-API-Key"] != "secret" {
		t.Errorf("Auth.Headers = %v", loaded.Auth.Headers)
	}
}

func TestConfig_SaveToFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fuzz.yml")

	config := DefaultConfig()
	config.Source = "api.yaml"
	config.Ceiling = 7

	if err := config.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Ceiling != 7 || loaded.Source != "api.yaml" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFromFile() should fail for a missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("LoadFromFile() should fail for invalid content")
	}
}

// =============================================================================
// Env Tests
// =============================================================================

func TestConfig_LoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	data := `APIFUZZER_HEADERS='[{"Authorization": "Bearer abc"}, {"X-Tenant": "7"}]'` + "\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	config := DefaultConfig()
	config.Auth.Headers = map[string]string{"X-Tenant": "explicit"}

	if err := config.LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := config.Auth.Headers["Authorization"]; got != "Bearer abc" {
		t.Errorf("Authorization = %q, want Bearer abc", got)
	}
	if got := config.Auth.Headers["X-Tenant"]; got != "explicit" {
		t.Errorf("X-Tenant = %q, explicit headers should win", got)
	}
}

func TestConfig_LoadEnvFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("APIFUZZER_HEADERS=not-json\n"), 0600); err != nil {
		t.Fatal(err)
	}

	config := DefaultConfig()
	if err := config.LoadEnvFile(path); err == nil {
		t.Error("LoadEnvFile() should reject malformed headers")
	}
}

func TestConfig_LoadEnv(t *testing.T) {
	t.Setenv(HeadersEnvVar, `{"X-API-Key": "from-env"}`)

	config := DefaultConfig()
	if err := config.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if got := config.Auth.Headers["X-API-Key"]; got != "from-env" {
		t.Errorf("X-API-Key = %q", got)
	}
}

// =============================================================================
// Clone Tests
// =============================================================================

func TestConfig_Clone(t *testing.T) {
	original := DefaultConfig()
	original.Source = "api.json"
	original.Methods = []string{"GET"}
	original.Auth.Headers = map[string]string{"A": "1"}

	clone := original.Clone()
	clone.Methods[0] = "POST"
	clone.Auth.Headers["A"] = "2"

	if original.Methods[0] != "GET" {
		t.Error("Clone shares Methods with the original")
	}
	if original.Auth.Headers["A"] != "1" {
		t.Error("Clone shares Auth.Headers with the original")
	}
	if clone.Source != "api.json" {
		t.Errorf("clone.Source = %q", clone.Source)
	}
}

func TestConfig_Credentials(t *testing.T) {
	config := DefaultConfig()
	config.Auth.Type = "Bearer"
	config.Auth.Token = "tok"
	config.Auth.Cookies = map[string]string{"session": "s1"}

	creds := config.credentials()
	if creds.Type != auth.AuthTypeBearer {
		t.Errorf("Type = %q, want bearer", creds.Type)
	}
	if creds.Token != "tok" {
		t.Errorf("Token = %q", creds.Token)
	}
	if len(creds.Cookies) != 1 || creds.Cookies[0].Name != "session" {
		t.Errorf("Cookies = %v", creds.Cookies)
	}
}
