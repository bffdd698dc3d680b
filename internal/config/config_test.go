// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"

browserid:
  verifier: "remote"
  verification_url: "https://verifier.example.com/verify"
  http_timeout: "10s"
  proxy:
    https: "http://proxy.internal:3128"
    no_proxy: "localhost,.internal"
  cacert_file: "/etc/ssl/verifier.pem"
  audiences:
    - "https://example.com"
    - "https://www.example.com:8443/"
  trust_forwarded_proto: true
  create_user: false
  allow_unverified_email: true
  request_args:
    siteName: "Example"
  login_redirect_url: "/welcome"
  login_failure_url: "/login-failed"
  logout_redirect_url: "/bye"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}

	b := cfg.BrowserID
	if b.VerificationURL != "https://verifier.example.com/verify" {
		t.Errorf("VerificationURL = %q", b.VerificationURL)
	}
	if b.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want %v", b.HTTPTimeout, 10*time.Second)
	}
	if b.Proxy.HTTPS != "http://proxy.internal:3128" || b.Proxy.NoProxy != "localhost,.internal" {
		t.Errorf("Proxy = %+v", b.Proxy)
	}
	if b.CACertFile != "/etc/ssl/verifier.pem" {
		t.Errorf("CACertFile = %q", b.CACertFile)
	}
	if len(b.Audiences) != 2 {
		t.Errorf("Audiences len = %d, want 2", len(b.Audiences))
	}
	if !b.TrustForwardedProto {
		t.Error("TrustForwardedProto = false, want true")
	}
	if b.CreateUser {
		t.Error("CreateUser = true, want false")
	}
	if !b.AllowUnverifiedEmail {
		t.Error("AllowUnverifiedEmail = false, want true")
	}
	if b.RequestArgs["siteName"] != "Example" {
		t.Errorf("RequestArgs = %v", b.RequestArgs)
	}
	if b.LoginRedirectURL != "/welcome" || b.LoginFailureURL != "/login-failed" || b.LogoutRedirectURL != "/bye" {
		t.Errorf("redirect URLs = %q %q %q", b.LoginRedirectURL, b.LoginFailureURL, b.LogoutRedirectURL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
browserid:
  audiences: ["http://localhost:8000"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	b := cfg.BrowserID
	if b.Verifier != VerifierRemote {
		t.Errorf("Verifier = %q, want %q", b.Verifier, VerifierRemote)
	}
	if b.VerificationURL != "https://verifier.login.persona.org/verify" {
		t.Errorf("VerificationURL = %q", b.VerificationURL)
	}
	if b.HTTPTimeout != 5*time.Second {
		t.Errorf("HTTPTimeout = %v, want 5s", b.HTTPTimeout)
	}
	if !b.CreateUser {
		t.Error("CreateUser = false, want true")
	}
	if b.CreateUserFunc != "default" || b.UsernameAlgo != "sha1-base64" {
		t.Errorf("CreateUserFunc/UsernameAlgo = %q/%q", b.CreateUserFunc, b.UsernameAlgo)
	}
	if b.AllowUnverifiedEmail {
		t.Error("AllowUnverifiedEmail defaults to true, want false")
	}
	if b.TrustForwardedProto {
		t.Error("TrustForwardedProto defaults to true, want false")
	}
	if b.LoginRedirectURL != "/" || b.LoginFailureURL != "/" || b.LogoutRedirectURL != "/" {
		t.Error("redirect URLs should default to /")
	}
	if cfg.Server.HTTPAddr == "" || cfg.Database.Path == "" {
		t.Error("server and database should have defaults")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9000"

[database]
path = "/var/lib/browserid/gateway.db"

[browserid]
verifier = "mock"
audiences = ["https://example.com"]
username_algo = "sha1-base64"

[browserid.mock]
email = "dev@example.com"

[browserid.mock.extra]
issuer = "login.persona.org"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.BrowserID.Verifier != VerifierMock {
		t.Errorf("Verifier = %q, want mock", cfg.BrowserID.Verifier)
	}
	if cfg.BrowserID.Mock.Email != "dev@example.com" {
		t.Errorf("Mock.Email = %q", cfg.BrowserID.Mock.Email)
	}
	if cfg.BrowserID.Mock.Extra["issuer"] != "login.persona.org" {
		t.Errorf("Mock.Extra = %v", cfg.BrowserID.Mock.Extra)
	}
	if !cfg.BrowserID.CreateUser {
		t.Error("defaults should survive TOML decoding")
	}
}

func TestLoad_LocalVerifier(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
browserid:
  verifier: local
  audiences: ["https://example.com"]
  local:
    trusted_issuers:
      example.com: "/etc/browserid/example.com.pem"
    secondaries: ["login.persona.org"]
    replay_window: "2m"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	local := cfg.BrowserID.Local
	if local.TrustedIssuers["example.com"] != "/etc/browserid/example.com.pem" {
		t.Errorf("TrustedIssuers = %v", local.TrustedIssuers)
	}
	if len(local.Secondaries) != 1 || local.Secondaries[0] != "login.persona.org" {
		t.Errorf("Secondaries = %v", local.Secondaries)
	}
	if local.ReplayWindow != 2*time.Minute {
		t.Errorf("ReplayWindow = %v, want 2m", local.ReplayWindow)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BROWSERID_AUDIENCE", "https://env.example.com")
	t.Setenv("TEST_BROWSERID_DB", "/tmp/env.db")

	configPath := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_BROWSERID_DB}"
browserid:
  audiences: ["${TEST_BROWSERID_AUDIENCE}"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/env.db")
	}
	if cfg.BrowserID.Audiences[0] != "https://env.example.com" {
		t.Errorf("Audiences[0] = %q, want %q", cfg.BrowserID.Audiences[0], "https://env.example.com")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr "missing colon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `[browserid`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
browserid:
  audiences: ["https://example.com"]
  http_timeout: "invalid-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "no audiences",
			configContent: `
browserid:
  verifier: remote
`,
			wantErrSubstr: "browserid.audiences",
		},
		{
			name: "audience without scheme",
			configContent: `
browserid:
  audiences: ["example.com"]
`,
			wantErrSubstr: "not an origin",
		},
		{
			name: "audience with path",
			configContent: `
browserid:
  audiences: ["https://example.com/app"]
`,
			wantErrSubstr: "not an origin",
		},
		{
			name: "audience with query",
			configContent: `
browserid:
  audiences: ["https://example.com?site=1"]
`,
			wantErrSubstr: "not an origin",
		},
		{
			name: "audience with fragment",
			configContent: `
browserid:
  audiences: ["https://example.com/#top"]
`,
			wantErrSubstr: "not an origin",
		},
		{
			name: "unknown verifier",
			configContent: `
browserid:
  verifier: "carrier-pigeon"
  audiences: ["https://example.com"]
`,
			wantErrSubstr: "browserid.verifier",
		},
		{
			name: "local without issuers",
			configContent: `
browserid:
  verifier: local
  audiences: ["https://example.com"]
`,
			wantErrSubstr: "trusted_issuers",
		},
		{
			name: "conflicting tls settings",
			configContent: `
browserid:
  audiences: ["https://example.com"]
  cacert_file: "/tmp/ca.pem"
  disable_cert_check: true
`,
			wantErrSubstr: "mutually exclusive",
		},
		{
			name: "zero timeout",
			configContent: `
browserid:
  audiences: ["https://example.com"]
  http_timeout: "0s"
`,
			wantErrSubstr: "http_timeout",
		},
		{
			name: "empty creator with creation enabled",
			configContent: `
browserid:
  audiences: ["https://example.com"]
  create_user_func: ""
`,
			wantErrSubstr: "create_user_func",
		},
		{
			name: "bad log format",
			configContent: `
logging:
  format: "xml"
browserid:
  audiences: ["https://example.com"]
`,
			wantErrSubstr: "logging.format",
		},
		{
			name: "empty database path",
			configContent: `
database:
  path: ""
browserid:
  audiences: ["https://example.com"]
`,
			wantErrSubstr: "database.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, "config.yaml", tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want substring %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")

	tests := []struct {
		input string
		want  string
	}{
		{"${TEST_VAR}", "value"},
		{"prefix-${TEST_VAR}-suffix", "prefix-value-suffix"},
		{"${UNSET_BROWSERID_TEST_VAR}", ""},
		{"no vars here", "no vars here"},
		{"$TEST_VAR", "$TEST_VAR"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
