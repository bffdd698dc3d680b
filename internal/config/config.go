// ABOUTME: Configuration loading and parsing for browserid-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Verifier kinds accepted by browserid.verifier.
const (
	VerifierRemote = "remote"
	VerifierLocal  = "local"
	VerifierMock   = "mock"
)

// Config represents the complete browserid-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	BrowserID BrowserIDConfig `yaml:"browserid" toml:"browserid"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// BrowserIDConfig holds assertion verification and account policy settings
type BrowserIDConfig struct {
	// Verifier selects the verification strategy: remote, local or mock.
	Verifier string `yaml:"verifier" toml:"verifier"`

	VerificationURL  string        `yaml:"verification_url" toml:"verification_url"`
	HTTPTimeout      time.Duration `yaml:"-" toml:"-"`
	HTTPTimeoutRaw   string        `yaml:"http_timeout" toml:"http_timeout"`
	Proxy            ProxyConfig   `yaml:"proxy" toml:"proxy"`
	CACertFile       string        `yaml:"cacert_file" toml:"cacert_file"`
	DisableCertCheck bool          `yaml:"disable_cert_check" toml:"disable_cert_check"`

	// Audiences lists the origins this site accepts assertions for.
	Audiences []string `yaml:"audiences" toml:"audiences"`

	// TrustForwardedProto takes the request scheme from X-Forwarded-Proto.
	// Enable only behind a proxy that overwrites the header.
	TrustForwardedProto bool `yaml:"trust_forwarded_proto" toml:"trust_forwarded_proto"`

	CreateUser           bool   `yaml:"create_user" toml:"create_user"`
	CreateUserFunc       string `yaml:"create_user_func" toml:"create_user_func"`
	UsernameAlgo         string `yaml:"username_algo" toml:"username_algo"`
	AllowUnverifiedEmail bool   `yaml:"allow_unverified_email" toml:"allow_unverified_email"`

	Local LocalVerifierConfig `yaml:"local" toml:"local"`
	Mock  MockVerifierConfig  `yaml:"mock" toml:"mock"`

	// RequestArgs are handed to the client-side navigator.id.request call.
	RequestArgs map[string]string `yaml:"request_args" toml:"request_args"`

	LoginRedirectURL  string `yaml:"login_redirect_url" toml:"login_redirect_url"`
	LoginFailureURL   string `yaml:"login_failure_url" toml:"login_failure_url"`
	LogoutRedirectURL string `yaml:"logout_redirect_url" toml:"logout_redirect_url"`
}

// ProxyConfig holds outbound proxy URLs for the remote verifier
type ProxyConfig struct {
	HTTP    string `yaml:"http" toml:"http"`
	HTTPS   string `yaml:"https" toml:"https"`
	NoProxy string `yaml:"no_proxy" toml:"no_proxy"`
}

// LocalVerifierConfig holds settings for in-process verification
type LocalVerifierConfig struct {
	// TrustedIssuers maps issuer hostname to a PEM public key file.
	TrustedIssuers map[string]string `yaml:"trusted_issuers" toml:"trusted_issuers"`
	Secondaries    []string          `yaml:"secondaries" toml:"secondaries"`

	ReplayWindow    time.Duration `yaml:"-" toml:"-"`
	ReplayWindowRaw string        `yaml:"replay_window" toml:"replay_window"`
}

// MockVerifierConfig holds the canned answer of the mock verifier
type MockVerifierConfig struct {
	Email string         `yaml:"email" toml:"email"`
	Extra map[string]any `yaml:"extra" toml:"extra"`
}

// Default returns a Config with every optional field at its default.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8000"},
		Database: DatabaseConfig{Path: "./browserid.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		BrowserID: BrowserIDConfig{
			Verifier:          VerifierRemote,
			VerificationURL:   "https://verifier.login.persona.org/verify",
			HTTPTimeout:       5 * time.Second,
			CreateUser:        true,
			CreateUserFunc:    "default",
			UsernameAlgo:      "sha1-base64",
			LoginRedirectURL:  "/",
			LoginFailureURL:   "/",
			LogoutRedirectURL: "/",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Keys missing from the file keep the values from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return c.BrowserID.Validate()
}

// Validate checks the browserid section on its own.
func (b *BrowserIDConfig) Validate() error {
	switch b.Verifier {
	case VerifierRemote:
		if _, err := url.ParseRequestURI(b.VerificationURL); err != nil {
			return fmt.Errorf("browserid.verification_url is invalid: %w", err)
		}
		if b.DisableCertCheck && b.CACertFile != "" {
			return fmt.Errorf("browserid.cacert_file and browserid.disable_cert_check are mutually exclusive")
		}
	case VerifierLocal:
		if len(b.Local.TrustedIssuers) == 0 {
			return fmt.Errorf("browserid.local.trusted_issuers is required for the local verifier")
		}
	case VerifierMock:
	default:
		return fmt.Errorf("browserid.verifier must be remote, local or mock, got %q", b.Verifier)
	}

	if b.HTTPTimeout <= 0 {
		return fmt.Errorf("browserid.http_timeout must be positive")
	}

	if len(b.Audiences) == 0 {
		return fmt.Errorf("browserid.audiences requires at least one origin")
	}
	for _, aud := range b.Audiences {
		u, err := url.Parse(aud)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") ||
			u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || u.User != nil {
			return fmt.Errorf("browserid.audiences entry %q is not an origin like https://example.com", aud)
		}
	}

	if b.CreateUser && b.CreateUserFunc == "" {
		return fmt.Errorf("browserid.create_user_func is required when create_user is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.BrowserID.HTTPTimeoutRaw != "" {
		cfg.BrowserID.HTTPTimeout, err = time.ParseDuration(cfg.BrowserID.HTTPTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing http_timeout %q: %w", cfg.BrowserID.HTTPTimeoutRaw, err)
		}
	}

	if cfg.BrowserID.Local.ReplayWindowRaw != "" {
		cfg.BrowserID.Local.ReplayWindow, err = time.ParseDuration(cfg.BrowserID.Local.ReplayWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing replay_window %q: %w", cfg.BrowserID.Local.ReplayWindowRaw, err)
		}
	}

	return nil
}
