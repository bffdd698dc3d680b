// ABOUTME: Verifier that posts assertions to a remote verification service
// ABOUTME: Handles timeout, proxy and TLS settings; malformed responses become failures

package browserid

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
)

const (
	// DefaultVerificationURL is the public Persona verification service.
	DefaultVerificationURL = "https://verifier.login.persona.org/verify"

	// DefaultHTTPTimeout bounds a single verification round-trip.
	DefaultHTTPTimeout = 5 * time.Second

	maxResponseBytes = 1 << 20
)

// ProxyConfig holds outbound proxy settings. When all fields are empty the
// environment (HTTP_PROXY, HTTPS_PROXY, NO_PROXY) applies.
type ProxyConfig struct {
	HTTP    string
	HTTPS   string
	NoProxy string
}

// RemoteConfig configures a RemoteVerifier.
type RemoteConfig struct {
	URL              string
	Timeout          time.Duration
	Proxy            ProxyConfig
	CACertFile       string
	DisableCertCheck bool
}

// RemoteOption customizes a RemoteVerifier.
type RemoteOption func(*RemoteVerifier)

// WithHTTPClient replaces the HTTP client built from RemoteConfig.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(v *RemoteVerifier) { v.client = c }
}

// WithRequestOption registers a hook applied to every outgoing request.
func WithRequestOption(fn func(*http.Request)) RemoteOption {
	return func(v *RemoteVerifier) { v.requestOpts = append(v.requestOpts, fn) }
}

// WithLogger sets the logger used for verification diagnostics.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(v *RemoteVerifier) { v.logger = l }
}

// RemoteVerifier checks assertions against an HTTP verification endpoint.
type RemoteVerifier struct {
	url         string
	client      *http.Client
	requestOpts []func(*http.Request)
	logger      *slog.Logger
}

// NewRemoteVerifier builds a RemoteVerifier. It fails only for unusable TLS or
// proxy settings.
func NewRemoteVerifier(cfg RemoteConfig, opts ...RemoteOption) (*RemoteVerifier, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultVerificationURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parsing verification url: %w", err)
	}

	v := &RemoteVerifier{
		url:    cfg.URL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "remote_verifier")

	if v.client == nil {
		transport, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}
		v.client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		}
	}

	return v, nil
}

func newTransport(cfg RemoteConfig) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.Proxy != (ProxyConfig{}) {
		proxyCfg := &httpproxy.Config{
			HTTPProxy:  cfg.Proxy.HTTP,
			HTTPSProxy: cfg.Proxy.HTTPS,
			NoProxy:    cfg.Proxy.NoProxy,
		}
		proxyFunc := proxyCfg.ProxyFunc()
		transport.Proxy = func(r *http.Request) (*url.URL, error) {
			return proxyFunc(r.URL)
		}
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch {
	case cfg.DisableCertCheck:
		tlsCfg.InsecureSkipVerify = true //nolint:gosec // explicit operator opt-out
	case cfg.CACertFile != "":
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("reading cacert file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("cacert file %s contains no certificates", cfg.CACertFile)
		}
		tlsCfg.RootCAs = pool
	}
	transport.TLSClientConfig = tlsCfg

	return transport, nil
}

// URL returns the verification endpoint.
func (v *RemoteVerifier) URL() string {
	return v.url
}

// Verify posts the assertion and audience, plus any extra parameters, to the
// verification service. Transport failures are returned as *Error.
func (v *RemoteVerifier) Verify(ctx context.Context, assertion string, audience Audience, extra url.Values) (*Result, error) {
	form := url.Values{}
	for k, vals := range extra {
		for _, val := range vals {
			form.Add(k, val)
		}
	}
	form.Set("assertion", assertion)
	form.Set("audience", resolveAudience(audience))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Op: "building request", URL: v.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for _, opt := range v.requestOpts {
		opt(req)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "posting assertion", URL: v.url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Op: "reading response", URL: v.url, Err: err}
	}

	result := decodeResponse(body)
	if !result.OK() {
		v.logger.Warn("verification failed",
			"status_code", resp.StatusCode,
			"status", result.Status(),
			"reason", result.Reason(),
		)
	} else {
		v.logger.Debug("verification succeeded", "email", result.Email())
	}

	return result, nil
}
