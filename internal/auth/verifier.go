// ABOUTME: Builds the configured browserid.Verifier (remote, local or mock)
// ABOUTME: Loads trusted issuer keys and maps config settings onto verifier options

package auth

import (
	"crypto"
	"fmt"
	"log/slog"
	"os"

	"github.com/2389/browserid-gateway/internal/browserid"
	"github.com/2389/browserid-gateway/internal/config"
)

// NewVerifier returns the verifier selected by cfg.Verifier. An empty kind
// means remote. Callers should Close the result when it implements
// interface{ Close() }.
func NewVerifier(cfg config.BrowserIDConfig, logger *slog.Logger) (browserid.Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Verifier {
	case "", config.VerifierRemote:
		v, err := browserid.NewRemoteVerifier(browserid.RemoteConfig{
			URL:     cfg.VerificationURL,
			Timeout: cfg.HTTPTimeout,
			Proxy: browserid.ProxyConfig{
				HTTP:    cfg.Proxy.HTTP,
				HTTPS:   cfg.Proxy.HTTPS,
				NoProxy: cfg.Proxy.NoProxy,
			},
			CACertFile:       cfg.CACertFile,
			DisableCertCheck: cfg.DisableCertCheck,
		}, browserid.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrImproperlyConfigured, err)
		}
		if cfg.DisableCertCheck {
			logger.Warn("TLS certificate verification is disabled for the verifier", "url", v.URL())
		}
		return v, nil

	case config.VerifierLocal:
		issuers := make(map[string]crypto.PublicKey, len(cfg.Local.TrustedIssuers))
		for issuer, path := range cfg.Local.TrustedIssuers {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w: reading key for issuer %s: %w", ErrImproperlyConfigured, issuer, err)
			}
			key, err := browserid.ParsePublicKeyPEM(data)
			if err != nil {
				return nil, fmt.Errorf("%w: issuer %s: %w", ErrImproperlyConfigured, issuer, err)
			}
			issuers[issuer] = key
		}
		v, err := browserid.NewLocalVerifier(browserid.LocalConfig{
			TrustedIssuers: issuers,
			Secondaries:    cfg.Local.Secondaries,
			ReplayWindow:   cfg.Local.ReplayWindow,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrImproperlyConfigured, err)
		}
		return v, nil

	case config.VerifierMock:
		logger.Warn("using the mock verifier, every assertion is accepted", "email", cfg.Mock.Email)
		return browserid.NewMockVerifier(cfg.Mock.Email, cfg.Mock.Extra), nil

	default:
		return nil, fmt.Errorf("%w: unknown verifier %q", ErrImproperlyConfigured, cfg.Verifier)
	}
}
