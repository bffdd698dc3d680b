// ABOUTME: Derives the expected assertion audience from an incoming HTTP request
// ABOUTME: Matches the request origin against the configured audience list

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/browserid-gateway/internal/browserid"
)

// ErrImproperlyConfigured marks deployment configuration problems.
var ErrImproperlyConfigured = errors.New("improperly configured")

// ErrNoMatchingAudience is returned when no configured audience shares the
// request's origin.
var ErrNoMatchingAudience = fmt.Errorf("%w: no audience matches the request origin", ErrImproperlyConfigured)

// RequestOrigin returns scheme://host for r, taking the scheme from the
// connection itself.
func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// ForwardedOrigin is RequestOrigin for deployments behind a TLS-terminating
// proxy: the first X-Forwarded-Proto hop, when present, overrides the
// connection scheme. Only use it when the proxy overwrites that header.
func ForwardedOrigin(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(scheme, ','); i >= 0 {
		scheme = scheme[:i]
	}
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme != "http" && scheme != "https" {
		return RequestOrigin(r)
	}
	return scheme + "://" + r.Host
}

// ResolveAudience picks the configured audience that is same-origin with r.
// The configured value is returned as written, so it matches what the client
// was told to request an assertion for.
func ResolveAudience(r *http.Request, audiences []string) (string, error) {
	return matchAudience(RequestOrigin(r), audiences)
}

// ResolveForwardedAudience is ResolveAudience using ForwardedOrigin.
func ResolveForwardedAudience(r *http.Request, audiences []string) (string, error) {
	return matchAudience(ForwardedOrigin(r), audiences)
}

func matchAudience(origin string, audiences []string) (string, error) {
	if len(audiences) == 0 {
		return "", fmt.Errorf("%w: no audiences configured", ErrImproperlyConfigured)
	}
	for _, aud := range audiences {
		if browserid.SameOrigin(aud, origin) {
			return aud, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoMatchingAudience, origin)
}
