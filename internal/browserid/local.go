// ABOUTME: In-process verifier for backed identity assertions (cert~...~assertion)
// ABOUTME: Checks the certificate chain and assertion signatures with golang-jwt

package browserid

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/browserid-gateway/internal/dedupe"
)

// DefaultReplayCacheSize caps how many assertion digests the replay guard keeps.
const DefaultReplayCacheSize = 100_000

var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}

// errVerification marks a negative verdict; its message becomes the reason.
var errVerification = errors.New("verification failed")

func verdict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errVerification, fmt.Sprintf(format, args...))
}

// LocalConfig configures a LocalVerifier.
type LocalConfig struct {
	// TrustedIssuers maps an issuer hostname to its signing key.
	TrustedIssuers map[string]crypto.PublicKey

	// Secondaries are issuers allowed to certify any email domain.
	Secondaries []string

	// ReplayWindow enables the replay guard when positive.
	ReplayWindow    time.Duration
	ReplayCacheSize int

	// Leeway tolerates clock skew on exp/iat checks.
	Leeway time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// LocalVerifier checks assertions without a network round-trip.
type LocalVerifier struct {
	issuers     map[string]crypto.PublicKey
	secondaries map[string]bool
	replay      *dedupe.Cache
	leeway      time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewLocalVerifier builds a LocalVerifier. At least one trusted issuer is
// required.
func NewLocalVerifier(cfg LocalConfig, logger *slog.Logger) (*LocalVerifier, error) {
	if len(cfg.TrustedIssuers) == 0 {
		return nil, errors.New("local verifier requires at least one trusted issuer")
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := &LocalVerifier{
		issuers:     make(map[string]crypto.PublicKey, len(cfg.TrustedIssuers)),
		secondaries: make(map[string]bool, len(cfg.Secondaries)),
		leeway:      cfg.Leeway,
		now:         cfg.Now,
		logger:      logger.With("component", "local_verifier"),
	}
	if v.now == nil {
		v.now = time.Now
	}
	for iss, key := range cfg.TrustedIssuers {
		switch key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
		default:
			return nil, fmt.Errorf("issuer %s: unsupported key type %T", iss, key)
		}
		v.issuers[strings.ToLower(iss)] = key
	}
	for _, s := range cfg.Secondaries {
		v.secondaries[strings.ToLower(s)] = true
	}
	if cfg.ReplayWindow > 0 {
		size := cfg.ReplayCacheSize
		if size <= 0 {
			size = DefaultReplayCacheSize
		}
		v.replay = dedupe.New(cfg.ReplayWindow, size)
	}

	return v, nil
}

// Close releases the replay guard.
func (v *LocalVerifier) Close() {
	if v.replay != nil {
		v.replay.Close()
	}
}

// Verify checks the bundle's certificate chain and assertion. Any problem with
// the assertion itself is reported as a failure result; only a cancelled
// context is returned as an error.
func (v *LocalVerifier) Verify(ctx context.Context, assertion string, audience Audience, _ url.Values) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	aud := resolveAudience(audience)
	result, err := v.verify(assertion, aud)
	if err != nil {
		reason := strings.TrimPrefix(err.Error(), errVerification.Error()+": ")
		v.logger.Warn("verification failed", "reason", reason)
		return Failure(reason), nil
	}
	return result, nil
}

func (v *LocalVerifier) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods(signingMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
}

func (v *LocalVerifier) verify(bundle, audience string) (*Result, error) {
	parts := strings.Split(strings.TrimSpace(bundle), "~")
	if len(parts) < 2 {
		return nil, verdict("malformed assertion bundle")
	}
	certs, assertion := parts[:len(parts)-1], parts[len(parts)-1]

	// The first certificate is signed by its issuer; each following one by the
	// key certified in the previous certificate.
	first, _, err := v.parser().ParseUnverified(certs[0], jwt.MapClaims{})
	if err != nil {
		return nil, verdict("malformed certificate: %v", err)
	}
	issuer, _ := first.Claims.(jwt.MapClaims).GetIssuer()
	issuer = strings.ToLower(issuer)
	signer, ok := v.issuers[issuer]
	if !ok {
		return nil, verdict("untrusted issuer %q", issuer)
	}

	var email string
	for i, raw := range certs {
		claims, err := v.parseSigned(raw, signer)
		if err != nil {
			return nil, verdict("certificate %d: %v", i, err)
		}
		signer, err = certifiedKey(claims)
		if err != nil {
			return nil, verdict("certificate %d: %v", i, err)
		}
		email, err = principalEmail(claims)
		if err != nil {
			return nil, verdict("certificate %d: %v", i, err)
		}
	}

	if !v.authoritative(issuer, email) {
		return nil, verdict("issuer %q may not certify %s", issuer, email)
	}

	claims, err := v.parseSigned(assertion, signer)
	if err != nil {
		return nil, verdict("assertion: %v", err)
	}
	auds, err := claims.GetAudience()
	if err != nil || len(auds) == 0 {
		return nil, verdict("assertion has no audience")
	}
	matched := false
	for _, a := range auds {
		if SameOrigin(a, audience) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, verdict("audience mismatch: assertion for %q, expected %q", strings.Join(auds, ","), audience)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, verdict("assertion has no expiry")
	}

	if v.replay != nil {
		sum := sha256.Sum256([]byte(bundle))
		if !v.replay.Claim(hex.EncodeToString(sum[:])) {
			return nil, verdict("assertion has already been used")
		}
	}

	return NewResult(map[string]any{
		FieldStatus:   StatusOkay,
		FieldEmail:    email,
		FieldAudience: audience,
		FieldIssuer:   issuer,
		FieldExpires:  strconv.FormatInt(exp.UnixMilli(), 10),
	}), nil
}

func (v *LocalVerifier) parseSigned(raw string, key crypto.PublicKey) (jwt.MapClaims, error) {
	tok, err := v.parser().Parse(raw, func(t *jwt.Token) (any, error) {
		switch key.(type) {
		case *rsa.PublicKey:
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("signing method %s does not match RSA key", t.Method.Alg())
			}
		case *ecdsa.PublicKey:
			if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("signing method %s does not match EC key", t.Method.Alg())
			}
		default:
			return nil, fmt.Errorf("unsupported key type %T", key)
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (v *LocalVerifier) authoritative(issuer, email string) bool {
	if v.secondaries[issuer] {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return strings.EqualFold(email[at+1:], issuer)
}

func principalEmail(claims jwt.MapClaims) (string, error) {
	principal, ok := claims["principal"].(map[string]any)
	if !ok {
		return "", errors.New("missing principal")
	}
	email, ok := principal["email"].(string)
	if !ok || !strings.Contains(email, "@") {
		return "", errors.New("missing principal email")
	}
	return email, nil
}

// certifiedKey decodes the public-key claim. JWK RSA/EC keys and the legacy
// BrowserID {"algorithm":"RS","n":"<decimal>","e":"<decimal>"} form are accepted.
func certifiedKey(claims jwt.MapClaims) (crypto.PublicKey, error) {
	jwk, ok := claims["public-key"].(map[string]any)
	if !ok {
		return nil, errors.New("missing public-key")
	}
	str := func(k string) string {
		s, _ := jwk[k].(string)
		return s
	}

	switch {
	case str("kty") == "RSA":
		n, err := b64Int(str("n"))
		if err != nil {
			return nil, fmt.Errorf("rsa modulus: %w", err)
		}
		e, err := b64Int(str("e"))
		if err != nil {
			return nil, fmt.Errorf("rsa exponent: %w", err)
		}
		return rsaKey(n, e)
	case str("kty") == "EC":
		var curve elliptic.Curve
		switch str("crv") {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		default:
			return nil, fmt.Errorf("unsupported curve %q", str("crv"))
		}
		x, err := b64Int(str("x"))
		if err != nil {
			return nil, fmt.Errorf("ec x: %w", err)
		}
		y, err := b64Int(str("y"))
		if err != nil {
			return nil, fmt.Errorf("ec y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	case str("algorithm") == "RS":
		n, ok := new(big.Int).SetString(str("n"), 10)
		if !ok {
			return nil, errors.New("rsa modulus is not a decimal integer")
		}
		e, ok := new(big.Int).SetString(str("e"), 10)
		if !ok {
			return nil, errors.New("rsa exponent is not a decimal integer")
		}
		return rsaKey(n, e)
	default:
		return nil, fmt.Errorf("unsupported public-key type")
	}
}

func rsaKey(n, e *big.Int) (*rsa.PublicKey, error) {
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, errors.New("rsa exponent out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func b64Int(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// ParsePublicKeyPEM reads an RSA or EC public key in PEM form, as used for
// trusted issuer keys in configuration.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	key, err := jwt.ParseECPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: not an RSA or EC PEM key: %w", err)
	}
	return key, nil
}
