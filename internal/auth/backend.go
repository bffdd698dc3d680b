// ABOUTME: Authentication backend that turns a BrowserID assertion into a local user
// ABOUTME: Verifies, resolves the account by email and applies the creation policy

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/2389/browserid-gateway/internal/browserid"
	"github.com/2389/browserid-gateway/internal/config"
	"github.com/2389/browserid-gateway/internal/signals"
	"github.com/2389/browserid-gateway/internal/store"
)

// Options configures a Backend.
type Options struct {
	// Audiences are matched against the request when Credentials carry no
	// explicit audience.
	Audiences []string

	// TrustForwardedProto lets X-Forwarded-Proto set the request scheme.
	TrustForwardedProto bool

	CreateUser     bool
	CreateUserFunc string // registry name; empty means DefaultCreator
	UsernameAlgo   string // registry name; empty means DefaultUsernameAlgo

	// AllowUnverifiedEmail accepts the unverified-email field when email is absent.
	AllowUnverifiedEmail bool

	Registry *Registry    // nil means NewRegistry()
	Bus      *signals.Bus // nil disables notifications
	Logger   *slog.Logger
}

// OptionsFromConfig copies the policy settings out of the browserid config.
func OptionsFromConfig(c config.BrowserIDConfig) Options {
	return Options{
		Audiences:            c.Audiences,
		TrustForwardedProto:  c.TrustForwardedProto,
		CreateUser:           c.CreateUser,
		CreateUserFunc:       c.CreateUserFunc,
		UsernameAlgo:         c.UsernameAlgo,
		AllowUnverifiedEmail: c.AllowUnverifiedEmail,
	}
}

// Credentials is one login attempt.
type Credentials struct {
	Assertion string

	// Audience wins over Request when both are set.
	Audience browserid.Audience
	Request  *http.Request

	// Extra is forwarded to the verifier.
	Extra url.Values
}

// Backend authenticates BrowserID assertions against a user repository.
type Backend struct {
	verifier browserid.Verifier
	users    store.UserRepository
	bus      *signals.Bus
	logger   *slog.Logger

	audiences       []string
	trustForwarded  bool
	createUser      bool
	allowUnverified bool
	creatorName     string
	creator         Creator
	username        UsernameFunc
}

// NewBackend resolves the configured creator and username algorithm and
// returns a ready Backend. Unknown names fail with ErrImproperlyConfigured.
func NewBackend(verifier browserid.Verifier, users store.UserRepository, opts Options) (*Backend, error) {
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier is required", ErrImproperlyConfigured)
	}
	if users == nil {
		return nil, fmt.Errorf("%w: user repository is required", ErrImproperlyConfigured)
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	creatorName := opts.CreateUserFunc
	if creatorName == "" {
		creatorName = DefaultCreator
	}
	creator, ok := registry.Creator(creatorName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown create_user_func %q", ErrImproperlyConfigured, creatorName)
	}

	algo := opts.UsernameAlgo
	if algo == "" {
		algo = DefaultUsernameAlgo
	}
	username, ok := registry.UsernameFunc(algo)
	if !ok {
		return nil, fmt.Errorf("%w: unknown username_algo %q", ErrImproperlyConfigured, algo)
	}

	return &Backend{
		verifier:        verifier,
		users:           users,
		bus:             opts.Bus,
		logger:          logger.With("component", "auth_backend"),
		audiences:       opts.Audiences,
		trustForwarded:  opts.TrustForwardedProto,
		createUser:      opts.CreateUser,
		allowUnverified: opts.AllowUnverifiedEmail,
		creatorName:     creatorName,
		creator:         creator,
		username:        username,
	}, nil
}

// Authenticate verifies creds and returns the matching user. A nil user with a
// nil error means authentication failed; the reason is logged. An error is
// returned only when the user repository fails.
func (b *Backend) Authenticate(ctx context.Context, creds Credentials) (*store.User, error) {
	if creds.Assertion == "" {
		b.logger.Debug("no assertion supplied")
		return nil, nil
	}

	audience := creds.Audience
	if audience == nil {
		if creds.Request == nil {
			b.logger.Debug("no audience and no request to derive one from")
			return nil, nil
		}
		resolve := ResolveAudience
		if b.trustForwarded {
			resolve = ResolveForwardedAudience
		}
		aud, err := resolve(creds.Request, b.audiences)
		if err != nil {
			b.logger.Error("cannot determine audience", "error", err)
			return nil, nil
		}
		audience = browserid.StaticAudience(aud)
	}

	result, err := b.verifier.Verify(ctx, creds.Assertion, audience, creds.Extra)
	if err != nil {
		b.logger.Error("verifying assertion", "error", err)
		return nil, nil
	}
	if !result.OK() {
		b.logger.Warn("assertion rejected", "reason", result.Reason())
		return nil, nil
	}

	email := result.Email()
	if email == "" && b.allowUnverified {
		email = result.UnverifiedEmail()
	}
	if email == "" {
		b.logger.Warn("verified result carries no usable email", "result", result.String())
		return nil, nil
	}

	users, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}

	switch len(users) {
	case 0:
		return b.create(ctx, email, result)
	case 1:
		return users[0], nil
	default:
		b.logger.Warn("multiple users share this email, refusing to pick one",
			"email", email,
			"count", len(users))
		return nil, nil
	}
}

func (b *Backend) create(ctx context.Context, email string, result *browserid.Result) (*store.User, error) {
	if !b.createUser {
		b.logger.Debug("no user for email and creation is disabled", "email", email)
		return nil, nil
	}

	user, err := b.creator(ctx, CreateRequest{
		Email:    email,
		Result:   result,
		Users:    b.users,
		Username: b.username,
	})
	if err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			// Another login for the same email won the race.
			existing, ferr := b.users.FindByEmail(ctx, email)
			if ferr == nil && len(existing) == 1 {
				b.logger.Info("user created concurrently, using existing account",
					"user_id", existing[0].ID)
				return existing[0], nil
			}
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	if user == nil {
		b.logger.Info("creator declined to create user", "creator", b.creatorName, "email", email)
		return nil, nil
	}

	b.logger.Info("created user", "user_id", user.ID, "creator", b.creatorName)
	b.bus.EmitUserCreated(ctx, signals.UserCreated{Creator: b.creatorName, User: user})
	return user, nil
}

// GetUser returns the user with id, or nil if there is none.
func (b *Backend) GetUser(ctx context.Context, id string) (*store.User, error) {
	user, err := b.users.GetByID(ctx, id)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}
