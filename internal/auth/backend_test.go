// ABOUTME: Tests for the authentication backend's verification and account policy
// ABOUTME: Uses MockStore and stub verifiers to drive every login outcome

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/browserid-gateway/internal/browserid"
	"github.com/2389/browserid-gateway/internal/signals"
	"github.com/2389/browserid-gateway/internal/store"
)

// stubVerifier returns a fixed result or error and records what it was asked.
type stubVerifier struct {
	mu       sync.Mutex
	result   *browserid.Result
	err      error
	calls    int
	audience string
	extra    url.Values
}

func (s *stubVerifier) Verify(_ context.Context, _ string, audience browserid.Audience, extra url.Values) (*browserid.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if audience != nil {
		s.audience = audience.Resolve()
	}
	s.extra = extra
	return s.result, s.err
}

func okay(email string) *stubVerifier {
	return &stubVerifier{result: browserid.NewResult(map[string]any{"status": "okay", "email": email})}
}

type backendFixture struct {
	backend *Backend
	users   *store.MockStore
	bus     *signals.Bus
	events  *[]signals.UserCreated
}

func newFixture(t *testing.T, v browserid.Verifier, mutate func(*Options)) backendFixture {
	t.Helper()

	users := store.NewMockStore()
	bus := signals.NewBus(nil)
	var events []signals.UserCreated
	bus.Subscribe(func(_ context.Context, evt signals.UserCreated) {
		events = append(events, evt)
	})

	opts := Options{
		Audiences:  []string{"http://testserver"},
		CreateUser: true,
		Bus:        bus,
	}
	if mutate != nil {
		mutate(&opts)
	}

	b, err := NewBackend(v, users, opts)
	require.NoError(t, err)
	return backendFixture{backend: b, users: users, bus: bus, events: &events}
}

func credsFor(assertion string) Credentials {
	return Credentials{Assertion: assertion, Audience: browserid.StaticAudience("http://testserver")}
}

func TestAuthenticate_CreatesNewUser(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, "a@example.com", user.Email)
	assert.Equal(t, HashedUsername("a@example.com"), user.Username)
	assert.NotContains(t, user.Username, "a@example.com")
	assert.NotContains(t, user.Username, "@")

	require.Len(t, *f.events, 1)
	assert.Equal(t, DefaultCreator, (*f.events)[0].Creator)
	assert.Equal(t, user.ID, (*f.events)[0].User.ID)
}

func TestAuthenticate_DuplicateEmailsFailClosed(t *testing.T) {
	for _, create := range []bool{true, false} {
		f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), func(o *Options) {
			o.CreateUser = create
		})
		f.users.AddUser(&store.User{Username: "a1", Email: "a@example.com", IsActive: true})
		f.users.AddUser(&store.User{Username: "a2", Email: "a@example.com", IsActive: true})

		user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
		require.NoError(t, err)
		assert.Nil(t, user, "create_user=%v", create)
		assert.Equal(t, 0, f.users.CreateCalls())
	}
}

func TestAuthenticate_TransportErrorIsSwallowed(t *testing.T) {
	v := &stubVerifier{err: &browserid.Error{Op: "posting assertion", URL: "https://verifier.example", Err: errors.New("connection refused")}}
	f := newFixture(t, v, nil)

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	assert.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, 1, v.calls)
}

func TestAuthenticate_CreationDisabled(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), func(o *Options) {
		o.CreateUser = false
	})

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, 0, f.users.CreateCalls())
	assert.Empty(t, *f.events)
}

func TestAuthenticate_FailureStatus(t *testing.T) {
	t.Run("verifier failure status", func(t *testing.T) {
		v := &stubVerifier{result: browserid.NewResult(map[string]any{"status": "failure"})}
		f := newFixture(t, v, nil)

		user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
		require.NoError(t, err)
		assert.Nil(t, user)
		assert.Equal(t, 0, f.users.CreateCalls())
	})

	t.Run("mock verifier without email", func(t *testing.T) {
		f := newFixture(t, browserid.NewMockVerifier("", nil), nil)

		user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestAuthenticate_CreationRaceResolvedByRefetch(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)

	var winner *store.User
	f.users.SetBeforeCreate(func(_ context.Context, username, email string) error {
		winner = f.users.AddUser(&store.User{Username: username, Email: email, IsActive: true})
		return nil
	})

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, winner.ID, user.ID)
	assert.Empty(t, *f.events, "the losing call did not create anything")
}

func TestAuthenticate_CreationRaceUnresolved(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)
	f.users.SetBeforeCreate(func(context.Context, string, string) error {
		return store.ErrUsernameExists
	})

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	assert.Nil(t, user)
	assert.ErrorIs(t, err, store.ErrUsernameExists)
}

func TestAuthenticate_CreationErrorPropagates(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)
	boom := errors.New("disk full")
	f.users.SetBeforeCreate(func(context.Context, string, string) error { return boom })

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	assert.Nil(t, user)
	assert.ErrorIs(t, err, boom)
}

func TestAuthenticate_LookupErrorPropagates(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)
	boom := errors.New("database is locked")
	f.users.SetFindError(boom)

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	assert.Nil(t, user)
	assert.ErrorIs(t, err, boom)
}

func TestAuthenticate_ExistingUser(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)
	existing := f.users.AddUser(&store.User{Username: "alice", Email: "a@example.com", IsActive: true})

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, existing.ID, user.ID)
	assert.Equal(t, 0, f.users.CreateCalls())
}

func TestAuthenticate_Idempotent(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)
	ctx := context.Background()

	first, err := f.backend.Authenticate(ctx, credsFor("asdf"))
	require.NoError(t, err)
	second, err := f.backend.Authenticate(ctx, credsFor("asdf"))
	require.NoError(t, err)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	users, err := f.users.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Len(t, *f.events, 1)
}

func TestAuthenticate_UnverifiedEmail(t *testing.T) {
	result := browserid.NewResult(map[string]any{"status": "okay", "unverified-email": "u@example.com"})

	t.Run("refused by default", func(t *testing.T) {
		f := newFixture(t, &stubVerifier{result: result}, nil)

		user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("accepted when allowed", func(t *testing.T) {
		f := newFixture(t, &stubVerifier{result: result}, func(o *Options) {
			o.AllowUnverifiedEmail = true
		})

		user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "u@example.com", user.Email)
	})

	t.Run("verified email wins", func(t *testing.T) {
		both := browserid.NewResult(map[string]any{
			"status": "okay", "email": "v@example.com", "unverified-email": "u@example.com",
		})
		f := newFixture(t, &stubVerifier{result: both}, func(o *Options) {
			o.AllowUnverifiedEmail = true
		})

		user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "v@example.com", user.Email)
	})
}

func TestAuthenticate_MissingInputsSkipVerification(t *testing.T) {
	v := okay("a@example.com")
	f := newFixture(t, v, nil)
	ctx := context.Background()

	user, err := f.backend.Authenticate(ctx, Credentials{Audience: browserid.StaticAudience("http://testserver")})
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = f.backend.Authenticate(ctx, Credentials{Assertion: "asdf"})
	require.NoError(t, err)
	assert.Nil(t, user)

	assert.Equal(t, 0, v.calls)
}

func TestAuthenticate_AudienceFromRequest(t *testing.T) {
	v := okay("a@example.com")
	f := newFixture(t, v, func(o *Options) {
		o.Audiences = []string{"https://other.example", "http://example.com"}
	})

	req := httptest.NewRequest("POST", "http://example.com/browserid/login", nil)
	user, err := f.backend.Authenticate(context.Background(), Credentials{Assertion: "asdf", Request: req})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "http://example.com", v.audience)
}

func TestAuthenticate_ForwardedProtoPolicy(t *testing.T) {
	forwarded := func() *http.Request {
		req := httptest.NewRequest("POST", "http://example.com/browserid/login", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		return req
	}

	t.Run("ignored by default", func(t *testing.T) {
		v := okay("a@example.com")
		f := newFixture(t, v, func(o *Options) {
			o.Audiences = []string{"https://example.com"}
		})

		user, err := f.backend.Authenticate(context.Background(), Credentials{Assertion: "asdf", Request: forwarded()})
		require.NoError(t, err)
		assert.Nil(t, user)
		assert.Equal(t, 0, v.calls)
	})

	t.Run("honoured when trusted", func(t *testing.T) {
		v := okay("a@example.com")
		f := newFixture(t, v, func(o *Options) {
			o.Audiences = []string{"https://example.com"}
			o.TrustForwardedProto = true
		})

		user, err := f.backend.Authenticate(context.Background(), Credentials{Assertion: "asdf", Request: forwarded()})
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "https://example.com", v.audience)
	})
}

func TestAuthenticate_ExplicitAudienceWins(t *testing.T) {
	v := okay("a@example.com")
	f := newFixture(t, v, nil)

	req := httptest.NewRequest("POST", "http://example.com/browserid/login", nil)
	_, err := f.backend.Authenticate(context.Background(), Credentials{
		Assertion: "asdf",
		Audience:  browserid.StaticAudience("https://explicit.example"),
		Request:   req,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://explicit.example", v.audience)
}

func TestAuthenticate_NoMatchingAudience(t *testing.T) {
	v := okay("a@example.com")
	f := newFixture(t, v, func(o *Options) {
		o.Audiences = []string{"https://example.com"}
	})

	req := httptest.NewRequest("POST", "http://evil.example/browserid/login", nil)
	user, err := f.backend.Authenticate(context.Background(), Credentials{Assertion: "asdf", Request: req})
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, 0, v.calls)
}

func TestAuthenticate_ForwardsExtra(t *testing.T) {
	v := okay("a@example.com")
	f := newFixture(t, v, nil)

	creds := credsFor("asdf")
	creds.Extra = url.Values{"experimental_forceIssuer": {"login.persona.org"}}
	_, err := f.backend.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "login.persona.org", v.extra.Get("experimental_forceIssuer"))
}

func TestAuthenticate_CustomCreatorAndUsername(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterUsernameFunc("local-part", func(email string) string {
		return "user-" + strings.SplitN(email, "@", 2)[0]
	}))
	require.NoError(t, reg.RegisterCreator("tagged", func(ctx context.Context, req CreateRequest) (*store.User, error) {
		return req.Users.CreateUser(ctx, req.Username(req.Email), req.Email)
	}))

	f := newFixture(t, browserid.NewMockVerifier("bob@example.com", nil), func(o *Options) {
		o.Registry = reg
		o.CreateUserFunc = "tagged"
		o.UsernameAlgo = "local-part"
	})

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user-bob", user.Username)
	require.Len(t, *f.events, 1)
	assert.Equal(t, "tagged", (*f.events)[0].Creator)
}

func TestAuthenticate_CreatorMayDecline(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCreator("invite-only", func(context.Context, CreateRequest) (*store.User, error) {
		return nil, nil
	}))

	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), func(o *Options) {
		o.Registry = reg
		o.CreateUserFunc = "invite-only"
	})

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Empty(t, *f.events)
}

func TestAuthenticate_PanickingObserverDoesNotBreakLogin(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)
	f.bus.Subscribe(func(context.Context, signals.UserCreated) { panic("analytics down") })

	user, err := f.backend.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestAuthenticate_NilBus(t *testing.T) {
	b, err := NewBackend(browserid.NewMockVerifier("a@example.com", nil), store.NewMockStore(), Options{CreateUser: true})
	require.NoError(t, err)

	user, err := b.Authenticate(context.Background(), credsFor("asdf"))
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestNewBackend_Misconfigured(t *testing.T) {
	v := browserid.NewMockVerifier("a@example.com", nil)
	users := store.NewMockStore()

	tests := []struct {
		name     string
		verifier browserid.Verifier
		users    store.UserRepository
		opts     Options
	}{
		{"unknown creator", v, users, Options{CreateUserFunc: "myapp.auth.create"}},
		{"unknown username algorithm", v, users, Options{UsernameAlgo: "md5"}},
		{"no verifier", nil, users, Options{}},
		{"no users", v, nil, Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBackend(tt.verifier, tt.users, tt.opts)
			assert.ErrorIs(t, err, ErrImproperlyConfigured)
		})
	}
}

func TestGetUser(t *testing.T) {
	f := newFixture(t, browserid.NewMockVerifier("a@example.com", nil), nil)
	existing := f.users.AddUser(&store.User{Username: "alice", Email: "a@example.com"})

	user, err := f.backend.GetUser(context.Background(), existing.ID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)

	user, err = f.backend.GetUser(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, user)
}
