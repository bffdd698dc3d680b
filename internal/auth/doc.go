// Package auth turns BrowserID assertions into local user accounts.
//
// # Backend
//
// Backend.Authenticate runs one linear pass per login:
//
//  1. Pick the audience: the explicit one, or the configured audience that is
//     same-origin with the request (ResolveAudience).
//  2. Verify the assertion. Verifier errors, including transport failures,
//     are logged and end the attempt.
//  3. Reject results whose status is not "okay".
//  4. Take the email, or unverified-email when AllowUnverifiedEmail is set.
//  5. Look the email up. One account is returned; several are refused.
//  6. With no account and creation enabled, run the configured Creator and
//     emit signals.UserCreated. A username collision from a concurrent login
//     is resolved by reading the account back.
//
// Failed logins return (nil, nil). Only user repository failures are errors.
//
// # Registry
//
// Creators and username algorithms are registered by name and selected with
// browserid.create_user_func and browserid.username_algo. NewBackend resolves
// both once and fails with ErrImproperlyConfigured on an unknown name:
//
//	reg := auth.NewRegistry()
//	_ = reg.RegisterCreator("invite-only", func(ctx context.Context, req auth.CreateRequest) (*store.User, error) {
//		return nil, nil // never create
//	})
//	backend, err := auth.NewBackend(verifier, users, auth.Options{
//		Audiences:      []string{"https://example.com"},
//		CreateUser:     true,
//		CreateUserFunc: "invite-only",
//		Registry:       reg,
//	})
//
// # Verifiers
//
// NewVerifier builds the remote, local or mock verifier from configuration.
package auth
