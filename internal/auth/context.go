// ABOUTME: Request context helpers for the authenticated user
// ABOUTME: Provides WithUser/UserFromContext for propagating the user through handlers

package auth

import (
	"context"

	"github.com/2389/browserid-gateway/internal/store"
)

// userContextKey is the key type for storing the user in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the user attached.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the user from the context, returning nil if not present.
func UserFromContext(ctx context.Context) *store.User {
	user, ok := ctx.Value(userContextKey{}).(*store.User)
	if !ok {
		return nil
	}
	return user
}

// MustUserFromContext retrieves the user from the context, panicking if not present.
func MustUserFromContext(ctx context.Context) *store.User {
	user := UserFromContext(ctx)
	if user == nil {
		panic("auth: user not found in context")
	}
	return user
}
