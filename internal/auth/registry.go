// ABOUTME: Named registry of account creators and username algorithms
// ABOUTME: Config refers to entries by name; the backend resolves them once at construction

package auth

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/browserid-gateway/internal/browserid"
	"github.com/2389/browserid-gateway/internal/store"
)

// Names of the built-in registry entries.
const (
	DefaultCreator      = "default"
	DefaultUsernameAlgo = "sha1-base64"
)

// UsernameFunc derives a username from an email.
type UsernameFunc func(email string) string

// CreateRequest is what a Creator gets to work with.
type CreateRequest struct {
	Email    string
	Result   *browserid.Result
	Users    store.UserRepository
	Username UsernameFunc
}

// Creator makes the account for a first-time login. Returning (nil, nil)
// declines to create one and the login fails.
type Creator func(ctx context.Context, req CreateRequest) (*store.User, error)

// Registry holds creators and username algorithms by name.
type Registry struct {
	mu        sync.RWMutex
	creators  map[string]Creator
	usernames map[string]UsernameFunc
}

// NewRegistry returns a registry with the built-in entries.
func NewRegistry() *Registry {
	r := &Registry{
		creators:  make(map[string]Creator),
		usernames: make(map[string]UsernameFunc),
	}
	r.creators[DefaultCreator] = createDefaultUser
	r.usernames[DefaultUsernameAlgo] = HashedUsername
	return r
}

// RegisterCreator adds a named creator. Names must be unique.
func (r *Registry) RegisterCreator(name string, fn Creator) error {
	if name == "" || fn == nil {
		return fmt.Errorf("creator name and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.creators[name]; exists {
		return fmt.Errorf("creator %q already registered", name)
	}
	r.creators[name] = fn
	return nil
}

// RegisterUsernameFunc adds a named username algorithm. Names must be unique.
func (r *Registry) RegisterUsernameFunc(name string, fn UsernameFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("username algorithm name and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.usernames[name]; exists {
		return fmt.Errorf("username algorithm %q already registered", name)
	}
	r.usernames[name] = fn
	return nil
}

// Creator looks up a creator by name.
func (r *Registry) Creator(name string) (Creator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.creators[name]
	return fn, ok
}

// UsernameFunc looks up a username algorithm by name.
func (r *Registry) UsernameFunc(name string) (UsernameFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.usernames[name]
	return fn, ok
}

// CreatorNames lists registered creators, sorted.
func (r *Registry) CreatorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.creators))
	for name := range r.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HashedUsername is the default username algorithm: unpadded URL-safe base64
// of the email's SHA-1. It keeps the email out of public identifiers.
func HashedUsername(email string) string {
	sum := sha1.Sum([]byte(email))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func createDefaultUser(ctx context.Context, req CreateRequest) (*store.User, error) {
	return req.Users.CreateUser(ctx, req.Username(req.Email), req.Email)
}
