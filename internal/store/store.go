// ABOUTME: Store interfaces and data types for browserid-gateway persistence
// ABOUTME: Defines the User record, the user repository contract and the audit log contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a requested user does not exist
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// User is a local account that BrowserID logins resolve to.
// Email is not unique; two accounts sharing an email make the login ambiguous.
type User struct {
	ID        string
	Username  string
	Email     string
	IsActive  bool
	CreatedAt time.Time
	LastLogin *time.Time
}

// UserRepository is the minimal contract the authentication backend needs.
type UserRepository interface {
	// FindByEmail returns every user whose email matches exactly. No match is
	// an empty slice, not an error.
	FindByEmail(ctx context.Context, email string) ([]*User, error)

	// CreateUser creates an active user. A taken username yields ErrUsernameExists.
	CreateUser(ctx context.Context, username, email string) (*User, error)

	// GetByID returns ErrUserNotFound when no user has the id.
	GetByID(ctx context.Context, id string) (*User, error)
}

// UserStore adds the management operations used by the HTTP layer and CLI.
type UserStore interface {
	UserRepository

	GetByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, limit int) ([]*User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

// AuditLog records authentication events.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything the gateway persists.
type Store interface {
	UserStore
	AuditLog

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit applies the default (100) and cap (1000) used by list queries.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
