// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject lookup/creation failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	users []*User // insertion order
	audit []AuditEntry

	findErr      error
	beforeCreate func(ctx context.Context, username, email string) error
	createCalls  int
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// AddUser inserts a user directly, bypassing uniqueness checks and hooks.
// Missing ID and CreatedAt are filled in.
func (m *MockStore) AddUser(u *User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.users = append(m.users, &cp)

	result := cp
	return &result
}

// SetFindError makes FindByEmail fail with err until cleared with nil.
func (m *MockStore) SetFindError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findErr = err
}

// SetBeforeCreate registers a hook run at the start of CreateUser, outside the
// store lock. A non-nil return aborts the creation with that error.
func (m *MockStore) SetBeforeCreate(fn func(ctx context.Context, username, email string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeCreate = fn
}

// CreateCalls reports how many times CreateUser was invoked.
func (m *MockStore) CreateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createCalls
}

// CreateUser stores a new active user, enforcing username uniqueness.
func (m *MockStore) CreateUser(ctx context.Context, username, email string) (*User, error) {
	m.mu.Lock()
	m.createCalls++
	hook := m.beforeCreate
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, username, email); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return nil, ErrUsernameExists
		}
	}

	u := &User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	m.users = append(m.users, u)

	result := *u
	return &result, nil
}

// FindByEmail returns copies of all users with exactly this email.
func (m *MockStore) FindByEmail(ctx context.Context, email string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.findErr != nil {
		return nil, m.findErr
	}

	users := []*User{}
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			users = append(users, &cp)
		}
	}
	return users, nil
}

// GetByID retrieves a user by ID.
func (m *MockStore) GetByID(ctx context.Context, id string) (*User, error) {
	return m.get(func(u *User) bool { return u.ID == id })
}

// GetByUsername retrieves a user by username.
func (m *MockStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return m.get(func(u *User) bool { return u.Username == username })
}

func (m *MockStore) get(match func(*User) bool) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// ListUsers returns users in insertion order.
func (m *MockStore) ListUsers(ctx context.Context, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = normalizeLimit(limit)
	users := []*User{}
	for _, u := range m.users {
		if len(users) >= limit {
			break
		}
		cp := *u
		users = append(users, &cp)
	}
	return users, nil
}

// TouchLastLogin records a successful login time.
func (m *MockStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(u *User) {
		t := at.UTC()
		u.LastLogin = &t
	})
}

// SetActive enables or disables a user.
func (m *MockStore) SetActive(ctx context.Context, id string, active bool) error {
	return m.update(id, func(u *User) { u.IsActive = active })
}

func (m *MockStore) update(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ID == id {
			fn(u)
			return nil
		}
	}
	return ErrUserNotFound
}

// AppendAuditLog appends an entry, generating ID and Timestamp if not set.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching entries newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		switch {
		case f.Since != nil && e.Timestamp.Before(*f.Since):
			continue
		case f.Until != nil && e.Timestamp.After(*f.Until):
			continue
		case f.Actor != nil && e.Actor != *f.Actor:
			continue
		case f.Action != nil && e.Action != *f.Action:
			continue
		case f.TargetID != nil && e.TargetID != *f.TargetID:
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit := normalizeLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
