// ABOUTME: In-process notification bus for account lifecycle events
// ABOUTME: Runs user_created handlers synchronously in subscription order, isolating panics

package signals

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/browserid-gateway/internal/store"
)

// UserCreated is emitted after the authentication backend creates an account.
type UserCreated struct {
	// Creator names the creation strategy that made the user.
	Creator string
	User    *store.User
}

// UserCreatedHandler observes account creation.
type UserCreatedHandler func(ctx context.Context, evt UserCreated)

type subscription struct {
	id string
	fn UserCreatedHandler
}

// Bus delivers notifications to registered handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With("component", "signals")}
}

// Subscribe registers fn and returns an ID for Unsubscribe.
func (b *Bus) Subscribe(fn UserCreatedHandler) string {
	id := uuid.New().String()

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", id)
	return id
}

// Unsubscribe removes a handler. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			b.logger.Debug("subscriber removed", "sub_id", id)
			return
		}
	}
}

// Len reports the number of handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// EmitUserCreated calls every handler in order and returns once all have run.
// A panicking handler is logged and skipped; the rest still run.
func (b *Bus) EmitUserCreated(ctx context.Context, evt UserCreated) {
	if b == nil {
		return
	}

	// Copy under read lock so handlers may subscribe or unsubscribe.
	b.mu.RLock()
	targets := make([]subscription, len(b.subs))
	copy(targets, b.subs)
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(ctx, s, evt)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, evt UserCreated) {
	defer func() {
		if r := recover(); r != nil {
			userID := ""
			if evt.User != nil {
				userID = evt.User.ID
			}
			b.logger.Error("user_created handler panicked",
				"sub_id", s.id,
				"user_id", userID,
				"panic", fmt.Sprint(r))
		}
	}()
	s.fn(ctx, evt)
}
