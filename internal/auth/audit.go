// ABOUTME: Signal subscriber that writes user_created entries to the audit log
// ABOUTME: Audit write failures are logged and never fail the login

package auth

import (
	"context"
	"log/slog"

	"github.com/2389/browserid-gateway/internal/signals"
	"github.com/2389/browserid-gateway/internal/store"
)

// RecordCreations subscribes an audit writer to bus and returns the
// subscription ID.
func RecordCreations(bus *signals.Bus, audit store.AuditLog, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth_audit")

	return bus.Subscribe(func(ctx context.Context, evt signals.UserCreated) {
		if evt.User == nil {
			return
		}
		err := audit.AppendAuditLog(ctx, &store.AuditEntry{
			Actor:    evt.Creator,
			Action:   store.AuditUserCreated,
			TargetID: evt.User.ID,
			Detail:   map[string]any{"username": evt.User.Username},
		})
		if err != nil {
			logger.Error("recording user creation", "user_id", evt.User.ID, "error", err)
		}
	})
}
