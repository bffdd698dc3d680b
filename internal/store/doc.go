// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package is interface-driven:
//
//   - UserRepository: the three operations the authentication backend needs
//     (FindByEmail, CreateUser, GetByID)
//   - UserStore: UserRepository plus listing, last-login and activation updates
//   - AuditLog: append-only authentication audit trail
//   - Store: all of the above plus Close
//
// SQLiteStore implements Store in a single struct.
//
// # Data Models
//
//   - User: local account resolved from a verified email. Username is unique;
//     email is indexed but deliberately not unique, so that duplicate accounts
//     can be detected and refused at login.
//   - AuditEntry: user_created, login_succeeded and login_failed events.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Production: /var/lib/browserid-gateway/gateway.db
//   - Development: ~/.local/share/browserid/gateway.db
//   - Testing: t.TempDir() or :memory:
//
// # Error Handling
//
//   - ErrUserNotFound: requested user does not exist
//   - ErrUsernameExists: username uniqueness violated; the authentication
//     backend treats this as a creation race and re-reads by email
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests. It can inject lookup failures
// (SetFindError) and run a hook before creation (SetBeforeCreate) to simulate
// a concurrent signup.
package store
