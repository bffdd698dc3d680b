// ABOUTME: Canned Verifier for tests and local development
// ABOUTME: Returns a fixed email (or a failure) without any network I/O

package browserid

import (
	"context"
	"net/url"
)

// MockVerifier returns a canned result for every assertion.
type MockVerifier struct {
	email string
	extra map[string]any
}

// NewMockVerifier creates a MockVerifier. An empty email makes every
// verification fail; extra pairs are merged into successful results.
func NewMockVerifier(email string, extra map[string]any) *MockVerifier {
	cp := make(map[string]any, len(extra))
	for k, v := range extra {
		cp[k] = v
	}
	return &MockVerifier{email: email, extra: cp}
}

// Verify ignores the assertion and extra parameters.
func (m *MockVerifier) Verify(_ context.Context, _ string, audience Audience, _ url.Values) (*Result, error) {
	if m.email == "" {
		return Failure("No email given to MockVerifier."), nil
	}

	raw := make(map[string]any, len(m.extra)+3)
	for k, v := range m.extra {
		raw[k] = v
	}
	raw[FieldStatus] = StatusOkay
	raw[FieldEmail] = m.email
	raw[FieldAudience] = resolveAudience(audience)
	return NewResult(raw), nil
}
