// ABOUTME: Normalized verification outcome wrapping a verifier's raw response
// ABOUTME: Exposes known fields as accessors and everything else as a side-channel map

package browserid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatusOkay is the status value a verifier reports for a valid assertion.
const StatusOkay = "okay"

// StatusFailure is the status used for results synthesized on failure.
const StatusFailure = "failure"

// Well-known response fields.
const (
	FieldStatus          = "status"
	FieldEmail           = "email"
	FieldUnverifiedEmail = "unverified-email"
	FieldAudience        = "audience"
	FieldIssuer          = "issuer"
	FieldExpires         = "expires"
	FieldReason          = "reason"
)

// ErrFieldNotFound is returned when a result does not carry the requested field.
var ErrFieldNotFound = errors.New("field not found")

var knownFields = map[string]bool{
	FieldStatus:          true,
	FieldEmail:           true,
	FieldUnverifiedEmail: true,
	FieldAudience:        true,
	FieldIssuer:          true,
	FieldExpires:         true,
	FieldReason:          true,
}

// Result is the normalized response of a Verifier. It is immutable: the raw
// mapping is copied on construction and never handed out directly.
type Result struct {
	raw map[string]any
}

// Expiry is the parsed form of the expires field. Time is zero when the raw
// value could not be read as a millisecond timestamp.
type Expiry struct {
	Time time.Time
	Raw  string
}

// Valid reports whether the raw value parsed as a timestamp.
func (e Expiry) Valid() bool {
	return !e.Time.IsZero()
}

// NewResult wraps a decoded verifier response.
func NewResult(raw map[string]any) *Result {
	cp := make(map[string]any, len(raw))
	for k, v := range raw {
		cp[k] = v
	}
	return &Result{raw: cp}
}

// Failure builds a failed result carrying a human-readable reason.
func Failure(reason string) *Result {
	return NewResult(map[string]any{
		FieldStatus: StatusFailure,
		FieldReason: reason,
	})
}

// OK reports whether the verifier accepted the assertion.
func (r *Result) OK() bool {
	if r == nil {
		return false
	}
	return r.Text(FieldStatus) == StatusOkay
}

// Field returns the raw value for key, or ErrFieldNotFound.
func (r *Result) Field(key string) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, key)
	}
	v, ok := r.raw[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, key)
	}
	return v, nil
}

// Has reports whether the result carries key.
func (r *Result) Has(key string) bool {
	_, err := r.Field(key)
	return err == nil
}

// Text returns the field rendered as a string, or "" when it is absent or null.
func (r *Result) Text(key string) string {
	v, err := r.Field(key)
	if err != nil || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r *Result) Status() string          { return r.Text(FieldStatus) }
func (r *Result) Email() string           { return r.Text(FieldEmail) }
func (r *Result) UnverifiedEmail() string { return r.Text(FieldUnverifiedEmail) }
func (r *Result) Audience() string        { return r.Text(FieldAudience) }
func (r *Result) Issuer() string          { return r.Text(FieldIssuer) }
func (r *Result) Reason() string          { return r.Text(FieldReason) }

// Expires parses the expires field as a millisecond epoch. An unparsable value
// is returned unchanged in Expiry.Raw; only a missing field is an error.
func (r *Result) Expires() (Expiry, error) {
	v, err := r.Field(FieldExpires)
	if err != nil {
		return Expiry{}, err
	}
	raw := r.Text(FieldExpires)
	if v == nil {
		return Expiry{Raw: raw}, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return Expiry{Raw: raw}, nil
	}
	return Expiry{Time: time.UnixMilli(ms).UTC(), Raw: raw}, nil
}

// Extra returns a copy of every field that has no dedicated accessor.
func (r *Result) Extra() map[string]any {
	out := make(map[string]any)
	if r == nil {
		return out
	}
	for k, v := range r.raw {
		if !knownFields[k] {
			out[k] = v
		}
	}
	return out
}

// Raw returns a copy of the full response mapping.
func (r *Result) Raw() map[string]any {
	out := make(map[string]any)
	if r == nil {
		return out
	}
	for k, v := range r.raw {
		out[k] = v
	}
	return out
}

func (r *Result) String() string {
	if !r.OK() {
		return "Result{failure}"
	}
	if email := r.Email(); email != "" {
		return "Result{okay email=" + email + "}"
	}
	return "Result{okay}"
}
