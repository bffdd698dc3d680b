// ABOUTME: Verifier strategy interface, lazy audience values and transport errors
// ABOUTME: Shared by the remote, local and mock verifier implementations

package browserid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
)

// Verifier turns an assertion into a Result.
//
// A returned error means the verifier could not reach a verdict at all (for
// RemoteVerifier: a transport failure, always a *Error). A negative verdict is a
// Result whose OK method reports false, with a nil error.
type Verifier interface {
	Verify(ctx context.Context, assertion string, audience Audience, extra url.Values) (*Result, error)
}

// Audience is a deferred audience value. Verifiers call Resolve exactly once
// per verification, right before the value is needed.
type Audience interface {
	Resolve() string
}

// StaticAudience is an audience known up front.
type StaticAudience string

func (a StaticAudience) Resolve() string { return string(a) }

// LazyAudience computes the audience on demand.
type LazyAudience func() string

func (f LazyAudience) Resolve() string {
	if f == nil {
		return ""
	}
	return f()
}

// CycleAudience yields its values in order, one per resolution, wrapping
// around at the end. It is safe for concurrent use.
type CycleAudience struct {
	mu     sync.Mutex
	values []string
	next   int
}

// NewCycleAudience creates a CycleAudience over values.
func NewCycleAudience(values ...string) *CycleAudience {
	return &CycleAudience{values: append([]string(nil), values...)}
}

func (c *CycleAudience) Resolve() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.values) == 0 {
		return ""
	}
	v := c.values[c.next]
	c.next = (c.next + 1) % len(c.values)
	return v
}

// resolveAudience materializes a possibly-nil Audience.
func resolveAudience(a Audience) string {
	if a == nil {
		return ""
	}
	return a.Resolve()
}

// Error reports a failure to talk to a verification service. Err holds the
// underlying transport error.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("browserid: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("browserid: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// decodeResponse parses a verifier response body into a Result. Bodies that
// are not a JSON object become a failure result; this never returns an error.
func decodeResponse(body []byte) *Result {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Failure(fmt.Sprintf("Could not parse verifier response: %v", err))
	}
	if raw == nil {
		return Failure("Could not parse verifier response: null body")
	}
	// Only whitespace may follow the object.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Failure("Could not parse verifier response: trailing data after JSON object")
	}
	return NewResult(raw)
}

// SameOrigin reports whether two URLs share scheme, host and port. Default
// ports are made explicit before comparing; paths and queries are ignored.
func SameOrigin(a, b string) bool {
	oa, ok := origin(a)
	if !ok {
		return false
	}
	ob, ok := origin(b)
	if !ok {
		return false
	}
	return oa == ob
}

func origin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	return scheme + "://" + net.JoinHostPort(host, port), true
}
