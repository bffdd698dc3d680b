// Package browserid verifies BrowserID (Persona) assertions.
//
// # Verifiers
//
// All verifiers implement the Verifier interface and are interchangeable:
//
//   - RemoteVerifier: POSTs the assertion to a verification service
//     (DefaultVerificationURL unless configured) and decodes its JSON reply.
//   - LocalVerifier: checks a cert~...~assertion bundle in-process against
//     configured issuer keys, with an optional replay guard.
//   - MockVerifier: returns a canned email, for tests and development.
//
// # Results
//
// Every verdict is a *Result. OK reports whether the status was "okay";
// Email, Audience, Issuer, Reason and Expires expose the well-known fields and
// Field/Extra give access to anything else the service returned. A response
// that cannot be decoded is turned into a failure Result rather than an error.
//
// # Errors
//
// A verifier returns an error only when it could not reach a verdict. For
// RemoteVerifier that is always a *Error wrapping the transport failure:
//
//	res, err := v.Verify(ctx, assertion, browserid.StaticAudience("https://example.com"), nil)
//	var berr *browserid.Error
//	if errors.As(err, &berr) {
//		// network, TLS or timeout problem
//	}
package browserid
