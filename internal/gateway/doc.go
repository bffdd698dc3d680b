// Package gateway runs the HTTP surface of browserid-gateway.
//
// # Overview
//
// New opens the SQLite store, builds the configured verifier and the
// auth.Backend, and subscribes the audit writer to account creation signals.
// Run serves until its context is canceled, then shuts down gracefully.
//
// # Endpoints
//
//	POST /browserid/login   assertion form field, optional next
//	GET  /browserid/login   303 to the login failure URL
//	POST /browserid/logout  JSON redirect to the logout URL or next
//	GET  /browserid/info    login/logout paths and navigator.id request args
//	GET  /health            liveness
//	GET  /health/ready      database reachability
//	GET  /static/...        embedded client script (see package assets)
//
// A successful login answers 200 with {"email", "redirect"}. Any failure,
// including an inactive account, answers 403 with {"redirect"} pointing at
// browserid.login_failure_url. Only a failing user repository produces a 500.
//
// Session handling is left to the host application; the gateway never sets
// cookies.
package gateway
