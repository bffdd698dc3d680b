// ABOUTME: HTTP handlers for BrowserID login, logout and client configuration
// ABOUTME: Responds with JSON redirect targets and records login outcomes in the audit log

package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/browserid-gateway/internal/auth"
	"github.com/2389/browserid-gateway/internal/store"
)

// Route paths served by the gateway.
const (
	LoginPath  = "/browserid/login"
	LogoutPath = "/browserid/logout"
	InfoPath   = "/browserid/info"
)

// nextParam names the form or query field carrying the post-login redirect.
const nextParam = "next"

// LoginResponse is the JSON response for POST /browserid/login.
type LoginResponse struct {
	Email    string `json:"email,omitempty"`
	Redirect string `json:"redirect"`
}

// RedirectResponse is the JSON response for logout and failed logins.
type RedirectResponse struct {
	Redirect string `json:"redirect"`
}

// InfoResponse is the JSON response for GET /browserid/info.
// It carries what the client-side navigator.id code needs.
type InfoResponse struct {
	LoginURL    string            `json:"loginUrl"`
	LogoutURL   string            `json:"logoutUrl"`
	RequestArgs map[string]string `json:"requestArgs"`
}

// handleLogin handles POST /browserid/login.
//
// Responsibilities:
//  1. Read the assertion from the form
//  2. Authenticate it, deriving the audience from the request
//  3. Attach the user to the request context and refuse inactive accounts
//  4. Stamp last_login and audit the outcome
//  5. Reply with the redirect target
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		g.loginFailure(w, r, "unparseable form")
		return
	}

	assertion := r.PostForm.Get("assertion")
	if assertion == "" {
		g.loginFailure(w, r, "missing assertion")
		return
	}

	user, err := g.backend.Authenticate(r.Context(), auth.Credentials{
		Assertion: assertion,
		Request:   r,
	})
	if err != nil {
		g.logger.Error("authenticating assertion", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "authentication unavailable")
		return
	}
	if user == nil {
		g.loginFailure(w, r, "assertion not accepted")
		return
	}

	r = r.WithContext(auth.WithUser(r.Context(), user))
	if !user.IsActive {
		g.loginFailure(w, r, "account inactive")
		return
	}
	g.loginSuccess(w, r)
}

// loginSuccess finishes a login for the user on the request context.
func (g *Gateway) loginSuccess(w http.ResponseWriter, r *http.Request) {
	user := auth.MustUserFromContext(r.Context())

	if err := g.store.TouchLastLogin(r.Context(), user.ID, time.Now()); err != nil {
		g.logger.Warn("updating last login", "user_id", user.ID, "error", err)
	}
	g.audit(r, &store.AuditEntry{Action: store.AuditLoginSucceeded})

	g.logger.Info("login succeeded", "user_id", user.ID)
	writeJSON(w, http.StatusOK, LoginResponse{
		Email:    user.Email,
		Redirect: safeRedirect(r.Form.Get(nextParam), g.config.BrowserID.LoginRedirectURL),
	})
}

// handleLoginGet sends browsers that GET the login endpoint to the failure URL.
func (g *Gateway) handleLoginGet(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, g.config.BrowserID.LoginFailureURL, http.StatusSeeOther)
}

// loginFailure audits a rejected login and answers 403 with the failure URL.
func (g *Gateway) loginFailure(w http.ResponseWriter, r *http.Request, reason string) {
	g.logger.Info("login failed", "reason", reason)
	g.audit(r, &store.AuditEntry{
		Action: store.AuditLoginFailed,
		Detail: map[string]any{"reason": reason},
	})
	writeJSON(w, http.StatusForbidden, RedirectResponse{Redirect: g.config.BrowserID.LoginFailureURL})
}

// handleLogout handles POST /browserid/logout. Sessions belong to the host
// application, so this only tells the client where to go next.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	writeJSON(w, http.StatusOK, RedirectResponse{
		Redirect: safeRedirect(r.Form.Get(nextParam), g.config.BrowserID.LogoutRedirectURL),
	})
}

// handleInfo handles GET /browserid/info.
func (g *Gateway) handleInfo(w http.ResponseWriter, r *http.Request) {
	args := g.config.BrowserID.RequestArgs
	if args == nil {
		args = map[string]string{}
	}
	writeJSON(w, http.StatusOK, InfoResponse{
		LoginURL:    LoginPath,
		LogoutURL:   LogoutPath,
		RequestArgs: args,
	})
}

// audit appends e with the client address as actor and the request's
// authenticated user, if any, as target. Failures are logged only.
func (g *Gateway) audit(r *http.Request, e *store.AuditEntry) {
	e.Actor = clientAddr(r)
	if user := auth.UserFromContext(r.Context()); user != nil && e.TargetID == "" {
		e.TargetID = user.ID
	}
	if err := g.store.AppendAuditLog(r.Context(), e); err != nil {
		g.logger.Error("writing audit entry", "action", e.Action, "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientAddr returns the remote IP without its port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// safeRedirect returns next when it is a local path, otherwise fallback.
// Absolute and protocol-relative URLs are refused to avoid open redirects.
func safeRedirect(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return next
}
