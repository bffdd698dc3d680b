// Package config handles configuration loading for browserid-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path ends
// in .toml, with environment variable expansion. Keys left out of the file
// keep the values from Default; Validate runs after loading.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BROWSERID_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/browserid/gateway.yaml
//  3. ~/.config/browserid/gateway.yaml
//
// # Environment Variable Expansion
//
//	browserid:
//	  proxy:
//	    https: "${HTTPS_PROXY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8000"
//
//	database:
//	  path: "/var/lib/browserid-gateway/gateway.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	browserid:
//	  verifier: "remote"          # remote, local, mock
//	  verification_url: "https://verifier.login.persona.org/verify"
//	  http_timeout: "5s"
//	  proxy: {http: "", https: "", no_proxy: ""}
//	  cacert_file: ""
//	  disable_cert_check: false
//	  audiences: ["https://example.com"]
//	  create_user: true
//	  create_user_func: "default"
//	  username_algo: "sha1-base64"
//	  allow_unverified_email: false
//	  local:
//	    trusted_issuers: {"example.com": "/etc/browserid/example.com.pem"}
//	    secondaries: ["login.persona.org"]
//	    replay_window: "2m"
//	  mock:
//	    email: "dev@example.com"
//	  request_args: {siteName: "Example"}
//	  login_redirect_url: "/"
//	  login_failure_url: "/"
//	  logout_redirect_url: "/"
//
// Creator and username algorithm names are checked against the registry when
// the authentication backend is built, not here.
package config
