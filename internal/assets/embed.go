// Package assets serves the embedded BrowserID client script.
// Each file is fingerprinted at startup; URLs carry the fingerprint so
// browsers may cache a matching request forever.
package assets

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"html/template"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed static
var staticFS embed.FS

// PersonaInclude is the navigator.id shim published by the Persona project.
const PersonaInclude = "https://login.persona.org/include.js"

// ClientScript is the embedded script that drives login and logout links.
const ClientScript = "browserid/browserid.js"

// versions maps each embedded path (relative to static/) to a short content hash.
var versions = map[string]string{}

func init() {
	// Register MIME types that may not be in the default database.
	_ = mime.AddExtensionType(".map", "application/json")

	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		versions[strings.TrimPrefix(p, "static/")] = hex.EncodeToString(sum[:])[:12]
		return nil
	})
	if err != nil {
		slog.Error("fingerprinting embedded assets", "error", err)
	}
}

// Version returns the content hash of an embedded file, or "" if unknown.
func Version(name string) string {
	return versions[name]
}

// URL returns the fingerprinted path for an embedded file under /static/.
func URL(name string) string {
	u := "/static/" + name
	if v := versions[name]; v != "" {
		u += "?v=" + v
	}
	return u
}

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the Go standard library's MIME type database,
// then to "application/octet-stream" if unknown.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".map":
		return "application/json"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// ScriptTags returns the script elements a page needs for BrowserID login:
// the Persona shim followed by the embedded client.
func ScriptTags() template.HTML {
	var b strings.Builder
	b.WriteString(`<script src="`)
	b.WriteString(PersonaInclude)
	b.WriteString("\"></script>\n")
	b.WriteString(`<script src="`)
	b.WriteString(template.HTMLEscapeString(URL(ClientScript)))
	b.WriteString("\"></script>\n")
	return template.HTML(b.String())
}

// FileServer returns an http.Handler that serves embedded files from static/.
// Requests whose v parameter matches the file's fingerprint get immutable
// cache headers; everything else gets no-cache.
// The handler expects paths relative to the static root (strip /static/ before calling).
func FileServer() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")

		ext := strings.ToLower(path.Ext(name))
		if ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}

		if v := versions[name]; v != "" && r.URL.Query().Get("v") == v {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}

		fileServer.ServeHTTP(w, r)
	})
}

// InfoTag returns the element the client script reads on load. userEmail is
// the currently signed-in address, or "" when nobody is.
func InfoTag(userEmail string) template.HTML {
	return template.HTML(`<div id="browserid-info" data-user-email="` +
		template.HTMLEscapeString(userEmail) + `"></div>`)
}
