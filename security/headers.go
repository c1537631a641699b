package security

import (
	"net/http"
)

// apiSecurityHeaders are set on every guarded response. The guard only ever
// returns JSON, so the content policy forbids everything.
var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
	"Pragma":                  "no-cache",
}

// SetSecurityHeaders writes the API security headers. HSTS is added when
// the guard is served over TLS.
func SetSecurityHeaders(w http.ResponseWriter, hsts bool) {
	h := w.Header()
	for name, value := range apiSecurityHeaders {
		h.Set(name, value)
	}
	if hsts {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}
