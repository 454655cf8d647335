package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets defensive headers on every connector response.
// publicBaseURL decides whether HSTS applies.
func SetSecurityHeaders(w http.ResponseWriter, publicBaseURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	// HSTS only when the connector is actually served over HTTPS.
	if parsed, err := url.Parse(publicBaseURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Responses can carry tokens or personal data from the upstream; never cache.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
