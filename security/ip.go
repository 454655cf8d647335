package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address from the request. When trustProxy is
// set, X-Forwarded-For and X-Real-IP are consulted first; only enable it when
// the connector sits behind a reverse proxy you control, since both headers are
// trivially spoofable otherwise.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For is "client, proxy1, proxy2, ..."; the leftmost
		// entry is the originating client.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			if net.ParseIP(xri) != nil {
				return xri
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
