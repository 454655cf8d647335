package pco

import (
	"strings"

	"golang.org/x/oauth2"
)

// Endpoint returns the Planning Center OAuth endpoint under baseURL. The
// token endpoint accepts client credentials in the body or via HTTP Basic
// inconsistently, so the auth style is auto-detected: one style is probed and
// the other retried on rejection, with the working style cached per URL.
func Endpoint(baseURL string) oauth2.Endpoint {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return oauth2.Endpoint{
		AuthURL:   base + "/oauth/authorize",
		TokenURL:  base + "/oauth/token",
		AuthStyle: oauth2.AuthStyleAutoDetect,
	}
}
