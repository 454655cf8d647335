package security

import "time"

// DefaultRefreshWindow is how close to expiry a stored token may get before a
// read through the token manager triggers a transparent refresh. Refreshing
// slightly early absorbs clock drift between the connector and the upstream
// token endpoint.
const DefaultRefreshWindow = 60 * time.Second

// IsExpiringSoon reports whether expiry falls within window of now.
// A zero expiry means the token never expires.
func IsExpiringSoon(expiry time.Time, window time.Duration, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return now.Add(window).After(expiry)
}

// IsExpired reports whether expiry has passed at now. A zero expiry never
// expires.
func IsExpired(expiry time.Time, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return now.After(expiry)
}
