package security

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// RequestIDHeader is the HTTP header carrying request IDs.
const RequestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

// requestIDPattern accepts the request ID formats common proxies emit while
// rejecting anything that could be used for header or log injection.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// NewRequestID generates a fresh request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID stores a request ID on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request ID on the context, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDFromRequest returns a validated inbound request ID, or a freshly
// generated one when the header is absent or malformed.
func RequestIDFromRequest(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && requestIDPattern.MatchString(id) {
		return id
	}
	return NewRequestID()
}
