package pcoconnect

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTenant is the single token slot the connector uses. Multi-tenant
// isolation is explicitly out of scope; the key exists so a future store can
// fan out without an interface change.
const DefaultTenant = "default"

// DefaultAuthStateTTL bounds how long a /connect handshake stays redeemable.
const DefaultAuthStateTTL = 10 * time.Minute

// Config holds the connector configuration.
// Structured using composition, one struct per concern.
type Config struct {
	// PublicBaseURL is the externally visible base URL, used for the
	// OpenAPI servers entry and HSTS decisions.
	PublicBaseURL string

	// OAuth holds the Planning Center OAuth application settings.
	OAuth OAuthConfig

	// AppAuth holds personal-access-token credentials. Used as the upstream
	// authorization when OAuth is not configured.
	AppAuth AppAuthConfig

	// Upstream tunes the Planning Center client.
	Upstream UpstreamConfig

	// Services holds the default service-type selection.
	Services ServicesConfig

	// RateLimit tunes inbound per-IP rate limiting.
	RateLimit RateLimitConfig

	// CORSOrigins lists allowed origins. Empty means allow any origin.
	CORSOrigins []string

	// EnableAuditLogging turns on security audit logging.
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// HTTPClient overrides the upstream transport. Nil uses a client with
	// the upstream timeout.
	HTTPClient *http.Client
}

// OAuthConfig holds the OAuth application settings.
type OAuthConfig struct {
	// ClientID is the Planning Center OAuth application id.
	ClientID string

	// ClientSecret is the OAuth application secret.
	ClientSecret string

	// RedirectURL is where Planning Center redirects after authorization;
	// it must match the application registration exactly.
	RedirectURL string

	// Scopes are the requested product scopes. Defaults to people and
	// services.
	Scopes []string
}

// Configured reports whether the OAuth flow can run.
func (c OAuthConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// AppAuthConfig holds personal-access-token credentials.
type AppAuthConfig struct {
	AppID  string
	Secret string
}

// Configured reports whether Basic authorization can run.
func (c AppAuthConfig) Configured() bool {
	return c.AppID != "" && c.Secret != ""
}

// UpstreamConfig tunes the Planning Center client.
type UpstreamConfig struct {
	// BaseURL overrides the API origin. Mainly for tests.
	BaseURL string

	// Timeout is the per-call socket timeout. Zero uses the client default.
	Timeout time.Duration
}

// ServicesConfig holds the default service-type selection used when a plans
// request names no service type.
type ServicesConfig struct {
	// DefaultServiceTypeID wins outright when set.
	DefaultServiceTypeID string

	// DefaultServiceTypeName is fuzzy-matched against the live
	// service-type list when no id is configured.
	DefaultServiceTypeName string
}

// RateLimitConfig tunes inbound per-IP rate limiting.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool
}

// defaultScopes are requested when none are configured.
var defaultScopes = []string{"people", "services"}

// Validate checks the configuration for contradictions. Missing credentials
// are not an error here: the connector serves /health and surfaces
// configuration errors at request time per the error taxonomy.
func (c *Config) Validate() error {
	if c.OAuth.ClientID != "" && !c.OAuth.Configured() {
		return fmt.Errorf("incomplete OAuth configuration: client id, client secret, and redirect URL must all be set")
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive when rate limiting is enabled")
	}
	return nil
}
